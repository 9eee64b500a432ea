package lifecycle

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the expiry sweep as a background periodic task,
// independent of request handling.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper schedules run every interval. The run callback is expected
// to call Manager.Sweep with the current loaded set.
func NewSweeper(interval time.Duration, run func(), logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %v", interval)
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), run); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	return &Sweeper{
		cron:   c,
		logger: logger.With("component", "sweeper"),
	}, nil
}

// Start begins the periodic sweep.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started")
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sweeper stopped")
}
