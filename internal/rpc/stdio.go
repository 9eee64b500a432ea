package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxLineBytes bounds one JSON-RPC line.
const maxLineBytes = 10 * 1024 * 1024

// DefaultDrainGrace bounds how long shutdown waits for in-flight calls.
const DefaultDrainGrace = 10 * time.Second

// StdioTransport serves line-delimited JSON-RPC over a reader/writer
// pair, normally the process's stdin and stdout. Each request runs in
// its own goroutine so a slow tool call never blocks the read loop;
// responses correlate by id, not arrival order.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	drainGrace time.Duration

	writeMu sync.Mutex
}

// NewStdioTransport wires the dispatch core to a byte stream.
func NewStdioTransport(server *Server, in io.Reader, out io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		server:     server,
		in:         in,
		out:        out,
		logger:     logger.With("component", "stdio"),
		drainGrace: DefaultDrainGrace,
	}
}

// Serve reads requests until EOF or context cancellation, then drains
// in-flight calls within the grace period.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var inflight errgroup.Group

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return t.drain(&inflight)
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer across lines.
		raw := make([]byte, len(line))
		copy(raw, line)

		inflight.Go(func() error {
			if resp := t.server.Handle(ctx, raw); resp != nil {
				t.write(resp)
			}
			return nil
		})
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		t.logger.Warn("read loop ended", "error", err)
	}
	return t.drain(&inflight)
}

// drain waits for in-flight handlers, giving up after the grace period.
func (t *StdioTransport) drain(inflight *errgroup.Group) error {
	done := make(chan struct{})
	go func() {
		_ = inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(t.drainGrace):
		t.logger.Warn("drain grace expired with calls in flight")
		return nil
	}
}

// write emits one response as a single JSON line. Writes are serialized
// so concurrent handlers never interleave bytes.
func (t *StdioTransport) write(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("encode response", "error", err)
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.out.Write(append(data, '\n')); err != nil {
		t.logger.Error("write response", "error", err)
	}
}
