// Package kernel is the dispatch core: it resolves tool names to skill
// commands, loads skills just in time, keeps resident skills inside the
// configured memory envelope, and shapes every outcome into the
// canonical tool-call envelope.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kernelworks/skillkern/internal/lifecycle"
	"github.com/kernelworks/skillkern/internal/loader"
	"github.com/kernelworks/skillkern/internal/manifest"
	"github.com/kernelworks/skillkern/internal/rpc"
	"github.com/kernelworks/skillkern/internal/store"
)

// ProtocolVersion identifies the tool-surface revision spoken over the
// transports.
const ProtocolVersion = "2024-11-05"

// lifecycleCheckpoint names the checkpoint used to carry recency state
// across restarts.
const lifecycleCheckpoint = "lifecycle"

// Config carries the dispatcher's tunables.
type Config struct {
	ServerName    string
	ServerVersion string

	// Exclude filters tools out of listings by fully-qualified name or
	// by skill name.
	Exclude []string

	// ListCap truncates tool listings; zero means unlimited.
	ListCap int
}

// Dispatcher routes tool calls to skill commands.
type Dispatcher struct {
	cfg       Config
	registry  *manifest.Registry
	loader    *loader.Loader
	lifecycle *lifecycle.Manager
	usage     *store.Store // optional
	logger    *slog.Logger

	exclude map[string]bool

	initOnce   sync.Once
	instanceID string

	mu     sync.Mutex
	loaded map[string]*LoadedSkill
}

// LoadedSkill is the resident record of a skill whose code is live.
type LoadedSkill struct {
	Name     string
	Manifest *manifest.SkillManifest
	Tools    map[string]*manifest.ToolRecord // command name -> record
	LoadedAt time.Time
}

// InitializeResult is the handshake payload.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ServerInfo identifies this kernel instance.
type ServerInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	InstanceID string `json:"instanceId"`
}

// Capabilities advertises what the kernel serves.
type Capabilities struct {
	Tools struct{} `json:"tools"`
}

// ToolInfo is one listing entry.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CallResult is the canonical tool-call envelope.
type CallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem is one piece of call output.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// New creates a dispatcher. The usage store may be nil; recording then
// becomes a no-op.
func New(cfg Config, registry *manifest.Registry, ld *loader.Loader, lc *lifecycle.Manager, usage *store.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	exclude := make(map[string]bool, len(cfg.Exclude))
	for _, name := range cfg.Exclude {
		exclude[name] = true
	}
	return &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		loader:    ld,
		lifecycle: lc,
		usage:     usage,
		logger:    logger.With("component", "kernel"),
		exclude:   exclude,
		loaded:    make(map[string]*LoadedSkill),
	}
}

// Initialize performs the handshake. Calling it again returns the same
// instance identity.
func (d *Dispatcher) Initialize() InitializeResult {
	d.initOnce.Do(func() {
		d.instanceID = uuid.NewString()
		d.logger.Info("kernel initialized",
			"server", d.cfg.ServerName,
			"version", d.cfg.ServerVersion,
			"instance", d.instanceID,
		)
	})
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo: ServerInfo{
			Name:       d.cfg.ServerName,
			Version:    d.cfg.ServerVersion,
			InstanceID: d.instanceID,
		},
	}
}

// ListTools enumerates every command of every discoverable skill,
// minus exclusions, capped at the configured listing limit. Listing
// never loads a skill; schemas come from declared descriptors until a
// skill is resident.
func (d *Dispatcher) ListTools(ctx context.Context) ([]ToolInfo, error) {
	skills, err := d.registry.Discover()
	if err != nil {
		return nil, rpc.Errorf(rpc.CodeInternalError, "discover skills: %v", err)
	}

	var tools []ToolInfo
	for _, skill := range skills {
		if d.exclude[skill] {
			continue
		}
		records, err := d.registry.Tools(skill)
		if err != nil {
			// A broken skill degrades the listing, it does not fail it.
			d.logger.Warn("skipping unlistable skill", "skill", skill, "error", err)
			continue
		}
		for _, rec := range records {
			if d.exclude[rec.FQName] {
				continue
			}
			tools = append(tools, ToolInfo{
				Name:        rec.FQName,
				Description: rec.Description,
				InputSchema: d.loader.ListSchema(rec),
			})
		}
	}

	if d.cfg.ListCap > 0 && len(tools) > d.cfg.ListCap {
		d.logger.Warn("tool listing truncated",
			"total", len(tools),
			"cap", d.cfg.ListCap,
		)
		tools = tools[:d.cfg.ListCap]
	}
	return tools, nil
}

// CallTool executes the named tool. Names are always skill.command.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	skill, command, ok := splitToolName(name)
	if !ok {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "invalid tool name %q: want skill.command", name)
	}

	// Recency is bumped before loading so a call in flight is never the
	// eviction victim of its own capacity check.
	d.lifecycle.Touch(skill)

	rec, err := d.resolve(skill, command)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, execErr := d.loader.Execute(ctx, rec, args)
	elapsed := time.Since(start)

	d.recordUsage(ctx, rec.FQName, execErr == nil, elapsed)

	if execErr != nil {
		d.logger.Warn("tool call failed",
			"tool", rec.FQName,
			"elapsed", elapsed,
			"error", execErr,
		)
		return nil, rpc.Errorf(rpc.CodeInternalError, "%s: %v", rec.FQName, execErr)
	}

	d.logger.Debug("tool call done", "tool", rec.FQName, "elapsed", elapsed)
	return boxResult(raw), nil
}

// resolve returns the tool record for skill.command, loading the skill
// on first use and enforcing the residency cap afterwards.
func (d *Dispatcher) resolve(skill, command string) (*manifest.ToolRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ls, ok := d.loaded[skill]
	if !ok {
		var err error
		ls, err = d.loadLocked(skill)
		if err != nil {
			return nil, err
		}
	}

	rec, ok := ls.Tools[command]
	if !ok {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "unknown command %q in skill %q", command, skill)
	}
	return rec, nil
}

// loadLocked admits a skill into the resident set. Caller holds d.mu.
func (d *Dispatcher) loadLocked(skill string) (*LoadedSkill, error) {
	man, err := d.registry.Manifest(skill)
	if err != nil {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "unknown skill %q", skill)
	}
	records, err := d.registry.Tools(skill)
	if err != nil {
		return nil, rpc.Errorf(rpc.CodeInternalError, "load skill %q: %v", skill, err)
	}

	byCommand := make(map[string]*manifest.ToolRecord, len(records))
	for _, rec := range records {
		byCommand[rec.Command] = rec
	}
	ls := &LoadedSkill{
		Name:     skill,
		Manifest: man,
		Tools:    byCommand,
		LoadedAt: time.Now(),
	}
	d.loaded[skill] = ls
	d.logger.Info("skill loaded", "skill", skill, "commands", len(byCommand))

	evicted := d.lifecycle.EnforceCapacity(d.loadedNamesLocked(), d.unloadLocked)
	if evicted > 0 {
		d.logger.Info("capacity enforced", "evicted", evicted, "resident", len(d.loaded))
	}
	return ls, nil
}

// unloadLocked evicts one skill. Called with d.mu held, both from the
// capacity check and from the sweep.
func (d *Dispatcher) unloadLocked(skill string) {
	d.loader.Release(skill)
	delete(d.loaded, skill)
	d.logger.Info("skill unloaded", "skill", skill)
}

func (d *Dispatcher) loadedNamesLocked() []string {
	names := make([]string, 0, len(d.loaded))
	for name := range d.loaded {
		names = append(names, name)
	}
	return names
}

// Sweep unloads skills idle past their TTL. Wired to the periodic
// sweeper.
func (d *Dispatcher) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lifecycle.Sweep(d.loadedNamesLocked(), d.unloadLocked)
}

// LoadedSkills returns the names of resident skills, for status output.
func (d *Dispatcher) LoadedSkills() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadedNamesLocked()
}

// lifecycleState is the checkpoint payload for recency state.
type lifecycleState struct {
	Order   []string             `json:"order"`
	Touched map[string]time.Time `json:"touched"`
}

// SaveState checkpoints lifecycle recency so a restart resumes with
// warm eviction ordering. No-op without a store.
func (d *Dispatcher) SaveState(ctx context.Context) error {
	if d.usage == nil {
		return nil
	}
	order, touched := d.lifecycle.Snapshot()
	payload, err := json.Marshal(lifecycleState{Order: order, Touched: touched})
	if err != nil {
		return fmt.Errorf("encode lifecycle state: %w", err)
	}
	if _, err := d.usage.SaveCheckpoint(ctx, lifecycleCheckpoint, payload); err != nil {
		return err
	}
	return d.usage.PruneCheckpoints(ctx, lifecycleCheckpoint, 3)
}

// RestoreState loads the last lifecycle checkpoint, if any.
func (d *Dispatcher) RestoreState(ctx context.Context) error {
	if d.usage == nil {
		return nil
	}
	payload, err := d.usage.LoadCheckpoint(ctx, lifecycleCheckpoint)
	if err != nil {
		if errors.Is(err, store.ErrCheckpointNotFound) {
			return nil
		}
		return err
	}
	var snap lifecycleState
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("decode lifecycle state: %w", err)
	}
	d.lifecycle.Restore(snap.Order, snap.Touched)
	d.logger.Info("lifecycle state restored", "skills", len(snap.Touched))
	return nil
}

func (d *Dispatcher) recordUsage(ctx context.Context, tool string, ok bool, elapsed time.Duration) {
	if d.usage == nil {
		return
	}
	if err := d.usage.RecordUsage(ctx, tool, ok, elapsed); err != nil {
		d.logger.Warn("usage record failed", "tool", tool, "error", err)
	}
}

// splitToolName accepts exactly one dot with non-empty halves.
func splitToolName(name string) (skill, command string, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// boxResult shapes a raw handler result into the canonical envelope.
// Results already shaped as a content envelope pass through.
func boxResult(raw any) *CallResult {
	switch v := raw.(type) {
	case nil:
		return &CallResult{Content: []ContentItem{{Type: "text", Text: ""}}}
	case *CallResult:
		return v
	case string:
		return &CallResult{Content: []ContentItem{{Type: "text", Text: v}}}
	case map[string]any:
		if _, ok := v["content"]; ok {
			if data, err := json.Marshal(v); err == nil {
				var res CallResult
				if err := json.Unmarshal(data, &res); err == nil && len(res.Content) > 0 {
					return &res
				}
			}
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return &CallResult{Content: []ContentItem{{Type: "text", Text: fmt.Sprint(raw)}}}
	}
	return &CallResult{Content: []ContentItem{{Type: "text", Text: string(data)}}}
}
