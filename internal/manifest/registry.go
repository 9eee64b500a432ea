// Package manifest discovers skill directories and parses their
// declarative descriptors: SKILL.md YAML frontmatter plus an optional
// commands.toml listing the commands a skill exposes. Manifests are
// read lazily and cached; skill code is never touched here.
package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrManifestNotFound is returned when a skill directory or its
	// SKILL.md is absent.
	ErrManifestNotFound = errors.New("manifest: skill manifest not found")

	// ErrManifestInvalid is returned when a manifest exists but cannot
	// be parsed.
	ErrManifestInvalid = errors.New("manifest: skill manifest invalid")
)

const (
	manifestFile = "SKILL.md"
	commandsFile = "commands.toml"
)

// Registry answers "what skills and commands exist" for one skills root.
type Registry struct {
	root   string
	logger *slog.Logger

	mu        sync.RWMutex
	manifests map[string]*SkillManifest
	commands  map[string][]*CommandDef
}

// NewRegistry creates a registry over the given skills root directory.
func NewRegistry(root string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		root:      root,
		logger:    logger.With("component", "manifest"),
		manifests: make(map[string]*SkillManifest),
		commands:  make(map[string][]*CommandDef),
	}
}

// Root returns the skills root directory.
func (r *Registry) Root() string {
	return r.root
}

// Discover scans the skills root for directories containing a SKILL.md
// and returns their names sorted. Pure read; nothing is parsed or cached.
func (r *Registry) Discover() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("skills directory does not exist, skipping", "dir", r.root)
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.root, entry.Name(), manifestFile)); err != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Manifest reads and parses one skill's manifest, caching the result.
// Absence and unparseability surface as typed errors, never panics.
func (r *Registry) Manifest(name string) (*SkillManifest, error) {
	r.mu.RLock()
	if m, ok := r.manifests[name]; ok {
		r.mu.RUnlock()
		return m, nil
	}
	r.mu.RUnlock()

	dir := filepath.Join(r.root, name)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, name)
	}

	m, err := parseFrontmatter(filepath.Join(dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, name)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestInvalid, name, err)
	}

	if m.Name == "" {
		m.Name = name
	}
	if m.ExecutionMode == "" {
		m.ExecutionMode = ModeInProcess
	}
	m.Dir = dir

	r.mu.Lock()
	r.manifests[name] = m
	r.mu.Unlock()

	r.logger.Debug("manifest loaded", "skill", name, "version", m.Version, "mode", string(m.ExecutionMode))
	return m, nil
}

// Commands returns the command definitions for a skill. A missing
// commands.toml yields an empty list; the skill simply exposes nothing.
func (r *Registry) Commands(name string) ([]*CommandDef, error) {
	r.mu.RLock()
	if defs, ok := r.commands[name]; ok {
		r.mu.RUnlock()
		return defs, nil
	}
	r.mu.RUnlock()

	m, err := r.Manifest(name)
	if err != nil {
		return nil, err
	}

	defs, err := parseCommands(filepath.Join(m.Dir, commandsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestInvalid, name, err)
	}

	r.mu.Lock()
	r.commands[name] = defs
	r.mu.Unlock()
	return defs, nil
}

// Tools resolves a skill's commands into addressable ToolRecords.
func (r *Registry) Tools(name string) ([]*ToolRecord, error) {
	m, err := r.Manifest(name)
	if err != nil {
		return nil, err
	}
	defs, err := r.Commands(name)
	if err != nil {
		return nil, err
	}

	records := make([]*ToolRecord, 0, len(defs))
	for _, def := range defs {
		mode := m.ExecutionMode
		if def.Mode != "" {
			mode = def.Mode
		}
		fn := def.Function
		if fn == "" {
			fn = exportedName(def.Name)
		}
		var timeout time.Duration
		if def.TimeoutSecs > 0 {
			timeout = time.Duration(def.TimeoutSecs) * time.Second
		}
		records = append(records, &ToolRecord{
			FQName:      m.Name + "." + def.Name,
			Skill:       m.Name,
			Command:     def.Name,
			Description: def.Description,
			FilePath:    filepath.Join(m.Dir, m.EntryPoint),
			Function:    fn,
			Dir:         m.Dir,
			Interpreter: m.Interpreter,
			Mode:        mode,
			Keywords:    append(append([]string(nil), m.RoutingKeywords...), def.Keywords...),
			Timeout:     timeout,
			Params:      def.Params,
		})
	}
	return records, nil
}

// Reload drops the cached manifest and commands for one skill so the
// next access re-reads them from disk.
func (r *Registry) Reload(name string) {
	r.mu.Lock()
	delete(r.manifests, name)
	delete(r.commands, name)
	r.mu.Unlock()
	r.logger.Info("manifest cache invalidated", "skill", name)
}

// exportedName derives the default target symbol from a command name:
// "hello" -> "Hello", "read_file" -> "ReadFile".
func exportedName(command string) string {
	parts := strings.FieldsFunc(command, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
