// Package loader turns (file path, function name) pairs into callables
// and executes them, either inside the kernel via an embedded
// interpreter or in an isolated subprocess with the skill's own
// environment. Each skill gets its own interpreter instance, so two
// skills may define same-named helpers without collision.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"golang.org/x/sync/singleflight"

	"github.com/kernelworks/skillkern/internal/manifest"
)

// DefaultIsolatedTimeout bounds isolated subprocess calls when neither
// the command nor the kernel config sets one.
const DefaultIsolatedTimeout = 60 * time.Second

type handlerKey struct {
	file     string
	function string
}

// Handler is an invocable handle to a loaded command function.
type Handler struct {
	record *manifest.ToolRecord
	fn     reflect.Value

	takesCtx bool
	argType  reflect.Type // nil when the handler takes no argument value
	argIsMap bool

	schemaOnce sync.Once
	schema     json.RawMessage
	defaults   map[string]any
}

// Loader loads and executes skill commands.
type Loader struct {
	logger          *slog.Logger
	isolatedTimeout time.Duration

	mu       sync.RWMutex
	interps  map[string]*interp.Interpreter // skill name -> private namespace
	evaled   map[string]map[string]bool     // skill name -> evaluated files
	handlers map[handlerKey]*Handler

	group singleflight.Group
}

// New creates a loader. isolatedTimeout of zero falls back to
// DefaultIsolatedTimeout.
func New(isolatedTimeout time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if isolatedTimeout <= 0 {
		isolatedTimeout = DefaultIsolatedTimeout
	}
	return &Loader{
		logger:          logger.With("component", "loader"),
		isolatedTimeout: isolatedTimeout,
		interps:         make(map[string]*interp.Interpreter),
		evaled:          make(map[string]map[string]bool),
		handlers:        make(map[handlerKey]*Handler),
	}
}

// Execute runs the command described by record with the given arguments.
func (l *Loader) Execute(ctx context.Context, record *manifest.ToolRecord, args map[string]any) (any, error) {
	if record.Mode == manifest.ModeIsolated {
		return l.executeIsolated(ctx, record, args)
	}
	return l.executeInProcess(ctx, record, args)
}

// Handler resolves the callable for record, loading the skill's code on
// first use. Concurrent first loads of the same (file, function) resolve
// to a single winner; all callers observe the winner's result.
func (l *Loader) Handler(record *manifest.ToolRecord) (*Handler, error) {
	key := handlerKey{file: record.FilePath, function: record.Function}

	l.mu.RLock()
	if h, ok := l.handlers[key]; ok {
		l.mu.RUnlock()
		return h, nil
	}
	l.mu.RUnlock()

	v, err, _ := l.group.Do(record.FilePath+"\x00"+record.Function, func() (any, error) {
		l.mu.RLock()
		if h, ok := l.handlers[key]; ok {
			l.mu.RUnlock()
			return h, nil
		}
		l.mu.RUnlock()

		h, err := l.loadHandler(record)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.handlers[key] = h
		l.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handler), nil
}

// Release drops a skill's interpreter and invalidates every handler
// belonging to it. The eviction path of the lifecycle manager ends here.
func (l *Loader) Release(skill string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.interps, skill)
	delete(l.evaled, skill)
	for key, h := range l.handlers {
		if h.record.Skill == skill {
			delete(l.handlers, key)
		}
	}
	l.logger.Info("skill released", "skill", skill)
}

// Loaded reports whether a skill currently has an interpreter.
func (l *Loader) Loaded(skill string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.interps[skill]
	return ok
}

var packageRe = regexp.MustCompile(`(?m)^package\s+(\w+)`)

// loadHandler evaluates the skill's entry file (and sibling sources of
// the same package) in the skill's private interpreter and resolves the
// target symbol.
func (l *Loader) loadHandler(record *manifest.ToolRecord) (*Handler, error) {
	src, err := os.ReadFile(record.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFunctionNotFound, record.FQName, err)
	}

	pkg := "main"
	if m := packageRe.FindSubmatch(src); m != nil {
		pkg = string(m[1])
	}

	ip, err := l.interpFor(record.Skill)
	if err != nil {
		return nil, err
	}

	if err := l.evalFile(ip, record.Skill, record.FilePath, src); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFunctionNotFound, record.FQName, err)
	}

	// Sibling files of the same package resolve helper references.
	entries, _ := os.ReadDir(filepath.Dir(record.FilePath))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		path := filepath.Join(filepath.Dir(record.FilePath), name)
		if path == record.FilePath {
			continue
		}
		sib, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if m := packageRe.FindSubmatch(sib); m == nil || string(m[1]) != pkg {
			continue
		}
		if err := l.evalFile(ip, record.Skill, path, sib); err != nil {
			return nil, fmt.Errorf("%w: %s: sibling %s: %v", ErrFunctionNotFound, record.FQName, name, err)
		}
	}

	v, err := ip.Eval(pkg + "." + record.Function)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: symbol %s.%s: %v", ErrFunctionNotFound, record.FQName, pkg, record.Function, err)
	}
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s: %s.%s is not a function", ErrFunctionNotFound, record.FQName, pkg, record.Function)
	}

	h := &Handler{record: record, fn: v}
	if err := h.analyzeSignature(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFunctionNotFound, record.FQName, err)
	}

	l.logger.Debug("handler loaded", "tool", record.FQName, "file", record.FilePath)
	return h, nil
}

// interpFor returns the skill's interpreter, creating it on first use.
func (l *Loader) interpFor(skill string) (*interp.Interpreter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ip, ok := l.interps[skill]; ok {
		return ip, nil
	}

	ip := interp.New(interp.Options{})
	if err := ip.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	l.interps[skill] = ip
	l.evaled[skill] = make(map[string]bool)
	l.logger.Debug("interpreter created", "skill", skill)
	return ip, nil
}

func (l *Loader) evalFile(ip *interp.Interpreter, skill, path string, src []byte) error {
	l.mu.Lock()
	if l.evaled[skill][path] {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if _, err := ip.Eval(string(src)); err != nil {
		return err
	}

	l.mu.Lock()
	l.evaled[skill][path] = true
	l.mu.Unlock()
	return nil
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
	mapType = reflect.TypeOf(map[string]any(nil))
)

// analyzeSignature validates the handler shape. Supported forms:
//
//	func() (T[, error])
//	func(Args) (T[, error])
//	func(ctx context.Context, Args) (T[, error])
//	func(ctx context.Context) (T[, error])
//
// where Args is a struct or map[string]any.
func (h *Handler) analyzeSignature() error {
	t := h.fn.Type()
	if t.IsVariadic() {
		return fmt.Errorf("variadic handlers are not supported")
	}

	in := t.NumIn()
	idx := 0
	if in > 0 && t.In(0).Implements(ctxType) && t.In(0).Kind() == reflect.Interface {
		h.takesCtx = true
		idx = 1
	}
	switch in - idx {
	case 0:
	case 1:
		arg := t.In(idx)
		switch {
		case arg == mapType:
			h.argIsMap = true
		case arg.Kind() == reflect.Struct:
			h.argType = arg
		default:
			return fmt.Errorf("argument must be a struct or map[string]any, got %s", arg)
		}
	default:
		return fmt.Errorf("too many parameters (%d)", in)
	}

	switch t.NumOut() {
	case 1:
	case 2:
		if !t.Out(1).Implements(errType) {
			return fmt.Errorf("second return value must be error")
		}
	default:
		return fmt.Errorf("handler must return one value or (value, error)")
	}
	return nil
}

// executeInProcess calls the loaded function with the given arguments.
// A deferred result (thunk or channel) is resolved before returning;
// execution is not complete until a concrete value or error exists.
func (l *Loader) executeInProcess(ctx context.Context, record *manifest.ToolRecord, args map[string]any) (result any, err error) {
	h, err := l.Handler(record)
	if err != nil {
		return nil, err
	}

	if args == nil {
		args = make(map[string]any)
	}
	for k, v := range h.schemaDefaults() {
		if _, ok := args[k]; !ok {
			args[k] = v
		}
	}

	in := make([]reflect.Value, 0, 2)
	if h.takesCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	switch {
	case h.argIsMap:
		in = append(in, reflect.ValueOf(args))
	case h.argType != nil:
		ptr := reflect.New(h.argType)
		data, merr := json.Marshal(args)
		if merr != nil {
			return nil, fmt.Errorf("%w: encode arguments: %v", ErrExecutionFailed, merr)
		}
		if derr := json.Unmarshal(data, ptr.Interface()); derr != nil {
			return nil, fmt.Errorf("%w: decode arguments: %v", ErrExecutionFailed, derr)
		}
		in = append(in, ptr.Elem())
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrExecutionFailed, record.FQName, r)
		}
	}()

	out := h.fn.Call(in)

	var raw any
	if len(out) == 2 {
		if !out[1].IsNil() {
			return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, out[1].Interface().(error))
		}
		raw = out[0].Interface()
	} else {
		raw = out[0].Interface()
	}

	return awaitValue(ctx, raw)
}

// awaitValue resolves deferred results: a func() (any, error) thunk is
// invoked, a receive-only channel is drained for one value. Anything
// else is already concrete.
func awaitValue(ctx context.Context, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	if thunk, ok := v.(func() (any, error)); ok {
		res, err := thunk()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
		}
		return res, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Chan && rv.Type().ChanDir()&reflect.RecvDir != 0 {
		chosen, recv, ok := reflect.Select([]reflect.SelectCase{
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
			{Dir: reflect.SelectRecv, Chan: rv},
		})
		if chosen == 0 {
			return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, ctx.Err())
		}
		if !ok {
			return nil, nil
		}
		return recv.Interface(), nil
	}

	return v, nil
}
