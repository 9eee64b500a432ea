package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kernelworks/skillkern/internal/manifest"
)

// pythonBootstrap imports the target function inside the skill's
// environment, decodes the JSON arguments from argv[1], invokes the
// function (awaiting coroutines), and prints exactly one JSON line with
// a status discriminator. Rendered with module name, entry path, and
// function name.
const pythonBootstrap = `import asyncio, importlib.util, inspect, json, sys

def _run():
    raw = sys.argv[1] if len(sys.argv) > 1 else "{}"
    kwargs = json.loads(raw)
    spec = importlib.util.spec_from_file_location(%q, %q)
    mod = importlib.util.module_from_spec(spec)
    spec.loader.exec_module(mod)
    result = getattr(mod, %q)(**kwargs)
    if inspect.iscoroutine(result):
        result = asyncio.run(result)
    print(json.dumps({"status": "success", "data": result}))

try:
    _run()
except Exception as exc:
    print(json.dumps({"status": "error", "error": str(exc)}))
`

// isolatedResult is the single-line JSON contract of the bootstrap.
type isolatedResult struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// executeIsolated spawns the command in a subprocess scoped to the
// skill's directory, passing the JSON-encoded arguments as one
// positional string argument, and enforces the timeout by killing the
// process.
func (l *Loader) executeIsolated(ctx context.Context, record *manifest.ToolRecord, args map[string]any) (any, error) {
	timeout := record.Timeout
	if timeout <= 0 {
		timeout = l.isolatedTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if args == nil {
		args = make(map[string]any)
	}
	for _, p := range record.Params {
		if p.Default == nil {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			args[p.Name] = p.Default
		}
	}
	argJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: encode arguments: %v", ErrExecutionFailed, err)
	}

	interpreter := record.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}

	var cmd *exec.Cmd
	if isPythonInterpreter(interpreter) {
		bootstrap := fmt.Sprintf(pythonBootstrap, record.Skill, record.FilePath, record.Function)
		cmd = exec.CommandContext(cctx, interpreter, "-c", bootstrap, string(argJSON))
	} else {
		// Non-python interpreters run the entry point directly and must
		// honor the same argv/JSON-line convention.
		cmd = exec.CommandContext(cctx, interpreter, record.FilePath, string(argJSON))
	}
	cmd.Dir = record.Dir
	cmd.Env = append(os.Environ(), "SKILL_DIR="+record.Dir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.logger.Debug("executing isolated command",
		"tool", record.FQName,
		"interpreter", interpreter,
		"timeout", timeout,
	)
	start := time.Now()
	runErr := cmd.Run()

	if cctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s after %v", ErrExecutionTimeout, record.FQName, timeout)
	}
	if runErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = runErr.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("%w: %s exited %d: %s", ErrExecutionFailed, record.FQName, exitErr.ExitCode(), detail)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrExecutionFailed, record.FQName, detail)
	}

	line := lastLine(stdout.String())
	if line == "" {
		return nil, fmt.Errorf("%w: %s produced no output", ErrExecutionFailed, record.FQName)
	}

	var res isolatedResult
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		return nil, fmt.Errorf("%w: %s: unparseable output %q", ErrExecutionFailed, record.FQName, line)
	}

	switch res.Status {
	case "success":
		var data any
		if len(res.Data) > 0 {
			if err := json.Unmarshal(res.Data, &data); err != nil {
				return nil, fmt.Errorf("%w: %s: bad result payload: %v", ErrExecutionFailed, record.FQName, err)
			}
		}
		l.logger.Debug("isolated command done", "tool", record.FQName, "elapsed", time.Since(start))
		return data, nil
	case "error":
		return nil, fmt.Errorf("%w: %s: %s", ErrExecutionFailed, record.FQName, res.Error)
	default:
		return nil, fmt.Errorf("%w: %s: unknown status %q", ErrExecutionFailed, record.FQName, res.Status)
	}
}

func isPythonInterpreter(interpreter string) bool {
	return strings.HasPrefix(filepath.Base(interpreter), "python")
}

// lastLine returns the final non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
