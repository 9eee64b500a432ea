package loader

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/kernelworks/skillkern/internal/manifest"
)

// The isolated-mode tests drive the subprocess contract through /bin/sh
// scripts so they run without any skill runtime installed.

func isolatedRecord(t *testing.T, script string) *manifest.ToolRecord {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	file := writeFile(t, dir, "entry.sh", script)
	return &manifest.ToolRecord{
		FQName:      "shellskill.run",
		Skill:       "shellskill",
		Command:     "run",
		FilePath:    file,
		Function:    "run",
		Dir:         dir,
		Interpreter: "/bin/sh",
		Mode:        manifest.ModeIsolated,
	}
}

func TestIsolatedEchoesArguments(t *testing.T) {
	rec := isolatedRecord(t, `printf '{"status":"success","data":%s}\n' "$1"`)
	rec.Params = []manifest.ParamDef{
		{Name: "retries", Type: "integer", Default: float64(3)},
	}

	l := New(0, nil)
	got, err := l.Execute(context.Background(), rec, map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	data, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("result = %T, want map", got)
	}
	if data["query"] != "x" {
		t.Errorf("explicit argument lost: %v", data)
	}
	if data["retries"] != float64(3) {
		t.Errorf("declared default not merged: %v", data)
	}
}

func TestIsolatedExposesSkillDir(t *testing.T) {
	rec := isolatedRecord(t, `printf '{"status":"success","data":"%s"}\n' "$SKILL_DIR"`)

	l := New(0, nil)
	got, err := l.Execute(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got != rec.Dir {
		t.Errorf("SKILL_DIR = %v, want %v", got, rec.Dir)
	}
}

func TestIsolatedNonZeroExit(t *testing.T) {
	rec := isolatedRecord(t, `echo boom >&2
exit 3`)

	l := New(0, nil)
	_, err := l.Execute(context.Background(), rec, nil)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q should carry the subprocess stderr", err)
	}
}

func TestIsolatedErrorStatus(t *testing.T) {
	rec := isolatedRecord(t, `printf '{"status":"error","error":"bad input"}\n'`)

	l := New(0, nil)
	_, err := l.Execute(context.Background(), rec, nil)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	if !strings.Contains(err.Error(), "bad input") {
		t.Errorf("error %q should carry the reported message", err)
	}
}

func TestIsolatedTimeout(t *testing.T) {
	rec := isolatedRecord(t, `sleep 10`)
	rec.Timeout = 100 * time.Millisecond

	l := New(0, nil)
	start := time.Now()
	_, err := l.Execute(context.Background(), rec, nil)
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Fatalf("err = %v, want ErrExecutionTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, process was not killed promptly", elapsed)
	}
}

func TestIsolatedNoOutput(t *testing.T) {
	rec := isolatedRecord(t, `true`)

	l := New(0, nil)
	_, err := l.Execute(context.Background(), rec, nil)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	if !strings.Contains(err.Error(), "no output") {
		t.Errorf("error = %q", err)
	}
}

func TestIsolatedIgnoresNoiseBeforeStatusLine(t *testing.T) {
	rec := isolatedRecord(t, `echo "loading model..."
printf '{"status":"success","data":"done"}\n'`)

	l := New(0, nil)
	got, err := l.Execute(context.Background(), rec, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got != "done" {
		t.Errorf("result = %v, want done", got)
	}
}

func TestPythonInterpreterDetection(t *testing.T) {
	cases := []struct {
		interpreter string
		want        bool
	}{
		{"python3", true},
		{"python", true},
		{filepath.Join("/usr", "bin", "python3.12"), true},
		{"/bin/sh", false},
		{"node", false},
	}
	for _, tc := range cases {
		if got := isPythonInterpreter(tc.interpreter); got != tc.want {
			t.Errorf("isPythonInterpreter(%q) = %v, want %v", tc.interpreter, got, tc.want)
		}
	}
}
