package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSkill(t *testing.T, root, name, frontmatter, commands string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatal(err)
	}
	md := "---\n" + frontmatter + "\n---\n\n# " + name + "\n"
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(md), 0640); err != nil {
		t.Fatal(err)
	}
	if commands != "" {
		if err := os.WriteFile(filepath.Join(dir, "commands.toml"), []byte(commands), 0640); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDiscoverSorted(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "zeta", "name: zeta", "")
	writeSkill(t, root, "alpha", "name: alpha", "")

	// A directory without SKILL.md is not a skill.
	if err := os.MkdirAll(filepath.Join(root, "notaskill"), 0750); err != nil {
		t.Fatal(err)
	}
	// Files at the root are ignored.
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(root, nil)
	names, err := r.Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Discover() = %v, want [alpha zeta]", names)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "nope"), nil)
	names, err := r.Discover()
	if err != nil {
		t.Fatalf("missing root should not error, got %v", err)
	}
	if names != nil {
		t.Errorf("expected nil names, got %v", names)
	}
}

func TestManifestDefaults(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "demo", "version: \"1.0\"\ndescription: demo skill\nentry_point: demo.go", "")

	r := NewRegistry(root, nil)
	m, err := r.Manifest("demo")
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if m.Name != "demo" {
		t.Errorf("name defaulted to %q, want demo (dir name)", m.Name)
	}
	if m.ExecutionMode != ModeInProcess {
		t.Errorf("mode = %q, want in_process default", m.ExecutionMode)
	}
	if m.Dir != filepath.Join(root, "demo") {
		t.Errorf("dir = %q", m.Dir)
	}
}

func TestManifestNotFound(t *testing.T) {
	r := NewRegistry(t.TempDir(), nil)
	_, err := r.Manifest("ghost")
	if !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("err = %v, want ErrManifestNotFound", err)
	}
}

func TestManifestInvalid(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "broken")
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatal(err)
	}
	// Frontmatter that is not valid YAML.
	bad := "---\nname: [unclosed\n---\n"
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(bad), 0640); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(root, nil)
	_, err := r.Manifest("broken")
	if !errors.Is(err, ErrManifestInvalid) {
		t.Errorf("err = %v, want ErrManifestInvalid", err)
	}
}

func TestToolRecords(t *testing.T) {
	root := t.TempDir()
	fm := `name: demo
version: "0.1"
execution_mode: in_process
entry_point: demo.go
routing_keywords: [greeting]`
	cmds := `
[commands.hello]
description = "Say hello"
keywords = ["hi"]

[commands.read_file]
description = "Read a file"
mode = "isolated"
timeout_secs = 5
function = "ReadFileImpl"

  [[commands.read_file.params]]
  name = "path"
  type = "string"
  required = true
`
	writeSkill(t, root, "demo", fm, cmds)

	r := NewRegistry(root, nil)
	records, err := r.Tools("demo")
	if err != nil {
		t.Fatalf("Tools failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	byName := map[string]*ToolRecord{}
	for _, rec := range records {
		byName[rec.FQName] = rec
	}

	hello := byName["demo.hello"]
	if hello == nil {
		t.Fatal("demo.hello not found")
	}
	if hello.Function != "Hello" {
		t.Errorf("hello function = %q, want Hello (derived)", hello.Function)
	}
	if hello.Mode != ModeInProcess {
		t.Errorf("hello mode = %q", hello.Mode)
	}
	if len(hello.Keywords) != 2 {
		t.Errorf("hello keywords = %v, want manifest+command merge", hello.Keywords)
	}

	rf := byName["demo.read_file"]
	if rf == nil {
		t.Fatal("demo.read_file not found")
	}
	if rf.Function != "ReadFileImpl" {
		t.Errorf("read_file function = %q", rf.Function)
	}
	if rf.Mode != ModeIsolated {
		t.Errorf("read_file mode = %q, want isolated override", rf.Mode)
	}
	if rf.Timeout != 5*time.Second {
		t.Errorf("read_file timeout = %v, want 5s", rf.Timeout)
	}
	if len(rf.Params) != 1 || rf.Params[0].Name != "path" || !rf.Params[0].Required {
		t.Errorf("read_file params = %+v", rf.Params)
	}
}

func TestCommandsMissingFile(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "bare", "name: bare", "")

	r := NewRegistry(root, nil)
	defs, err := r.Commands("bare")
	if err != nil {
		t.Fatalf("Commands failed: %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("expected no commands, got %d", len(defs))
	}
}

func TestReloadRereadsManifest(t *testing.T) {
	root := t.TempDir()
	dir := writeSkill(t, root, "demo", "name: demo\nversion: \"1\"", "")

	r := NewRegistry(root, nil)
	m, err := r.Manifest("demo")
	if err != nil {
		t.Fatal(err)
	}
	if m.Version != "1" {
		t.Fatalf("version = %q", m.Version)
	}

	md := "---\nname: demo\nversion: \"2\"\n---\n"
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(md), 0640); err != nil {
		t.Fatal(err)
	}

	// Cached until explicit reload.
	m, _ = r.Manifest("demo")
	if m.Version != "1" {
		t.Errorf("expected cached version 1, got %q", m.Version)
	}

	r.Reload("demo")
	m, err = r.Manifest("demo")
	if err != nil {
		t.Fatal(err)
	}
	if m.Version != "2" {
		t.Errorf("expected reloaded version 2, got %q", m.Version)
	}
}

func TestExportedName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"hello", "Hello"},
		{"read_file", "ReadFile"},
		{"fetch-url", "FetchUrl"},
		{"x", "X"},
	}
	for _, tt := range tests {
		if got := exportedName(tt.in); got != tt.want {
			t.Errorf("exportedName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
