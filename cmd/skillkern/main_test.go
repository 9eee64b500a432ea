package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kernelworks/skillkern/internal/config"
	"github.com/kernelworks/skillkern/internal/rpc"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLogLevel(tc.in); got != tc.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("skillkern.json", quietLogger())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Skills.MaxLoaded == 0 {
		t.Error("default config must cap loaded skills")
	}
	if _, err := os.Stat("skillkern.json"); err != nil {
		t.Error("default config file must be written")
	}

	// Second load reads the file it just wrote.
	again, err := loadConfig("skillkern.json", quietLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Skills.TTLSeconds != cfg.Skills.TTLSeconds {
		t.Error("reloaded config must match the written default")
	}
}

// testConfig writes a config rooted entirely in the test's temp space.
func testConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = filepath.Join(dir, "data")
	cfg.Skills.Dir = filepath.Join(dir, "skills")
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "skillkern.json")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitCommandSeedsExampleSkill(t *testing.T) {
	path := testConfig(t, nil)

	if code := initCommand(path); code != 0 {
		t.Fatalf("init exit = %d", code)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"SKILL.md", "commands.toml", "skill.go"} {
		if _, err := os.Stat(filepath.Join(cfg.Skills.Dir, "demo", name)); err != nil {
			t.Errorf("missing seeded file %s: %v", name, err)
		}
	}

	// Running init again is harmless.
	if code := initCommand(path); code != 0 {
		t.Errorf("second init exit = %d", code)
	}
}

func TestSkillsCommandListsSeededSkill(t *testing.T) {
	path := testConfig(t, nil)
	if code := initCommand(path); code != 0 {
		t.Fatal("init failed")
	}
	if code := skillsCommand(path); code != 0 {
		t.Errorf("skills exit = %d", code)
	}
}

func TestRouteCommandFindsSeededSkill(t *testing.T) {
	path := testConfig(t, nil)
	if code := initCommand(path); code != 0 {
		t.Fatal("init failed")
	}

	if code := routeCommand(path, []string{"say", "hello"}); code != 0 {
		t.Errorf("route exit = %d, want a match", code)
	}
	if code := routeCommand(path, []string{"unrelatedxyzzy"}); code == 0 {
		t.Error("route must fail when nothing matches")
	}
	if code := routeCommand(path, nil); code == 0 {
		t.Error("route without a query must fail")
	}
}

func TestTokenCommand(t *testing.T) {
	path := testConfig(t, func(c *config.Config) {
		c.Gateway.AuthSecret = "cli-secret"
	})

	if code := tokenCommand(path, []string{"-client", "tester", "-ttl", "1h"}); code != 0 {
		t.Errorf("token exit = %d", code)
	}

	// Without a secret the command refuses.
	bare := testConfig(t, nil)
	if code := tokenCommand(bare, nil); code == 0 {
		t.Error("token without authSecret must fail")
	}
}

func TestGeneratedTokenValidates(t *testing.T) {
	secret := []byte("cli-secret")
	token, err := rpc.GenerateToken("tester", secret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	clientID, err := rpc.ValidateToken(token, secret)
	if err != nil {
		t.Fatal(err)
	}
	if clientID != "tester" {
		t.Errorf("clientID = %q", clientID)
	}
}
