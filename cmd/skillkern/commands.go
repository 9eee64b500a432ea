package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kernelworks/skillkern/internal/config"
	"github.com/kernelworks/skillkern/internal/manifest"
	"github.com/kernelworks/skillkern/internal/router"
	"github.com/kernelworks/skillkern/internal/rpc"
)

// quietLogger keeps subcommand output clean.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func loadConfigQuiet(path string) (*config.Config, error) {
	return loadConfig(path, quietLogger())
}

// skillsCommand lists discovered skills and their commands.
func skillsCommand(configPath string) int {
	cfg, err := loadConfigQuiet(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	reg := manifest.NewRegistry(cfg.Skills.Dir, quietLogger())
	names, err := reg.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(names) == 0 {
		fmt.Printf("No skills found in %s\n", cfg.Skills.Dir)
		return 0
	}

	for _, name := range names {
		m, err := reg.Manifest(name)
		if err != nil {
			fmt.Printf("%-20s (broken: %v)\n", name, err)
			continue
		}
		records, err := reg.Tools(name)
		if err != nil {
			fmt.Printf("%-20s %-8s (commands unreadable: %v)\n", name, m.Version, err)
			continue
		}
		fmt.Printf("%-20s %-8s %s\n", m.Name, orDash(m.Version), orDash(m.Description))
		for _, rec := range records {
			fmt.Printf("  %-25s [%s] %s\n", rec.FQName, rec.Mode, orDash(rec.Description))
		}
	}
	return 0
}

// routeCommand finds the best tool for a free-text query.
func routeCommand(configPath string, args []string) int {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: skillkern route <query>")
		return 1
	}

	cfg, err := loadConfigQuiet(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	reg := manifest.NewRegistry(cfg.Skills.Dir, quietLogger())
	names, err := reg.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var records []*manifest.ToolRecord
	for _, name := range names {
		recs, err := reg.Tools(name)
		if err != nil {
			continue
		}
		records = append(records, recs...)
	}

	rt := router.New(router.Config{}, quietLogger())
	match, ok := rt.Best(query, records)
	if !ok {
		fmt.Println("No matching tool")
		return 1
	}
	fmt.Printf("%s (score %.2f, matched: %s)\n",
		match.Tool.FQName, match.Score, strings.Join(match.Matched, ", "))
	return 0
}

// tokenCommand mints a gateway access token.
func tokenCommand(configPath string, args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	clientID := fs.String("client", "cli", "Client identifier embedded in the token")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfigQuiet(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Gateway.AuthSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: gateway.authSecret is not set in config")
		return 1
	}

	token, err := rpc.GenerateToken(*clientID, []byte(cfg.Gateway.AuthSecret), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

// demoSkillManifest and friends seed a working example skill.
const demoSkillManifest = `---
name: demo
version: 1.0.0
description: Example greetings skill
execution_mode: in_process
entry_point: skill.go
routing_keywords:
  - hello
  - greeting
---

# demo

Say hello. Loaded just in time on the first call to demo.hello.
`

const demoSkillCommands = `[commands.hello]
description = "Greets someone by name"
keywords = ["greet"]
`

const demoSkillSource = `package skill

import "fmt"

type HelloArgs struct {
	Name string ` + "`" + `json:"name,omitempty" jsonschema:"default=World,description=Who to greet"` + "`" + `
}

func Hello(args HelloArgs) (string, error) {
	return fmt.Sprintf("Hello, %s!", args.Name), nil
}
`

// initCommand writes a default config and seeds the skills directory.
func initCommand(configPath string) int {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
	} else {
		cfg := config.DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Created %s\n", configPath)
	}

	cfg, err := loadConfigQuiet(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	demoDir := filepath.Join(cfg.Skills.Dir, "demo")
	if _, err := os.Stat(demoDir); err == nil {
		fmt.Printf("Example skill already exists: %s\n", demoDir)
		return 0
	}
	if err := os.MkdirAll(demoDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	files := map[string]string{
		"SKILL.md":      demoSkillManifest,
		"commands.toml": demoSkillCommands,
		"skill.go":      demoSkillSource,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(demoDir, name), []byte(content), 0640); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	fmt.Printf("Created example skill in %s\n", demoDir)
	fmt.Println(`Try: skillkern route "say hello"`)
	return 0
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
