package manifest

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// commandsDoc mirrors the commands.toml layout:
//
//	[commands.hello]
//	description = "Say hello"
//	function = "Hello"
//
//	[[commands.hello.params]]
//	name = "name"
//	type = "string"
//	default = "World"
type commandsDoc struct {
	Commands map[string]*CommandDef `toml:"commands"`
}

// parseCommands reads a commands.toml file. A missing file is not an
// error: the skill exposes no commands.
func parseCommands(path string) ([]*CommandDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read commands file: %w", err)
	}

	var doc commandsDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse commands TOML: %w", err)
	}

	names := make([]string, 0, len(doc.Commands))
	for name := range doc.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]*CommandDef, 0, len(names))
	for _, name := range names {
		def := doc.Commands[name]
		def.Name = name
		if def.Mode != "" && def.Mode != ModeInProcess && def.Mode != ModeIsolated {
			return nil, fmt.Errorf("command %s: unknown mode %q", name, def.Mode)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
