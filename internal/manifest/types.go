package manifest

import "time"

// ExecutionMode selects how a skill's commands run.
type ExecutionMode string

const (
	// ModeInProcess runs the command inside the kernel's interpreter.
	ModeInProcess ExecutionMode = "in_process"

	// ModeIsolated runs the command in a sandboxed subprocess with the
	// skill's own interpreter/dependency environment.
	ModeIsolated ExecutionMode = "isolated"
)

// SkillManifest represents parsed SKILL.md frontmatter metadata.
// It is immutable after parsing; re-read only on explicit Reload.
type SkillManifest struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Description     string        `yaml:"description"`
	ExecutionMode   ExecutionMode `yaml:"execution_mode"`
	EntryPoint      string        `yaml:"entry_point"`
	Interpreter     string        `yaml:"interpreter"`
	RoutingKeywords []string      `yaml:"routing_keywords"`

	// Dir is the absolute path to the skill directory (not from YAML).
	Dir string `yaml:"-"`
}

// ParamDef is an explicit parameter descriptor for a command, used when
// the loader cannot reflect a schema from the handler itself.
type ParamDef struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"` // string, integer, number, boolean, array, object
	Description string `toml:"description"`
	Default     any    `toml:"default"`
	Required    bool   `toml:"required"`
}

// CommandDef represents one command declared in commands.toml.
type CommandDef struct {
	Name        string        `toml:"-"`
	Description string        `toml:"description"`
	Function    string        `toml:"function"`
	Mode        ExecutionMode `toml:"mode"`
	Keywords    []string      `toml:"keywords"`
	TimeoutSecs int           `toml:"timeout_secs"`
	Params      []ParamDef    `toml:"params"`
}

// ToolRecord is the resolved, addressable form of one command: the unit
// the dispatcher routes to and the loader executes.
type ToolRecord struct {
	// FQName is "skill.command" with exactly one dot separator.
	FQName      string
	Skill       string
	Command     string
	Description string

	// FilePath is the absolute path of the entry-point source file.
	FilePath string
	// Function is the target symbol within the loaded unit.
	Function string
	// Dir is the skill directory; isolated subprocesses run with this
	// as their working directory.
	Dir string
	// Interpreter runs the bootstrap in isolated mode.
	Interpreter string

	Mode     ExecutionMode
	Keywords []string
	Timeout  time.Duration

	// Params carries the explicit descriptors, if any, for schema fallback.
	Params []ParamDef
}
