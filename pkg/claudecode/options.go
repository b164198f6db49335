package claudecode

import (
	"encoding/json"
	"strings"
)

// BufferOverflowBehavior selects what happens when a single stream-json
// line exceeds Options.MaxBufferSize.
type BufferOverflowBehavior int

const (
	// SkipMessage discards the oversized line and continues reading.
	SkipMessage BufferOverflowBehavior = iota
	// Truncate parses the truncated prefix best-effort, which may yield
	// nothing for a broken JSON document.
	Truncate
	// Fail terminates the read loop with a buffer overflow error.
	Fail
)

// OverflowCallback is invoked when an oversized line is encountered under
// the SkipMessage policy.
type OverflowCallback func(kind string, observedBytes, limitBytes int)

// McpServerConfig describes an MCP server to the CLI. Stdio servers set
// Command/Args; remote servers set URL.
type McpServerConfig struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options configures a CLI subprocess for one session.
type Options struct {
	// CLIPath is an explicit absolute path to the claude executable.
	// Empty means discover via FindCLI.
	CLIPath string

	// Cwd is the working directory for the subprocess.
	Cwd string

	// Model selects the model identifier passed to the CLI.
	Model string

	// SystemPrompt is appended to the CLI's system prompt when set.
	SystemPrompt string

	// AllowedTools restricts the CLI tool surface. nil (or empty) means
	// all tools are allowed.
	AllowedTools []string

	// DisallowedTools lists tools the CLI must not invoke.
	DisallowedTools []string

	// McpServers maps server name to its configuration record.
	McpServers map[string]McpServerConfig

	// MaxBufferSize bounds a single stream-json line, in bytes.
	MaxBufferSize int

	// BufferOverflow selects the policy for oversized lines.
	BufferOverflow BufferOverflowBehavior

	// OnBufferOverflow is invoked for skipped oversized lines.
	OnBufferOverflow OverflowCallback

	// Resume is the conversation id to resume from, empty for a fresh
	// conversation.
	Resume string

	// Env is overlaid on the ambient environment for the subprocess.
	Env map[string]string
}

// DefaultMaxBufferSize bounds a single stream-json line read from the CLI.
const DefaultMaxBufferSize = 10 * 1024 * 1024

// Args renders the CLI argument list for these options.
func (o *Options) Args() []string {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.SystemPrompt)
	}
	if o.Resume != "" {
		args = append(args, "--resume", o.Resume)
	}
	if len(o.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
	}
	if len(o.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(o.DisallowedTools, ","))
	}
	if len(o.McpServers) > 0 {
		if cfg, err := json.Marshal(map[string]any{"mcpServers": o.McpServers}); err == nil {
			args = append(args, "--mcp-config", string(cfg))
		}
	}
	return args
}

// maxBufferSize returns the configured limit, falling back to the default.
func (o *Options) maxBufferSize() int {
	if o.MaxBufferSize > 0 {
		return o.MaxBufferSize
	}
	return DefaultMaxBufferSize
}
