package session

import (
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/pkg/claudecode"
)

// McpServerName is the name the ask-user MCP server is registered under.
const McpServerName = "homespun"

// AskUserToolName is the fully-qualified MCP tool name for the ask-user
// function.
const AskUserToolName = "mcp__homespun__ask_user"

// planModeTools is the fixed read-only tool set for Plan mode.
var planModeTools = []string{
	claudecode.ToolRead,
	claudecode.ToolGlob,
	claudecode.ToolGrep,
	claudecode.ToolWebFetch,
	claudecode.ToolWebSearch,
	claudecode.ToolExitPlanMode,
}

// AskUserEndpoint exposes the URL of an in-process ask-user MCP server.
type AskUserEndpoint interface {
	URL() string
}

// OptionsFactory builds per-session CLI options from a session mode.
type OptionsFactory struct {
	cliPath string
	logger  *logger.Logger
}

// NewOptionsFactory creates an options factory. cliPath may be empty,
// in which case the CLI is discovered at spawn time.
func NewOptionsFactory(cliPath string, log *logger.Logger) *OptionsFactory {
	return &OptionsFactory{
		cliPath: cliPath,
		logger:  log.WithFields(zap.String("component", "options-factory")),
	}
}

// Create builds the CLI options for one session.
//
// Plan mode pins the allowed tools to the read-only set; Build mode
// leaves the tool surface unrestricted (nil allow-list). When an
// ask-user endpoint is supplied, its MCP server is registered under the
// homespun name, the MCP tool is allowed in Plan mode, and the built-in
// ask-user tool is disallowed so the CLI routes questions through MCP.
func (f *OptionsFactory) Create(mode Mode, cwd, model, systemPrompt string, askUser AskUserEndpoint) claudecode.Options {
	opts := claudecode.Options{
		CLIPath:        f.cliPath,
		Cwd:            cwd,
		Model:          model,
		SystemPrompt:   systemPrompt,
		MaxBufferSize:  claudecode.DefaultMaxBufferSize,
		BufferOverflow: claudecode.SkipMessage,
		OnBufferOverflow: func(kind string, observed, limit int) {
			f.logger.Warn("buffer overflow, message skipped",
				zap.String("kind", kind),
				zap.Int("observed_bytes", observed),
				zap.Int("limit_bytes", limit))
		},
		McpServers: map[string]claudecode.McpServerConfig{
			"playwright": {
				Type:    "stdio",
				Command: "npx",
				Args:    []string{"@playwright/mcp@latest", "--headless"},
			},
		},
	}

	if mode == ModePlan {
		opts.AllowedTools = append([]string(nil), planModeTools...)
	}

	if askUser != nil {
		opts.McpServers[McpServerName] = claudecode.McpServerConfig{
			Type: "sse",
			URL:  askUser.URL(),
		}
		opts.DisallowedTools = append(opts.DisallowedTools, claudecode.ToolAskUserQuestion)
		if mode == ModePlan {
			opts.AllowedTools = append(opts.AllowedTools, AskUserToolName)
		}
	}

	return opts
}
