// Package askuser exposes an in-process MCP server with a single
// ask_user tool, letting the assistant route questions back to the
// caller instead of the CLI's built-in prompt.
package askuser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/logger"
)

// AskFunc answers a question from the assistant. It blocks until the
// caller responds or ctx is cancelled.
type AskFunc func(ctx context.Context, question string, options []string) (string, error)

// Server serves the ask_user tool over the MCP SSE transport on an
// ephemeral port.
type Server struct {
	ask    AskFunc
	logger *logger.Logger

	mu         sync.Mutex
	httpServer *http.Server
	sseServer  *server.SSEServer
	baseURL    string
	running    bool
}

// NewServer creates the server around the caller's answer function.
func NewServer(ask AskFunc, log *logger.Logger) *Server {
	return &Server{
		ask:    ask,
		logger: log.WithFields(zap.String("component", "askuser-server")),
	}
}

// Start binds an ephemeral localhost port and begins serving. Returns
// when the listener is accepting.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("askuser server already running")
	}

	mcpServer := server.NewMCPServer(
		"homespun",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTool(
		mcp.NewTool("ask_user",
			mcp.WithDescription("Ask the user a question and wait for their answer. Use this whenever input or a decision from the user is required."),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The question to ask the user"),
			),
			mcp.WithArray("options",
				mcp.Description("Optional fixed choices to present to the user"),
			),
		),
		s.handleAskUser,
	)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen for askuser server: %w", err)
	}
	s.baseURL = fmt.Sprintf("http://%s", listener.Addr().String())

	s.sseServer = server.NewSSEServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())

	s.httpServer = &http.Server{Handler: mux}
	s.running = true

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("askuser server error", zap.Error(err))
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("askuser server listening", zap.String("url", s.URL()))
	return nil
}

// URL returns the SSE endpoint the CLI should connect to.
func (s *Server) URL() string {
	return s.baseURL + "/sse"
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown askuser server: %w", err)
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE transport", zap.Error(err))
		}
	}
	return nil
}

func (s *Server) handleAskUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var options []string
	if raw := req.GetArguments()["options"]; raw != nil {
		if items, ok := raw.([]any); ok {
			for _, item := range items {
				if str, ok := item.(string); ok {
					options = append(options, str)
				}
			}
		}
	}

	s.logger.Debug("forwarding question to user", zap.String("question", question))
	answer, err := s.ask(ctx, question, options)
	if err != nil {
		return mcp.NewToolResultError("failed to get user answer: " + err.Error()), nil
	}
	return mcp.NewToolResultText(answer), nil
}
