package claudecode

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/errors"
	"github.com/nick-boey/homespun/internal/common/logger"
)

// Client wraps a Transport with the control protocol: connection
// management, interrupts, and permission control responses.
type Client struct {
	opts   Options
	logger *logger.Logger

	mu        sync.Mutex
	transport *Transport
	connected bool
}

// NewClient creates a client for the given options. Call Connect before
// using it.
func NewClient(opts Options, log *logger.Logger) *Client {
	return &Client{
		opts:   opts,
		logger: log.WithFields(zap.String("component", "claude-client")),
	}
}

// Connect spawns the transport and starts its read loop. Concurrent
// connects are idempotent after the first success.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	transport := NewTransport(c.opts, c.logger)
	if err := transport.Start(ctx); err != nil {
		return err
	}

	c.transport = transport
	c.connected = true
	return nil
}

// Messages returns the incoming typed message stream. Returns a closed
// channel when the client is not connected.
func (c *Client) Messages() <-chan Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		closed := make(chan Message)
		close(closed)
		return closed
	}
	return c.transport.Messages()
}

// IsConnected reports whether the transport is up and ready.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.transport.IsReady()
}

// Transport returns the underlying transport, or nil before Connect.
func (c *Client) Transport() *Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// SendUserMessage writes a user prompt frame to the CLI.
func (c *Client) SendUserMessage(text string) error {
	transport, err := c.readyTransport()
	if err != nil {
		return err
	}
	return transport.WriteJSON(&outboundUserMessage{
		Type: MessageTypeUser,
		Message: outboundUserBody{
			Role:    "user",
			Content: []outboundTextBlock{{Type: "text", Text: text}},
		},
	})
}

// Interrupt asks the CLI to abandon the current operation.
func (c *Client) Interrupt() error {
	transport, err := c.readyTransport()
	if err != nil {
		return err
	}
	return transport.WriteJSON(&controlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: uuid.New().String(),
		Request:   controlRequestBody{Subtype: SubtypeInterrupt},
	})
}

// SendControlResponse answers a control request from the CLI.
//
// For behavior "allow" the inner response always carries an updatedInput
// object (empty when none is supplied) and never a message. For behavior
// "deny" it always carries a message (default empty string) and never an
// updatedInput.
func (c *Client) SendControlResponse(requestID, behavior string, updatedInput map[string]any, denyMessage string) error {
	transport, err := c.readyTransport()
	if err != nil {
		return err
	}
	return transport.WriteJSON(controlResponseFrame(requestID, behavior, updatedInput, denyMessage))
}

// controlResponseFrame builds the canonical control response envelope.
// Allow always carries an updatedInput object and never a message; deny
// always carries a message and never an updatedInput.
func controlResponseFrame(requestID, behavior string, updatedInput map[string]any, denyMessage string) *controlResponse {
	inner := map[string]any{"behavior": behavior}
	switch behavior {
	case BehaviorAllow:
		if updatedInput == nil {
			updatedInput = map[string]any{}
		}
		inner["updatedInput"] = updatedInput
	case BehaviorDeny:
		inner["message"] = denyMessage
	}

	return &controlResponse{
		Type: MessageTypeControlResponse,
		Response: controlResponseBody{
			Subtype:   SubtypeSuccess,
			RequestID: requestID,
			Response:  inner,
		},
	}
}

// Close shuts down the transport and drains the incoming stream.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	transport := c.transport
	c.connected = false
	c.mu.Unlock()

	if transport == nil {
		return nil
	}
	err := transport.Close(ctx)
	for range transport.Messages() {
		// Drain so the read loop can finish.
	}
	return err
}

func (c *Client) readyTransport() (*Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.transport == nil {
		return nil, errors.CliConnection("client is not connected")
	}
	return c.transport, nil
}
