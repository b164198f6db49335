package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/errors"
	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/pkg/claudecode"
)

// Event type names on the worker SSE stream.
const (
	eventSessionStarted = "session-started"
	eventMessage        = "message"
	eventResult         = "result"
	eventError          = "error"
)

// Factory builds per-session clients against one worker endpoint.
type Factory struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

// NewFactory creates a worker client factory. requestTimeout bounds a
// whole turn including its SSE stream; zero means no bound.
func NewFactory(baseURL string, requestTimeout time.Duration, log *logger.Logger) *Factory {
	return &Factory{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		logger:  log.WithFields(zap.String("component", "worker-client")),
	}
}

// NewSession creates a session client speaking the worker wire. It
// satisfies the same surface as the local subprocess client.
func (f *Factory) NewSession(opts claudecode.Options) *Session {
	return &Session{
		factory:  f,
		opts:     opts,
		logger:   f.logger,
		incoming: make(chan claudecode.Message, 100),
		quit:     make(chan struct{}),
	}
}

// startRequest is the POST /sessions body.
type startRequest struct {
	WorkingDirectory string `json:"workingDirectory"`
	Mode             string `json:"mode"`
	Model            string `json:"model"`
	Prompt           string `json:"prompt"`
	SystemPrompt     string `json:"systemPrompt,omitempty"`
	ResumeSessionID  string `json:"resumeSessionId,omitempty"`
}

// messageRequest is the POST /sessions/{id}/messages body.
type messageRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// SessionStatus is the GET /sessions/{id} response body.
type SessionStatus struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// Session drives one remote worker session for a single turn. The
// first SendUserMessage starts the remote session; once its stream
// terminates, callers reconnect with a fresh Session carrying the
// resume token.
type Session struct {
	factory       *Factory
	opts          claudecode.Options
	logger        *logger.Logger
	incoming      chan claudecode.Message
	quit          chan struct{}
	closeIncoming sync.Once

	mu        sync.Mutex
	remoteID  string
	connected bool
	streaming bool
	turnDone  bool
	cancel    context.CancelFunc
	closed    bool
}

// Connect marks the session ready. The remote session is created
// lazily on the first user message, mirroring the subprocess client's
// spawn-then-prompt sequence.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.CliConnection("worker session is closed")
	}
	s.connected = true
	return nil
}

// Messages returns the incoming protocol message stream. The channel
// closes when the current turn's SSE stream ends.
func (s *Session) Messages() <-chan claudecode.Message {
	return s.incoming
}

// SendUserMessage starts the remote session on first use, or posts a
// follow-up message, and begins streaming the response events. At most
// one turn streams per Session: a send during an in-flight turn fails
// with a state error, and a send after the stream has terminated fails
// so callers reconnect.
func (s *Session) SendUserMessage(text string) error {
	s.mu.Lock()
	if !s.connected || s.closed {
		s.mu.Unlock()
		return errors.CliConnection("worker session is not connected")
	}
	if s.streaming {
		remoteID := s.remoteID
		s.mu.Unlock()
		return errors.SessionState(remoteID, "streaming", "idle")
	}
	if s.turnDone {
		s.mu.Unlock()
		return errors.CliConnection("worker stream already consumed")
	}
	s.streaming = true
	remoteID := s.remoteID
	s.mu.Unlock()

	var (
		url  string
		body any
	)
	if remoteID == "" {
		url = s.factory.baseURL + "/sessions"
		body = startRequest{
			WorkingDirectory: s.opts.Cwd,
			Mode:             modeFromOptions(s.opts),
			Model:            s.opts.Model,
			Prompt:           text,
			SystemPrompt:     s.opts.SystemPrompt,
			ResumeSessionID:  s.opts.Resume,
		}
	} else {
		url = fmt.Sprintf("%s/sessions/%s/messages", s.factory.baseURL, remoteID)
		body = messageRequest{Message: text, Model: s.opts.Model}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		s.abortTurn()
		return fmt.Errorf("failed to marshal worker request: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		s.abortTurn()
		return fmt.Errorf("failed to build worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.factory.http.Do(req)
	if err != nil {
		cancel()
		s.abortTurn()
		return errors.CliConnection("worker request failed: " + err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		s.abortTurn()
		return errors.CliConnection(fmt.Sprintf("worker returned status %d", resp.StatusCode))
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.stream(resp.Body, cancel)
	return nil
}

// abortTurn releases the streaming slot claimed by a send that never
// reached the wire.
func (s *Session) abortTurn() {
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
}

// stream consumes one SSE response until its terminal result or error
// event, then closes the incoming channel. The close is owned by the
// closeIncoming once so the channel can never be closed twice.
func (s *Session) stream(body io.ReadCloser, cancel context.CancelFunc) {
	defer s.closeIncoming.Do(func() { close(s.incoming) })
	defer cancel()
	defer body.Close()
	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.turnDone = true
		s.mu.Unlock()
	}()

	reader := newSSEReader(body)
	for {
		event, data, err := reader.Next()
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("worker stream read failed", zap.Error(err))
			}
			return
		}

		switch event {
		case eventSessionStarted:
			var started struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(data, &started); err == nil {
				s.mu.Lock()
				s.remoteID = started.SessionID
				s.mu.Unlock()
			}

		case eventMessage, eventResult:
			msg, err := claudecode.Parse(data)
			if err != nil {
				s.logger.Warn("dropping unparseable worker event", zap.Error(err))
				continue
			}
			if msg != nil {
				select {
				case s.incoming <- msg:
				case <-s.quit:
					return
				}
			}
			if event == eventResult {
				return
			}

		case eventError:
			var remoteErr struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(data, &remoteErr); err != nil {
				s.logger.Error("worker reported malformed error event")
				return
			}
			s.logger.Error("worker reported error",
				zap.String("code", remoteErr.Code),
				zap.String("message", remoteErr.Message))
			return
		}
	}
}

// Interrupt asks the worker to abandon the current operation. A 404 is
// treated as a no-op.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	remoteID := s.remoteID
	s.mu.Unlock()
	if remoteID == "" {
		return nil
	}
	return s.post(fmt.Sprintf("/sessions/%s/interrupt", remoteID))
}

// Close cancels any in-flight stream and stops the remote session when
// a turn was still running. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	remoteID := s.remoteID
	inFlight := s.streaming
	cancel := s.cancel
	s.mu.Unlock()

	close(s.quit)
	if cancel != nil {
		cancel()
	}
	if inFlight && remoteID != "" {
		if err := s.post(fmt.Sprintf("/sessions/%s/stop", remoteID)); err != nil {
			s.logger.Warn("failed to stop worker session", zap.Error(err))
		}
	}
	return nil
}

// post issues a bodyless POST; 204 and 404 both succeed.
func (s *Session) post(path string) error {
	req, err := http.NewRequest(http.MethodPost, s.factory.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.factory.http.Do(req)
	if err != nil {
		return errors.CliConnection("worker request failed: " + err.Error())
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return errors.CliConnection(fmt.Sprintf("worker returned status %d", resp.StatusCode))
	}
}

// GetStatus fetches the remote session status, or nil when the worker
// does not know the session.
func (f *Factory) GetStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/sessions/%s", f.baseURL, sessionID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, errors.CliConnection("worker request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.CliConnection(fmt.Sprintf("worker returned status %d", resp.StatusCode))
	}

	var status SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode worker status: %w", err)
	}
	return &status, nil
}

// modeFromOptions recovers the session mode from the tool allow-list:
// a populated list means Plan, nil means Build.
func modeFromOptions(opts claudecode.Options) string {
	if len(opts.AllowedTools) > 0 {
		return "plan"
	}
	return "build"
}

// sseReader parses a text/event-stream body into (event, data) pairs.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	return &sseReader{scanner: scanner}
}

// Next returns the next complete event. Multi-line data fields are
// joined with newlines per the SSE framing rules.
func (r *sseReader) Next() (string, []byte, error) {
	var (
		event string
		data  [][]byte
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				return event, bytes.Join(data, []byte{'\n'}), nil
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))))
		}
	}
	if err := r.scanner.Err(); err != nil {
		return "", nil, err
	}
	// A final event without a trailing blank line still counts.
	if event != "" || len(data) > 0 {
		return event, bytes.Join(data, []byte{'\n'}), nil
	}
	return "", nil, io.EOF
}
