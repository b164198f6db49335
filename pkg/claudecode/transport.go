package claudecode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/errors"
	"github.com/nick-boey/homespun/internal/common/logger"
)

// shutdownGrace is how long Close waits for the CLI to exit after stdin
// is closed before force-killing it.
const shutdownGrace = 5 * time.Second

// stderrTailLines bounds the stderr ring buffer kept for exit errors.
const stderrTailLines = 64

// Transport spawns and supervises a Claude CLI subprocess. It reads
// newline-delimited JSON from stdout into a typed message channel and
// serializes writes to stdin.
type Transport struct {
	opts   Options
	logger *logger.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	incoming chan Message
	exited   chan struct{}
	readers  sync.WaitGroup

	stderrTail *ringBuffer

	writeMu sync.Mutex

	mu       sync.Mutex
	started  bool
	closed   bool
	readErr  error
	exitErr  error
	exitCode int
}

// NewTransport creates a transport for the given options. Call Start to
// spawn the subprocess.
func NewTransport(opts Options, log *logger.Logger) *Transport {
	return &Transport{
		opts:       opts,
		logger:     log.WithFields(zap.String("component", "claude-transport")),
		incoming:   make(chan Message, 100),
		exited:     make(chan struct{}),
		stderrTail: newRingBuffer(stderrTailLines),
	}
}

// Start discovers the CLI, spawns the subprocess, and begins the read
// loops. It is an error to start a transport twice.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("transport already started")
	}

	cliPath, err := FindCLI(t.opts.CLIPath)
	if err != nil {
		return err
	}

	cmd := exec.Command(cliPath, t.opts.Args()...)
	cmd.Dir = t.opts.Cwd
	cmd.Env = t.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return errors.Startup("failed to start claude CLI", err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.started = true

	t.logger.Info("claude CLI started",
		zap.String("path", cliPath),
		zap.String("cwd", t.opts.Cwd),
		zap.Int("pid", cmd.Process.Pid))

	t.readers.Add(2)
	go t.readLoop(ctx)
	go t.stderrLoop()
	go t.monitorExit()

	return nil
}

// buildEnv overlays the option environment on the ambient one and
// guarantees HOME is present: the CLI refuses to start without it.
func (t *Transport) buildEnv() []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range t.opts.Env {
		merged[k] = v
	}
	if merged["HOME"] == "" {
		if home, err := os.UserHomeDir(); err == nil {
			merged["HOME"] = home
		}
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// Messages returns the incoming typed message stream. The channel is
// closed when the read loop ends (EOF, cancellation, or error).
func (t *Transport) Messages() <-chan Message {
	return t.incoming
}

// Write appends a newline and writes the frame to stdin. Writes are
// serialized; at most one writer runs at a time.
func (t *Transport) Write(line []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	closed := t.closed || !t.started
	t.mu.Unlock()
	if closed {
		return errors.CliConnection("transport is closed")
	}

	frame := make([]byte, 0, len(line)+1)
	frame = append(frame, line...)
	frame = append(frame, '\n')
	if _, err := t.stdin.Write(frame); err != nil {
		return errors.CliConnection("write to claude CLI failed: " + err.Error())
	}
	return nil
}

// WriteJSON marshals v and writes it as one frame.
func (t *Transport) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return t.Write(data)
}

// IsReady reports whether the child is alive and the pipes are open.
func (t *Transport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.closed {
		return false
	}
	select {
	case <-t.exited:
		return false
	default:
		return true
	}
}

// Err returns the terminal read loop error, if any.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readErr
}

// ExitError returns the CLI exit error when the child exited non-zero.
func (t *Transport) ExitError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

// StderrTail returns the most recent stderr lines from the child.
func (t *Transport) StderrTail() []string {
	return t.stderrTail.Lines()
}

// Close shuts the transport down: stdin is closed, the child is given a
// grace period to exit, then force-killed and reaped. Close is
// idempotent.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.logger.Debug("closing transport")
	_ = t.stdin.Close()

	select {
	case <-t.exited:
		return nil
	case <-time.After(shutdownGrace):
	case <-ctx.Done():
	}

	t.logger.Warn("claude CLI did not exit in time, killing")
	_ = t.cmd.Process.Kill()
	<-t.exited
	return nil
}

func (t *Transport) setReadErr(err error) {
	t.mu.Lock()
	t.readErr = err
	t.mu.Unlock()
}

// readLoop reads stdout line by line, enforcing the buffer policy, and
// pushes parsed messages onto the incoming channel.
func (t *Transport) readLoop(ctx context.Context) {
	defer t.readers.Done()
	defer close(t.incoming)

	limit := t.opts.maxBufferSize()
	reader := bufio.NewReaderSize(t.stdout, 64*1024)

	for {
		line, size, err := readLimitedLine(reader, limit)

		if size > limit {
			if !t.handleOverflow(line, size, limit) {
				return
			}
		} else if len(bytes.TrimSpace(line)) > 0 {
			t.dispatch(ctx, line)
		}

		if err != nil {
			if err != io.EOF {
				t.logger.Error("read loop error", zap.Error(err))
				t.setReadErr(err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// handleOverflow applies the buffer overflow policy to an oversized line.
// Returns false when the read loop must terminate.
func (t *Transport) handleOverflow(prefix []byte, size, limit int) bool {
	switch t.opts.BufferOverflow {
	case SkipMessage:
		t.logger.Warn("skipping oversized message",
			zap.Int("observed_bytes", size),
			zap.Int("limit_bytes", limit))
		if t.opts.OnBufferOverflow != nil {
			t.opts.OnBufferOverflow("message", size, limit)
		}
		return true
	case Truncate:
		// Best effort: the truncated prefix is almost never valid JSON,
		// in which case the line yields nothing.
		if msg, err := Parse(prefix); err == nil && msg != nil {
			t.push(msg)
		}
		return true
	default: // Fail
		t.setReadErr(errors.BufferOverflow(size, limit))
		return false
	}
}

func (t *Transport) dispatch(ctx context.Context, line []byte) {
	msg, err := Parse(line)
	if err != nil {
		t.logger.Warn("dropping unparseable line", zap.Error(err))
		return
	}
	if msg == nil {
		t.logger.Debug("dropping message of unknown type")
		return
	}
	select {
	case t.incoming <- msg:
	case <-ctx.Done():
	}
}

func (t *Transport) push(msg Message) {
	select {
	case t.incoming <- msg:
	default:
		t.logger.Warn("incoming channel full, dropping message")
	}
}

// stderrLoop collects stderr into the ring buffer for exit diagnostics.
func (t *Transport) stderrLoop() {
	defer t.readers.Done()

	scanner := bufio.NewScanner(t.stderr)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		t.stderrTail.Append(scanner.Text())
	}
}

// monitorExit reaps the child after the pipe readers finish and records
// the exit error.
func (t *Transport) monitorExit() {
	t.readers.Wait()
	err := t.cmd.Wait()

	t.mu.Lock()
	if t.cmd.ProcessState != nil {
		t.exitCode = t.cmd.ProcessState.ExitCode()
	}
	closing := t.closed
	if err != nil && t.exitCode != 0 {
		t.exitErr = errors.CliExit(t.exitCode, t.stderrTail.Lines())
	}
	t.mu.Unlock()

	if err != nil && !closing {
		t.logger.Error("claude CLI exited unexpectedly",
			zap.Int("exit_code", t.exitCode),
			zap.Error(err))
	} else {
		t.logger.Debug("claude CLI exited", zap.Int("exit_code", t.exitCode))
	}

	close(t.exited)
}

// readLimitedLine reads one logical line, keeping at most limit bytes of
// it. The returned size is the full observed line length (without the
// newline), which exceeds limit for oversized lines; the remainder of an
// oversized line is drained.
func readLimitedLine(r *bufio.Reader, limit int) ([]byte, int, error) {
	var buf []byte
	size := 0
	for {
		chunk, err := r.ReadSlice('\n')
		complete := err == nil
		if complete {
			chunk = chunk[:len(chunk)-1]
		}
		size += len(chunk)

		if len(buf) < limit {
			take := chunk
			if len(buf)+len(take) > limit {
				take = take[:limit-len(buf)]
			}
			buf = append(buf, take...)
		}

		if complete {
			return buf, size, nil
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return buf, size, err
	}
}

// ringBuffer keeps the most recent lines written to it.
type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (b *ringBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *ringBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}
