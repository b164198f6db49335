// Package lifecycle composes the transport, stores, options factory,
// startup tracker, and stream aggregator into session create, send,
// interrupt, and stop operations.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/internal/session"
	"github.com/nick-boey/homespun/internal/session/metadata"
	"github.com/nick-boey/homespun/internal/session/streaming"
	"github.com/nick-boey/homespun/pkg/claudecode"
)

// DefaultRequestTimeout bounds any single response wait within a
// session.
const DefaultRequestTimeout = 30 * time.Minute

// Client is the session transport surface the manager drives. The local
// subprocess client and the remote worker adapter both satisfy it.
type Client interface {
	Connect(ctx context.Context) error
	Messages() <-chan claudecode.Message
	SendUserMessage(text string) error
	Interrupt() error
	Close(ctx context.Context) error
}

// ClientFactory builds a transport client for one session's options.
type ClientFactory func(opts claudecode.Options) Client

// MessageSubscriber receives every protocol message in arrival order,
// alongside the aggregator.
type MessageSubscriber func(sessionID string, msg claudecode.Message)

// activeSession tracks a session with a live transport and consumer.
type activeSession struct {
	client Client
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns all live sessions of the process.
type Manager struct {
	logger         *logger.Logger
	factory        *session.OptionsFactory
	clients        ClientFactory
	store          *session.Store
	metadata       *metadata.Store
	startup        *session.StartupTracker
	aggregator     *streaming.Aggregator
	subscriber     MessageSubscriber
	askUser        session.AskUserEndpoint
	requestTimeout time.Duration

	mu     sync.Mutex
	active map[string]*activeSession
}

// Options configures a Manager.
type Options struct {
	Factory        *session.OptionsFactory
	Clients        ClientFactory
	Store          *session.Store
	Metadata       *metadata.Store
	Startup        *session.StartupTracker
	Aggregator     *streaming.Aggregator
	Subscriber     MessageSubscriber
	AskUser        session.AskUserEndpoint
	RequestTimeout time.Duration
}

// NewManager wires a manager from its collaborators. A zero
// RequestTimeout falls back to the default.
func NewManager(opts Options, log *logger.Logger) *Manager {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Manager{
		logger:         log.WithFields(zap.String("component", "session-manager")),
		factory:        opts.Factory,
		clients:        opts.Clients,
		store:          opts.Store,
		metadata:       opts.Metadata,
		startup:        opts.Startup,
		aggregator:     opts.Aggregator,
		subscriber:     opts.Subscriber,
		askUser:        opts.AskUser,
		requestTimeout: timeout,
		active:         make(map[string]*activeSession),
	}
}

// GetSession returns the live session record for an ID.
func (m *Manager) GetSession(sessionID string) (*session.Session, bool) {
	return m.store.GetByID(sessionID)
}

// GetSessionByEntity returns the live session bound to an entity.
func (m *Manager) GetSessionByEntity(entityID string) (*session.Session, bool) {
	return m.store.GetByEntityID(entityID)
}

// ListSessions returns a snapshot of all live sessions.
func (m *Manager) ListSessions() []*session.Session {
	return m.store.GetAll()
}

// Shutdown stops every active session in parallel and waits for the
// consumers to drain.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			return m.Stop(ctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("session stop failed during shutdown", zap.Error(err))
	}
}

func (m *Manager) registerActive(sessionID string, a *activeSession) {
	m.mu.Lock()
	m.active[sessionID] = a
	m.mu.Unlock()
}

func (m *Manager) lookupActive(sessionID string) (*activeSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[sessionID]
	return a, ok
}

// releaseActive removes the active entry if it still maps to a. A later
// reconnect may have replaced it.
func (m *Manager) releaseActive(sessionID string, a *activeSession) {
	m.mu.Lock()
	if current, ok := m.active[sessionID]; ok && current == a {
		delete(m.active, sessionID)
	}
	m.mu.Unlock()
}
