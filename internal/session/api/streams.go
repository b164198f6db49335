// Package api exposes the session engine over HTTP. Turn output is
// delivered as server-sent events matching the worker wire, so one
// engine can act as another's remote worker.
package api

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/internal/session/streaming"
)

// Streams fans aggregated updates out to per-session subscribers.
type Streams struct {
	logger *logger.Logger

	mu   sync.Mutex
	subs map[string]map[chan streaming.Update]struct{}
}

// NewStreams creates an empty fan-out hub.
func NewStreams(log *logger.Logger) *Streams {
	return &Streams{
		logger: log.WithFields(zap.String("component", "stream-hub")),
		subs:   make(map[string]map[chan streaming.Update]struct{}),
	}
}

// Subscribe registers a buffered channel for one session's updates.
// The returned cancel function must be called when done.
func (s *Streams) Subscribe(sessionID string) (<-chan streaming.Update, func()) {
	ch := make(chan streaming.Update, 100)

	s.mu.Lock()
	subs, ok := s.subs[sessionID]
	if !ok {
		subs = make(map[chan streaming.Update]struct{})
		s.subs[sessionID] = subs
	}
	subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if subs, ok := s.subs[sessionID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(s.subs, sessionID)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Dispatch delivers an update to every subscriber of its session. Slow
// subscribers drop updates instead of stalling the pump.
func (s *Streams) Dispatch(update streaming.Update) {
	s.mu.Lock()
	subs := s.subs[update.SessionID]
	targets := make([]chan streaming.Update, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	s.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- update:
		default:
			s.logger.Warn("subscriber channel full, dropping update",
				zap.String("session_id", update.SessionID),
				zap.String("kind", string(update.Kind)))
		}
	}
}

// Pump consumes a sink's update channel until it closes, dispatching to
// subscribers and the optional extra consumer.
func (s *Streams) Pump(updates <-chan streaming.Update, also func(streaming.Update)) {
	for update := range updates {
		s.Dispatch(update)
		if also != nil {
			also(update)
		}
	}
}
