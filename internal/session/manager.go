// Package session manages per-session conversation engines. Each
// (user, session) pair owns an isolated conversation: created empty on
// first use, swept after the inactivity TTL.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HenshawMike/fx-agent/internal/backend"
	"github.com/HenshawMike/fx-agent/internal/chat"
	"github.com/HenshawMike/fx-agent/internal/conversation"
	"github.com/HenshawMike/fx-agent/internal/trade"
)

const sweepInterval = time.Minute

// Backend is the full surface the engine needs from the trading-agent
// service. *backend.Client satisfies it.
type Backend interface {
	Chat(ctx context.Context, prompt string) (*backend.ChatResponse, error)
	ExecuteTrade(ctx context.Context, req backend.ExecutionRequest) (*backend.ExecutionResponse, error)
}

// Recorder persists conversation events for a session. The returned stop
// func detaches the recorder when the session is dropped.
type Recorder interface {
	Attach(sessionKey string, store *conversation.Store) (stop func())
}

// Engine bundles the per-conversation components.
type Engine struct {
	Store      *conversation.Store
	Sink       *conversation.Sink
	Dispatcher *chat.Dispatcher
	Proposals  *trade.Controller

	mu         sync.Mutex
	lastActive time.Time
	stopRec    func()
}

func (e *Engine) touch() {
	e.mu.Lock()
	e.lastActive = time.Now()
	e.mu.Unlock()
}

// IdleFor returns how long the engine has gone without activity.
func (e *Engine) IdleFor() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastActive)
}

// Manager is the registry of live conversation engines.
type Manager struct {
	mu       sync.Mutex
	engines  map[string]*Engine
	backend  Backend
	recorder Recorder
	ttl      time.Duration
	logger   *slog.Logger
}

// NewManager creates an engine registry. recorder may be nil when transcript
// archiving is disabled.
func NewManager(be Backend, recorder Recorder, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engines:  make(map[string]*Engine),
		backend:  be,
		recorder: recorder,
		ttl:      ttl,
		logger:   logger,
	}
}

// Key builds the canonical session key.
func Key(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Get returns the engine for a session, creating it on first use and
// marking it active.
func (m *Manager) Get(userID, sessionID string) *Engine {
	key := Key(userID, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	eng, ok := m.engines[key]
	if !ok {
		store := conversation.NewStore()
		sink := conversation.NewSink(store, m.logger)
		eng = &Engine{
			Store:      store,
			Sink:       sink,
			Dispatcher: chat.NewDispatcher(store, sink, m.backend, m.logger),
			Proposals:  trade.NewController(store, sink, m.backend, m.logger),
			lastActive: time.Now(),
		}
		if m.recorder != nil {
			eng.stopRec = m.recorder.Attach(key, store)
		}
		m.engines[key] = eng
		m.logger.Info("Conversation session created", "user_id", userID, "session_id", sessionID)
		return eng
	}

	eng.touch()
	return eng
}

// Close drops a session's engine, detaching its recorder. The conversation
// log is not persisted beyond what the recorder already archived.
func (m *Manager) Close(userID, sessionID string) {
	key := Key(userID, sessionID)

	m.mu.Lock()
	eng, ok := m.engines[key]
	if ok {
		delete(m.engines, key)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if eng.stopRec != nil {
		eng.stopRec()
	}
	m.logger.Info("Conversation session closed", "user_id", userID, "session_id", sessionID)
}

// CloseAll drops every engine and detaches their recorders. Used at
// shutdown so the archive can drain.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for key, eng := range engines {
		if eng.stopRec != nil {
			eng.stopRec()
		}
		m.logger.Info("Conversation session closed", "session_key", key)
	}
}

// Len returns the number of live engines.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Range calls fn for every live engine.
func (m *Manager) Range(fn func(*Engine)) {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.mu.Unlock()

	for _, eng := range engines {
		fn(eng)
	}
}

// StartSweeper runs a background goroutine that periodically drops engines
// idle past the TTL. It stops when ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Session sweeper started", "interval", sweepInterval, "ttl", m.ttl)

		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-ctx.Done():
				m.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) sweep() {
	var expired []*Engine

	m.mu.Lock()
	for key, eng := range m.engines {
		// A session with a round trip still outstanding is not idle.
		if eng.IdleFor() > m.ttl && !eng.Dispatcher.Busy() {
			delete(m.engines, key)
			expired = append(expired, eng)
			m.logger.Info("Session sweeper dropped idle conversation", "session_key", key)
		}
	}
	m.mu.Unlock()

	for _, eng := range expired {
		if eng.stopRec != nil {
			eng.stopRec()
		}
	}

	if len(expired) > 0 {
		m.logger.Info("Session sweeper cleanup completed", "dropped", len(expired))
	}
}
