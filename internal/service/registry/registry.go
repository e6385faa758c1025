package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/model/chat"
)

// MaxSessions caps how many conversations the client remembers.
const MaxSessions = 10

// Persister is the durable side of the registry.
type Persister interface {
	Load(ctx context.Context) []chat.Session
	Save(ctx context.Context, sessions []chat.Session) error
	LoadCurrent(ctx context.Context) string
	SaveCurrent(ctx context.Context, id string) error
	ClearCurrent(ctx context.Context) error
}

// Registry is the ordered collection of known sessions plus the current
// session pointer. Every mutation is written through to the Persister after
// the in-memory change.
type Registry struct {
	mu       sync.RWMutex
	sessions []chat.Session
	current  string

	store  Persister
	logger *zap.Logger
	now    func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for updatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.Named("registry")
		}
	}
}

// New returns an empty registry backed by store.
func New(store Persister, opts ...Option) *Registry {
	r := &Registry{
		sessions: make([]chat.Session, 0, MaxSessions),
		store:    store,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore loads sessions and the current pointer from the store. It is meant
// to run once at startup.
func (r *Registry) Restore(ctx context.Context) {
	sessions := r.store.Load(ctx)
	current := r.store.LoadCurrent(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(sessions) > MaxSessions {
		sessions = sessions[:MaxSessions]
	}
	r.sessions = sessions
	r.current = current
	r.logger.Info("registry restored", zap.Int("sessions", len(sessions)), zap.String("current", current))
}

// Upsert records one completed turn. A known sessionID gets the pair appended
// and its preview and updatedAt refreshed in place; its title and position do
// not change. An unknown sessionID becomes a new session at the front, and the
// oldest sessions beyond MaxSessions are dropped.
func (r *Registry) Upsert(ctx context.Context, sessionID string, outgoing, incoming chat.Message) []chat.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if idx := r.indexOf(sessionID); idx >= 0 {
		session := r.sessions[idx]
		messages := make([]chat.Message, 0, len(session.Messages)+2)
		messages = append(messages, session.Messages...)
		session.Messages = append(messages, outgoing, incoming)
		session.LastMessagePreview = chat.DerivePreview(incoming.Text)
		session.UpdatedAt = now
		r.sessions[idx] = session
	} else {
		session := chat.Session{
			ID:                 sessionID,
			Title:              chat.DeriveTitle(outgoing.Text),
			LastMessagePreview: chat.DerivePreview(incoming.Text),
			UpdatedAt:          now,
			Messages:           []chat.Message{outgoing, incoming},
		}
		sessions := make([]chat.Session, 0, len(r.sessions)+1)
		sessions = append(sessions, session)
		sessions = append(sessions, r.sessions...)
		if len(sessions) > MaxSessions {
			evicted := sessions[MaxSessions:]
			for _, old := range evicted {
				r.logger.Debug("evicting session", zap.String("session", old.ID))
			}
			sessions = sessions[:MaxSessions]
		}
		r.sessions = sessions
	}

	r.persistLocked(ctx)
	return r.snapshotLocked()
}

// Delete removes sessionID. wasCurrent reports whether it was the current
// session, in which case the current pointer is cleared as well.
func (r *Registry) Delete(ctx context.Context, sessionID string) (sessions []chat.Session, wasCurrent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.indexOf(sessionID); idx >= 0 {
		r.sessions = append(r.sessions[:idx:idx], r.sessions[idx+1:]...)
	}
	r.persistLocked(ctx)

	if sessionID != "" && r.current == sessionID {
		wasCurrent = true
		r.current = ""
		if err := r.store.ClearCurrent(ctx); err != nil {
			r.logger.Warn("failed to clear current session", zap.Error(err))
		}
	}
	return r.snapshotLocked(), wasCurrent
}

// Select marks sessionID current and returns a copy of its messages. An
// unknown id is still made current with an empty history, so a conversation
// can be resumed under an id the registry has not seen.
func (r *Registry) Select(ctx context.Context, sessionID string) []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setCurrentLocked(ctx, sessionID)
	if idx := r.indexOf(sessionID); idx >= 0 {
		return chat.CloneMessages(r.sessions[idx].Messages)
	}
	r.logger.Debug("selected unknown session, starting empty", zap.String("session", sessionID))
	return []chat.Message{}
}

// SetCurrent marks sessionID current and persists the pointer.
func (r *Registry) SetCurrent(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setCurrentLocked(ctx, sessionID)
}

// ClearCurrent forgets the current pointer in memory only.
func (r *Registry) ClearCurrent() {
	r.mu.Lock()
	r.current = ""
	r.mu.Unlock()
}

// Current returns the current session id, or "".
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Sessions returns a copy of all sessions, first is most recently created.
func (r *Registry) Sessions() []chat.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Find returns a copy of the session with the given id.
func (r *Registry) Find(sessionID string) (chat.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexOf(sessionID); idx >= 0 {
		return r.sessions[idx].Clone(), true
	}
	return chat.Session{}, false
}

func (r *Registry) setCurrentLocked(ctx context.Context, sessionID string) {
	r.current = sessionID
	if err := r.store.SaveCurrent(ctx, sessionID); err != nil {
		r.logger.Warn("failed to save current session", zap.Error(err))
	}
}

func (r *Registry) persistLocked(ctx context.Context) {
	if err := r.store.Save(ctx, r.sessions); err != nil {
		r.logger.Warn("failed to persist sessions", zap.Error(err))
	}
}

func (r *Registry) indexOf(sessionID string) int {
	for i, session := range r.sessions {
		if session.ID == sessionID {
			return i
		}
	}
	return -1
}

func (r *Registry) snapshotLocked() []chat.Session {
	copied := make([]chat.Session, len(r.sessions))
	for i, session := range r.sessions {
		copied[i] = session.Clone()
	}
	return copied
}
