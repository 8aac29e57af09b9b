package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datatalk/datatalk/internal/chat"
	"github.com/datatalk/datatalk/internal/observability"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many open sessions")
)

// Factory builds the conversation for a freshly allocated session id.
type Factory func(sessionID string) *chat.Conversation

type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxSessions   int
}

type entry struct {
	conv     *chat.Conversation
	owner    string
	lastUsed time.Time
}

// Registry owns every live conversation. Idle sessions past their TTL are
// closed by Run; sessions with a turn in flight are never swept.
type Registry struct {
	Config  Config
	Factory Factory
	Logger  *slog.Logger
	Clock   func() time.Time
	NewID   func() string

	mu       sync.Mutex
	sessions map[string]*entry
}

func New(cfg Config, factory Factory, logger *slog.Logger) *Registry {
	return &Registry{Config: cfg, Factory: factory, Logger: logger}
}

func (r *Registry) ensureDefaults() {
	if r.Clock == nil {
		r.Clock = time.Now
	}
	if r.NewID == nil {
		r.NewID = uuid.NewString
	}
	if r.Config.SweepInterval <= 0 {
		r.Config.SweepInterval = time.Minute
	}
	if r.sessions == nil {
		r.sessions = map[string]*entry{}
	}
}

func (r *Registry) Create(owner string) (*chat.Conversation, error) {
	r.mu.Lock()
	r.ensureDefaults()
	if r.Config.MaxSessions > 0 && len(r.sessions) >= r.Config.MaxSessions {
		r.mu.Unlock()
		// Make room from expired sessions before refusing.
		r.SweepOnce(context.Background())
		r.mu.Lock()
		if len(r.sessions) >= r.Config.MaxSessions {
			r.mu.Unlock()
			return nil, ErrTooManySessions
		}
	}
	id := r.NewID()
	conv := r.Factory(id)
	r.sessions[id] = &entry{conv: conv, owner: owner, lastUsed: r.Clock()}
	count := len(r.sessions)
	r.mu.Unlock()

	observability.SetSessionsActive(count)
	return conv, nil
}

// Get returns the session and marks it as used. Sessions of another owner
// are reported as not found.
func (r *Registry) Get(id, owner string) (*chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureDefaults()
	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return nil, ErrSessionNotFound
	}
	e.lastUsed = r.Clock()
	return e.conv, nil
}

func (r *Registry) Delete(ctx context.Context, id, owner string) error {
	r.mu.Lock()
	r.ensureDefaults()
	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	observability.SetSessionsActive(count)
	r.close(ctx, id, e.conv)
	return nil
}

// IDs lists the sessions visible to owner in a stable order.
func (r *Registry) IDs(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureDefaults()
	ids := make([]string, 0, len(r.sessions))
	for id, e := range r.sessions {
		if e.owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	r.ensureDefaults()
	interval := r.Config.SweepInterval
	r.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.CloseAll(context.Background())
			return nil
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce closes sessions idle for longer than the TTL and returns how
// many were removed.
func (r *Registry) SweepOnce(ctx context.Context) int {
	if r.Config.TTL <= 0 {
		return 0
	}
	r.mu.Lock()
	r.ensureDefaults()
	now := r.Clock()
	expired := map[string]*chat.Conversation{}
	for id, e := range r.sessions {
		if e.conv.InFlight() || now.Sub(e.lastUsed) < r.Config.TTL {
			continue
		}
		expired[id] = e.conv
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	observability.SetSessionsActive(count)
	for id, conv := range expired {
		r.close(ctx, id, conv)
	}
	if r.Logger != nil {
		r.Logger.InfoContext(ctx, "expired idle sessions", slog.Int("expired", len(expired)), slog.Int("active", count))
	}
	return len(expired)
}

func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	r.ensureDefaults()
	all := r.sessions
	r.sessions = map[string]*entry{}
	r.mu.Unlock()

	observability.SetSessionsActive(0)
	for id, e := range all {
		r.close(ctx, id, e.conv)
	}
}

func (r *Registry) close(ctx context.Context, id string, conv *chat.Conversation) {
	if err := conv.Close(); err != nil && r.Logger != nil {
		r.Logger.WarnContext(ctx, "close session failed", slog.String("session_id", id), slog.Any("error", err))
	}
}
