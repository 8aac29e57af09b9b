package session

import (
	"sync"

	"github.com/datatalk/datatalk/internal/dataset"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

type Message struct {
	Role    Role   `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// ContextState is everything the model may see. Values are never mutated
// after construction; every change produces a new state.
type ContextState struct {
	Schema     dataset.Schema `json:"schema"`
	Sample     []dataset.Row  `json:"sample"`
	Columns    []string       `json:"columns"`
	Messages   []Message      `json:"messages"`
	LastResult []dataset.Row  `json:"last_result,omitempty"`
	Version    int64          `json:"version"`
}

func (s ContextState) Initialized() bool {
	return len(s.Schema.Columns) > 0
}

// Store holds the current context state for one conversation.
type Store struct {
	mu      sync.RWMutex
	current ContextState
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Initialize(schema dataset.Schema, sample []dataset.Row) ContextState {
	next := ContextState{
		Schema:   schema,
		Sample:   append([]dataset.Row(nil), sample...),
		Columns:  schema.Names(),
		Messages: []Message{},
	}
	return s.swap(func(prev ContextState) ContextState {
		next.Version = prev.Version + 1
		return next
	})
}

func (s *Store) AppendMessage(msg Message) ContextState {
	return s.swap(func(prev ContextState) ContextState {
		next := prev
		next.Messages = make([]Message, 0, len(prev.Messages)+1)
		next.Messages = append(next.Messages, prev.Messages...)
		next.Messages = append(next.Messages, msg)
		next.Version = prev.Version + 1
		return next
	})
}

func (s *Store) ReplaceLastResult(rows []dataset.Row) ContextState {
	return s.swap(func(prev ContextState) ContextState {
		next := prev
		next.LastResult = append([]dataset.Row(nil), rows...)
		next.Version = prev.Version + 1
		return next
	})
}

func (s *Store) CurrentColumns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.current.Columns...)
}

func (s *Store) Snapshot() ContextState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Restore reinstates a snapshot taken earlier. The version keeps counting
// forward so observers can tell a rollback happened.
func (s *Store) Restore(snapshot ContextState) ContextState {
	return s.swap(func(prev ContextState) ContextState {
		next := snapshot
		next.Version = prev.Version + 1
		return next
	})
}

func (s *Store) swap(fn func(ContextState) ContextState) ContextState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = fn(s.current)
	return s.current
}

// History returns at most limit trailing messages, never splitting a
// function trace from the user message that caused it.
func (s ContextState) History(limit int) []Message {
	if limit <= 0 || len(s.Messages) <= limit {
		return append([]Message(nil), s.Messages...)
	}
	start := len(s.Messages) - limit
	for start > 0 && s.Messages[start].Role != RoleUser {
		start--
	}
	return append([]Message(nil), s.Messages[start:]...)
}
