package session

import (
	"sync"

	"github.com/datatalk/datatalk/internal/viz"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

type Entry struct {
	TurnID    string         `json:"turn_id"`
	Utterance string         `json:"utterance"`
	Status    Status         `json:"status"`
	Spec      viz.RenderSpec `json:"render_spec"`
}

// Presentation is the user-visible transcript. The entry of the in-flight
// turn is replaced in place until it reaches a terminal status.
type Presentation struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
}

func NewPresentation() *Presentation {
	return &Presentation{index: map[string]int{}}
}

func (p *Presentation) Begin(turnID, utterance string, spec viz.RenderSpec) Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := Entry{TurnID: turnID, Utterance: utterance, Status: StatusPending, Spec: spec}
	p.index[turnID] = len(p.entries)
	p.entries = append(p.entries, entry)
	return entry
}

// Update replaces the entry for turnID. Updates to unknown or finalized
// entries are ignored and reported as false.
func (p *Presentation) Update(turnID string, status Status, spec viz.RenderSpec) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[turnID]
	if !ok || p.entries[i].Status.Terminal() {
		return Entry{}, false
	}
	p.entries[i].Status = status
	p.entries[i].Spec = spec
	return p.entries[i], true
}

func (p *Presentation) Entries() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Entry(nil), p.entries...)
}

func (p *Presentation) Get(turnID string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.index[turnID]
	if !ok {
		return Entry{}, false
	}
	return p.entries[i], true
}
