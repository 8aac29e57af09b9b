package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/datatalk/datatalk/internal/operation"
	"github.com/datatalk/datatalk/internal/session"
)

// Placeholder is an offline model for development. It describes the dataset
// when asked to and otherwise explains how to configure a real provider.
type Placeholder struct{}

var _ Model = (*Placeholder)(nil)

func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

func (p *Placeholder) Name() string {
	return "placeholder"
}

func (p *Placeholder) Stream(ctx context.Context, req Request) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Provider: p.Name(), Err: err}
	}

	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == session.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}

	if strings.Contains(strings.ToLower(last), "describe") {
		if _, ok := req.Catalog.Lookup(operation.Describe); ok {
			return &sliceStream{ctx: ctx, events: []Event{{
				Kind: EventOperation,
				Call: operation.Call{Name: operation.Describe, Arguments: "{}"},
			}}}, nil
		}
	}

	reply := fmt.Sprintf("[placeholder model] You asked: %q. Set DATATALK_AI_PROVIDER=openai and DATATALK_AI_API_KEY to get real answers. Ask me to describe the dataset to see its variables.", last)
	words := strings.SplitAfter(reply, " ")
	events := make([]Event, 0, len(words))
	for _, word := range words {
		events = append(events, Event{Kind: EventText, Text: word})
	}
	return &sliceStream{ctx: ctx, events: events}, nil
}

type sliceStream struct {
	ctx    context.Context
	events []Event
	next   int
}

func (s *sliceStream) Recv() (Event, error) {
	if err := s.ctx.Err(); err != nil {
		return Event{}, &TransportError{Provider: "placeholder", Err: err}
	}
	if s.next >= len(s.events) {
		return Event{}, io.EOF
	}
	event := s.events[s.next]
	s.next++
	return event, nil
}

func (s *sliceStream) Close() error {
	return nil
}
