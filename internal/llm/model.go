package llm

import (
	"context"
	"fmt"

	"github.com/datatalk/datatalk/internal/config"
	"github.com/datatalk/datatalk/internal/operation"
	"github.com/datatalk/datatalk/internal/session"
)

type EventKind string

const (
	EventText      EventKind = "text"
	EventOperation EventKind = "operation"
)

// Event is one increment of a model response. A stream carries either text
// events or a single operation event, never both.
type Event struct {
	Kind EventKind
	Text string
	Call operation.Call
}

type Request struct {
	System   string
	Messages []session.Message
	Catalog  operation.Catalog
}

// Stream yields events until io.EOF. Any other error is a TransportError.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

type Model interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// TransportError reports a model backend that was unreachable, timed out or
// broke the stream. The turn that hit it is not retried.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("model transport %s failed status=%d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model transport %s failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// New builds the model selected by cfg.Provider.
func New(cfg config.AIConfig) (Model, error) {
	switch cfg.Provider {
	case config.AIProviderOpenAI:
		return NewOpenAIModel(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case config.AIProviderPlaceholder, "":
		return NewPlaceholder(), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
