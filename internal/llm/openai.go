package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/datatalk/datatalk/internal/operation"
	"github.com/datatalk/datatalk/internal/session"
)

const openAIProvider = "openai"

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

type OpenAIModel struct {
	client      *openai.Client
	model       string
	temperature float32
}

var _ Model = (*OpenAIModel)(nil)

func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.GPT4o
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	clientCfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	// HTTPDoer is an interface: assigning a nil *http.Client would make it non-nil.
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &OpenAIModel{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: float32(cfg.Temperature),
	}, nil
}

func (m *OpenAIModel) Name() string {
	return openAIProvider + ":" + m.model
}

func (m *OpenAIModel) Stream(ctx context.Context, req Request) (Stream, error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, buildChatRequest(m.model, m.temperature, req))
	if err != nil {
		return nil, transportError(err)
	}
	return &openAIStream{stream: stream, calls: map[int]*openai.FunctionCall{}}, nil
}

func buildChatRequest(model string, temperature float32, req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case session.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		case session.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content})
		case session.RoleFunction:
			// Function traces are notes about past turns, not replies to a
			// pending tool call, so they travel as assistant text.
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: fmt.Sprintf("[%s] %s", msg.Name, msg.Content),
			})
		}
	}

	tools := make([]openai.Tool, 0, len(req.Catalog.Definitions))
	for _, def := range req.Catalog.Definitions {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		Tools:       tools,
		Stream:      true,
	}
}

type openAIStream struct {
	stream  *openai.ChatCompletionStream
	calls   map[int]*openai.FunctionCall
	sawCall bool
	done    bool
}

func (s *openAIStream) Recv() (Event, error) {
	for {
		if s.done {
			return Event{}, io.EOF
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			if call, ok := s.firstCall(); ok {
				return Event{Kind: EventOperation, Call: call}, nil
			}
			return Event{}, io.EOF
		}
		if err != nil {
			s.done = true
			return Event{}, transportError(err)
		}

		var text strings.Builder
		for _, choice := range resp.Choices {
			for _, fragment := range choice.Delta.ToolCalls {
				s.accumulate(fragment)
			}
			text.WriteString(choice.Delta.Content)
		}
		if text.Len() > 0 && !s.sawCall {
			return Event{Kind: EventText, Text: text.String()}, nil
		}
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// accumulate joins streamed tool call fragments by index. Only the name of
// the first fragment is set; arguments arrive in pieces.
func (s *openAIStream) accumulate(fragment openai.ToolCall) {
	index := 0
	if fragment.Index != nil {
		index = *fragment.Index
	}
	call, ok := s.calls[index]
	if !ok {
		call = &openai.FunctionCall{}
		s.calls[index] = call
	}
	if fragment.Function.Name != "" {
		call.Name = fragment.Function.Name
	}
	call.Arguments += fragment.Function.Arguments
	s.sawCall = true
}

// firstCall returns the lowest-indexed tool call. Additional parallel calls
// are dropped because a turn executes exactly one operation.
func (s *openAIStream) firstCall() (operation.Call, bool) {
	if len(s.calls) == 0 {
		return operation.Call{}, false
	}
	indexes := make([]int, 0, len(s.calls))
	for index := range s.calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	call := s.calls[indexes[0]]
	return operation.Call{Name: call.Name, Arguments: call.Arguments}, true
}

func transportError(err error) error {
	out := &TransportError{Provider: openAIProvider, Err: err}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		out.StatusCode = apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		out.StatusCode = reqErr.HTTPStatusCode
	}
	return out
}
