package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/llm"
	"github.com/datatalk/datatalk/internal/observability"
	"github.com/datatalk/datatalk/internal/operation"
	"github.com/datatalk/datatalk/internal/query"
	"github.com/datatalk/datatalk/internal/session"
	"github.com/datatalk/datatalk/internal/viz"
)

var (
	ErrTurnInFlight   = errors.New("a turn is already in flight")
	ErrNoDataset      = errors.New("no dataset has been ingested")
	ErrEmptyUtterance = errors.New("utterance is empty")
	errEmptyResponse  = errors.New("model returned an empty response")
)

type State string

const (
	StateIdle               State = "idle"
	StateAwaitingModel      State = "awaiting_model"
	StateStreamingText      State = "streaming_text"
	StateExecutingOperation State = "executing_operation"
	StateFinalizing         State = "finalizing"
)

// Turn outcomes, also used as metric labels.
const (
	OutcomeText            = "text"
	OutcomeOperation       = "operation"
	OutcomeValidationError = "validation_error"
	OutcomeQueryError      = "query_error"
	OutcomeTransportError  = "transport_error"
)

// EngineLoader materializes an ingested dataset into a query engine owned by
// one session.
type EngineLoader interface {
	Load(ctx context.Context, sessionID string, ds dataset.Dataset) (query.Engine, error)
}

type Options struct {
	SessionID string
	Logger    *slog.Logger
	Model     llm.Model
	Loader    EngineLoader
	Selector  viz.Selector

	InferenceRows int
	SampleRows    int
	MaxHistory    int
	TopK          int
	RowLimit      int
	QueryTimeout  time.Duration

	NewTurnID func() string
}

type TurnResult struct {
	TurnID    string         `json:"turn_id"`
	Status    session.Status `json:"status"`
	Outcome   string         `json:"outcome"`
	Operation string         `json:"operation,omitempty"`
	Spec      viz.RenderSpec `json:"render_spec"`
	Err       error          `json:"-"`
}

// Conversation runs turns for one session, one at a time.
type Conversation struct {
	opts         Options
	logger       *slog.Logger
	store        *session.Store
	presentation *session.Presentation

	inFlight atomic.Bool
	state    atomic.Value

	mu     sync.Mutex
	data   dataset.Dataset
	engine query.Engine
}

func New(opts Options) *Conversation {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.NewTurnID == nil {
		opts.NewTurnID = uuid.NewString
	}
	if opts.Selector == (viz.Selector{}) {
		opts.Selector = viz.NewSelector(0, 0)
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = 3
	}
	c := &Conversation{
		opts:         opts,
		logger:       opts.Logger.With(slog.String("session_id", opts.SessionID)),
		store:        session.NewStore(),
		presentation: session.NewPresentation(),
	}
	c.state.Store(StateIdle)
	return c
}

func (c *Conversation) ID() string {
	return c.opts.SessionID
}

// InFlight reports whether a turn or an ingestion is running.
func (c *Conversation) InFlight() bool {
	return c.inFlight.Load()
}

func (c *Conversation) State() State {
	return c.state.Load().(State)
}

func (c *Conversation) Context() session.ContextState {
	return c.store.Snapshot()
}

func (c *Conversation) Entries() []session.Entry {
	return c.presentation.Entries()
}

// Ingest replaces the session's dataset. On failure the previous dataset,
// engine and context state are kept.
func (c *Conversation) Ingest(ctx context.Context, raw [][]any) (session.ContextState, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return session.ContextState{}, ErrTurnInFlight
	}
	defer c.inFlight.Store(false)

	ds, err := dataset.Infer(raw, dataset.Options{InferenceRows: c.opts.InferenceRows})
	if err != nil {
		observability.ObserveIngestion(0, err)
		return session.ContextState{}, err
	}

	var engine query.Engine
	if c.opts.Loader != nil {
		engine, err = c.opts.Loader.Load(ctx, c.opts.SessionID, ds)
		if err != nil {
			observability.ObserveIngestion(0, err)
			return session.ContextState{}, fmt.Errorf("load query engine: %w", err)
		}
	}

	c.mu.Lock()
	previous := c.engine
	c.data = ds
	c.engine = engine
	c.mu.Unlock()
	if previous != nil {
		if err := previous.Close(); err != nil {
			c.logger.WarnContext(ctx, "close previous query engine failed", slog.Any("error", err))
		}
	}

	state := c.store.Initialize(ds.Schema, ds.Sample(c.opts.SampleRows))
	observability.ObserveIngestion(len(ds.Rows), nil)
	c.logger.InfoContext(ctx, "dataset ingested",
		slog.Int("rows", len(ds.Rows)),
		slog.Int("columns", len(ds.Schema.Columns)),
	)
	return state, nil
}

// Submit runs one turn. onUpdate, when set, receives the in-flight entry
// every time it is replaced, ending with its terminal version. Failures
// inside the turn are reported through the returned TurnResult.
func (c *Conversation) Submit(ctx context.Context, utterance string, onUpdate func(session.Entry)) (TurnResult, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return TurnResult{}, ErrEmptyUtterance
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return TurnResult{}, ErrTurnInFlight
	}
	defer c.inFlight.Store(false)
	defer c.setState(StateIdle)

	if !c.store.Snapshot().Initialized() {
		return TurnResult{}, ErrNoDataset
	}

	t := &turn{
		conv:      c,
		id:        c.opts.NewTurnID(),
		utterance: utterance,
		onUpdate:  onUpdate,
		started:   time.Now(),
	}
	t.checkpoint = c.store.AppendMessage(session.Message{Role: session.RoleUser, Content: utterance})
	t.publish(c.presentation.Begin(t.id, utterance, viz.Text("")))
	t.logger = c.logger.With(slog.String("turn_id", t.id))

	result := t.run(ctx)
	observability.ObserveTurn(result.Outcome)
	return result, nil
}

// Close releases the session's query engine.
func (c *Conversation) Close() error {
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()
	if engine == nil {
		return nil
	}
	return engine.Close()
}

func (c *Conversation) setState(state State) {
	c.state.Store(state)
}

func (c *Conversation) executor() *query.Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &query.Executor{
		Dataset:  c.data,
		Engine:   c.engine,
		TopK:     c.opts.TopK,
		RowLimit: c.opts.RowLimit,
		Timeout:  c.opts.QueryTimeout,
	}
}

type turn struct {
	conv       *Conversation
	id         string
	utterance  string
	checkpoint session.ContextState
	onUpdate   func(session.Entry)
	logger     *slog.Logger
	started    time.Time
}

func (t *turn) run(ctx context.Context) TurnResult {
	c := t.conv
	c.setState(StateAwaitingModel)

	catalog := operation.Build(t.checkpoint.Schema)
	req := llm.Request{
		System:   SystemPrompt(t.checkpoint, c.opts.Selector.DisplayThreshold, c.opts.Selector.TableRowLimit),
		Messages: t.checkpoint.History(c.opts.MaxHistory),
		Catalog:  catalog,
	}

	modelStart := time.Now()
	stream, err := c.opts.Model.Stream(ctx, req)
	if err != nil {
		return t.fail(ctx, OutcomeTransportError, "", err)
	}
	defer func() { _ = stream.Close() }()

	var (
		text strings.Builder
		call *operation.Call
	)
	for call == nil {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t.fail(ctx, OutcomeTransportError, "", err)
		}
		switch event.Kind {
		case llm.EventOperation:
			next := event.Call
			call = &next
		case llm.EventText:
			if event.Text == "" {
				continue
			}
			text.WriteString(event.Text)
			c.setState(StateStreamingText)
			t.update(session.StatusStreaming, viz.Text(text.String()))
		}
	}
	observability.ObserveModelLatency(time.Since(modelStart))

	if call != nil {
		return t.runOperation(ctx, catalog, *call)
	}
	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return t.fail(ctx, OutcomeTransportError, "", errEmptyResponse)
	}

	c.setState(StateFinalizing)
	c.store.AppendMessage(session.Message{Role: session.RoleAssistant, Content: reply})
	spec := viz.Text(reply)
	t.update(session.StatusDone, spec)
	t.logger.InfoContext(ctx, "turn completed",
		slog.String("outcome", OutcomeText),
		slog.String("duration", time.Since(t.started).String()),
	)
	return TurnResult{TurnID: t.id, Status: session.StatusDone, Outcome: OutcomeText, Spec: spec}
}

func (t *turn) runOperation(ctx context.Context, catalog operation.Catalog, call operation.Call) TurnResult {
	c := t.conv
	c.setState(StateExecutingOperation)
	opStart := time.Now()

	request, err := catalog.Validate(ctx, call)
	if err != nil {
		observability.ObserveOperation(call.Name, OutcomeValidationError, time.Since(opStart))
		return t.fail(ctx, OutcomeValidationError, call.Name, err)
	}

	result, err := c.executor().Execute(ctx, request)
	if err != nil {
		outcome := OutcomeQueryError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			outcome = OutcomeTransportError
		}
		observability.ObserveOperation(call.Name, outcome, time.Since(opStart))
		return t.fail(ctx, outcome, call.Name, err)
	}
	observability.ObserveOperation(call.Name, "ok", time.Since(opStart))

	c.setState(StateFinalizing)
	spec := c.opts.Selector.Select(viz.Input{
		Request:        request,
		Result:         result,
		Schema:         t.checkpoint.Schema,
		ChartRequested: ExplicitChart(t.utterance),
	})
	c.store.AppendMessage(session.Message{
		Role:    session.RoleFunction,
		Name:    request.Operation(),
		Content: "answered question using " + request.Summary(),
	})
	c.store.ReplaceLastResult(result.Rows)
	t.update(session.StatusDone, spec)

	t.logger.InfoContext(ctx, "turn completed",
		slog.String("outcome", OutcomeOperation),
		slog.String("operation", request.Operation()),
		slog.Int("rows", len(result.Rows)),
		slog.String("render_kind", string(spec.Kind)),
		slog.String("duration", time.Since(t.started).String()),
	)
	return TurnResult{
		TurnID:    t.id,
		Status:    session.StatusDone,
		Outcome:   OutcomeOperation,
		Operation: request.Operation(),
		Spec:      spec,
	}
}

// fail rolls the context back to the state right after the utterance was
// recorded and finalizes the entry as a failed text reply.
func (t *turn) fail(ctx context.Context, outcome, op string, err error) TurnResult {
	c := t.conv
	c.store.Restore(t.checkpoint)
	spec := viz.Text("I could not complete that request: " + describeFailure(err))
	t.update(session.StatusFailed, spec)

	t.logger.WarnContext(ctx, "turn failed",
		slog.String("outcome", outcome),
		slog.String("operation", op),
		slog.Any("error", err),
	)
	return TurnResult{
		TurnID:    t.id,
		Status:    session.StatusFailed,
		Outcome:   outcome,
		Operation: op,
		Spec:      spec,
		Err:       err,
	}
}

func (t *turn) update(status session.Status, spec viz.RenderSpec) {
	if entry, ok := t.conv.presentation.Update(t.id, status, spec); ok {
		t.publish(entry)
	}
}

func (t *turn) publish(entry session.Entry) {
	if t.onUpdate != nil {
		t.onUpdate(entry)
	}
}

func describeFailure(err error) string {
	var validationErr *operation.ValidationError
	var queryErr *query.QueryError
	var transportErr *llm.TransportError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "it took too long to answer, please try again."
	case errors.Is(err, context.Canceled):
		return "the request was cancelled."
	case errors.As(err, &validationErr):
		return validationErr.Error() + "."
	case errors.As(err, &queryErr):
		if queryErr.Err != nil {
			return "the query failed: " + queryErr.Err.Error() + "."
		}
		return "the query was rejected: " + queryErr.Reason + "."
	case errors.As(err, &transportErr):
		return "the language model is unavailable right now, please try again."
	case errors.Is(err, errEmptyResponse):
		return "the language model returned an empty answer, please try again."
	default:
		return err.Error()
	}
}

// ExplicitChart reports whether the utterance asks for a chart by name.
func ExplicitChart(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, word := range []string{"chart", "plot", "graph", "visuali"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
