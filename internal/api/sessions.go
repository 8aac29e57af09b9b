package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/datatalk/datatalk/internal/auth"
	"github.com/datatalk/datatalk/internal/chat"
	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/registry"
	"github.com/datatalk/datatalk/internal/session"
)

type datasetRequest struct {
	Table [][]any `json:"table"`
}

type turnRequest struct {
	Utterance string `json:"utterance"`
}

type sessionResponse struct {
	SessionID string         `json:"session_id"`
	State     chat.State     `json:"state"`
	Schema    dataset.Schema `json:"schema"`
	Columns   []string       `json:"columns"`
	Sample    []dataset.Row  `json:"sample"`
	Messages  int            `json:"message_count"`
	Version   int64          `json:"version"`
}

type turnResponse struct {
	chat.TurnResult
	Error string `json:"error,omitempty"`
}

type sessionHandlers struct {
	deps         Dependencies
	maxBodyBytes int64
}

func (s *sessionHandlers) list(w http.ResponseWriter, r *http.Request) {
	if !auth.Authorize(r.Context(), auth.RoleViewer) {
		writeForbidden(w, r, auth.RoleViewer)
		return
	}
	ids := s.deps.Sessions.IDs(auth.OwnerFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *sessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	if !auth.Authorize(r.Context(), auth.RoleAnalyst) {
		writeForbidden(w, r, auth.RoleAnalyst)
		return
	}
	table, ok := s.decodeTable(w, r, true)
	if !ok {
		return
	}

	owner := auth.OwnerFromContext(r.Context())
	conv, err := s.deps.Sessions.Create(owner)
	if err != nil {
		if errors.Is(err, registry.ErrTooManySessions) {
			writeError(r.Context(), w, http.StatusTooManyRequests, "TOO_MANY_SESSIONS", err.Error(), true, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_CREATE_FAILED", "failed to create session", true, map[string]any{"details": err.Error()})
		return
	}

	if table != nil {
		if _, err := conv.Ingest(r.Context(), table); err != nil {
			_ = s.deps.Sessions.Delete(r.Context(), conv.ID(), owner)
			writeIngestError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, describeSession(conv))
}

func (s *sessionHandlers) get(w http.ResponseWriter, r *http.Request) {
	if !auth.Authorize(r.Context(), auth.RoleViewer) {
		writeForbidden(w, r, auth.RoleViewer)
		return
	}
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, describeSession(conv))
}

func (s *sessionHandlers) delete(w http.ResponseWriter, r *http.Request) {
	if !auth.Authorize(r.Context(), auth.RoleAnalyst) {
		writeForbidden(w, r, auth.RoleAnalyst)
		return
	}
	id := r.PathValue("session")
	if err := s.deps.Sessions.Delete(r.Context(), id, auth.OwnerFromContext(r.Context())); err != nil {
		writeSessionNotFound(w, r, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *sessionHandlers) replaceDataset(w http.ResponseWriter, r *http.Request) {
	if !auth.Authorize(r.Context(), auth.RoleAnalyst) {
		writeForbidden(w, r, auth.RoleAnalyst)
		return
	}
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	table, ok := s.decodeTable(w, r, false)
	if !ok {
		return
	}
	if _, err := conv.Ingest(r.Context(), table); err != nil {
		writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, describeSession(conv))
}

func (s *sessionHandlers) listTurns(w http.ResponseWriter, r *http.Request) {
	if !auth.Authorize(r.Context(), auth.RoleViewer) {
		writeForbidden(w, r, auth.RoleViewer)
		return
	}
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": conv.ID(), "turns": conv.Entries()})
}

// submitTurn runs one turn. Clients sending "Accept: text/event-stream" get
// every replacement of the in-flight entry as a "turn" event followed by a
// single "result" event; everyone else gets the final result as JSON.
func (s *sessionHandlers) submitTurn(w http.ResponseWriter, r *http.Request) {
	if !auth.Authorize(r.Context(), auth.RoleAnalyst) {
		writeForbidden(w, r, auth.RoleAnalyst)
		return
	}
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var request turnRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid turn request body", false, map[string]any{"details": err.Error()})
		return
	}

	var events *eventWriter
	var onUpdate func(session.Entry)
	if wantsEventStream(r) {
		events = &eventWriter{w: w}
		onUpdate = func(entry session.Entry) {
			events.send("turn", entry)
		}
	}

	result, err := conv.Submit(r.Context(), request.Utterance, onUpdate)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyUtterance):
			writeError(r.Context(), w, http.StatusBadRequest, "UTTERANCE_REQUIRED", err.Error(), false, nil)
		case errors.Is(err, chat.ErrTurnInFlight):
			writeError(r.Context(), w, http.StatusConflict, "TURN_IN_FLIGHT", err.Error(), true, map[string]any{"session_id": conv.ID()})
		case errors.Is(err, chat.ErrNoDataset):
			writeError(r.Context(), w, http.StatusConflict, "NO_DATASET", err.Error(), false, map[string]any{"session_id": conv.ID()})
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "TURN_FAILED", "turn failed", true, map[string]any{"details": err.Error()})
		}
		return
	}

	response := turnResponse{TurnResult: result}
	if result.Err != nil {
		response.Error = result.Err.Error()
	}
	if events != nil {
		events.send("result", response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *sessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*chat.Conversation, bool) {
	id := r.PathValue("session")
	conv, err := s.deps.Sessions.Get(id, auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeSessionNotFound(w, r, id)
		return nil, false
	}
	return conv, true
}

// decodeTable reads a header-first table either as {"table": [[...]]} JSON
// or as a text/csv body. An empty JSON body is accepted only when optional.
func (s *sessionHandlers) decodeTable(w http.ResponseWriter, r *http.Request, optional bool) ([][]any, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		table, err := readCSV(r.Body)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CSV", "invalid csv body", false, map[string]any{"details": err.Error()})
			return nil, false
		}
		return table, true
	}

	var request datasetRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(&request); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil, true
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid dataset request body", false, map[string]any{"details": err.Error()})
		return nil, false
	}
	if request.Table == nil && !optional {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table is required", false, nil)
		return nil, false
	}
	return request.Table, true
}

func readCSV(body io.Reader) ([][]any, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	table := make([][]any, 0, len(records))
	for _, record := range records {
		row := make([]any, len(record))
		for i, value := range record {
			row[i] = value
		}
		table = append(table, row)
	}
	return table, nil
}

func describeSession(conv *chat.Conversation) sessionResponse {
	state := conv.Context()
	columns := state.Columns
	if columns == nil {
		columns = []string{}
	}
	sample := state.Sample
	if sample == nil {
		sample = []dataset.Row{}
	}
	return sessionResponse{
		SessionID: conv.ID(),
		State:     conv.State(),
		Schema:    state.Schema,
		Columns:   columns,
		Sample:    sample,
		Messages:  len(state.Messages),
		Version:   state.Version,
	}
}

func writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var ingestErr *dataset.IngestionError
	switch {
	case errors.As(err, &ingestErr):
		extra := map[string]any{"reason": ingestErr.Reason}
		if ingestErr.Row > 0 {
			extra["row"] = ingestErr.Row
		}
		if ingestErr.Column != "" {
			extra["column"] = ingestErr.Column
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INGESTION_FAILED", ingestErr.Error(), false, extra)
	case errors.Is(err, chat.ErrTurnInFlight):
		writeError(r.Context(), w, http.StatusConflict, "TURN_IN_FLIGHT", err.Error(), true, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_LOAD_FAILED", "failed to load dataset", true, map[string]any{"details": err.Error()})
	}
}

func writeSessionNotFound(w http.ResponseWriter, r *http.Request, id string) {
	writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", false, map[string]any{"session_id": id})
}

func writeForbidden(w http.ResponseWriter, r *http.Request, role string) {
	writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("missing required role %q", role), false, nil)
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// eventWriter writes server-sent events. Headers are sent with the first
// event so errors raised before the turn starts can still be plain JSON.
type eventWriter struct {
	w       http.ResponseWriter
	started bool
}

func (e *eventWriter) send(event string, payload any) {
	if !e.started {
		header := e.w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"error": err.Error()})
	}
	_, _ = fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data)
	if flusher, ok := e.w.(http.Flusher); ok {
		flusher.Flush()
	}
}
