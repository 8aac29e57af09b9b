package datatalkctl

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/viz"
)

type sessionResponse struct {
	SessionID string         `json:"session_id"`
	Schema    dataset.Schema `json:"schema"`
	Sample    []dataset.Row  `json:"sample"`
	Version   int64          `json:"version"`
}

type turnResult struct {
	TurnID    string         `json:"turn_id"`
	Status    string         `json:"status"`
	Outcome   string         `json:"outcome"`
	Operation string         `json:"operation"`
	Spec      viz.RenderSpec `json:"render_spec"`
	Error     string         `json:"error"`
}

type entry struct {
	TurnID    string         `json:"turn_id"`
	Utterance string         `json:"utterance"`
	Status    string         `json:"status"`
	Spec      viz.RenderSpec `json:"render_spec"`
}

func renderSession(w io.Writer, session sessionResponse) {
	_, _ = fmt.Fprintf(w, "session %s\n", session.SessionID)
	t := newTable(w)
	t.AppendHeader(table.Row{"column", "type", "date-like"})
	for _, column := range session.Schema.Columns {
		dateLike := ""
		if column.DateLike {
			dateLike = "yes"
		}
		t.AppendRow(table.Row{column.Name, string(column.Type), dateLike})
	}
	t.Render()
}

// renderSpec prints a render spec for a terminal. Charts cannot be drawn, so
// their kind and encodings are printed above the plotted data.
func renderSpec(w io.Writer, spec viz.RenderSpec) {
	switch spec.Kind {
	case viz.KindText, viz.KindAnswer:
		_, _ = fmt.Fprintln(w, spec.Text)
		return
	case viz.KindTable, viz.KindDescription:
	default:
		_, _ = fmt.Fprintln(w, chartHeadline(spec))
	}
	if spec.Title != "" {
		_, _ = fmt.Fprintln(w, spec.Title)
	}
	renderRows(w, spec.Columns, spec.Data)
	if spec.Caption != "" {
		_, _ = fmt.Fprintln(w, spec.Caption)
	}
}

func chartHeadline(spec viz.RenderSpec) string {
	parts := []string{string(spec.Kind) + " chart"}
	for _, encoding := range []struct{ name, value string }{
		{"x", spec.X},
		{"y", spec.Y},
		{"color", spec.Color},
		{"size", spec.Size},
		{"interval", spec.Interval},
	} {
		if encoding.value != "" {
			parts = append(parts, encoding.name+"="+encoding.value)
		}
	}
	return strings.Join(parts, " ")
}

func renderRows(w io.Writer, columns []string, rows []dataset.Row) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	if len(columns) == 0 {
		columns = rowKeys(rows[0])
	}

	t := newTable(w)
	header := make(table.Row, len(columns))
	for i, column := range columns {
		header[i] = column
	}
	t.AppendHeader(header)
	for _, row := range rows {
		values := make(table.Row, len(columns))
		for i, column := range columns {
			values[i] = formatValue(row[column])
		}
		t.AppendRow(values)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func renderTurns(w io.Writer, entries []entry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "(no turns)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"turn", "status", "kind", "utterance"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.TurnID, e.Status, string(e.Spec.Kind), e.Utterance})
	}
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	return t
}

func rowKeys(row dataset.Row) []string {
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return "NULL"
	case float64:
		if typed == math.Trunc(typed) && math.Abs(typed) < 1e15 {
			return fmt.Sprintf("%.0f", typed)
		}
		return fmt.Sprintf("%.6g", typed)
	default:
		return fmt.Sprintf("%v", v)
	}
}
