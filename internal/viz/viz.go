package viz

import (
	"fmt"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/operation"
	"github.com/datatalk/datatalk/internal/query"
)

type Kind string

const (
	KindText        Kind = "text"
	KindAnswer      Kind = "answer"
	KindDescription Kind = "description"
	KindTable       Kind = "table"
	KindBarX        Kind = "barX"
	KindBarY        Kind = "barY"
	KindLine        Kind = "line"
	KindArea        Kind = "area"
	KindScatter     Kind = "scatter"
	KindHeatmap     Kind = "heatmap"
	KindDensity     Kind = "density"
)

const (
	DefaultDisplayThreshold = 15
	DefaultTableRowLimit    = 20
)

// RenderSpec is the only shape handed to renderers. Data is never nil.
type RenderSpec struct {
	Kind       Kind          `json:"kind"`
	Data       []dataset.Row `json:"data"`
	Columns    []string      `json:"columns,omitempty"`
	X          string        `json:"x,omitempty"`
	Y          string        `json:"y,omitempty"`
	Color      string        `json:"color,omitempty"`
	Size       string        `json:"size,omitempty"`
	Title      string        `json:"title,omitempty"`
	Caption    string        `json:"caption,omitempty"`
	Text       string        `json:"text,omitempty"`
	Value      any           `json:"value,omitempty"`
	Interval   string        `json:"interval,omitempty"`
	TimeFormat string        `json:"timeFormat,omitempty"`
}

// Text wraps a conversational reply.
func Text(text string) RenderSpec {
	return RenderSpec{Kind: KindText, Data: []dataset.Row{}, Text: text}
}

type Input struct {
	Request operation.Request
	Result  query.Result
	Schema  dataset.Schema
	// ChartRequested is set when the user explicitly asked for a chart.
	ChartRequested bool
}

type Selector struct {
	DisplayThreshold int
	TableRowLimit    int
}

func NewSelector(displayThreshold, tableRowLimit int) Selector {
	if displayThreshold <= 0 {
		displayThreshold = DefaultDisplayThreshold
	}
	if tableRowLimit <= 0 {
		tableRowLimit = DefaultTableRowLimit
	}
	return Selector{DisplayThreshold: displayThreshold, TableRowLimit: tableRowLimit}
}

// Select maps an operation result to exactly one RenderSpec.
func (s Selector) Select(in Input) RenderSpec {
	rows := in.Result.Rows
	if rows == nil {
		rows = []dataset.Row{}
	}

	if _, ok := in.Request.(operation.DescribeRequest); ok {
		return RenderSpec{
			Kind:    KindDescription,
			Data:    rows,
			Columns: in.Result.Columns,
			Title:   "Dataset description",
			Caption: fmt.Sprintf("%d variables", len(rows)),
		}
	}

	if summarize, ok := in.Request.(operation.SummarizeRequest); ok && summarize.Group == "" && in.Result.Scalar && len(rows) == 1 {
		key := summarize.AggregateKey()
		return RenderSpec{
			Kind:    KindAnswer,
			Data:    rows,
			Columns: in.Result.Columns,
			Y:       key,
			Value:   rows[0][key],
			Title:   summaryTitle(summarize),
			Text:    fmt.Sprintf("%s: %s", summaryTitle(summarize), formatValue(rows[0][key])),
		}
	}

	if len(rows) == 0 {
		spec := s.table(in.Result.Columns, rows)
		spec.Caption = "no rows matched"
		return spec
	}

	if len(rows) < s.DisplayThreshold && !in.ChartRequested {
		return s.table(in.Result.Columns, rows)
	}

	switch req := in.Request.(type) {
	case operation.SummarizeRequest:
		return s.summaryChart(req, in.Result.Columns, rows)
	case operation.SortRequest:
		return RenderSpec{
			Kind:    KindBarY,
			Data:    rows,
			Columns: in.Result.Columns,
			X:       in.Schema.KeyColumn(),
			Y:       req.Category,
			Title:   fmt.Sprintf("%s (%s)", req.Category, req.Order),
		}
	case operation.RelationshipRequest:
		if spec, ok := relationshipChart(req, in.Result.Columns, rows); ok {
			return spec
		}
	case operation.QueryRequest:
		if chart := req.Chart(); chart.Type != "" {
			if spec, ok := s.declaredChart(chart, in.Result.Columns, rows); ok {
				return spec
			}
		}
	}
	return s.defaultChart(in.Result.Columns, rows)
}

func (s Selector) table(columns []string, rows []dataset.Row) RenderSpec {
	spec := RenderSpec{Kind: KindTable, Data: rows, Columns: columns}
	if s.TableRowLimit > 0 && len(rows) > s.TableRowLimit {
		spec.Data = rows[:s.TableRowLimit]
		spec.Caption = fmt.Sprintf("showing %d of %d rows", s.TableRowLimit, len(rows))
	}
	return spec
}

func (s Selector) summaryChart(req operation.SummarizeRequest, columns []string, rows []dataset.Row) RenderSpec {
	if req.Group == "" || len(rows) < 2 {
		return s.table(columns, rows)
	}
	spec := RenderSpec{
		Kind:    KindBarY,
		Data:    rows,
		Columns: columns,
		X:       req.Group,
		Y:       req.AggregateKey(),
		Title:   summaryTitle(req),
	}
	switch req.ChartType {
	case operation.SummaryChartLine:
		spec.Kind = KindLine
		spec.Interval = dataset.TimeInterval(req.Group)
	case operation.SummaryChartArea:
		spec.Kind = KindArea
		spec.Interval = dataset.TimeInterval(req.Group)
	}
	return spec
}

func (s Selector) declaredChart(chart operation.ChartSpec, columns []string, rows []dataset.Row) (RenderSpec, bool) {
	if chart.Type == operation.ChartTable {
		spec := s.table(columns, rows)
		spec.Title = chart.Title
		return spec, true
	}
	if !hasColumn(columns, chart.X) {
		return RenderSpec{}, false
	}
	if chart.Type != operation.ChartDensity && !hasColumn(columns, chart.Y) {
		return RenderSpec{}, false
	}

	spec := RenderSpec{
		Kind:       Kind(chart.Type),
		Data:       rows,
		Columns:    columns,
		X:          chart.X,
		Y:          chart.Y,
		Title:      chart.Title,
		TimeFormat: chart.TimeFormat,
	}
	if hasColumn(columns, chart.Color) {
		spec.Color = chart.Color
	}
	if hasColumn(columns, chart.Size) {
		spec.Size = chart.Size
	}
	if spec.Kind == KindLine || spec.Kind == KindArea {
		spec.Interval = dataset.TimeInterval(chart.X)
	}
	return spec, true
}

// relationshipChart keeps the requested x, y and color roles and only picks
// the chart kind from their types.
func relationshipChart(req operation.RelationshipRequest, columns []string, rows []dataset.Row) (RenderSpec, bool) {
	if !hasColumn(columns, req.X) || !hasColumn(columns, req.Y) {
		return RenderSpec{}, false
	}
	spec := RenderSpec{Data: rows, Columns: columns, X: req.X, Y: req.Y}
	if hasColumn(columns, req.Color) {
		spec.Color = req.Color
	}
	xNumeric, yNumeric := isNumericColumn(rows, req.X), isNumericColumn(rows, req.Y)
	switch {
	case xNumeric && yNumeric:
		spec.Kind = KindScatter
	case !xNumeric && yNumeric:
		spec.Kind = KindBarY
	case xNumeric && !yNumeric:
		spec.Kind = KindBarX
	case spec.Color != "" && isNumericColumn(rows, spec.Color):
		spec.Kind = KindHeatmap
	default:
		return RenderSpec{}, false
	}
	return spec, true
}

// defaultChart picks a chart from the result's column types alone.
func (s Selector) defaultChart(columns []string, rows []dataset.Row) RenderSpec {
	var numeric, categorical []string
	for _, name := range columns {
		if isNumericColumn(rows, name) {
			numeric = append(numeric, name)
		} else {
			categorical = append(categorical, name)
		}
	}

	switch {
	case len(numeric) >= 2:
		spec := RenderSpec{Kind: KindScatter, Data: rows, Columns: columns, X: numeric[0], Y: numeric[1]}
		if len(categorical) > 0 {
			spec.Color = categorical[0]
		} else if len(numeric) > 2 {
			spec.Size = numeric[2]
		}
		return spec
	case len(categorical) == 2 && len(numeric) == 1:
		return RenderSpec{Kind: KindHeatmap, Data: rows, Columns: columns, X: categorical[0], Y: categorical[1], Color: numeric[0]}
	case len(categorical) == 1 && len(numeric) == 1:
		return RenderSpec{Kind: KindBarY, Data: rows, Columns: columns, X: categorical[0], Y: numeric[0]}
	default:
		return s.table(columns, rows)
	}
}

func isNumericColumn(rows []dataset.Row, name string) bool {
	seen := false
	for _, row := range rows {
		switch row[name].(type) {
		case nil:
		case float64:
			seen = true
		default:
			return false
		}
	}
	return seen
}

func hasColumn(columns []string, name string) bool {
	if name == "" {
		return false
	}
	for _, column := range columns {
		if column == name {
			return true
		}
	}
	return false
}

func summaryTitle(req operation.SummarizeRequest) string {
	title := fmt.Sprintf("%s of %s", req.Aggregation, req.Variable)
	if req.Group != "" {
		title += " by " + req.Group
	}
	if req.Filter != nil {
		title += fmt.Sprintf(" where %s = %v", req.Filter.Category, req.Filter.Value)
	}
	return title
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "no value"
	case float64:
		return fmt.Sprintf("%.6g", typed)
	default:
		return fmt.Sprint(typed)
	}
}
