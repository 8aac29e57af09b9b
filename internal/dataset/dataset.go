package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TableName is the single relation every uploaded dataset is exposed as.
const TableName = "data"

type ColumnType string

const (
	TypeNumber ColumnType = "number"
	TypeText   ColumnType = "text"
)

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	DateLike bool       `json:"date_like,omitempty"`
}

type Row map[string]any

type Schema struct {
	Columns []Column `json:"columns"`
	DDL     string   `json:"ddl"`
}

func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Columns))
	for _, column := range s.Columns {
		names = append(names, column.Name)
	}
	return names
}

func (s Schema) Lookup(name string) (Column, bool) {
	for _, column := range s.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

func (s Schema) IsNumeric(name string) bool {
	column, ok := s.Lookup(name)
	return ok && column.Type == TypeNumber
}

// KeyColumn is the column used to label rows in bar charts and tables: the
// first text column, falling back to the first column.
func (s Schema) KeyColumn() string {
	for _, column := range s.Columns {
		if column.Type == TypeText {
			return column.Name
		}
	}
	if len(s.Columns) == 0 {
		return ""
	}
	return s.Columns[0].Name
}

type Dataset struct {
	Schema Schema `json:"schema"`
	Rows   []Row  `json:"-"`
}

// Sample returns up to n leading rows. The rows are shared with the dataset
// and must not be mutated.
func (d Dataset) Sample(n int) []Row {
	if n <= 0 {
		return []Row{}
	}
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	return append([]Row(nil), d.Rows[:n]...)
}

type Options struct {
	InferenceRows int
}

// IngestionError reports a raw table that cannot become a dataset. Row is the
// 1-based data row index, or 0 when the header itself is at fault.
type IngestionError struct {
	Reason string
	Row    int
	Column string
}

func (e *IngestionError) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("ingestion failed: %s (column %q)", e.Reason, e.Column)
	case e.Row > 0:
		return fmt.Sprintf("ingestion failed: %s (row %d)", e.Reason, e.Row)
	default:
		return "ingestion failed: " + e.Reason
	}
}

// Infer turns a header-first table into a typed dataset. The first element
// of raw is the header; every other element is a data row.
func Infer(raw [][]any, opts Options) (Dataset, error) {
	if len(raw) == 0 || len(raw[0]) == 0 {
		return Dataset{}, &IngestionError{Reason: "missing header row"}
	}
	header, err := parseHeader(raw[0])
	if err != nil {
		return Dataset{}, err
	}
	if len(raw) < 2 {
		return Dataset{}, &IngestionError{Reason: "dataset has no data rows"}
	}

	rows := make([]Row, 0, len(raw)-1)
	for i, values := range raw[1:] {
		if len(values) > len(header) {
			return Dataset{}, &IngestionError{
				Reason: fmt.Sprintf("row has %d values but header has %d columns", len(values), len(header)),
				Row:    i + 1,
			}
		}
		row := make(Row, len(header))
		for j, name := range header {
			var value any
			if j < len(values) {
				value = values[j]
			}
			row[name] = value
		}
		rows = append(rows, row)
	}

	limit := opts.InferenceRows
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	columns := make([]Column, 0, len(header))
	for _, name := range header {
		columns = append(columns, Column{
			Name:     name,
			Type:     inferType(rows[:limit], name),
			DateLike: TimeInterval(name) != "",
		})
	}

	for _, row := range rows {
		for _, column := range columns {
			row[column.Name] = normalize(row[column.Name], column.Type)
		}
	}

	schema := Schema{Columns: columns}
	schema.DDL = renderDDL(columns)
	return Dataset{Schema: schema, Rows: rows}, nil
}

func parseHeader(values []any) ([]string, error) {
	header := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for i, value := range values {
		name := strings.TrimSpace(stringify(value))
		if name == "" {
			return nil, &IngestionError{Reason: fmt.Sprintf("header column %d is blank", i+1)}
		}
		if _, ok := seen[name]; ok {
			return nil, &IngestionError{Reason: "duplicate column name", Column: name}
		}
		seen[name] = struct{}{}
		header = append(header, name)
	}
	return header, nil
}

func inferType(rows []Row, name string) ColumnType {
	sawValue := false
	for _, row := range rows {
		value := row[name]
		if isNull(value) {
			continue
		}
		sawValue = true
		if _, ok := ToFloat(value); !ok {
			return TypeText
		}
	}
	if !sawValue {
		return TypeText
	}
	return TypeNumber
}

func normalize(value any, typ ColumnType) any {
	if isNull(value) {
		return nil
	}
	if typ == TypeNumber {
		number, ok := ToFloat(value)
		if !ok {
			return nil
		}
		return number
	}
	return stringify(value)
}

func isNull(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return false
	}
}

// ToFloat reports whether value is numeric, either natively or as text that
// parses as a finite float.
func ToFloat(value any) (float64, bool) {
	var number float64
	switch typed := value.(type) {
	case float64:
		number = typed
	case float32:
		number = float64(typed)
	case int:
		number = float64(typed)
	case int8:
		number = float64(typed)
	case int16:
		number = float64(typed)
	case int32:
		number = float64(typed)
	case int64:
		number = float64(typed)
	case uint:
		number = float64(typed)
	case uint8:
		number = float64(typed)
	case uint16:
		number = float64(typed)
	case uint32:
		number = float64(typed)
	case uint64:
		number = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		number = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		number = parsed
	default:
		return 0, false
	}
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}

func stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

func renderDDL(columns []Column) string {
	defs := make([]string, 0, len(columns))
	for _, column := range columns {
		sqlType := "TEXT"
		if column.Type == TypeNumber {
			sqlType = "DOUBLE"
		}
		defs = append(defs, QuoteIdent(column.Name)+" "+sqlType)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", TableName, strings.Join(defs, ", "))
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// TimeInterval guesses the axis interval for a column from its name.
func TimeInterval(column string) string {
	lower := strings.ToLower(column)
	for _, interval := range []string{"year", "month", "week", "day"} {
		if strings.Contains(lower, interval) {
			return interval
		}
	}
	return ""
}
