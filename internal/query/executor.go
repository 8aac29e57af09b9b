package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/operation"
)

type Executor struct {
	Dataset  dataset.Dataset
	Engine   Engine
	TopK     int
	RowLimit int
	Timeout  time.Duration
}

// Execute runs exactly one validated operation. Closed-form operations fold
// over the in-memory dataset; run_query goes to the engine after passing the
// read-only check.
func (e *Executor) Execute(ctx context.Context, req operation.Request) (Result, error) {
	start := time.Now()
	var (
		result Result
		err    error
	)
	switch r := req.(type) {
	case operation.DescribeRequest:
		result = Describe(e.Dataset)
	case operation.SortRequest:
		result = SortRows(e.Dataset, r, e.TopK)
	case operation.SummarizeRequest:
		result = Summarize(e.Dataset, r)
	case operation.RelationshipRequest:
		result = Relationship(e.Dataset, r)
	case operation.QueryRequest:
		result, err = e.runQuery(ctx, r.Query)
	default:
		err = fmt.Errorf("unsupported operation %T", req)
	}
	if err != nil {
		return Result{}, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Executor) runQuery(ctx context.Context, sqlText string) (Result, error) {
	cleaned, err := CheckReadOnly(sqlText, e.Dataset.Schema)
	if err != nil {
		return Result{}, err
	}
	if e.Engine == nil {
		return Result{}, &QueryError{Query: sqlText, Reason: "no query engine is attached to this session"}
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	result, err := e.Engine.Query(ctx, cleaned, e.RowLimit)
	if err != nil {
		return Result{}, &QueryError{Query: sqlText, Reason: "execution failed", Err: err}
	}
	result.SQL = cleaned
	CoerceNumeric(result, e.Dataset.Schema)
	return result, nil
}

// CoerceNumeric converts numeric-looking text back to float64. Columns that
// map to a number column of the schema are always coerced; derived columns
// are coerced only when every non-null value parses. Text columns of the
// schema are left alone so codes such as "02134" survive.
func CoerceNumeric(result Result, schema dataset.Schema) {
	for _, name := range result.Columns {
		column, known := schema.Lookup(name)
		if known && column.Type == dataset.TypeText {
			continue
		}
		if !known && !allNumeric(result.Rows, name) {
			continue
		}
		for _, row := range result.Rows {
			text, ok := row[name].(string)
			if !ok {
				continue
			}
			if number, ok := dataset.ToFloat(text); ok {
				row[name] = number
			} else if strings.TrimSpace(text) == "" {
				row[name] = nil
			}
		}
	}
}

func allNumeric(rows []dataset.Row, name string) bool {
	seen := false
	for _, row := range rows {
		value := row[name]
		if value == nil {
			continue
		}
		if _, ok := dataset.ToFloat(value); !ok {
			return false
		}
		seen = true
	}
	return seen
}
