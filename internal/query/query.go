package query

import (
	"context"
	"fmt"
	"time"

	"github.com/datatalk/datatalk/internal/dataset"
)

type Result struct {
	Columns  []string      `json:"columns"`
	Rows     []dataset.Row `json:"rows"`
	Scalar   bool          `json:"scalar,omitempty"`
	Stats    []ColumnStats `json:"stats,omitempty"`
	SQL      string        `json:"sql,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Engine runs read-only SQL against a session's relational copy of the
// dataset. Implementations execute one statement at a time.
type Engine interface {
	Query(ctx context.Context, sqlText string, rowLimit int) (Result, error)
	Close() error
}

// QueryError reports a query that was rejected before execution or that
// failed inside the engine. Nothing is partially applied in either case.
type QueryError struct {
	Query  string
	Reason string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query failed: %s: %v", e.Reason, e.Err)
	}
	return "query rejected: " + e.Reason
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
