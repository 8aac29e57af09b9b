package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/operation"
)

func TestExecutorDispatchesFolds(t *testing.T) {
	exec := &Executor{Dataset: gdpDataset(t), TopK: 3}
	result, err := exec.Execute(context.Background(), operation.SortRequest{Category: "gdp", Order: operation.OrderDescending})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("len(Rows) = %d", len(result.Rows))
	}

	result, err = exec.Execute(context.Background(), operation.DescribeRequest{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Stats) != 4 {
		t.Fatalf("len(Stats) = %d", len(result.Stats))
	}
}

func TestExecutorRejectsMutationBeforeEngine(t *testing.T) {
	engine := &fakeEngine{}
	exec := &Executor{Dataset: gdpDataset(t), Engine: engine, RowLimit: 100}
	_, err := exec.Execute(context.Background(), operation.QueryRequest{Query: "DROP TABLE data"})
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("Execute() error = %v, want QueryError", err)
	}
	if engine.calls != 0 {
		t.Fatalf("engine calls = %d, want 0", engine.calls)
	}

	engine.result = Result{Columns: []string{"country"}, Rows: []dataset.Row{{"country": "Norway"}}}
	result, err := exec.Execute(context.Background(), operation.QueryRequest{Query: "SELECT country FROM data"})
	if err != nil {
		t.Fatalf("Execute() after rejection error = %v", err)
	}
	if len(result.Rows) != 1 || engine.lastSQL != "SELECT country FROM data" || engine.lastLimit != 100 {
		t.Fatalf("engine saw sql=%q limit=%d rows=%v", engine.lastSQL, engine.lastLimit, result.Rows)
	}
}

func TestExecutorCoercesNumericLookingText(t *testing.T) {
	engine := &fakeEngine{result: Result{
		Columns: []string{"country", "gdp", "total", "label"},
		Rows: []dataset.Row{
			{"country": "01", "gdp": "362.2", "total": "10", "label": "a"},
			{"country": "02", "gdp": "", "total": nil, "label": "7"},
		},
	}}
	exec := &Executor{Dataset: gdpDataset(t), Engine: engine}
	result, err := exec.Execute(context.Background(), operation.QueryRequest{Query: "SELECT * FROM data"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	row := result.Rows[0]
	if row["country"] != "01" {
		t.Fatalf("text column coerced: %#v", row["country"])
	}
	if row["gdp"] != 362.2 || result.Rows[1]["gdp"] != nil {
		t.Fatalf("gdp = %#v / %#v", row["gdp"], result.Rows[1]["gdp"])
	}
	if row["total"] != 10.0 {
		t.Fatalf("derived numeric column = %#v", row["total"])
	}
	if row["label"] != "a" || result.Rows[1]["label"] != "7" {
		t.Fatalf("mixed derived column coerced: %#v", result.Rows[1]["label"])
	}
	if result.SQL != "SELECT * FROM data" {
		t.Fatalf("SQL = %q", result.SQL)
	}
}

func TestExecutorWrapsEngineFailures(t *testing.T) {
	engine := &fakeEngine{err: context.DeadlineExceeded}
	exec := &Executor{Dataset: gdpDataset(t), Engine: engine, Timeout: time.Second}
	_, err := exec.Execute(context.Background(), operation.QueryRequest{Query: "SELECT nope FROM data"})
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("Execute() error = %v, want QueryError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want wrapped deadline", err)
	}
	if !engine.hadDeadline {
		t.Fatal("expected query timeout to be applied to the engine context")
	}
}

type fakeEngine struct {
	calls       int
	lastSQL     string
	lastLimit   int
	hadDeadline bool
	result      Result
	err         error
}

func (f *fakeEngine) Query(ctx context.Context, sqlText string, rowLimit int) (Result, error) {
	f.calls++
	f.lastSQL = sqlText
	f.lastLimit = rowLimit
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) Close() error { return nil }
