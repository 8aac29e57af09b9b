package duckdb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/query"
	"github.com/datatalk/datatalk/internal/storage"
)

// Loader stages a session's dataset in the object store and materializes it
// into a private in-process DuckDB database.
type Loader struct {
	Store storage.ObjectStore
	Now   func() time.Time
}

func NewLoader(store storage.ObjectStore) *Loader {
	return &Loader{Store: store, Now: time.Now}
}

// Engine answers run_query for exactly one session. The relation is loaded
// once at ingestion and never written afterwards.
type Engine struct {
	mu        sync.Mutex
	db        *sql.DB
	workDir   string
	store     storage.ObjectStore
	objectKey string
}

var _ query.Engine = (*Engine)(nil)

// NewWithDB wraps an already prepared database that exposes a data table.
func NewWithDB(db *sql.DB) *Engine {
	return &Engine{db: db}
}

func (l *Loader) Load(ctx context.Context, sessionID string, ds dataset.Dataset) (query.Engine, error) {
	if l.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}

	encoded, err := EncodeDatasetToParquet(ds)
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	objectKey, err := storage.BuildDatasetPath(sessionID, now())
	if err != nil {
		return nil, err
	}
	if _, err := l.Store.Put(ctx, objectKey, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: storage.ContentTypeParquet,
		Metadata: map[string]string{
			"session-id": sessionID,
			"rows":       strconv.FormatInt(encoded.RecordCount, 10),
			"columns":    strconv.Itoa(len(ds.Schema.Columns)),
		},
	}); err != nil {
		return nil, fmt.Errorf("put staged dataset %q: %w", objectKey, err)
	}

	engine := &Engine{store: l.Store, objectKey: objectKey}
	if err := engine.materialize(ctx, ds.Schema); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return engine, nil
}

func (e *Engine) materialize(ctx context.Context, schema dataset.Schema) error {
	workDir, err := os.MkdirTemp("", "datatalk-session-")
	if err != nil {
		return fmt.Errorf("create session temp dir: %w", err)
	}
	e.workDir = workDir

	reader, err := e.store.Get(ctx, e.objectKey)
	if err != nil {
		return fmt.Errorf("get object %q: %w", e.objectKey, err)
	}
	localPath := filepath.Join(workDir, "data.parquet")
	copyErr := copyToFile(localPath, reader)
	if err := errors.Join(copyErr, reader.Close()); err != nil {
		return fmt.Errorf("copy staged dataset %q to %q: %w", e.objectKey, localPath, err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	e.db = db

	columns := make([]string, 0, len(schema.Columns))
	for _, column := range schema.Columns {
		columns = append(columns, dataset.QuoteIdent(column.Name))
	}
	createSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT %s FROM read_parquet(%s)`,
		dataset.QuoteIdent(dataset.TableName), strings.Join(columns, ", "), quoteString(localPath))
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %q: %w", dataset.TableName, err)
	}
	// The staged file is loaded; from here on queries only see the table.
	for _, setting := range []string{
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	} {
		if _, err := db.ExecContext(ctx, setting); err != nil {
			return fmt.Errorf("apply %q: %w", setting, err)
		}
	}
	return nil
}

func copyToFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(file, reader)
	return errors.Join(copyErr, file.Close())
}

func (e *Engine) Query(ctx context.Context, sqlText string, rowLimit int) (query.Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if rowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, rowLimit)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return query.Result{}, fmt.Errorf("engine is closed")
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([]dataset.Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(dataset.Row, len(columns))
		for i, name := range columns {
			row[name] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// Close releases the database and removes the staged object and local copy.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close duckdb: %w", err))
		}
		e.db = nil
	}
	if e.workDir != "" {
		if err := os.RemoveAll(e.workDir); err != nil {
			errs = append(errs, fmt.Errorf("remove session temp dir: %w", err))
		}
		e.workDir = ""
	}
	if e.store != nil && e.objectKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.Delete(ctx, e.objectKey); err != nil {
			errs = append(errs, fmt.Errorf("delete staged dataset %q: %w", e.objectKey, err))
		}
		e.objectKey = ""
	}
	return errors.Join(errs...)
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case int:
		return float64(typed)
	case int8:
		return float64(typed)
	case int16:
		return float64(typed)
	case int32:
		return float64(typed)
	case int64:
		return float64(typed)
	case uint8:
		return float64(typed)
	case uint16:
		return float64(typed)
	case uint32:
		return float64(typed)
	case uint64:
		return float64(typed)
	case float32:
		return float64(typed)
	case *big.Int:
		if typed == nil {
			return nil
		}
		number, _ := new(big.Float).SetInt(typed).Float64()
		return number
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format(time.DateOnly)
		}
		return typed.Format(time.RFC3339)
	case interface{ Float64() float64 }:
		return typed.Float64()
	default:
		return typed
	}
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
