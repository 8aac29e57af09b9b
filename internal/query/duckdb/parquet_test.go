package duckdb

import (
	"bytes"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/datatalk/datatalk/internal/dataset"
)

func TestEncodeDatasetToParquet(t *testing.T) {
	ds, err := dataset.Infer([][]any{
		{"name", "score"},
		{"a", 1.5},
		{"b", nil},
		{nil, 3},
	}, dataset.Options{})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}

	encoded, err := EncodeDatasetToParquet(ds)
	if err != nil {
		t.Fatalf("EncodeDatasetToParquet() error = %v", err)
	}
	if encoded.RecordCount != 3 {
		t.Fatalf("RecordCount = %d", encoded.RecordCount)
	}

	file, err := parquet.OpenFile(bytes.NewReader(encoded.Data), int64(len(encoded.Data)))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if file.NumRows() != 3 {
		t.Fatalf("NumRows() = %d", file.NumRows())
	}
	fields := file.Schema().Fields()
	if len(fields) != 2 {
		t.Fatalf("fields = %d", len(fields))
	}
	for _, field := range fields {
		if !field.Optional() {
			t.Fatalf("field %q must be optional", field.Name())
		}
	}
}

func TestEncodeDatasetToParquetRequiresColumns(t *testing.T) {
	if _, err := EncodeDatasetToParquet(dataset.Dataset{}); err == nil {
		t.Fatal("expected empty schema error")
	}
}
