package duckdb

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/datatalk/datatalk/internal/dataset"
)

type ParquetEncodeResult struct {
	Data        []byte
	RecordCount int64
}

// EncodeDatasetToParquet writes the dataset as a single parquet file with one
// optional DOUBLE or STRING column per schema column.
func EncodeDatasetToParquet(ds dataset.Dataset) (ParquetEncodeResult, error) {
	if len(ds.Schema.Columns) == 0 {
		return ParquetEncodeResult{}, fmt.Errorf("schema has no columns")
	}

	group := parquet.Group{}
	for _, column := range ds.Schema.Columns {
		if column.Type == dataset.TypeNumber {
			group[column.Name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		} else {
			group[column.Name] = parquet.Optional(parquet.String())
		}
	}
	schema := parquet.NewSchema(dataset.TableName, group)

	// parquet orders leaf columns by name, so rows are assembled in that order.
	leaves := schema.Columns()
	order := make([]dataset.Column, len(leaves))
	for i, path := range leaves {
		column, ok := ds.Schema.Lookup(path[0])
		if !ok {
			return ParquetEncodeResult{}, fmt.Errorf("parquet column %q has no schema column", path[0])
		}
		order[i] = column
	}

	rows := make([]parquet.Row, 0, len(ds.Rows))
	for _, source := range ds.Rows {
		row := make(parquet.Row, len(order))
		for i, column := range order {
			row[i] = parquetValue(source[column.Name], column.Type).Level(0, definitionLevel(source[column.Name]), i)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return ParquetEncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
	}, nil
}

func parquetValue(value any, typ dataset.ColumnType) parquet.Value {
	if value == nil {
		return parquet.NullValue()
	}
	if typ == dataset.TypeNumber {
		number, ok := value.(float64)
		if !ok {
			return parquet.NullValue()
		}
		return parquet.DoubleValue(number)
	}
	return parquet.ByteArrayValue([]byte(fmt.Sprint(value)))
}

func definitionLevel(value any) int {
	if value == nil {
		return 0
	}
	return 1
}
