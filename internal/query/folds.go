package query

import (
	"fmt"
	"math"
	"sort"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/operation"
)

type ColumnStats struct {
	Name     string             `json:"name"`
	Type     dataset.ColumnType `json:"type"`
	NonNull  int                `json:"non_null"`
	Distinct int                `json:"distinct"`
	Min      *float64           `json:"min,omitempty"`
	Max      *float64           `json:"max,omitempty"`
	Mean     *float64           `json:"mean,omitempty"`
}

var describeColumns = []string{"variable", "type", "non_null", "distinct", "min", "max", "mean"}

// Describe summarizes every column of the dataset.
func Describe(ds dataset.Dataset) Result {
	stats := make([]ColumnStats, 0, len(ds.Schema.Columns))
	rows := make([]dataset.Row, 0, len(ds.Schema.Columns))
	for _, column := range ds.Schema.Columns {
		stat := ColumnStats{Name: column.Name, Type: column.Type}
		distinct := map[string]struct{}{}
		var sum float64
		for _, row := range ds.Rows {
			value := row[column.Name]
			if value == nil {
				continue
			}
			stat.NonNull++
			distinct[groupKey(value)] = struct{}{}
			number, ok := value.(float64)
			if column.Type != dataset.TypeNumber || !ok {
				continue
			}
			sum += number
			if stat.Min == nil || number < *stat.Min {
				stat.Min = floatPtr(number)
			}
			if stat.Max == nil || number > *stat.Max {
				stat.Max = floatPtr(number)
			}
		}
		stat.Distinct = len(distinct)
		if column.Type == dataset.TypeNumber && stat.NonNull > 0 {
			stat.Mean = floatPtr(sum / float64(stat.NonNull))
		}
		stats = append(stats, stat)
		rows = append(rows, dataset.Row{
			"variable": stat.Name,
			"type":     string(stat.Type),
			"non_null": float64(stat.NonNull),
			"distinct": float64(stat.Distinct),
			"min":      optionalFloat(stat.Min),
			"max":      optionalFloat(stat.Max),
			"mean":     optionalFloat(stat.Mean),
		})
	}
	return Result{Columns: append([]string(nil), describeColumns...), Rows: rows, Stats: stats}
}

// SortRows orders the dataset by a numeric column and keeps the first topK
// rows. Ties keep their dataset order and nulls sort last in either order.
func SortRows(ds dataset.Dataset, req operation.SortRequest, topK int) Result {
	rows := append([]dataset.Row(nil), ds.Rows...)
	descending := req.Order == operation.OrderDescending
	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := rows[i][req.Category].(float64)
		b, bok := rows[j][req.Category].(float64)
		switch {
		case !aok:
			return false
		case !bok:
			return true
		case descending:
			return a > b
		default:
			return a < b
		}
	})
	if topK > 0 && len(rows) > topK {
		rows = rows[:topK]
	}
	return Result{Columns: ds.Schema.Names(), Rows: rows}
}

// Summarize aggregates one variable, optionally per group. Groups appear in
// order of first occurrence. sum, mean and max skip nulls; count counts rows.
func Summarize(ds dataset.Dataset, req operation.SummarizeRequest) Result {
	type bucket struct {
		key     any
		count   int
		numbers int
		sum     float64
		max     *float64
	}
	var order []string
	buckets := map[string]*bucket{}

	for _, row := range ds.Rows {
		if req.Filter != nil && !valuesEqual(row[req.Filter.Category], req.Filter.Value) {
			continue
		}
		var key any
		if req.Group != "" {
			key = row[req.Group]
		}
		id := groupKey(key)
		b, ok := buckets[id]
		if !ok {
			b = &bucket{key: key}
			buckets[id] = b
			order = append(order, id)
		}
		b.count++
		if number, ok := row[req.Variable].(float64); ok {
			b.numbers++
			b.sum += number
			if b.max == nil || number > *b.max {
				b.max = floatPtr(number)
			}
		}
	}

	aggKey := req.AggregateKey()
	value := func(b *bucket) any {
		switch req.Aggregation {
		case operation.AggSum:
			return b.sum
		case operation.AggMean:
			if b.numbers == 0 {
				return nil
			}
			return b.sum / float64(b.numbers)
		case operation.AggMax:
			return optionalFloat(b.max)
		default:
			return float64(b.count)
		}
	}

	if req.Group == "" {
		b, ok := buckets[groupKey(nil)]
		if !ok {
			b = &bucket{}
		}
		return Result{
			Columns: []string{aggKey},
			Rows:    []dataset.Row{{aggKey: value(b)}},
			Scalar:  true,
		}
	}

	rows := make([]dataset.Row, 0, len(order))
	for _, id := range order {
		b := buckets[id]
		rows = append(rows, dataset.Row{req.Group: b.key, aggKey: value(b)})
	}
	return Result{Columns: []string{req.Group, aggKey}, Rows: rows}
}

// Relationship projects the dataset onto the requested columns, dropping
// rows where either axis is null.
func Relationship(ds dataset.Dataset, req operation.RelationshipRequest) Result {
	columns := []string{req.X}
	if req.Y != req.X {
		columns = append(columns, req.Y)
	}
	if req.Color != "" && req.Color != req.X && req.Color != req.Y {
		columns = append(columns, req.Color)
	}
	rows := make([]dataset.Row, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		if row[req.X] == nil || row[req.Y] == nil {
			continue
		}
		projected := make(dataset.Row, len(columns))
		for _, column := range columns {
			projected[column] = row[column]
		}
		rows = append(rows, projected)
	}
	return Result{Columns: columns, Rows: rows}
}

func valuesEqual(value, want any) bool {
	if value == nil || want == nil {
		return value == nil && want == nil
	}
	a, aok := dataset.ToFloat(value)
	b, bok := dataset.ToFloat(want)
	if aok && bok {
		return a == b
	}
	return fmt.Sprint(value) == fmt.Sprint(want)
}

func groupKey(value any) string {
	if value == nil {
		return "\x00null"
	}
	return fmt.Sprintf("%T:%v", value, value)
}

func floatPtr(value float64) *float64 {
	return &value
}

func optionalFloat(value *float64) any {
	if value == nil || math.IsNaN(*value) {
		return nil
	}
	return *value
}
