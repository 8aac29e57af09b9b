package viz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/operation"
	"github.com/datatalk/datatalk/internal/query"
)

func testSchema(t *testing.T) dataset.Schema {
	t.Helper()
	ds, err := dataset.Infer([][]any{
		{"country", "continent", "year", "gdp"},
		{"Norway", "Europe", 2020, 362.2},
	}, dataset.Options{})
	require.NoError(t, err)
	return ds.Schema
}

func rowsOf(n int, build func(i int) dataset.Row) []dataset.Row {
	rows := make([]dataset.Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, build(i))
	}
	return rows
}

func TestSelectScalarSummaryIsAnswerCard(t *testing.T) {
	req := operation.SummarizeRequest{Variable: "gdp", Aggregation: operation.AggMean}
	spec := NewSelector(0, 0).Select(Input{
		Request:        req,
		Result:         query.Result{Columns: []string{"mean_gdp"}, Rows: []dataset.Row{{"mean_gdp": 12.5}}, Scalar: true},
		Schema:         testSchema(t),
		ChartRequested: true,
	})
	assert.Equal(t, KindAnswer, spec.Kind)
	assert.Equal(t, 12.5, spec.Value)
	assert.Equal(t, "mean of gdp: 12.5", spec.Text)
}

func TestSelectDescribeIsDescription(t *testing.T) {
	spec := NewSelector(0, 0).Select(Input{
		Request: operation.DescribeRequest{},
		Result:  query.Result{Columns: []string{"variable"}, Rows: []dataset.Row{{"variable": "gdp"}}},
	})
	assert.Equal(t, KindDescription, spec.Kind)
	assert.Len(t, spec.Data, 1)
}

func TestSelectSmallResultPrefersTableUnlessChartRequested(t *testing.T) {
	selector := NewSelector(15, 20)
	req := operation.SummarizeRequest{Variable: "gdp", Aggregation: operation.AggSum, Group: "continent"}
	result := query.Result{
		Columns: []string{"continent", "sum_gdp"},
		Rows: []dataset.Row{
			{"continent": "Europe", "sum_gdp": 10.0},
			{"continent": "Asia", "sum_gdp": 20.0},
			{"continent": "Africa", "sum_gdp": 5.0},
		},
	}

	spec := selector.Select(Input{Request: req, Result: result, Schema: testSchema(t)})
	assert.Equal(t, KindTable, spec.Kind)

	spec = selector.Select(Input{Request: req, Result: result, Schema: testSchema(t), ChartRequested: true})
	assert.Equal(t, KindBarY, spec.Kind)
	assert.Equal(t, "continent", spec.X)
	assert.Equal(t, "sum_gdp", spec.Y)
}

func TestSelectGroupedLineCarriesInterval(t *testing.T) {
	req := operation.SummarizeRequest{Variable: "gdp", Aggregation: operation.AggMean, Group: "year", ChartType: operation.SummaryChartLine}
	rows := rowsOf(20, func(i int) dataset.Row {
		return dataset.Row{"year": float64(2000 + i), "mean_gdp": float64(i)}
	})
	spec := NewSelector(15, 20).Select(Input{Request: req, Result: query.Result{Columns: []string{"year", "mean_gdp"}, Rows: rows}})
	assert.Equal(t, KindLine, spec.Kind)
	assert.Equal(t, "year", spec.X)
	assert.Equal(t, "year", spec.Interval)
	assert.Len(t, spec.Data, 20)
}

func TestSelectEmptyResultIsCaptionedTable(t *testing.T) {
	spec := NewSelector(15, 20).Select(Input{
		Request:        operation.QueryRequest{Query: "SELECT * FROM data WHERE 1=0"},
		Result:         query.Result{Columns: []string{"country"}},
		ChartRequested: true,
	})
	assert.Equal(t, KindTable, spec.Kind)
	assert.Equal(t, "no rows matched", spec.Caption)
	assert.NotNil(t, spec.Data)
}

func TestSelectTableIsCappedAtRowLimit(t *testing.T) {
	rows := rowsOf(40, func(i int) dataset.Row { return dataset.Row{"country": fmt.Sprint(i)} })
	spec := NewSelector(15, 20).Select(Input{
		Request: operation.QueryRequest{Query: "SELECT country FROM data"},
		Result:  query.Result{Columns: []string{"country"}, Rows: rows},
	})
	assert.Equal(t, KindTable, spec.Kind)
	assert.Len(t, spec.Data, 20)
	assert.Equal(t, "showing 20 of 40 rows", spec.Caption)
}

func TestSelectSortUsesKeyColumn(t *testing.T) {
	rows := rowsOf(20, func(i int) dataset.Row {
		return dataset.Row{"country": fmt.Sprint("c", i), "gdp": float64(100 - i)}
	})
	spec := NewSelector(15, 20).Select(Input{
		Request: operation.SortRequest{Category: "gdp", Order: operation.OrderDescending},
		Result:  query.Result{Columns: []string{"country", "gdp"}, Rows: rows},
		Schema:  testSchema(t),
	})
	assert.Equal(t, KindBarY, spec.Kind)
	assert.Equal(t, "country", spec.X)
	assert.Equal(t, "gdp", spec.Y)
}

func TestSelectDeclaredChartHonouredWhenAxesExist(t *testing.T) {
	rows := rowsOf(30, func(i int) dataset.Row {
		return dataset.Row{"year": float64(1990 + i), "gdp": float64(i), "continent": "Europe"}
	})
	result := query.Result{Columns: []string{"year", "gdp", "continent"}, Rows: rows}
	req := operation.QueryRequest{
		Query:     "SELECT year, gdp, continent FROM data",
		ChartSpec: &operation.ChartSpec{Type: operation.ChartArea, X: "year", Y: "gdp", Color: "continent", TimeFormat: "%Y", Title: "GDP"},
	}
	spec := NewSelector(15, 20).Select(Input{Request: req, Result: result})
	assert.Equal(t, KindArea, spec.Kind)
	assert.Equal(t, "continent", spec.Color)
	assert.Equal(t, "year", spec.Interval)
	assert.Equal(t, "%Y", spec.TimeFormat)

	req.ChartSpec = &operation.ChartSpec{Type: operation.ChartLine, X: "missing", Y: "gdp"}
	spec = NewSelector(15, 20).Select(Input{Request: req, Result: result})
	assert.Equal(t, KindScatter, spec.Kind)
	assert.Equal(t, "year", spec.X)
	assert.Equal(t, "gdp", spec.Y)
	assert.Equal(t, "continent", spec.Color)
}

func TestSelectDefaultsByColumnTypes(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		row     func(i int) dataset.Row
		want    Kind
	}{
		{
			name:    "two numeric",
			columns: []string{"gdp", "population"},
			row:     func(i int) dataset.Row { return dataset.Row{"gdp": float64(i), "population": float64(i * 2)} },
			want:    KindScatter,
		},
		{
			name:    "two categorical one numeric",
			columns: []string{"continent", "country", "gdp"},
			row: func(i int) dataset.Row {
				return dataset.Row{"continent": "Europe", "country": fmt.Sprint("c", i), "gdp": float64(i)}
			},
			want: KindHeatmap,
		},
		{
			name:    "one categorical one numeric",
			columns: []string{"country", "gdp"},
			row:     func(i int) dataset.Row { return dataset.Row{"country": fmt.Sprint("c", i), "gdp": float64(i)} },
			want:    KindBarY,
		},
		{
			name:    "only text",
			columns: []string{"country", "continent"},
			row:     func(i int) dataset.Row { return dataset.Row{"country": fmt.Sprint("c", i), "continent": "Asia"} },
			want:    KindTable,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := NewSelector(15, 20).Select(Input{
				Request: operation.QueryRequest{Query: "SELECT 1"},
				Result:  query.Result{Columns: tc.columns, Rows: rowsOf(16, tc.row)},
			})
			assert.Equal(t, tc.want, spec.Kind)
		})
	}
}

func TestSelectDeclaredTableStillWins(t *testing.T) {
	rows := rowsOf(16, func(i int) dataset.Row { return dataset.Row{"gdp": float64(i), "population": float64(i * 2)} })
	spec := NewSelector(15, 20).Select(Input{
		Request: operation.QueryRequest{Query: "SELECT gdp, population FROM data", ChartSpec: &operation.ChartSpec{Type: operation.ChartTable, Title: "raw"}},
		Result:  query.Result{Columns: []string{"gdp", "population"}, Rows: rows},
	})
	assert.Equal(t, KindTable, spec.Kind)
	assert.Equal(t, "raw", spec.Title)
}

func TestSelectRelationshipKeepsRequestedRoles(t *testing.T) {
	rows := rowsOf(20, func(i int) dataset.Row {
		return dataset.Row{"gdp": float64(i), "population": float64(i * 3), "year": float64(2000 + i)}
	})
	spec := NewSelector(15, 20).Select(Input{
		Request: operation.RelationshipRequest{X: "population", Y: "gdp", Color: "year"},
		Result:  query.Result{Columns: []string{"population", "gdp", "year"}, Rows: rows},
	})
	assert.Equal(t, KindScatter, spec.Kind)
	assert.Equal(t, "population", spec.X)
	assert.Equal(t, "gdp", spec.Y)
	assert.Equal(t, "year", spec.Color)
	assert.Empty(t, spec.Size)

	rows = rowsOf(20, func(i int) dataset.Row {
		return dataset.Row{"country": fmt.Sprint("c", i), "gdp": float64(i)}
	})
	spec = NewSelector(15, 20).Select(Input{
		Request: operation.RelationshipRequest{X: "gdp", Y: "country"},
		Result:  query.Result{Columns: []string{"gdp", "country"}, Rows: rows},
	})
	assert.Equal(t, KindBarX, spec.Kind)
	assert.Equal(t, "gdp", spec.X)
	assert.Equal(t, "country", spec.Y)
}

func TestSelectIsTotal(t *testing.T) {
	requests := []operation.Request{
		nil,
		operation.DescribeRequest{},
		operation.SortRequest{Category: "gdp", Order: operation.OrderAscending},
		operation.SummarizeRequest{Variable: "gdp", Aggregation: operation.AggCount},
		operation.SummarizeRequest{Variable: "gdp", Aggregation: operation.AggCount, Group: "year", ChartType: operation.SummaryChartArea},
		operation.RelationshipRequest{X: "year", Y: "gdp"},
		operation.QueryRequest{Query: "SELECT 1"},
	}
	rowCounts := []int{0, 1, 16, 50}
	for _, req := range requests {
		for _, n := range rowCounts {
			for _, requested := range []bool{false, true} {
				rows := rowsOf(n, func(i int) dataset.Row { return dataset.Row{"year": float64(i), "gdp": float64(i)} })
				spec := NewSelector(15, 20).Select(Input{
					Request:        req,
					Result:         query.Result{Columns: []string{"year", "gdp"}, Rows: rows},
					Schema:         testSchema(t),
					ChartRequested: requested,
				})
				assert.NotEmpty(t, spec.Kind, "request %T rows %d", req, n)
				assert.NotNil(t, spec.Data, "request %T rows %d", req, n)
			}
		}
	}
}

func TestTextSpec(t *testing.T) {
	spec := Text("hello")
	assert.Equal(t, KindText, spec.Kind)
	assert.Equal(t, "hello", spec.Text)
	assert.NotNil(t, spec.Data)
}
