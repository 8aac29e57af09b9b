package query

import (
	"reflect"
	"testing"

	"github.com/datatalk/datatalk/internal/dataset"
	"github.com/datatalk/datatalk/internal/operation"
)

func gdpDataset(t *testing.T) dataset.Dataset {
	t.Helper()
	ds, err := dataset.Infer([][]any{
		{"country", "continent", "year", "gdp"},
		{"Norway", "Europe", 2020, 362.2},
		{"Chile", "America", 2020, 252.9},
		{"Sweden", "Europe", 2021, 635.7},
		{"Peru", "America", 2021, nil},
		{"Kenya", "Africa", 2021, 110.3},
	}, dataset.Options{})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	return ds
}

func TestSummarizeGroupedSumKeepsFirstAppearanceOrder(t *testing.T) {
	ds := gdpDataset(t)
	result := Summarize(ds, operation.SummarizeRequest{Variable: "gdp", Aggregation: operation.AggSum, Group: "continent"})

	if !reflect.DeepEqual(result.Columns, []string{"continent", "sum_gdp"}) {
		t.Fatalf("Columns = %v", result.Columns)
	}
	want := []dataset.Row{
		{"continent": "Europe", "sum_gdp": runtimeSum(362.2, 635.7)},
		{"continent": "America", "sum_gdp": 252.9},
		{"continent": "Africa", "sum_gdp": 110.3},
	}
	if !reflect.DeepEqual(result.Rows, want) {
		t.Fatalf("Rows = %#v", result.Rows)
	}
	if result.Scalar {
		t.Fatal("grouped summary must not be scalar")
	}
}

func TestSummarizeScalarOperations(t *testing.T) {
	ds := gdpDataset(t)
	tests := []struct {
		op   string
		want any
	}{
		{op: operation.AggSum, want: runtimeSum(362.2, 252.9, 635.7, 110.3)},
		{op: operation.AggMean, want: runtimeSum(362.2, 252.9, 635.7, 110.3) / 4},
		{op: operation.AggMax, want: 635.7},
		{op: operation.AggCount, want: 5.0},
	}
	for _, tc := range tests {
		req := operation.SummarizeRequest{Variable: "gdp", Aggregation: tc.op}
		result := Summarize(ds, req)
		if !result.Scalar || len(result.Rows) != 1 {
			t.Fatalf("%s: result = %+v", tc.op, result)
		}
		if got := result.Rows[0][req.AggregateKey()]; got != tc.want {
			t.Fatalf("%s = %#v, want %#v", tc.op, got, tc.want)
		}
	}
}

func TestSummarizeIsIdempotent(t *testing.T) {
	ds := gdpDataset(t)
	req := operation.SummarizeRequest{Variable: "gdp", Aggregation: operation.AggMean, Group: "year"}
	first := Summarize(ds, req)
	second := Summarize(ds, req)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Summarize() not idempotent: %+v vs %+v", first, second)
	}
}

func TestSummarizeWithFilter(t *testing.T) {
	ds := gdpDataset(t)
	result := Summarize(ds, operation.SummarizeRequest{
		Variable:    "gdp",
		Aggregation: operation.AggCount,
		Filter:      &operation.Filter{Category: "year", Value: "2021"},
	})
	if got := result.Rows[0]["count_gdp"]; got != 3.0 {
		t.Fatalf("count_gdp = %#v", got)
	}

	result = Summarize(ds, operation.SummarizeRequest{
		Variable:    "gdp",
		Aggregation: operation.AggMax,
		Filter:      &operation.Filter{Category: "continent", Value: "Antarctica"},
	})
	if got := result.Rows[0]["max_gdp"]; got != nil {
		t.Fatalf("max_gdp over empty filter = %#v, want nil", got)
	}
}

func TestSortRowsReverseOrdersAreMirrored(t *testing.T) {
	ds := gdpDataset(t)
	asc := SortRows(ds, operation.SortRequest{Category: "gdp", Order: operation.OrderAscending}, 20)
	desc := SortRows(ds, operation.SortRequest{Category: "gdp", Order: operation.OrderDescending}, 20)

	ascValues := nonNullValues(asc.Rows, "gdp")
	descValues := nonNullValues(desc.Rows, "gdp")
	if len(ascValues) != 4 || len(descValues) != 4 {
		t.Fatalf("values = %v / %v", ascValues, descValues)
	}
	for i := range ascValues {
		if ascValues[i] != descValues[len(descValues)-1-i] {
			t.Fatalf("asc %v is not the reverse of desc %v", ascValues, descValues)
		}
	}
	if asc.Rows[len(asc.Rows)-1]["gdp"] != nil || desc.Rows[len(desc.Rows)-1]["gdp"] != nil {
		t.Fatal("nulls must sort last in both orders")
	}
	if len(ds.Rows) != 5 || ds.Rows[0]["country"] != "Norway" {
		t.Fatal("SortRows must not reorder the dataset")
	}
}

func TestSortRowsCapsAtTopK(t *testing.T) {
	result := SortRows(gdpDataset(t), operation.SortRequest{Category: "gdp", Order: operation.OrderDescending}, 2)
	if len(result.Rows) != 2 {
		t.Fatalf("len(Rows) = %d", len(result.Rows))
	}
	if result.Rows[0]["country"] != "Sweden" || result.Rows[1]["country"] != "Norway" {
		t.Fatalf("Rows = %v", result.Rows)
	}
}

func TestDescribeReportsPerColumnStats(t *testing.T) {
	result := Describe(gdpDataset(t))
	if len(result.Stats) != 4 || len(result.Rows) != 4 {
		t.Fatalf("result = %+v", result)
	}
	gdp := result.Stats[3]
	if gdp.Name != "gdp" || gdp.NonNull != 4 || *gdp.Min != 110.3 || *gdp.Max != 635.7 {
		t.Fatalf("gdp stats = %+v", gdp)
	}
	continent := result.Stats[1]
	if continent.Distinct != 3 || continent.Min != nil {
		t.Fatalf("continent stats = %+v", continent)
	}
}

func TestRelationshipDropsNullAxes(t *testing.T) {
	result := Relationship(gdpDataset(t), operation.RelationshipRequest{X: "year", Y: "gdp", Color: "continent"})
	if !reflect.DeepEqual(result.Columns, []string{"year", "gdp", "continent"}) {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 4 {
		t.Fatalf("len(Rows) = %d", len(result.Rows))
	}
	if _, ok := result.Rows[0]["country"]; ok {
		t.Fatal("projection must only carry requested columns")
	}
}

func nonNullValues(rows []dataset.Row, column string) []float64 {
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		if number, ok := row[column].(float64); ok {
			values = append(values, number)
		}
	}
	return values
}

// runtimeSum adds in float64 the way the folds do, avoiding exact constant
// arithmetic.
func runtimeSum(values ...float64) float64 {
	var total float64
	for _, value := range values {
		total += value
	}
	return total
}
