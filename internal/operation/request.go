package operation

import (
	"fmt"
	"strings"
)

const (
	Describe     = "describe_dataset"
	Sort         = "sort_data"
	Summarize    = "summarize_data"
	RunQuery     = "run_query"
	Relationship = "describe_relationship"
)

const (
	OrderAscending  = "ascending"
	OrderDescending = "descending"

	AggSum   = "sum"
	AggMean  = "mean"
	AggMax   = "max"
	AggCount = "count"

	SummaryChartBar  = "bar"
	SummaryChartLine = "line"
	SummaryChartArea = "area"
)

// Chart types a model may declare for run_query.
const (
	ChartTable   = "table"
	ChartBarX    = "barX"
	ChartBarY    = "barY"
	ChartScatter = "scatter"
	ChartLine    = "line"
	ChartArea    = "area"
	ChartHeatmap = "heatmap"
	ChartDensity = "density"
)

var ChartTypes = []string{ChartTable, ChartBarX, ChartBarY, ChartScatter, ChartLine, ChartArea, ChartHeatmap, ChartDensity}

// Request is a validated operation call. Only the Summary of a request is
// ever written to conversation history; result rows never are.
type Request interface {
	Operation() string
	Summary() string
}

type DescribeRequest struct{}

func (DescribeRequest) Operation() string { return Describe }
func (DescribeRequest) Summary() string   { return Describe }

type SortRequest struct {
	Category string `json:"category" validate:"required,column"`
	Order    string `json:"order" validate:"required,oneof=ascending descending"`
}

func (SortRequest) Operation() string { return Sort }

func (r SortRequest) Summary() string {
	return fmt.Sprintf("%s(category=%s, order=%s)", Sort, r.Category, r.Order)
}

type Filter struct {
	Category string `json:"category" validate:"required,column"`
	Value    any    `json:"value" validate:"required"`
}

type SummarizeRequest struct {
	Variable    string  `json:"variable" validate:"required,column"`
	Aggregation string  `json:"operation" validate:"required,oneof=sum mean max count"`
	Group       string  `json:"group,omitempty" validate:"omitempty,column"`
	Filter      *Filter `json:"filter,omitempty"`
	ChartType   string  `json:"chartType,omitempty" validate:"omitempty,oneof=bar line area"`
}

func (SummarizeRequest) Operation() string { return Summarize }

func (r SummarizeRequest) Summary() string {
	parts := []string{"variable=" + r.Variable, "operation=" + r.Aggregation}
	if r.Group != "" {
		parts = append(parts, "group="+r.Group)
	}
	if r.Filter != nil {
		parts = append(parts, fmt.Sprintf("filter=%s:%v", r.Filter.Category, r.Filter.Value))
	}
	if r.ChartType != "" {
		parts = append(parts, "chartType="+r.ChartType)
	}
	return fmt.Sprintf("%s(%s)", Summarize, strings.Join(parts, ", "))
}

// AggregateKey names the output column of a summarize request.
func (r SummarizeRequest) AggregateKey() string {
	return r.Aggregation + "_" + r.Variable
}

type ChartSpec struct {
	Type       string `json:"type" validate:"required,oneof=table barX barY scatter line area heatmap density"`
	X          string `json:"x,omitempty"`
	Y          string `json:"y,omitempty"`
	Color      string `json:"color,omitempty"`
	Size       string `json:"size,omitempty"`
	TimeFormat string `json:"timeFormat,omitempty"`
	Title      string `json:"title,omitempty"`
}

type QueryRequest struct {
	Query     string     `json:"query" validate:"required"`
	ChartSpec *ChartSpec `json:"chartSpec,omitempty"`
}

func (QueryRequest) Operation() string { return RunQuery }
func (r QueryRequest) Summary() string { return r.Query }

// Chart returns the declared chart intent. The zero ChartSpec means none
// was declared and the chart is picked from the result's column types.
func (r QueryRequest) Chart() ChartSpec {
	if r.ChartSpec == nil {
		return ChartSpec{}
	}
	return *r.ChartSpec
}

type RelationshipRequest struct {
	X     string `json:"x" validate:"required,column"`
	Y     string `json:"y" validate:"required,column"`
	Color string `json:"color,omitempty" validate:"omitempty,column"`
}

func (RelationshipRequest) Operation() string { return Relationship }

func (r RelationshipRequest) Summary() string {
	if r.Color != "" {
		return fmt.Sprintf("%s(x=%s, y=%s, color=%s)", Relationship, r.X, r.Y, r.Color)
	}
	return fmt.Sprintf("%s(x=%s, y=%s)", Relationship, r.X, r.Y)
}
