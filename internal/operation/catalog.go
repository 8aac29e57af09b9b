package operation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/datatalk/datatalk/internal/dataset"
)

type Definition struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

// Catalog is the set of operations the model may call for one schema.
type Catalog struct {
	Definitions []Definition
	schema      dataset.Schema
	columns     map[string]struct{}
}

// Call is an operation request as emitted by the model: a name plus raw
// JSON arguments.
type Call struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ValidationError struct {
	Operation string
	Field     string
	Value     string
	Reason    string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(" ")
	}
	b.WriteString("call")
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
		if e.Value != "" {
			fmt.Fprintf(&b, " %q", e.Value)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

type columnsKey struct{}

var operationValidate *validator.Validate

func init() {
	operationValidate = validator.New()
	operationValidate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	_ = operationValidate.RegisterValidationCtx("column", validateColumn)
}

func validateColumn(ctx context.Context, fl validator.FieldLevel) bool {
	columns, ok := ctx.Value(columnsKey{}).(map[string]struct{})
	if !ok {
		return false
	}
	_, ok = columns[fl.Field().String()]
	return ok
}

// Build derives the operation catalog from a schema. Every column-valued
// parameter is constrained to the schema's column names.
func Build(schema dataset.Schema) Catalog {
	names := schema.Names()
	columns := make(map[string]struct{}, len(names))
	for _, name := range names {
		columns[name] = struct{}{}
	}
	column := func(description string) jsonschema.Definition {
		return jsonschema.Definition{
			Type:        jsonschema.String,
			Description: description,
			Enum:        append([]string(nil), names...),
		}
	}
	chartColumns := func(description string) jsonschema.Definition {
		return jsonschema.Definition{Type: jsonschema.String, Description: description}
	}

	return Catalog{
		schema:  schema,
		columns: columns,
		Definitions: []Definition{
			{
				Name:        Describe,
				Description: "Describe the dataset: its variables, their types and distributions.",
				Parameters:  jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{}},
			},
			{
				Name:        Sort,
				Description: "Sort the dataset by a numeric variable and return the top rows.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"category": column("numeric variable to sort by"),
						"order": {
							Type: jsonschema.String,
							Enum: []string{OrderAscending, OrderDescending},
						},
					},
					Required: []string{"category", "order"},
				},
			},
			{
				Name:        Summarize,
				Description: "Aggregate a variable with sum, mean, max or count, optionally per group and filtered by one value.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"variable": column("variable to aggregate"),
						"operation": {
							Type: jsonschema.String,
							Enum: []string{AggSum, AggMean, AggMax, AggCount},
						},
						"group": column("optional variable to group by"),
						"filter": {
							Type:        jsonschema.Object,
							Description: "optional equality filter applied before aggregating",
							Properties: map[string]jsonschema.Definition{
								"category": column("variable to filter on"),
								"value":    {Description: "value the variable must equal"},
							},
							Required: []string{"category", "value"},
						},
						"chartType": {
							Type:        jsonschema.String,
							Description: "chart for grouped results; line and area suit time-like groups",
							Enum:        []string{SummaryChartBar, SummaryChartLine, SummaryChartArea},
						},
					},
					Required: []string{"variable", "operation"},
				},
			},
			{
				Name:        RunQuery,
				Description: "Run a read-only SQL SELECT over the table named data and chart the result.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"query": {
							Type:        jsonschema.String,
							Description: "a single SELECT statement over the table data, using only columns " + strings.Join(names, ", "),
						},
						"chartSpec": {
							Type: jsonschema.Object,
							Properties: map[string]jsonschema.Definition{
								"type":       {Type: jsonschema.String, Enum: append([]string(nil), ChartTypes...)},
								"x":          chartColumns("result column for the x axis"),
								"y":          chartColumns("result column for the y axis"),
								"color":      chartColumns("optional result column for color"),
								"size":       chartColumns("optional result column for mark size"),
								"timeFormat": {Type: jsonschema.String, Description: "optional time format of the x axis, such as %Y"},
								"title":      {Type: jsonschema.String},
							},
							Required: []string{"type", "title"},
						},
					},
					Required: []string{"query", "chartSpec"},
				},
			},
			{
				Name:        Relationship,
				Description: "Show how two variables relate, optionally colored by a third.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"x":     column("variable on the x axis"),
						"y":     column("variable on the y axis"),
						"color": column("optional variable for color"),
					},
					Required: []string{"x", "y"},
				},
			},
		},
	}
}

func (c Catalog) Schema() dataset.Schema {
	return c.schema
}

func (c Catalog) Lookup(name string) (Definition, bool) {
	for _, def := range c.Definitions {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Validate turns a raw call into a typed request. Any argument outside the
// catalog yields a ValidationError and nothing is returned to execute.
func (c Catalog) Validate(ctx context.Context, call Call) (Request, error) {
	if _, ok := c.Lookup(call.Name); !ok {
		return nil, &ValidationError{Operation: call.Name, Reason: "unknown operation"}
	}

	var req Request
	switch call.Name {
	case Describe:
		var r DescribeRequest
		if err := decodeArguments(call, &r); err != nil {
			return nil, err
		}
		return r, nil
	case Sort:
		var r SortRequest
		if err := c.decodeAndCheck(ctx, call, &r); err != nil {
			return nil, err
		}
		if !c.schema.IsNumeric(r.Category) {
			return nil, &ValidationError{Operation: call.Name, Field: "category", Value: r.Category, Reason: "is not numeric"}
		}
		req = r
	case Summarize:
		var r SummarizeRequest
		if err := c.decodeAndCheck(ctx, call, &r); err != nil {
			return nil, err
		}
		if r.Aggregation != AggCount && !c.schema.IsNumeric(r.Variable) {
			return nil, &ValidationError{Operation: call.Name, Field: "variable", Value: r.Variable, Reason: "is not numeric"}
		}
		req = r
	case RunQuery:
		var r QueryRequest
		if err := c.decodeAndCheck(ctx, call, &r); err != nil {
			return nil, err
		}
		if strings.TrimSpace(r.Query) == "" {
			return nil, &ValidationError{Operation: call.Name, Field: "query", Reason: "is required"}
		}
		req = r
	case Relationship:
		var r RelationshipRequest
		if err := c.decodeAndCheck(ctx, call, &r); err != nil {
			return nil, err
		}
		req = r
	}
	return req, nil
}

func (c Catalog) decodeAndCheck(ctx context.Context, call Call, dst any) error {
	if err := decodeArguments(call, dst); err != nil {
		return err
	}
	ctx = context.WithValue(ctx, columnsKey{}, c.columns)
	if err := operationValidate.StructCtx(ctx, dst); err != nil {
		return toValidationError(call.Name, err)
	}
	return nil
}

func decodeArguments(call Call, dst any) error {
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	decoder := json.NewDecoder(bytes.NewBufferString(raw))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		return &ValidationError{Operation: call.Name, Field: "arguments", Reason: err.Error()}
	}
	return nil
}

func toValidationError(operation string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Operation: operation, Reason: err.Error()}
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	value := ""
	if fe.Value() != nil {
		value = fmt.Sprint(fe.Value())
	}
	reason := fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "column":
		reason = "is not a column of the dataset"
	case "oneof":
		reason = "must be one of " + fe.Param()
	}
	return &ValidationError{Operation: operation, Field: field, Value: value, Reason: reason}
}
