package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/datatalk/datatalk/internal/session"
)

const promptRules = `You are a data visualization assistant. Your job is to help the user understand a dataset that they have.
You can summarize data for the user, give them insights about the type of data they have, or generate simple charts for them.

If the user asks a general question about the data that does not need a computation, just respond with text.
Otherwise call exactly one of the provided operations. Prefer describe_dataset, sort_data, summarize_data and
describe_relationship when they answer the question; use run_query for anything they cannot express.

run_query takes one read-only DuckDB SELECT over the table named data. Never select every column, only the few
that are relevant. DO NOT write statements that change data (INSERT, UPDATE, DELETE, DROP and so on).

Choose charts from the number and data type of variables in the result. The data types are in the schema.
If there are less than %d rows in the result, put 'table' for the chart type unless the user asks for a chart.
Limit tables to at most %d rows with a LIMIT clause.
For one numeric and one text variable use a bar chart. For barY the text variable goes on the x axis; for barX it goes on the y axis.
Line or area charts show how a variable changed over time, with time on the x axis. Set timeFormat for line charts,
for example %%Y-%%m-%%d for dates like 1970-01-01.
For two or more numeric variables use a scatter, line or area chart. Scatter plots can show categories by size and color.
Density can be used for a scatter plot with a lot of points.
For two categorical variables and one numeric, use a heatmap.

If the user wants something impossible, say that you cannot do that yet.`

// SystemPrompt renders the instructions sent with every turn from the
// current context state.
func SystemPrompt(state session.ContextState, displayThreshold, tableRowLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, promptRules, displayThreshold, tableRowLimit)

	b.WriteString("\n\nSchema:\n")
	b.WriteString(state.Schema.DDL)
	b.WriteString("\n\nColumns: ")
	b.WriteString(strings.Join(state.Columns, ", "))

	var dateLike []string
	for _, column := range state.Schema.Columns {
		if column.DateLike {
			dateLike = append(dateLike, column.Name)
		}
	}
	if len(dateLike) > 0 {
		b.WriteString("\nTime-like columns: ")
		b.WriteString(strings.Join(dateLike, ", "))
	}

	if sample, err := json.Marshal(state.Sample); err == nil {
		b.WriteString("\n\nHere is a sample of the dataset:\n")
		b.Write(sample)
	}
	return b.String()
}
