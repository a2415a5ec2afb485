package core

// Output kinds chosen for a response.
const (
	OutputTable      = "table"
	OutputBar        = "bar"
	OutputPie        = "pie"
	OutputLine       = "line"
	OutputStackedBar = "stackedbar"
	OutputScatter    = "scatter"
)

// IsChart reports whether kind renders as a chart rather than a table.
func IsChart(kind string) bool {
	switch kind {
	case OutputBar, OutputPie, OutputLine, OutputStackedBar, OutputScatter:
		return true
	}
	return false
}
