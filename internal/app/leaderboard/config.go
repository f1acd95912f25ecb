// Package leaderboard records benchmark results on the model worksheet and
// reads them back for display.
package leaderboard

// Default worksheet layout.
const (
	DefaultWorksheet        = "model"
	DefaultModelColumn      = "Model name"
	DefaultLinkColumn       = "Model link"
	DefaultDisplayColumn    = "Model"
	DefaultMetricsWorksheet = "metric"
	DefaultMetricsColumn    = "metrics"
	DefaultModelLinkPrefix  = "https://huggingface.co/PIA-SPACE-LAB/"
)

// Config describes where models, scores and detailed metrics live.
type Config struct {
	Worksheet     string
	ModelColumn   string
	LinkColumn    string
	DisplayColumn string

	// ModelLinkPrefix is joined with the model id to form the model page URL.
	ModelLinkPrefix string

	// MetricsWorksheet holds one JSON document per model. Empty disables
	// RecordMetrics.
	MetricsWorksheet string
	MetricsColumn    string
}

func (c Config) withDefaults() Config {
	if c.Worksheet == "" {
		c.Worksheet = DefaultWorksheet
	}
	if c.ModelColumn == "" {
		c.ModelColumn = DefaultModelColumn
	}
	if c.LinkColumn == "" {
		c.LinkColumn = DefaultLinkColumn
	}
	if c.DisplayColumn == "" {
		c.DisplayColumn = DefaultDisplayColumn
	}
	if c.ModelLinkPrefix == "" {
		c.ModelLinkPrefix = DefaultModelLinkPrefix
	}
	if c.MetricsWorksheet != "" && c.MetricsColumn == "" {
		c.MetricsColumn = DefaultMetricsColumn
	}
	return c
}

// infoColumns are the columns that describe a model rather than score it.
func (c Config) infoColumns() []string {
	return []string{c.ModelColumn, c.LinkColumn, c.DisplayColumn}
}
