package domain

// ExportVersion is written into every export document.
const ExportVersion = "2.0"

// ExportDocument is the portable snapshot of a user's progress.
// It is consumed by import and then discarded.
type ExportDocument struct {
	Version    string         `json:"version" validate:"required"`
	ExportDate string         `json:"exportDate"`
	History    []HistoryEntry `json:"history" validate:"required"`
	Errors     ErrorMap       `json:"errors" validate:"required"`
	Stats      StatsMap       `json:"stats,omitempty"`
	Themes     []ThemeSummary `json:"themes,omitempty"`
}
