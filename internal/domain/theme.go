package domain

import "encoding/json"

// Question types understood by the quiz and flashcard views.
const (
	QuestionMCQ       = "mcq"
	QuestionTrueFalse = "true_false"
	QuestionFillIn    = "fill_in"
)

// Choice is a single option of a multiple choice question.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Question is one playable item of a theme.
// Answer keeps its raw JSON form because its shape depends on Type:
// a choice id or list of ids (mcq), a boolean (true_false), or a string,
// number or list of strings (fill_in).
type Question struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Prompt    string          `json:"prompt"`
	Rationale string          `json:"rationale,omitempty"`
	Choices   []Choice        `json:"choices,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Answers   []string        `json:"answers,omitempty"`
}

// Settings are the per-theme play options. Every field is optional so that
// layers can be merged without losing the difference between "unset" and
// "set to the zero value".
type Settings struct {
	ShuffleQuestions *bool `json:"shuffleQuestions,omitempty"`
	ShuffleChoices   *bool `json:"shuffleChoices,omitempty"`
	ExamDurationSec  *int  `json:"examDurationSec,omitempty"`
	PassPercent      *int  `json:"passPercent,omitempty"`
}

// Merge returns s overlaid with every field that is set in over.
func (s Settings) Merge(over *Settings) Settings {
	if over == nil {
		return s
	}
	if over.ShuffleQuestions != nil {
		s.ShuffleQuestions = over.ShuffleQuestions
	}
	if over.ShuffleChoices != nil {
		s.ShuffleChoices = over.ShuffleChoices
	}
	if over.ExamDurationSec != nil {
		s.ExamDurationSec = over.ExamDurationSec
	}
	if over.PassPercent != nil {
		s.PassPercent = over.PassPercent
	}
	return s
}

// Shuffle reports whether questions should be served in random order.
func (s Settings) Shuffle() bool {
	return s.ShuffleQuestions != nil && *s.ShuffleQuestions
}

// Theme is either a bundled theme declared in the main manifest (File or
// Path points at its question document) or a custom theme owned by the
// local store (Questions inline, IsCustom set).
type Theme struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	File        string          `json:"file,omitempty"`
	Path        string          `json:"path,omitempty"`
	Questions   []Question      `json:"questions,omitempty"`
	Revision    json.RawMessage `json:"revision,omitempty"`
	Settings    *Settings       `json:"settings,omitempty"`
	Meta        map[string]any  `json:"meta,omitempty"`
	IsCustom    bool            `json:"isCustom,omitempty"`
	CreatedAt   int64           `json:"createdAt,omitempty"`
}

// ThemeSummary is the id/title pair carried by exports.
type ThemeSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Summary returns the theme's id/title pair.
func (t Theme) Summary() ThemeSummary {
	return ThemeSummary{ID: t.ID, Title: t.Title}
}
