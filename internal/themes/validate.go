package themes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/conorfennell/ergoquiz/internal/domain"
)

// Limits of an imported theme.
const (
	MaxQuestions     = 200
	MinChoices       = 2
	MaxChoices       = 10
	MaxFillInAnswers = 10
	MaxTags          = 10

	// MaxImportSize bounds an uploaded theme document.
	MaxImportSize = 5 << 20

	// CustomIDPrefix starts every generated custom theme id.
	CustomIDPrefix = "custom-theme-"
)

// Report is the outcome of validating a theme document.
type Report struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid reports whether the document has no errors.
func (r Report) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

type choiceInput struct {
	ID    string `validate:"required"`
	Label string `validate:"required"`
}

var validate = validator.New()

// Validate checks a user supplied theme document.
func Validate(raw []byte) Report {
	r := Report{Errors: []string{}, Warnings: []string{}}

	doc := gjson.ParseBytes(raw)
	if !gjson.ValidBytes(raw) || !doc.IsObject() {
		r.errorf("the document must be a JSON object")
		return r
	}

	if title := doc.Get("title"); title.Type != gjson.String || strings.TrimSpace(title.Str) == "" {
		r.errorf(`"title" is required and must be a non-empty string`)
	}

	questions := doc.Get("questions")
	if !questions.IsArray() {
		r.errorf(`"questions" is required and must be an array`)
		return r
	}
	list := questions.Array()
	if len(list) == 0 {
		r.errorf("the theme must contain at least one question")
		return r
	}
	if len(list) > MaxQuestions {
		r.errorf("at most %d questions per theme", MaxQuestions)
	}
	for i, q := range list {
		validateQuestion(&r, q, fmt.Sprintf("question %d:", i+1))
	}

	if d := doc.Get("description"); !d.Exists() || d.Str == "" {
		r.warn(`a "description" is recommended`)
	}
	tags := doc.Get("tags")
	if !tags.IsArray() || len(tags.Array()) == 0 {
		r.warn("tags are recommended to organize themes")
	} else if err := validate.Var(tags.Array(), fmt.Sprintf("max=%d", MaxTags)); err != nil {
		r.warn(fmt.Sprintf("at most %d tags are recommended", MaxTags))
	}
	return r
}

func validateQuestion(r *Report, q gjson.Result, prefix string) {
	if !q.IsObject() {
		r.errorf("%s must be an object", prefix)
		return
	}
	if p := q.Get("prompt"); p.Type != gjson.String || strings.TrimSpace(p.Str) == "" {
		r.errorf(`%s "prompt" is required`, prefix)
	}

	typ := q.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		r.errorf(`%s "type" is required`, prefix)
		return
	}
	switch typ.Str {
	case domain.QuestionMCQ:
		validateMCQ(r, q, prefix)
	case domain.QuestionTrueFalse:
		if a := q.Get("answer"); !a.Exists() {
			r.errorf(`%s "answer" is required for true/false questions`, prefix)
		} else if !a.IsBool() {
			r.errorf(`%s "answer" must be a boolean`, prefix)
		}
	case domain.QuestionFillIn:
		validateFillIn(r, q, prefix)
	default:
		r.errorf(`%s unsupported type %q, expected one of %s, %s, %s`, prefix, typ.Str,
			domain.QuestionMCQ, domain.QuestionTrueFalse, domain.QuestionFillIn)
	}
}

func validateMCQ(r *Report, q gjson.Result, prefix string) {
	choices := q.Get("choices")
	if !choices.IsArray() {
		r.errorf(`%s multiple choice questions need a "choices" array`, prefix)
		return
	}
	list := choices.Array()
	if len(list) < MinChoices {
		r.errorf("%s at least %d choices are required", prefix, MinChoices)
	}
	if len(list) > MaxChoices {
		r.errorf("%s at most %d choices per question", prefix, MaxChoices)
	}

	ids := make(map[string]bool, len(list))
	for i, c := range list {
		in := choiceInput{ID: scalarString(c.Get("id"))}
		if l := c.Get("label"); l.Type == gjson.String {
			in.Label = l.Str
		}
		if err := validate.Struct(in); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					r.errorf(`%s choice %d: "%s" is required`, prefix, i+1, strings.ToLower(fe.Field()))
				}
			}
		}
		if in.ID == "" {
			continue
		}
		if ids[in.ID] {
			r.errorf("%s duplicate choice id %q", prefix, in.ID)
		}
		ids[in.ID] = true
	}

	answer, answers := q.Get("answer"), q.Get("answers")
	if !answer.Exists() && !answers.Exists() {
		r.errorf(`%s "answer" or "answers" is required`, prefix)
		return
	}
	var refs []gjson.Result
	switch {
	case answer.IsArray():
		refs = answer.Array()
	case answers.IsArray():
		refs = answers.Array()
	default:
		refs = []gjson.Result{answer}
	}
	for _, ref := range refs {
		if !ids[scalarString(ref)] {
			r.errorf("%s answer %q matches no choice id", prefix, ref.String())
		}
	}
}

func validateFillIn(r *Report, q gjson.Result, prefix string) {
	a := q.Get("answer")
	if !a.Exists() {
		r.errorf(`%s "answer" is required`, prefix)
		return
	}
	if a.Type == gjson.String || a.Type == gjson.Number {
		return
	}
	if !a.IsArray() {
		r.errorf(`%s "answer" must be a string, a number or a list of strings`, prefix)
		return
	}
	list := a.Array()
	if len(list) == 0 {
		r.errorf(`%s "answer" must be a string, a number or a list of strings`, prefix)
		return
	}
	for _, v := range list {
		if v.Type != gjson.String {
			r.errorf(`%s "answer" must be a string, a number or a list of strings`, prefix)
			return
		}
	}
	if len(list) > MaxFillInAnswers {
		r.errorf("%s at most %d accepted answers", prefix, MaxFillInAnswers)
	}
}

// scalarString renders strings and numbers; anything else is empty.
func scalarString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	default:
		return ""
	}
}

var escaper = strings.NewReplacer("<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;")

// sanitizeString trims s and escapes the characters that could open markup.
func sanitizeString(s string) string {
	return escaper.Replace(strings.TrimSpace(s))
}

// Sanitize turns a validated document into a custom theme: strings are
// escaped, missing question ids become q1, q2 and so on, and a theme
// without id gets a generated one.
func Sanitize(raw []byte, now time.Time) domain.Theme {
	doc := gjson.ParseBytes(raw)

	t := domain.Theme{
		ID:          doc.Get("id").String(),
		Title:       sanitizeString(doc.Get("title").String()),
		Description: sanitizeString(doc.Get("description").String()),
		Tags:        []string{},
		Questions:   []domain.Question{},
		IsCustom:    true,
		CreatedAt:   now.UnixMilli(),
	}
	if t.ID == "" {
		t.ID = CustomIDPrefix + uuid.NewString()
	}
	for _, tag := range doc.Get("tags").Array() {
		if s := sanitizeString(tag.String()); s != "" && len(t.Tags) < MaxTags {
			t.Tags = append(t.Tags, s)
		}
	}
	for i, q := range doc.Get("questions").Array() {
		t.Questions = append(t.Questions, sanitizeQuestion(q, i))
	}

	t.Settings = &domain.Settings{}
	if s := doc.Get("settings"); s.IsObject() {
		if err := json.Unmarshal([]byte(s.Raw), t.Settings); err != nil {
			t.Settings = &domain.Settings{}
		}
	}
	return t
}

func sanitizeQuestion(q gjson.Result, index int) domain.Question {
	out := domain.Question{
		ID:        q.Get("id").String(),
		Type:      q.Get("type").String(),
		Prompt:    sanitizeString(q.Get("prompt").String()),
		Rationale: sanitizeString(q.Get("rationale").String()),
	}
	if out.ID == "" {
		out.ID = fmt.Sprintf("q%d", index+1)
	}

	answer := q.Get("answer")
	switch out.Type {
	case domain.QuestionMCQ:
		for _, c := range q.Get("choices").Array() {
			out.Choices = append(out.Choices, domain.Choice{
				ID:    sanitizeString(scalarString(c.Get("id"))),
				Label: sanitizeString(c.Get("label").String()),
			})
		}
		var refs []gjson.Result
		if answers := q.Get("answers"); answers.IsArray() {
			refs = answers.Array()
		} else if answer.IsArray() {
			refs = answer.Array()
		}
		if refs != nil {
			out.Answers = []string{}
			for _, ref := range refs {
				out.Answers = append(out.Answers, sanitizeString(scalarString(ref)))
			}
		} else {
			out.Answer = mustJSON(sanitizeString(scalarString(answer)))
		}
	case domain.QuestionTrueFalse:
		out.Answer = mustJSON(answer.Bool())
	case domain.QuestionFillIn:
		if answer.IsArray() {
			list := []string{}
			for _, v := range answer.Array() {
				list = append(list, strings.TrimSpace(v.String()))
			}
			out.Answer = mustJSON(list)
		} else {
			out.Answer = mustJSON(strings.TrimSpace(answer.String()))
		}
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Import validates raw and returns the sanitized theme. Documents with
// errors yield an *InvalidThemeError; warnings never reject a theme.
func Import(raw []byte, now time.Time) (domain.Theme, Report, error) {
	report := Validate(raw)
	if !report.Valid() {
		return domain.Theme{}, report, &InvalidThemeError{Report: report}
	}
	return Sanitize(raw, now), report, nil
}
