package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/conorfennell/ergoquiz/internal/domain"
)

// ErrNoCards is returned when a markdown document holds no card.
var ErrNoCards = errors.New("no flashcards found")

// Normalize joins the card's fields after trimming, lowercasing and
// unifying line endings, so cosmetic edits keep the same hash.
func Normalize(c Card) string {
	part := func(s string) string {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		return strings.TrimSpace(strings.ToLower(s))
	}
	return strings.Join([]string{part(c.Question), part(c.Answer), part(c.Context)}, "\n")
}

// Hash returns the hex SHA-256 of the normalized card.
func Hash(c Card) string {
	sum := sha256.Sum256([]byte(Normalize(c)))
	return hex.EncodeToString(sum[:])
}

// QuestionID derives a stable question id from the card's content.
func QuestionID(c Card) string {
	return "md-" + Hash(c)[:16]
}

// ToQuestion turns a card into a fill-in question whose context becomes
// the rationale.
func (c Card) ToQuestion() domain.Question {
	answer, _ := json.Marshal(c.Answer)
	return domain.Question{
		ID:        QuestionID(c),
		Type:      domain.QuestionFillIn,
		Prompt:    c.Question,
		Rationale: c.Context,
		Answer:    answer,
	}
}

// ThemeDocument builds the JSON theme document of the cards found in r,
// ready for theme validation. Duplicate cards are kept once.
func ThemeDocument(r io.Reader, id, title string) ([]byte, error) {
	cards, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return themeDocument(cards, id, title)
}

// ThemeFile builds the JSON theme document of the markdown file at path.
func ThemeFile(path, id, title string) ([]byte, error) {
	cards, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return themeDocument(cards, id, title)
}

func themeDocument(cards []Card, id, title string) ([]byte, error) {
	if len(cards) == 0 {
		return nil, ErrNoCards
	}

	seen := make(map[string]bool, len(cards))
	questions := make([]domain.Question, 0, len(cards))
	for _, c := range cards {
		q := c.ToQuestion()
		if seen[q.ID] {
			continue
		}
		seen[q.ID] = true
		questions = append(questions, q)
	}

	doc := domain.Theme{
		ID:          id,
		Title:       title,
		Description: "Imported from markdown",
		Tags:        []string{"markdown"},
		Questions:   questions,
	}
	return json.Marshal(doc)
}
