// Package parser reads flashcard markdown: "Q:", "A:" and "C:" blocks,
// optionally separated by "---" lines, each field spanning every line up
// to the next marker.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	separator      = "---"
)

// Card is one question/answer pair with optional context.
type Card struct {
	Question string
	Answer   string
	Context  string
}

type field int

const (
	none field = iota
	question
	answer
	context
)

type cardReader struct {
	cards   []Card
	current Card
	field   field
	block   []string
}

// flushField stores the lines collected for the current field.
func (r *cardReader) flushField() {
	if len(r.block) == 0 {
		return
	}
	content := strings.TrimSpace(strings.Join(r.block, "\n"))
	switch r.field {
	case question:
		r.current.Question = content
	case answer:
		r.current.Answer = content
	case context:
		r.current.Context = content
	}
	r.block = nil
}

// finishCard closes the current card. Cards without a question are dropped.
func (r *cardReader) finishCard() {
	r.flushField()
	if r.current.Question != "" {
		r.cards = append(r.cards, r.current)
	}
	r.current = Card{}
	r.field = none
}

func (r *cardReader) start(f field, rest string) {
	r.flushField()
	if f == question && r.field != none {
		r.finishCard()
	}
	r.field = f
	r.block = append(r.block, strings.TrimPrefix(rest, " "))
}

func (r *cardReader) line(l string) {
	l = strings.TrimSuffix(l, "\r")
	switch {
	case strings.TrimRight(l, " \t") == separator:
		r.finishCard()
	case strings.HasPrefix(l, questionPrefix):
		r.start(question, l[len(questionPrefix):])
	case strings.HasPrefix(l, answerPrefix):
		r.start(answer, l[len(answerPrefix):])
	case strings.HasPrefix(l, contextPrefix):
		r.start(context, l[len(contextPrefix):])
	case r.field != none:
		r.block = append(r.block, l)
	}
}

// Parse extracts every card from r.
func Parse(r io.Reader) ([]Card, error) {
	scanner := bufio.NewScanner(r)
	cr := &cardReader{}
	for scanner.Scan() {
		cr.line(scanner.Text())
	}
	cr.finishCard()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read flashcards: %w", err)
	}
	return cr.cards, nil
}

// ParseFile reads the cards of the file at path.
func ParseFile(path string) ([]Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}
