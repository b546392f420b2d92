package exam

import (
	"fmt"
	"strings"

	"github.com/trezcool/mtihani/core"
)

// ParseError reports a malformed block of question source text. Block is 1-based.
type ParseError struct {
	Block  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("question block %d: %s", e.Block, e.Reason)
}

// ParseQuestions reads questions from text made of blank-line separated blocks:
//
//	What is 2 + 2?
//	(3)
//	(4)
//	(5)
//	(22)
//	[4]
//
// The first line is the question, "(...)" lines are options and the "[...]" line is the correct answer.
// Other lines are ignored. Errors are validation errors wrapping a *ParseError.
func ParseQuestions(text string) ([]NewQuestion, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		questions []NewQuestion
		block     []string
	)
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		q, reason := parseBlock(block)
		block = block[:0]
		if reason != "" {
			perr := &ParseError{Block: len(questions) + 1, Reason: reason}
			return core.NewValidationError(perr, core.FieldError{Field: "questions_text", Error: perr.Error()})
		}
		questions = append(questions, q)
		return nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return questions, nil
}

func parseBlock(lines []string) (NewQuestion, string) {
	q := NewQuestion{Text: lines[0]}
	if strings.HasPrefix(q.Text, "(") || strings.HasPrefix(q.Text, "[") {
		return q, "missing question line"
	}
	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, "("):
			q.Options = append(q.Options, unwrap(line, ")"))
		case strings.HasPrefix(line, "["):
			if q.CorrectAnswer != "" {
				return q, "more than one correct answer"
			}
			q.CorrectAnswer = unwrap(line, "]")
		}
	}
	switch {
	case len(q.Options) != OptionCount:
		return q, fmt.Sprintf("expected %d options, got %d", OptionCount, len(q.Options))
	case q.CorrectAnswer == "":
		return q, "missing correct answer"
	}
	for _, opt := range q.Options {
		if opt == q.CorrectAnswer {
			return q, ""
		}
	}
	return q, "correct answer is not one of the options"
}

func unwrap(line, closing string) string {
	return strings.TrimSpace(strings.TrimSuffix(line[1:], closing))
}
