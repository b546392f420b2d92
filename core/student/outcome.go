package student

import (
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

// Outcome is the result of an attempt, whichever way it was produced.
// Total is the value that feeds the student's running total.
type Outcome struct {
	Total     float64
	Breakdown map[string]float64
	Absent    bool
}

var errNegativeMarks = core.NewValidationError(nil, core.FieldError{Field: "marks", Error: "marks cannot be negative"})

// OutcomeFromMarks builds an outcome from per-category marks given by an administrator.
func OutcomeFromMarks(marks map[string]float64) (Outcome, error) {
	out := Outcome{Breakdown: make(map[string]float64, len(marks))}
	for name, v := range marks {
		cat, ok := exam.CanonicalCategory(name)
		if !ok {
			return Outcome{}, core.NewValidationError(nil, core.FieldError{Field: "marks", Error: "unknown category: " + name})
		}
		if v < 0 {
			return Outcome{}, errNegativeMarks
		}
		out.Breakdown[cat] += v
		out.Total += v
	}
	return out, nil
}

// OutcomeFromScore wraps a single legacy score without a breakdown.
func OutcomeFromScore(score float64) (Outcome, error) {
	if score < 0 {
		return Outcome{}, errNegativeMarks
	}
	return Outcome{Total: score, Breakdown: map[string]float64{"score": score}}, nil
}

// GradeAnswers compares answers (question ID to chosen option) against the test's answer key.
// Each correct answer is worth 1; the breakdown counts correct answers per category.
// Unknown question IDs are ignored.
func GradeAnswers(test exam.Test, answers map[string]string) Outcome {
	out := Outcome{Breakdown: make(map[string]float64, len(test.Categories))}
	for _, c := range test.Categories {
		out.Breakdown[c.Name] = 0
	}
	for qid, answer := range answers {
		q, cat, ok := test.Question(qid)
		if !ok {
			continue
		}
		if core.CleanString(answer) == q.CorrectAnswer {
			out.Breakdown[cat]++
			out.Total++
		}
	}
	return out
}

// AbsentOutcome is recorded for students who never started a test before it went offline.
func AbsentOutcome() Outcome {
	return Outcome{Absent: true}
}

// Marks returns the marks mapping stored on the attempt.
func (o Outcome) Marks() map[string]float64 {
	if o.Absent {
		return map[string]float64{AbsentKey: -1}
	}
	marks := make(map[string]float64, len(o.Breakdown))
	for k, v := range o.Breakdown {
		marks[k] = v
	}
	return marks
}

// Score is the value added to the running total. Absent attempts score 0.
func (o Outcome) Score() float64 {
	if o.Absent {
		return 0
	}
	return o.Total
}
