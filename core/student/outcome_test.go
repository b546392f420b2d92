package student

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

func TestOutcomeFromMarks(t *testing.T) {
	tests := []struct {
		name      string
		marks     map[string]float64
		wantTotal float64
		wantMarks map[string]float64
		wantErr   bool
	}{
		{
			name:      "sums categories",
			marks:     map[string]float64{"Coding": 3, "aptitude": 2.5},
			wantTotal: 5.5,
			wantMarks: map[string]float64{"Coding": 3, "Aptitude": 2.5},
		},
		{name: "empty", marks: map[string]float64{}, wantTotal: 0, wantMarks: map[string]float64{}},
		{name: "unknown category", marks: map[string]float64{"History": 1}, wantErr: true},
		{name: "negative", marks: map[string]float64{"Coding": -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := OutcomeFromMarks(tt.marks)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, core.KindValidation, core.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, out.Total)
			assert.Equal(t, tt.wantTotal, out.Score())
			assert.Equal(t, tt.wantMarks, out.Marks())
			assert.False(t, out.Absent)
		})
	}
}

func TestOutcomeFromScore(t *testing.T) {
	out, err := OutcomeFromScore(7)
	require.NoError(t, err)
	assert.Equal(t, 7.0, out.Score())
	assert.Equal(t, map[string]float64{"score": 7}, out.Marks())

	_, err = OutcomeFromScore(-2)
	assert.Error(t, err)
}

func TestGradeAnswers(t *testing.T) {
	test := exam.Test{
		Categories: []exam.Category{
			{Name: "Coding", Questions: []exam.Question{
				{ID: "q1", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "a"},
				{ID: "q2", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "b"},
			}},
			{Name: "Verbal", Questions: []exam.Question{
				{ID: "q3", Options: []string{"w", "x", "y", "z"}, CorrectAnswer: "z"},
			}},
		},
	}

	tests := []struct {
		name          string
		answers       map[string]string
		wantTotal     float64
		wantBreakdown map[string]float64
	}{
		{name: "all correct", answers: map[string]string{"q1": "a", "q2": "b", "q3": "z"}, wantTotal: 3,
			wantBreakdown: map[string]float64{"Coding": 2, "Verbal": 1}},
		{name: "some wrong", answers: map[string]string{"q1": "a", "q2": "c", "q3": " z "}, wantTotal: 2,
			wantBreakdown: map[string]float64{"Coding": 1, "Verbal": 1}},
		{name: "unknown ids ignored", answers: map[string]string{"nope": "a"}, wantTotal: 0,
			wantBreakdown: map[string]float64{"Coding": 0, "Verbal": 0}},
		{name: "no answers", answers: nil, wantTotal: 0, wantBreakdown: map[string]float64{"Coding": 0, "Verbal": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := GradeAnswers(test, tt.answers)
			assert.Equal(t, tt.wantTotal, out.Total)
			assert.Equal(t, tt.wantBreakdown, out.Breakdown)
		})
	}
}

func TestAbsentOutcome(t *testing.T) {
	out := AbsentOutcome()
	assert.True(t, out.Absent)
	assert.Equal(t, 0.0, out.Score())
	assert.Equal(t, map[string]float64{AbsentKey: -1}, out.Marks())
}
