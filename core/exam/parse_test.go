package exam

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
)

func TestParseQuestions(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		want       []NewQuestion
		wantBlock  int
		wantReason string
	}{
		{
			name: "two blocks",
			text: "What is 2 + 2?\n(3)\n(4)\n(5)\n(22)\n[4]\n\nPick the odd one\n(cat)\n(dog)\n(car)\n(cow)\n[car]\n",
			want: []NewQuestion{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "22"}, CorrectAnswer: "4"},
				{Text: "Pick the odd one", Options: []string{"cat", "dog", "car", "cow"}, CorrectAnswer: "car"},
			},
		},
		{
			name: "windows line endings and extra blank lines",
			text: "\r\n\r\nQ1\r\n( a )\r\n(b)\r\n(c)\r\n(d)\r\n[ a ]\r\n\r\n\r\n",
			want: []NewQuestion{{Text: "Q1", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "a"}},
		},
		{name: "empty", text: "  \n\n", want: nil},
		{name: "three options", text: "Q\n(a)\n(b)\n(c)\n[a]", wantBlock: 1, wantReason: "expected 4 options, got 3"},
		{name: "no answer", text: "Q\n(a)\n(b)\n(c)\n(d)", wantBlock: 1, wantReason: "missing correct answer"},
		{name: "answer not an option", text: "Q\n(a)\n(b)\n(c)\n(d)\n[e]", wantBlock: 1, wantReason: "correct answer is not one of the options"},
		{
			name:       "second block broken",
			text:       "Q1\n(a)\n(b)\n(c)\n(d)\n[a]\n\n(a)\n(b)",
			wantBlock:  2,
			wantReason: "missing question line",
		},
		{name: "two answers", text: "Q\n(a)\n(b)\n(c)\n(d)\n[a]\n[b]", wantBlock: 1, wantReason: "more than one correct answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuestions(tt.text)
			if tt.wantReason == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, core.KindValidation, core.KindOf(err))
			vErr, ok := errors.Cause(err).(*core.ValidationError)
			require.True(t, ok)
			perr, ok := vErr.Err.(*ParseError)
			require.True(t, ok)
			assert.Equal(t, tt.wantBlock, perr.Block)
			assert.Equal(t, tt.wantReason, perr.Reason)
		})
	}
}
