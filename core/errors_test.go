package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	errGone := NewError(KindNotFound, "gone")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindInternal},
		{name: "plain error", err: errors.New("boom"), want: KindInternal},
		{name: "domain error", err: errGone, want: KindNotFound},
		{name: "wrapped domain error", err: errors.Wrap(errGone, "loading"), want: KindNotFound},
		{name: "validation error", err: NewValidationError(nil, FieldError{Field: "name", Error: "required"}), want: KindValidation},
		{name: "wrapped validation error", err: errors.Wrap(NewValidationError(errors.New("bad")), "saving"), want: KindValidation},
		{name: "shutdown", err: NewShutdownError("integrity"), want: KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "validation_failed", KindValidation.String())
	assert.Equal(t, "internal", Kind(42).String())
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "bad", NewValidationError(errors.New("bad")).Error())
	assert.Equal(t, "roll_no: taken", NewValidationError(nil, FieldError{Field: "roll_no", Error: "taken"}).Error())
	assert.Equal(t, "validation failed", ValidationError{}.Error())
}

func TestIsShutdown(t *testing.T) {
	assert.True(t, IsShutdown(errors.Wrap(NewShutdownError("stop"), "ctx")))
	assert.False(t, IsShutdown(errors.New("stop")))
}
