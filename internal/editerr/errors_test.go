package editerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name   string
		err    *Error
		code   Code
		status int
	}{
		{"decode", NewDecode(cause), CodeDecode, 422},
		{"validation", NewValidation("bad strength"), CodeValidation, 400},
		{"validation err", NewValidationErr(cause), CodeValidation, 400},
		{"not found", NewNotFound("edit", "e1"), CodeNotFound, 404},
		{"upstream", NewUpstream("generator", cause), CodeUpstream, 502},
		{"conflict", NewConflict("dup"), CodeConflict, 409},
		{"internal", NewInternal(cause), CodeInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Contains(t, tt.err.Error(), string(tt.code))
		})
	}
}

func TestIs_Wrapped(t *testing.T) {
	err := fmt.Errorf("request adjust: %w", NewNotFound("edit", "abc"))
	assert.True(t, Is(err, CodeNotFound))
	assert.False(t, Is(err, CodeValidation))
	assert.False(t, Is(errors.New("plain"), CodeNotFound))
	assert.False(t, Is(nil, CodeInternal))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := NewUpstream("generator", cause)
	assert.ErrorIs(t, err, cause)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CodeInternal, Classify(errors.New("x")).Code)
	assert.Equal(t, CodeConflict, Classify(fmt.Errorf("w: %w", NewConflict("c"))).Code)
}
