package domainerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type detailedErr struct{}

func (detailedErr) Error() string { return "seat limit" }
func (detailedErr) ErrorCode() Code { return CodeSeatLimitReached }

func TestError(t *testing.T) {
	t.Run("message falls back to code", func(t *testing.T) {
		err := &Error{Code: CodeNotFound}
		assert.Equal(t, "not_found", err.Error())
	})

	t.Run("is matches by code", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeLastOwnerViolation, "tenant needs an owner"))
		assert.True(t, errors.Is(err, Sentinel(CodeLastOwnerViolation)))
		assert.False(t, errors.Is(err, Sentinel(CodeScopeMismatch)))
	})

	t.Run("wrap keeps existing code", func(t *testing.T) {
		inner := New(CodeCooldownActive, "wait")
		err := Wrap(inner, CodeInternal, "resend failed")
		assert.Equal(t, CodeCooldownActive, CodeOf(err))
		assert.Equal(t, "resend failed", err.Error())
	})

	t.Run("wrap assigns code to plain errors", func(t *testing.T) {
		err := Wrap(errors.New("connection reset"), CodeInternal, "store unavailable")
		assert.True(t, HasCode(err, CodeInternal))
	})

	t.Run("code of uncoded error is internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.Equal(t, Code(""), CodeOf(nil))
	})

	t.Run("error code method takes precedence", func(t *testing.T) {
		err := fmt.Errorf("create: %w", detailedErr{})
		assert.Equal(t, CodeSeatLimitReached, CodeOf(err))
	})
}
