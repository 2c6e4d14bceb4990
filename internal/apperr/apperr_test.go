package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("load attempt: %w", NotFound("attempt not found"))

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.True(t, IsKind(wrapped, KindNotFound))
	assert.False(t, IsKind(wrapped, KindForbidden))
}

func TestMessageHidesForeignErrors(t *testing.T) {
	assert.Equal(t, "time expired", Message(BadRequest("time expired")))
	assert.Equal(t, "internal error", Message(errors.New("pq: connection reset")))
}

func TestInternalUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("update attempt", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "update attempt: connection refused", err.Error())
}

func TestIsMatchesByKindAndMessage(t *testing.T) {
	sentinel := New(KindBadRequest, "all questions answered")

	assert.ErrorIs(t, fmt.Errorf("next: %w", BadRequest("all questions answered")), sentinel)
	assert.NotErrorIs(t, BadRequest("time expired"), sentinel)
}
