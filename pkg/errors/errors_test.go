package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneMatchesOriginalByCode(t *testing.T) {
	clone := Clone(ErrChallengeMismatch, "wrong code")
	wrapped := fmt.Errorf("confirm: %w", clone)

	assert.True(t, stdErrors.Is(wrapped, ErrChallengeMismatch))
	assert.False(t, stdErrors.Is(wrapped, ErrChallengeExpired))
	assert.Equal(t, "wrong code", clone.Message)
	assert.Equal(t, "approval code does not match", ErrChallengeMismatch.Message)
}

func TestValidationCarriesField(t *testing.T) {
	err := Validation("remarks", "remarks must be at least 10 characters")
	require.Equal(t, "VALIDATION_ERROR", err.Code)
	assert.Equal(t, "remarks", err.Field)
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Empty(t, ErrValidation.Field)
}

func TestInvalidTransitionNamesStatusAndAction(t *testing.T) {
	err := InvalidTransition("Approved", "reject")
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Contains(t, err.Message, "Approved")
	assert.Contains(t, err.Message, "reject")
	assert.True(t, stdErrors.Is(err, ErrInvalidTransition))
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(stdErrors.New("boom"))
	require.NotNil(t, appErr)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))

	typed := Clone(ErrNotFound, "assignment not found")
	assert.Same(t, typed, FromError(fmt.Errorf("ctx: %w", typed)))
}
