package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(KindDuplicateID, "add_contribution", "s1", "", "")
	wrapped := fmt.Errorf("submit: %w", err)
	require.True(t, errors.Is(wrapped, ErrDuplicateID))
	require.False(t, errors.Is(wrapped, ErrNotFound))
	require.Equal(t, KindDuplicateID, KindOf(wrapped))
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := New(KindInvalidState, "evaluate", "s9", "QUALIFIED", "expected SUBMITTED")
	require.Equal(t, "evaluate: invalid_state: submission=s9: status=QUALIFIED: expected SUBMITTED", err.Error())
}

func TestRetryable(t *testing.T) {
	cause := errors.New("timeout")
	require.True(t, Retryable(Wrap(KindCollaboratorUnavailable, "score", "s1", cause)))
	require.True(t, Retryable(Wrap(KindParse, "score", "s1", cause)))
	require.False(t, Retryable(New(KindAlreadyEvaluated, "evaluate", "s1", "UNQUALIFIED", "")))
	require.False(t, Retryable(cause))
	require.ErrorIs(t, Wrap(KindParse, "score", "s1", cause), cause)
}
