package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("direct code", func(t *testing.T) {
		err := New(CodeAlreadyVoted, "already voted")
		assert.True(t, HasCode(err, CodeAlreadyVoted))
		assert.False(t, HasCode(err, CodeNotVerified))
	})

	t.Run("wrapped chain", func(t *testing.T) {
		inner := New(CodeDuplicateTransaction, "tx already recorded")
		outer := Wrap(inner, CodeConflict, "reconcile failed")
		assert.True(t, HasCode(outer, CodeConflict))
		assert.True(t, HasCode(outer, CodeDuplicateTransaction))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
	})
}

func TestWrapPreservesChain(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(fmt.Errorf("dial ledger: %w", base), CodeLedgerUnavailable, "ledger unreachable")
	require.Error(t, err)
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, CodeLedgerUnavailable, CodeOf(err))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeLedgerUnavailable, "rpc timeout")))
	assert.True(t, Retryable(New(CodeTimeout, "deadline")))
	assert.False(t, Retryable(New(CodeAlreadyVoted, "no retry fixes this")))
	assert.False(t, Retryable(errors.New("uncoded")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidInput:         http.StatusBadRequest,
		CodeMissingWallet:        http.StatusForbidden,
		CodeNotRegistered:        http.StatusForbidden,
		CodeNotVerified:          http.StatusForbidden,
		CodeAlreadyVoted:         http.StatusForbidden,
		CodePhaseClosed:          http.StatusForbidden,
		CodeDuplicateTransaction: http.StatusConflict,
		CodeInvalidTransition:    http.StatusConflict,
		CodeCandidateNotOnLedger: http.StatusConflict,
		CodeUnauthorized:         http.StatusUnauthorized,
		CodeNotFound:             http.StatusNotFound,
		CodeLedgerUnavailable:    http.StatusBadGateway,
		CodeInconsistency:        http.StatusConflict,
		CodeInternal:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
