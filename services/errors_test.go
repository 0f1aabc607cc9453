package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerErrorMatchesByCode(t *testing.T) {
	err := newError(CodeInsufficientFunds, "account a has 1, needs 5")
	wrapped := fmt.Errorf("join: %w", err)

	assert.ErrorIs(t, wrapped, ErrInsufficientFunds)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.Equal(t, CodeInsufficientFunds, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestStorageErrorsKeepCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := asLedgerError("load", cause)

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")

	same := newError(CodeNotFound, "gone")
	assert.Same(t, same, asLedgerError("ignored", same))
	assert.NoError(t, asLedgerError("nil", nil))
}
