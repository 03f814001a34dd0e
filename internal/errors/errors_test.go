// Package errors tests for error code definitions and error handling.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorCodeValues verifies all error codes have non-empty, unique values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound,
		ErrStorage, ErrMigration,
		ErrNetwork, ErrSyncRejected, ErrSyncFailed, ErrOffline,
		ErrCryptoFailed,
	}
	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestAppError_Error(t *testing.T) {
	err := New(ErrInvalid, "bad domain")
	assert.Equal(t, "[INVALID_INPUT] bad domain", err.Error())

	wrapped := Wrap(ErrStorage, "write item", fmt.Errorf("disk full"))
	assert.Equal(t, "[STORAGE_ERROR] write item: disk full", wrapped.Error())
	assert.True(t, strings.Contains(wrapped.Error(), "disk full"))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("quota exceeded")
	err := Storage("persist item", cause)
	assert.True(t, stderrors.Is(err, cause))
}

// TestIs_walksChain verifies codes are found through fmt wrapping and nesting.
func TestIs_walksChain(t *testing.T) {
	inner := Network("send", stderrors.New("connection refused"))
	outer := fmt.Errorf("drain: %w", Wrap(ErrSyncFailed, "item failed", inner))

	assert.True(t, Is(outer, ErrSyncFailed))
	assert.True(t, Is(outer, ErrNetwork))
	assert.True(t, IsNetwork(outer))
	assert.False(t, Is(outer, ErrStorage))
	assert.False(t, Is(nil, ErrStorage))
	assert.False(t, Is(stderrors.New("plain"), ErrStorage))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNotFound, CodeOf(fmt.Errorf("x: %w", NotFound("item", "1"))))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("plain")))
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsStorage(Storage("x", nil)))
	assert.True(t, IsNotFound(NotFound("item", "abc")))
	assert.Contains(t, NotFound("item", "abc").Error(), "item abc not found")
}
