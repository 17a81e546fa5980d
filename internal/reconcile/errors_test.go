package reconcile

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationError_Message(t *testing.T) {
	err := NewTransientError(errors.New("connection refused"))
	assert.Equal(t, "TRANSIENT_VERIFICATION: verification unavailable: connection refused", err.Error())

	err.OperationID = "op-1"
	assert.Contains(t, err.Error(), "(operation=op-1)")

	timeout := NewTimeoutError(30 * time.Second)
	assert.Equal(t, "OPERATION_TIMEOUT: no confirmation within 30s", timeout.Error())
}

func TestOperationError_Helpers(t *testing.T) {
	wrapped := fmt.Errorf("verify: %w", NewRejectedError(""))

	assert.True(t, IsRejected(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.True(t, IsTimeout(NewTimeoutError(time.Second)))
	assert.True(t, IsCancelled(NewCancelledError("bye")))
	assert.Equal(t, CodeConflict, CodeOf(NewConflictError("state mismatch")))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestOperationError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("call: %w", NewTransientError(cause))
	assert.ErrorIs(t, err, cause)
}

func TestClassify(t *testing.T) {
	plain := errors.New("socket closed")
	oe := classify(plain)
	assert.True(t, oe.Transient())
	assert.ErrorIs(t, oe, plain)

	rejected := NewRejectedError("declined")
	assert.Same(t, rejected, classify(fmt.Errorf("wrap: %w", rejected)))
}
