package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/sprinkler/internal/schema"
)

// TransportError is a failure to obtain a well-formed JSON-RPC response:
// connection errors, non-2xx statuses and undecodable bodies.
type TransportError struct {
	Method     string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("rpc: %s: http %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("rpc: %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Method  string          `json:"-"`
}

func (e *RPCError) Error() string {
	if pe, ok := e.ProgramError(); ok {
		return fmt.Sprintf("rpc: %s: %s (%d): %s", e.Method, e.Message, e.Code, pe.Error())
	}
	return fmt.Sprintf("rpc: %s: %s (%d)", e.Method, e.Message, e.Code)
}

// ProgramError extracts a custom program error from a failed preflight
// simulation, if the node reported one.
func (e *RPCError) ProgramError() (schema.ProgramError, bool) {
	if len(e.Data) == 0 {
		return 0, false
	}
	var data struct {
		Err json.RawMessage `json:"err"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return 0, false
	}
	return customErrorCode(data.Err)
}

// TransactionError reports a transaction that landed but failed.
type TransactionError struct {
	Signature string
	Err       json.RawMessage
}

func (e *TransactionError) Error() string {
	if pe, ok := customErrorCode(e.Err); ok {
		return fmt.Sprintf("rpc: transaction %s failed: %s", e.Signature, pe.Error())
	}
	return fmt.Sprintf("rpc: transaction %s failed: %s", e.Signature, string(e.Err))
}

// ProgramError extracts the custom program error, if any.
func (e *TransactionError) ProgramError() (schema.ProgramError, bool) {
	return customErrorCode(e.Err)
}

// ErrConfirmTimeout is returned when a signature is not confirmed in time.
var ErrConfirmTimeout = errors.New("rpc: transaction not confirmed before timeout")

// customErrorCode decodes {"InstructionError":[idx,{"Custom":code}]}.
func customErrorCode(raw json.RawMessage) (schema.ProgramError, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var wrapper struct {
		InstructionError []json.RawMessage `json:"InstructionError"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || len(wrapper.InstructionError) != 2 {
		return 0, false
	}
	var detail struct {
		Custom *uint32 `json:"Custom"`
	}
	if err := json.Unmarshal(wrapper.InstructionError[1], &detail); err != nil || detail.Custom == nil {
		return 0, false
	}
	return schema.ProgramError(*detail.Custom), true
}

// isRetryable reports whether err is a transient transport failure.
func isRetryable(err error) bool {
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case transportErr.StatusCode == 0:
		return true
	case transportErr.StatusCode == http.StatusTooManyRequests:
		return true
	case transportErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// IsTransportError reports whether err came from the transport layer.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
