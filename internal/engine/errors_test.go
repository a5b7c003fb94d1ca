package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/sprinkler/internal/config"
	"github.com/roach88/sprinkler/internal/discovery"
	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/rpc"
	"github.com/roach88/sprinkler/internal/schema"
	"github.com/roach88/sprinkler/internal/testutil"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"decode", &schema.DecodeError{Account: "plant", Reason: "size 3, want 66"}, ErrCodeDecode},
		{"owner", &discovery.OwnerResolutionError{Reason: "no holder with balance 1"}, ErrCodeOwnerResolution},
		{"transport", &rpc.TransportError{Method: "getProgramAccounts", StatusCode: 503, Err: errors.New("unavailable")}, ErrCodeTransport},
		{"rpc error object", &rpc.RPCError{Code: -32602, Message: "invalid params"}, ErrCodeTransport},
		{"configuration", &config.ConfigurationError{Key: "wallet_key", Err: errors.New("bad length")}, ErrCodeConfiguration},
		{"canceled", fmt.Errorf("discover: %w", context.Canceled), ErrCodeCanceled},
		{"submission", NewSubmissionError(testutil.Key(1), errors.New("rejected")), ErrCodeSubmission},
		{"missing account", fmt.Errorf("fetching gardener: %w", ledger.ErrAccountNotFound), ErrCodeTransport},
		{"owner with missing token account", &discovery.OwnerResolutionError{Reason: "no owner", Err: ledger.ErrAccountNotFound}, ErrCodeOwnerResolution},
		{"wrapped decode", fmt.Errorf("fetching: %w", &schema.DecodeError{Account: "gardener"}), ErrCodeDecode},
		{"unknown", errors.New("mystery"), ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPipelineError_Format(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, "TRANSPORT: discover: boom",
		(&PipelineError{Code: ErrCodeTransport, Step: "discover", Err: cause}).Error())
	assert.Equal(t, fmt.Sprintf("SUBMISSION: water %s: boom", testutil.Key(1)),
		NewSubmissionError(testutil.Key(1), cause).Error())
	assert.Equal(t, "UNKNOWN: boom", (&PipelineError{Code: ErrCodeUnknown, Err: cause}).Error())
}

func TestPipelineError_Unwrap(t *testing.T) {
	err := NewStepError("resolve identity", fmt.Errorf("lookup: %w", testutil.ErrInjected))

	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, ErrCodeUnknown, err.Code)
}

func TestErrorPredicates(t *testing.T) {
	sub := fmt.Errorf("batch: %w", NewSubmissionError(testutil.Key(1), errors.New("x")))
	assert.True(t, IsSubmissionError(sub))
	assert.False(t, IsSubmissionError(errors.New("x")))

	assert.True(t, IsConfigurationError(&config.ConfigurationError{Key: "rpc", Err: errors.New("x")}))
	assert.True(t, IsTransportError(&rpc.TransportError{Method: "m", Err: errors.New("x")}))
}

func TestProgramErrorName(t *testing.T) {
	err := NewSubmissionError(testutil.Key(1), &rpc.TransactionError{
		Signature: "sig",
		Err:       []byte(`{"InstructionError":[0,{"Custom":6006}]}`),
	})

	name, ok := ProgramErrorName(err)
	assert.True(t, ok)
	assert.Equal(t, "PlantDead", name)

	_, ok = ProgramErrorName(errors.New("plain"))
	assert.False(t, ok)

	_, ok = ProgramErrorName(&rpc.RPCError{Code: -32002, Message: "no data"})
	assert.False(t, ok)
}
