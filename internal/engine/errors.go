package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/sprinkler/internal/config"
	"github.com/roach88/sprinkler/internal/discovery"
	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/rpc"
	"github.com/roach88/sprinkler/internal/schema"
)

// PipelineError represents a failure detected while running the pipeline.
//
// Pipeline errors include:
//   - Transport: an RPC call failed or returned a malformed response
//   - Decode: an account payload does not match its layout
//   - Owner resolution: a plant's holder is missing or ambiguous
//   - Submission: a water transaction was rejected or not confirmed
//   - Configuration: settings or key material are unusable
//
// PipelineError carries the affected address and step for diagnostics.
type PipelineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Step names the pipeline step that failed, e.g. "discover".
	Step string

	// Address identifies the affected account, if any.
	Address ledger.PublicKey

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeTransport indicates an RPC call failed.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeDecode indicates an account did not match its layout.
	ErrCodeDecode ErrorCode = "DECODE"

	// ErrCodeOwnerResolution indicates a plant's owner could not be found.
	ErrCodeOwnerResolution ErrorCode = "OWNER_RESOLUTION"

	// ErrCodeSubmission indicates a water transaction failed.
	ErrCodeSubmission ErrorCode = "SUBMISSION"

	// ErrCodeConfiguration indicates unusable configuration.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeCanceled indicates the run was interrupted.
	ErrCodeCanceled ErrorCode = "CANCELED"

	// ErrCodeUnknown is used for errors that fit no other category.
	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// Error implements the error interface.
func (e *PipelineError) Error() string {
	switch {
	case e.Step != "" && !e.Address.IsZero():
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Step, e.Address, e.Err)
	case e.Step != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Step, e.Err)
	case !e.Address.IsZero():
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Address, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err as the failure of step, classifying it.
func NewStepError(step string, err error) *PipelineError {
	return &PipelineError{Code: Classify(err), Step: step, Err: err}
}

// NewSubmissionError wraps a failed water transaction for plant.
func NewSubmissionError(plant ledger.PublicKey, err error) *PipelineError {
	return &PipelineError{Code: ErrCodeSubmission, Step: "water", Address: plant, Err: err}
}

// Classify maps err onto the pipeline taxonomy. An existing PipelineError
// keeps its code.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}

	var decodeErr *schema.DecodeError
	var configErr *config.ConfigurationError
	var rpcErr *rpc.RPCError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCanceled
	case errors.As(err, &configErr):
		return ErrCodeConfiguration
	case errors.As(err, &decodeErr):
		return ErrCodeDecode
	case discovery.IsOwnerResolutionError(err):
		return ErrCodeOwnerResolution
	case rpc.IsTransportError(err), errors.As(err, &rpcErr), errors.Is(err, ledger.ErrAccountNotFound):
		return ErrCodeTransport
	default:
		return ErrCodeUnknown
	}
}

// IsSubmissionError returns true if err is a submission failure.
// Uses errors.As to handle wrapped errors.
func IsSubmissionError(err error) bool {
	return hasCode(err, ErrCodeSubmission)
}

// IsConfigurationError returns true if err is a configuration failure.
func IsConfigurationError(err error) bool {
	return Classify(err) == ErrCodeConfiguration
}

// IsTransportError returns true if err is a transport failure.
func IsTransportError(err error) bool {
	return Classify(err) == ErrCodeTransport
}

func hasCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// programErrorCarrier is implemented by RPC errors that can report a
// custom program error code.
type programErrorCarrier interface {
	ProgramError() (schema.ProgramError, bool)
}

// ProgramErrorName returns the program's name for the custom error in err,
// e.g. "PlantWaterTooOften".
func ProgramErrorName(err error) (string, bool) {
	var carrier programErrorCarrier
	if !errors.As(err, &carrier) {
		return "", false
	}
	pe, ok := carrier.ProgramError()
	if !ok {
		return "", false
	}
	return pe.Name(), true
}
