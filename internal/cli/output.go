package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Run completed, including runs with per-plant failures
	ExitFailure      = 1 // Run ended early (identity failure, authority mismatch, cancellation)
	ExitCommandError = 2 // Invalid configuration or flags
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an
// ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope for command output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"` // engine error code, e.g. "CONFIGURATION"
	Message string `json:"message"`
}

// JSON reports whether the formatter writes JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success writes data in the configured format. In text mode data is
// printed with fmt.Fprintln; commands with richer text output write it
// themselves and only call Success for JSON.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string) error {
	if f.JSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}

func (f *OutputFormatter) encode(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
