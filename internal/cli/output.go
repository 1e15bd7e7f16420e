package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/diasync/diasync/internal/fault"
)

// Exit codes for CLI commands.
const (
	ExitSuccess    = 0 // successful execution
	ExitFailure    = 1 // operation failure (validation, integrity, denied, not-found, storage)
	ExitUsageError = 2 // usage error (unknown flags, bad format, missing args)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that never
// reached a command body (cobra flag and argument errors) are usage
// errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsageError
}

// Envelope is the JSON response printed by every command.
type Envelope struct {
	Status string     `json:"status"` // "ok" | "error"
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the structured failure in a JSON envelope.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Op      string `json:"op,omitempty"`
	Key     string `json:"key,omitempty"`
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success prints data as an ok envelope, or the given text rendering.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(Envelope{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, text)
	return nil
}

// Failure prints err as an error envelope and returns the ExitError the
// command should propagate. Exit code is always ExitFailure: by the time
// an operation ran, flag parsing has succeeded.
func (f *OutputFormatter) Failure(err error) error {
	body := &ErrorBody{Kind: string(fault.KindOf(err)), Message: err.Error()}
	var fe *fault.Error
	if errors.As(err, &fe) {
		body.Message = fe.Message
		body.Op = fe.Op
		body.Key = fe.Key
	}
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(Envelope{Status: "error", Error: body})
	} else {
		fmt.Fprintf(f.Writer, "error [%s]: %s\n", body.Kind, body.Message)
	}
	return WrapExitError(ExitFailure, body.Message, err)
}
