package flowline

import (
	"errors"
	"fmt"
)

var ErrEntityNotFound = errors.New("entity not found")

// ConfigError marks a node configuration problem: the stored config is
// invalid or incomplete. It is never worth retrying.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}

	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// MissingConfigError reports a required config field that is absent.
func MissingConfigError(field string) *ConfigError {
	return &ConfigError{Field: field, Reason: "required field missing"}
}

type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string { return e.err.Error() }

func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriable wraps err so the engine fails the node immediately instead
// of consuming the retry budget.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}

	return &nonRetriableError{err: err}
}

// IsNonRetriable reports whether err is a permanent failure: either an
// explicit NonRetriable wrap or a configuration error anywhere in the chain.
func IsNonRetriable(err error) bool {
	var nr *nonRetriableError
	if errors.As(err, &nr) {
		return true
	}

	var cfg *ConfigError
	return errors.As(err, &cfg)
}

// CycleError is returned by OrderNodes when the connection set is cyclic.
// The engine treats it as a permanent failure of the whole run.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	if e.NodeID == "" {
		return "workflow contains a cycle"
	}

	return fmt.Sprintf("workflow contains a cycle through node %s", e.NodeID)
}

// PanicError carries the recovered value and stack of a panicking executor.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in executor: %v", e.Value)
}
