package sqlrun

import (
	"errors"
	"fmt"
)

var (
	ErrResourceUnavailable = errors.New("script resource unavailable")
	ErrUnresolvedVariable  = errors.New("unresolved script variable")
	ErrInvalidDelimiter    = errors.New("invalid delimiter")
	ErrNoStatements        = errors.New("no valid SQL statements found")
	ErrConnectionNotFound  = errors.New("database connection config not found")
	ErrUnsupportedDriver   = errors.New("unsupported database driver")
)

// ResourceError reports a script that could not be opened or read.
type ResourceError struct {
	Name string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("failed to read SQL script %s: %v", e.Name, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func (e *ResourceError) Is(target error) bool { return target == ErrResourceUnavailable }

// UnresolvedVariableError reports a ${name} placeholder with no value.
type UnresolvedVariableError struct {
	Name string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("%s: ${%s}", ErrUnresolvedVariable, e.Name)
}

func (e *UnresolvedVariableError) Is(target error) bool { return target == ErrUnresolvedVariable }

// StatementError wraps a failed statement with its 1-based position in the script.
type StatementError struct {
	Script    string
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("failed to execute statement %d in %s: %v\nStatement: %s", e.Index, e.Script, e.Err, e.Statement)
}

func (e *StatementError) Unwrap() error { return e.Err }
