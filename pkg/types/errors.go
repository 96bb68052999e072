package types

import (
	"errors"
	"fmt"
)

// Process exit codes, one per failure category.
const (
	ExitOK                = 0
	ExitRuntimeError      = 1
	ExitInvalidConfig     = 2
	ExitMissingDependency = 3
	ExitBuildFailed       = 4
	ExitPythonMismatch    = 5
)

// ConfigurationError reports malformed or missing declarative input.
// Fatal, never retried.
type ConfigurationError struct {
	Detail string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Detail)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

// MissingDependencyError reports a required external tool, artifact, or
// hook template that is absent. Fatal.
type MissingDependencyError struct {
	Dependency string
	Detail     string
}

func (e *MissingDependencyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("missing dependency %s: %s", e.Dependency, e.Detail)
	}
	return fmt.Sprintf("missing dependency: %s", e.Dependency)
}

// NewMissingDependencyError creates a MissingDependencyError
func NewMissingDependencyError(dependency, format string, args ...interface{}) *MissingDependencyError {
	return &MissingDependencyError{Dependency: dependency, Detail: fmt.Sprintf(format, args...)}
}

// BuildFailedError reports a non-zero exit from an external compiler or
// packager. Fatal for the stage that raised it.
type BuildFailedError struct {
	Stage    string
	ExitCode int
	Err      error
}

func (e *BuildFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed with exit code %d", e.Stage, e.ExitCode)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// NewBuildFailedError creates a BuildFailedError
func NewBuildFailedError(stage string, exitCode int) *BuildFailedError {
	return &BuildFailedError{Stage: stage, ExitCode: exitCode}
}

// PythonVersionError reports an interpreter that does not satisfy the
// minimum supported version.
type PythonVersionError struct {
	Found    string
	Required string
}

func (e *PythonVersionError) Error() string {
	return fmt.Sprintf("python %s found, %s or newer required", e.Found, e.Required)
}

// ExitCodeFor maps an error to the process exit code for its category.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	var confErr *ConfigurationError
	if errors.As(err, &confErr) {
		return ExitInvalidConfig
	}

	var depErr *MissingDependencyError
	if errors.As(err, &depErr) {
		return ExitMissingDependency
	}

	var buildErr *BuildFailedError
	if errors.As(err, &buildErr) {
		return ExitBuildFailed
	}

	var pyErr *PythonVersionError
	if errors.As(err, &pyErr) {
		return ExitPythonMismatch
	}

	return ExitRuntimeError
}
