// Package types provides core types shared across the Kiln build system
package types

import "time"

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// CompilerDirectives holds the independently toggleable native-compiler
// directives derived from configuration.
type CompilerDirectives struct {
	LanguageLevel int  `json:"languageLevel"`
	BoundsCheck   bool `json:"boundscheck"`
	Wraparound    bool `json:"wraparound"`
	CDivision     bool `json:"cdivision"`
}

// DefaultCompilerDirectives returns the directive set used when the
// configuration does not override anything.
func DefaultCompilerDirectives() CompilerDirectives {
	return CompilerDirectives{
		LanguageLevel: 3,
		BoundsCheck:   false,
		Wraparound:    false,
		CDivision:     true,
	}
}

// CompilationUnit is one native extension module built from one or more
// source files. Immutable once constructed for a given run.
type CompilationUnit struct {
	Name        string
	Sources     []string
	CompileArgs []string
}

// ModuleDir pairs a declared extension output directory with its
// human-readable description from the manifest.
type ModuleDir struct {
	Path        string
	Description string
}

// BuildTelemetry captures size and duration figures for a finished build
type BuildTelemetry struct {
	RunID        string
	Target       string
	Duration     time.Duration
	ArtifactPath string
	ArtifactSize int64
	StartedAt    time.Time
}
