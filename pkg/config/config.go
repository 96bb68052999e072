// Package config handles build configuration loading and access
package config

import (
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kiln-build/kiln/pkg/types"
)

// EngineConfig locates the engine sources and build output
type EngineConfig struct {
	SourceDir string `json:"sourceDir" yaml:"sourceDir"`
	BuildDir  string `json:"buildDir,omitempty" yaml:"buildDir,omitempty"`
}

// ModuleDirConfig declares one extension output directory
type ModuleDirConfig struct {
	Path        string `json:"path" yaml:"path"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CompilerConfig holds native-compiler settings
type CompilerConfig struct {
	LanguageLevel *int     `json:"languageLevel,omitempty" yaml:"languageLevel,omitempty"`
	BoundsCheck   *bool    `json:"boundscheck,omitempty" yaml:"boundscheck,omitempty"`
	Wraparound    *bool    `json:"wraparound,omitempty" yaml:"wraparound,omitempty"`
	CDivision     *bool    `json:"cdivision,omitempty" yaml:"cdivision,omitempty"`
	Inplace       *bool    `json:"inplace,omitempty" yaml:"inplace,omitempty"`
	Flags         []string `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// PackageConfig holds executable packaging settings
type PackageConfig struct {
	Console          *bool  `json:"console,omitempty" yaml:"console,omitempty"`
	OneFile          *bool  `json:"onefile,omitempty" yaml:"onefile,omitempty"`
	ResourceDir      string `json:"resourceDir,omitempty" yaml:"resourceDir,omitempty"`
	IncludeResources *bool  `json:"includeResources,omitempty" yaml:"includeResources,omitempty"`
}

// ProjectConfig names the project target and its directories
type ProjectConfig struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	SourceDir string `json:"sourceDir,omitempty" yaml:"sourceDir,omitempty"`
	BuildDir  string `json:"buildDir,omitempty" yaml:"buildDir,omitempty"`
}

// PythonConfig selects the interpreter used to drive external tools
type PythonConfig struct {
	Executable string `json:"executable,omitempty" yaml:"executable,omitempty"`
	MinVersion string `json:"minVersion,omitempty" yaml:"minVersion,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string         `json:"file,omitempty" yaml:"file,omitempty"`
	Level types.LogLevel `json:"level,omitempty" yaml:"level,omitempty"`
}

// Config is the main Kiln configuration document
type Config struct {
	Version    string            `json:"version" yaml:"version"`
	Engine     EngineConfig      `json:"engine" yaml:"engine"`
	Extensions map[string]string `json:"extensions" yaml:"extensions"`
	ModuleDirs []ModuleDirConfig `json:"moduleDirs" yaml:"moduleDirs"`
	Compiler   CompilerConfig    `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	Package    PackageConfig     `json:"package,omitempty" yaml:"package,omitempty"`
	Project    ProjectConfig     `json:"project,omitempty" yaml:"project,omitempty"`
	Python     PythonConfig      `json:"python,omitempty" yaml:"python,omitempty"`
	Logging    *LoggingConfig    `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads a configuration document from a file
func (m *Manager) LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigurationError{Detail: "failed to read config file", Err: err}
	}

	var cfg Config

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	// Fall back to YAML
	if err := yaml.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	return nil, types.NewConfigurationError("failed to parse %s as JSON or YAML", path)
}

// ValidateConfig validates a configuration document
func (m *Manager) ValidateConfig(cfg *Config) error {
	if cfg.Version != "1.0" {
		return types.NewConfigurationError("unsupported config version: %q", cfg.Version)
	}

	if cfg.Engine.SourceDir == "" {
		return types.NewConfigurationError("engine.sourceDir is required")
	}

	seen := make(map[string]bool)
	for i, dir := range cfg.ModuleDirs {
		if dir.Path == "" {
			return types.NewConfigurationError("moduleDirs[%d]: missing path", i)
		}
		if seen[dir.Path] {
			return types.NewConfigurationError("duplicate module directory: %s", dir.Path)
		}
		seen[dir.Path] = true
	}

	return nil
}

// GetDefaultConfig returns a default configuration document
func (m *Manager) GetDefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Engine: EngineConfig{
			SourceDir: "engine",
			BuildDir:  "build/engine",
		},
		Extensions: map[string]string{},
		Logging: &LoggingConfig{
			File:  "logs/build.log",
			Level: types.LogLevelInfo,
		},
	}
}

// Directives resolves the compiler directives with defaults applied
func (c *Config) Directives() types.CompilerDirectives {
	d := types.DefaultCompilerDirectives()
	if c.Compiler.LanguageLevel != nil {
		d.LanguageLevel = *c.Compiler.LanguageLevel
	}
	if c.Compiler.BoundsCheck != nil {
		d.BoundsCheck = *c.Compiler.BoundsCheck
	}
	if c.Compiler.Wraparound != nil {
		d.Wraparound = *c.Compiler.Wraparound
	}
	if c.Compiler.CDivision != nil {
		d.CDivision = *c.Compiler.CDivision
	}
	return d
}

// Inplace reports whether extensions are compiled in place
func (c *Config) Inplace() bool {
	return c.Compiler.Inplace == nil || *c.Compiler.Inplace
}

// ConsoleEnabled reports whether the packaged executable keeps a console
func (c *Config) ConsoleEnabled() bool {
	return c.Package.Console == nil || *c.Package.Console
}

// OneFileEnabled reports whether the packager produces a single file
func (c *Config) OneFileEnabled() bool {
	return c.Package.OneFile == nil || *c.Package.OneFile
}

// IncludeResources reports whether the resource directory ships with
// the executable
func (c *Config) IncludeResources() bool {
	return c.Package.IncludeResources == nil || *c.Package.IncludeResources
}

// ResourceDirName returns the configured resource directory name
func (c *Config) ResourceDirName() string {
	if c.Package.ResourceDir != "" {
		return c.Package.ResourceDir
	}
	return "resources"
}

// PythonExecutable returns the configured interpreter, defaulting to
// the one on PATH
func (c *Config) PythonExecutable() string {
	if c.Python.Executable != "" {
		return c.Python.Executable
	}
	return "python3"
}

// OverrideMap returns the subset of configuration whose change must
// invalidate a previous build, in a hashable form.
func (c *Config) OverrideMap() map[string]interface{} {
	d := c.Directives()
	return map[string]interface{}{
		"directives": d,
		"inplace":    c.Inplace(),
		"console":    c.ConsoleEnabled(),
		"onefile":    c.OneFileEnabled(),
		"resources":  c.IncludeResources(),
		"flags":      c.Compiler.Flags,
	}
}

func (m *Manager) validateConfig(cfg *Config) (*Config, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
