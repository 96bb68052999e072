package config

import (
	"github.com/spf13/viper"

	"github.com/kiln-build/kiln/pkg/types"
)

// Source is the single normalized configuration interface: a capability
// of "get typed value by key with default". Every configuration source
// implements it so callers never branch on the concrete type behind it.
type Source interface {
	GetString(key string, def string) string
	GetBool(key string, def bool) bool
	GetInt(key string, def int) int
}

// ViperSource adapts a viper instance to Source
type ViperSource struct {
	v *viper.Viper
}

// NewViperSource wraps a viper instance. A nil instance falls back to
// the global viper, which the CLI primes with flags and KILN_* env vars.
func NewViperSource(v *viper.Viper) *ViperSource {
	if v == nil {
		v = viper.GetViper()
	}
	return &ViperSource{v: v}
}

// GetString returns the string at key, or def when unset
func (s *ViperSource) GetString(key string, def string) string {
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetString(key)
}

// GetBool returns the bool at key, or def when unset
func (s *ViperSource) GetBool(key string, def bool) bool {
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetBool(key)
}

// GetInt returns the int at key, or def when unset
func (s *ViperSource) GetInt(key string, def int) int {
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetInt(key)
}

// MapSource is a plain map-backed Source, used for tests and defaults
type MapSource map[string]interface{}

// GetString returns the string at key, or def when unset
func (s MapSource) GetString(key string, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// GetBool returns the bool at key, or def when unset
func (s MapSource) GetBool(key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// GetInt returns the int at key, or def when unset
func (s MapSource) GetInt(key string, def int) int {
	if v, ok := s[key].(int); ok {
		return v
	}
	return def
}

// ApplyOverrides layers values from a Source (flags, env) over a loaded
// configuration document. Only keys the source actually carries win;
// everything else keeps the document's value.
func ApplyOverrides(cfg *Config, src Source) {
	d := cfg.Directives()
	d = types.CompilerDirectives{
		LanguageLevel: src.GetInt("compiler.languageLevel", d.LanguageLevel),
		BoundsCheck:   src.GetBool("compiler.boundscheck", d.BoundsCheck),
		Wraparound:    src.GetBool("compiler.wraparound", d.Wraparound),
		CDivision:     src.GetBool("compiler.cdivision", d.CDivision),
	}
	cfg.Compiler.LanguageLevel = &d.LanguageLevel
	cfg.Compiler.BoundsCheck = &d.BoundsCheck
	cfg.Compiler.Wraparound = &d.Wraparound
	cfg.Compiler.CDivision = &d.CDivision

	inplace := src.GetBool("compiler.inplace", cfg.Inplace())
	cfg.Compiler.Inplace = &inplace

	console := src.GetBool("package.console", cfg.ConsoleEnabled())
	cfg.Package.Console = &console

	onefile := src.GetBool("package.onefile", cfg.OneFileEnabled())
	cfg.Package.OneFile = &onefile

	cfg.Python.Executable = src.GetString("python.executable", cfg.Python.Executable)
	cfg.Python.MinVersion = src.GetString("python.minVersion", cfg.Python.MinVersion)
}

// DirectivesFrom resolves compiler directives from any Source
func DirectivesFrom(src Source) types.CompilerDirectives {
	d := types.DefaultCompilerDirectives()
	d.LanguageLevel = src.GetInt("compiler.languageLevel", d.LanguageLevel)
	d.BoundsCheck = src.GetBool("compiler.boundscheck", d.BoundsCheck)
	d.Wraparound = src.GetBool("compiler.wraparound", d.Wraparound)
	d.CDivision = src.GetBool("compiler.cdivision", d.CDivision)
	return d
}
