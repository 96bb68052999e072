// Package compiler orchestrates native extension compilation through a
// transient generated build script.
package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiln-build/kiln/pkg/buildcache"
	"github.com/kiln-build/kiln/pkg/extensions"
	"github.com/kiln-build/kiln/pkg/locator"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/process"
	"github.com/kiln-build/kiln/pkg/types"
	"github.com/kiln-build/kiln/pkg/utils"
)

// Phase is one step of the compilation state machine. Phases advance
// linearly; Failed and Done are terminal.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDetermining Phase = "determining-stale-units"
	PhaseGenerating  Phase = "generating"
	PhaseInvoking    Phase = "invoking"
	PhaseReconciling Phase = "reconciling"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

const buildScriptName = "kiln_build_units.py"

// Options configures a compilation run
type Options struct {
	PythonExe   string
	ProjectRoot string
	BuildDir    string
	Directives  types.CompilerDirectives
	Inplace     bool
	Flags       []string
	ModuleDirs  []types.ModuleDir
}

// Orchestrator drives one extension-compilation run
type Orchestrator struct {
	opts     Options
	registry *extensions.Registry
	cache    *buildcache.Cache
	locator  *locator.Locator
	runner   process.Runner
	logger   logger.Logger
	phase    Phase
}

// New creates a compilation orchestrator
func New(opts Options, registry *extensions.Registry, cache *buildcache.Cache, runner process.Runner, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		opts:     opts,
		registry: registry,
		cache:    cache,
		locator:  locator.New(log),
		runner:   runner,
		logger:   log,
		phase:    PhaseIdle,
	}
}

// Phase returns the current phase, for status reporting
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

// Compile runs the full pipeline: determine stale units, generate the
// transient build script, invoke the toolchain, and reconcile output
// into the declared module directories. Reconciliation runs even after
// an invocation failure because partial artifacts may exist; a
// reconciliation failure is fatal.
func (o *Orchestrator) Compile(ctx context.Context, force bool) error {
	o.phase = PhaseDetermining

	units, err := o.registry.Units(o.opts.Flags)
	if err != nil {
		o.phase = PhaseFailed
		return err
	}

	// With no compiled output anywhere a stale-set of zero would still
	// leave nothing to reconcile, so compile everything.
	if !force && !o.anyModulesPresent() {
		o.logger.Info("No compiled modules found, compiling all units")
		force = true
	}

	stale := o.registry.CheckFileChanges(units, o.cache, force)
	if err := o.cache.Save(); err != nil {
		o.logger.Warn("Could not persist hash cache", logger.WithField("error", err))
	}

	if len(stale) == 0 {
		o.logger.Info("No extension sources have changed, skipping compilation")
		return o.reconcile(nil)
	}

	o.logger.Info(fmt.Sprintf("Compiling %d/%d extension modules", len(stale), len(units)))

	o.phase = PhaseGenerating
	scriptPath := filepath.Join(o.opts.BuildDir, buildScriptName)
	if err := o.writeBuildScript(scriptPath, stale); err != nil {
		o.phase = PhaseFailed
		return fmt.Errorf("generating build script: %w", err)
	}
	defer os.Remove(scriptPath)

	o.phase = PhaseInvoking
	invokeErr := o.invoke(ctx, scriptPath)

	// The toolchain ran, so artifacts may have changed either way.
	o.cache.MarkRebuilt()
	if err := o.cache.Save(); err != nil {
		o.logger.Warn("Could not persist rebuilt flag", logger.WithField("error", err))
	}

	return o.reconcile(invokeErr)
}

func (o *Orchestrator) anyModulesPresent() bool {
	for _, dir := range o.opts.ModuleDirs {
		if o.locator.HasCompiledModules(dir.Path) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) invoke(ctx context.Context, scriptPath string) error {
	args := []string{scriptPath, "build_ext"}
	if o.opts.Inplace {
		args = append(args, "--inplace")
	}

	logSink, closeSink := o.openBuildLog()
	defer closeSink()

	exitCode, err := o.runner.Stream(ctx, process.StreamSpec{
		Command: o.opts.PythonExe,
		Args:    args,
		Dir:     o.opts.ProjectRoot,
		LogSink: logSink,
		LineHandler: func(line string) {
			lower := strings.ToLower(line)
			switch {
			case strings.Contains(line, "Cythonizing") && strings.Contains(line, "["):
				o.logger.Info(line)
			case strings.Contains(lower, "error"):
				o.logger.Error(line)
			case strings.Contains(lower, "warning"):
				o.logger.Warn(line)
			}
		},
	})
	if err != nil {
		return &types.BuildFailedError{Stage: "module compilation", Err: err}
	}
	if exitCode != 0 {
		o.logger.Error("Module compilation failed", logger.WithField("exitCode", exitCode))
		return types.NewBuildFailedError("module compilation", exitCode)
	}
	return nil
}

// reconcile copies build-tree output into the declared module dirs.
// invokeErr, when set, is returned after a successful reconciliation so
// the invocation failure is not masked by salvaged artifacts.
func (o *Orchestrator) reconcile(invokeErr error) error {
	o.phase = PhaseReconciling

	roots := []string{
		o.opts.BuildDir,
		filepath.Dir(o.opts.BuildDir),
		filepath.Join(o.opts.ProjectRoot, "build"),
	}

	if err := o.locator.Reconcile(o.opts.ModuleDirs, roots); err != nil {
		o.phase = PhaseFailed
		return err
	}

	if invokeErr != nil {
		o.phase = PhaseFailed
		return invokeErr
	}

	o.phase = PhaseDone
	return nil
}

func (o *Orchestrator) openBuildLog() (io.Writer, func()) {
	logPath := filepath.Join(o.opts.BuildDir, "build.log")
	if err := utils.EnsureDirectory(o.opts.BuildDir); err != nil {
		return nil, func() {}
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		o.logger.Warn("Could not open build log", logger.WithField("error", err))
		return nil, func() {}
	}
	fmt.Fprintln(f, "--- Module Compilation Output ---")
	return f, func() { f.Close() }
}

// writeBuildScript emits the transient setup script that names the
// stale units and the compiler directives for this run.
func (o *Orchestrator) writeBuildScript(path string, units []types.CompilationUnit) error {
	var b strings.Builder

	b.WriteString("from setuptools import setup\n")
	b.WriteString("from setuptools.extension import Extension\n")
	b.WriteString("from Cython.Build import cythonize\n\n")
	b.WriteString("ext_modules = [\n")

	for _, unit := range units {
		fmt.Fprintf(&b, "    Extension(%s, %s, extra_compile_args=%s),\n",
			pyString(unit.Name), pyList(unit.Sources), pyList(unit.CompileArgs))
	}

	b.WriteString("]\n\n")
	b.WriteString("setup(\n")
	fmt.Fprintf(&b, "    name=%s,\n", pyString("kiln_native_modules"))
	b.WriteString("    ext_modules=cythonize(\n")
	b.WriteString("        ext_modules,\n")
	fmt.Fprintf(&b, "        compiler_directives={\n")
	fmt.Fprintf(&b, "            'language_level': %d,\n", o.opts.Directives.LanguageLevel)
	fmt.Fprintf(&b, "            'boundscheck': %s,\n", pyBool(o.opts.Directives.BoundsCheck))
	fmt.Fprintf(&b, "            'wraparound': %s,\n", pyBool(o.opts.Directives.Wraparound))
	fmt.Fprintf(&b, "            'cdivision': %s,\n", pyBool(o.opts.Directives.CDivision))
	b.WriteString("        },\n")
	b.WriteString("    ),\n")
	b.WriteString(")\n")

	return utils.WriteFileAtomic(path, []byte(b.String()))
}

func pyString(s string) string {
	return "r'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func pyList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, pyString(filepath.ToSlash(item)))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
