// Package packaging turns an entry script plus compiled extensions
// into a standalone executable.
package packaging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kcontext "github.com/kiln-build/kiln/pkg/context"
	"github.com/kiln-build/kiln/pkg/hooks"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/process"
	"github.com/kiln-build/kiln/pkg/types"
	"github.com/kiln-build/kiln/pkg/utils"
)

// Request describes one packaging run
type Request struct {
	Name          string
	EntryScript   string
	OutputDir     string
	ResourcesDir  string
	Console       bool
	OneFile       bool
	Hooks         []string
	ExtraBinaries []Binary
	TemplatePath  string
}

// Orchestrator drives the external packager
type Orchestrator struct {
	pythonExe   string
	projectRoot string
	runner      process.Runner
	logger      logger.Logger
}

// New creates a packaging orchestrator
func New(pythonExe, projectRoot string, runner process.Runner, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		pythonExe:   pythonExe,
		projectRoot: projectRoot,
		runner:      runner,
		logger:      log,
	}
}

// Build packages the entry script into an executable under
// <OutputDir>/out and returns telemetry for the produced artifact.
func (o *Orchestrator) Build(ctx context.Context, req Request) (*types.BuildTelemetry, error) {
	started := time.Now()

	if err := o.ensurePackager(ctx); err != nil {
		return nil, err
	}

	binaries := FindSharedLibraries(ctx, o.runner, o.pythonExe, o.logger)
	binaries = append(binaries, req.ExtraBinaries...)

	outDir := filepath.Join(req.OutputDir, "out")
	if err := utils.EnsureDirectory(outDir); err != nil {
		return nil, err
	}

	specPath, err := o.renderSpecFile(req, binaries)
	if err != nil {
		return nil, err
	}

	if err := o.invoke(ctx, specPath, req.OutputDir, outDir); err != nil {
		return nil, err
	}

	exePath := filepath.Join(outDir, req.Name+utils.ExecutableExtension())
	size, err := utils.GetFileSize(exePath)
	if err != nil {
		o.logExpectedOutputMissing(outDir, exePath)
		return nil, types.NewBuildFailedError("packaging verification", 1)
	}

	o.cleanup(req.OutputDir)

	telemetry := &types.BuildTelemetry{
		RunID:        kcontext.GetRunID(ctx),
		Target:       req.Name,
		Duration:     time.Since(started),
		ArtifactPath: exePath,
		ArtifactSize: size,
		StartedAt:    started,
	}
	o.logSummary(telemetry)
	return telemetry, nil
}

// ensurePackager verifies the packager is importable, installing it on
// demand when it is not.
func (o *Orchestrator) ensurePackager(ctx context.Context) error {
	if err := o.runner.Check(ctx, o.pythonExe, "-c", "import PyInstaller"); err == nil {
		return nil
	}

	o.logger.Info("Packager not found, installing...")
	exitCode, err := o.runner.Stream(ctx, process.StreamSpec{
		Command: o.pythonExe,
		Args:    []string{"-m", "pip", "install", "pyinstaller"},
	})
	if err != nil || exitCode != 0 {
		return types.NewMissingDependencyError("pyinstaller",
			"install failed (exit %d): %v", exitCode, err)
	}
	return nil
}

func (o *Orchestrator) renderSpecFile(req Request, binaries []Binary) (string, error) {
	template := defaultSpecTemplate
	if req.TemplatePath != "" {
		data, err := os.ReadFile(req.TemplatePath)
		if err != nil {
			return "", types.NewConfigurationError("packaging template not readable: %s", req.TemplatePath)
		}
		template = string(data)
	}

	rendered := RenderSpec(template, RenderParams{
		MainScript:    req.EntryScript,
		Name:          req.Name,
		Console:       req.Console,
		OneFile:       req.OneFile,
		ResourcesDir:  req.ResourcesDir,
		Binaries:      binaries,
		Hooks:         req.Hooks,
		HiddenImports: hooks.HiddenImports(),
	})

	specPath := filepath.Join(req.OutputDir, req.Name+".spec")
	if err := utils.WriteFileAtomic(specPath, []byte(rendered)); err != nil {
		return "", err
	}
	return specPath, nil
}

func (o *Orchestrator) invoke(ctx context.Context, specPath, workRoot, outDir string) error {
	args := []string{
		"-m", "PyInstaller",
		specPath,
		"--clean",
		"--distpath", outDir,
		"--workpath", filepath.Join(workRoot, "temp"),
	}
	o.logger.Info("Running packager", logger.WithField("spec", filepath.Base(specPath)))

	var lastLines []string
	exitCode, err := o.runner.Stream(ctx, process.StreamSpec{
		Command: o.pythonExe,
		Args:    args,
		Dir:     o.projectRoot,
		LineHandler: func(line string) {
			lastLines = append(lastLines, line)
			if len(lastLines) > 10 {
				lastLines = lastLines[1:]
			}
			lower := strings.ToLower(line)
			if strings.Contains(lower, "error") || strings.Contains(lower, "traceback") ||
				strings.Contains(lower, "warning") {
				o.logger.Warn(line)
			}
		},
	})
	if err != nil {
		return &types.BuildFailedError{Stage: "packaging", Err: err}
	}
	if exitCode != 0 {
		o.logger.Error("Packager failed", logger.WithField("exitCode", exitCode))
		for _, line := range lastLines {
			o.logger.Error("  " + line)
		}
		return types.NewBuildFailedError("packaging", exitCode)
	}
	return nil
}

// logExpectedOutputMissing enumerates what the packager did produce so
// the failure is diagnosable.
func (o *Orchestrator) logExpectedOutputMissing(outDir, expected string) {
	o.logger.Error("Expected executable not found", logger.WithField("path", expected))

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		o.logger.Error("Output directory contains", logger.WithField("file", entry.Name()))
	}
}

// cleanup removes transient packager work dirs: the work path and any
// stray dist directory dropped at the project root.
func (o *Orchestrator) cleanup(outputDir string) {
	tempDir := filepath.Join(outputDir, "temp")
	if utils.DirectoryExists(tempDir) {
		if err := os.RemoveAll(tempDir); err != nil {
			o.logger.Warn("Could not remove packager work directory",
				logger.WithField("path", tempDir),
				logger.WithField("error", err))
		}
	}

	strayDist := filepath.Join(o.projectRoot, "dist")
	if utils.DirectoryExists(strayDist) {
		if err := os.RemoveAll(strayDist); err != nil {
			o.logger.Warn("Could not remove stray dist directory",
				logger.WithField("path", strayDist),
				logger.WithField("error", err))
		}
	}
}

func (o *Orchestrator) logSummary(t *types.BuildTelemetry) {
	line := strings.Repeat("=", 50)
	o.logger.Info(line)
	o.logger.Info(center(" BUILD SUMMARY ", 50, '='))
	o.logger.Info(line)
	o.logger.Info(fmt.Sprintf("Build time:      %s", utils.FormatDuration(t.Duration)))
	o.logger.Info(fmt.Sprintf("Executable size: %s", utils.FormatBytes(t.ArtifactSize)))
	o.logger.Info(fmt.Sprintf("Executable path: %s", t.ArtifactPath))
	o.logger.Info(line)
}

func center(s string, width int, pad rune) string {
	if len(s) >= width {
		return s
	}
	total := width - len(s)
	left := total / 2
	right := total - left
	return strings.Repeat(string(pad), left) + s + strings.Repeat(string(pad), right)
}
