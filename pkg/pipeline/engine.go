// Package pipeline wires the build stages into the engine and project
// build flows.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/kiln-build/kiln/pkg/buildcache"
	"github.com/kiln-build/kiln/pkg/compiler"
	"github.com/kiln-build/kiln/pkg/config"
	kcontext "github.com/kiln-build/kiln/pkg/context"
	"github.com/kiln-build/kiln/pkg/extensions"
	"github.com/kiln-build/kiln/pkg/hashing"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/process"
	"github.com/kiln-build/kiln/pkg/types"
	"github.com/kiln-build/kiln/pkg/utils"
	"github.com/kiln-build/kiln/pkg/validation"
)

// EnginePipeline builds the engine: compiles extensions, then produces
// wheel and source distributions when anything changed.
type EnginePipeline struct {
	cfg         *config.Config
	projectRoot string
	buildDir    string
	pythonExe   string
	runner      process.Runner
	cache       *buildcache.Cache
	compiler    *compiler.Orchestrator
	hasher      *hashing.Hasher
	logger      logger.LoggerContext
}

// NewEnginePipeline assembles the engine build flow from configuration
func NewEnginePipeline(cfg *config.Config, projectRoot string, runner process.Runner, log logger.Logger) *EnginePipeline {
	buildDir := filepath.Join(projectRoot, cfg.Engine.BuildDir)
	if cfg.Engine.BuildDir == "" {
		buildDir = filepath.Join(projectRoot, "build", "engine")
	}

	cache := buildcache.New(buildDir, log)

	moduleDirs := make([]types.ModuleDir, 0, len(cfg.ModuleDirs))
	for _, dir := range cfg.ModuleDirs {
		moduleDirs = append(moduleDirs, types.ModuleDir{
			Path:        filepath.Join(projectRoot, dir.Path),
			Description: dir.Description,
		})
	}

	registry := extensions.NewRegistry(projectRoot, cfg.Extensions, log)
	comp := compiler.New(compiler.Options{
		PythonExe:   cfg.PythonExecutable(),
		ProjectRoot: projectRoot,
		BuildDir:    buildDir,
		Directives:  cfg.Directives(),
		Inplace:     cfg.Inplace(),
		Flags:       cfg.Compiler.Flags,
		ModuleDirs:  moduleDirs,
	}, registry, cache, runner, log)

	return &EnginePipeline{
		cfg:         cfg,
		projectRoot: projectRoot,
		buildDir:    buildDir,
		pythonExe:   cfg.PythonExecutable(),
		runner:      runner,
		cache:       cache,
		compiler:    comp,
		hasher:      hashing.New(log),
		logger:      log.WithTarget("engine"),
	}
}

// BuildDir returns the engine build output directory
func (p *EnginePipeline) BuildDir() string {
	return p.buildDir
}

// Cache exposes the hash cache for status reporting
func (p *EnginePipeline) Cache() *buildcache.Cache {
	return p.cache
}

// HasArtifacts reports whether a previously built wheel exists
func (p *EnginePipeline) HasArtifacts() bool {
	return len(p.wheelFiles()) > 0
}

// Build runs the engine flow. A run where nothing changed performs no
// external tool invocations beyond the interpreter version probe.
func (p *EnginePipeline) Build(ctx context.Context, force bool) error {
	ctx = kcontext.NewBuildRun(ctx, "engine")
	p.logger.InfoContext(ctx, "Starting engine build",
		logger.WithField("python", p.pythonExe))

	if err := validation.CheckPythonVersion(ctx, p.runner, p.pythonExe, p.cfg.Python.MinVersion); err != nil {
		return err
	}

	if err := utils.EnsureDirectory(p.buildDir); err != nil {
		return err
	}

	if err := p.compiler.Compile(ctx, force); err != nil {
		return err
	}

	rebuilt := p.cache.CheckAndResetRebuiltFlag()
	if err := p.cache.Save(); err != nil {
		p.logger.Warn("Could not persist cache", logger.WithField("error", err))
	}

	// The scan always runs so the building pass records current hashes;
	// otherwise the next run would mistake recorded-late files for new.
	treeChanged := p.sourceTreeChanged()
	needed := force || rebuilt || treeChanged
	wheels := p.wheelFiles()

	if !needed && len(wheels) > 0 {
		p.logger.Info("No changes detected, using existing packages")
		p.logArtifact("wheel", wheels[0])
		if sdists := p.sdistFiles(); len(sdists) > 0 {
			p.logArtifact("sdist", sdists[0])
		}
		return nil
	}

	if len(wheels) == 0 {
		p.logger.Info("Wheel package not found, building new packages")
	} else {
		p.logger.Info("Changes detected, rebuilding packages")
	}

	if err := p.buildWheel(ctx); err != nil {
		return err
	}
	p.buildSdist(ctx)

	if err := p.cache.Save(); err != nil {
		p.logger.Warn("Could not persist cache", logger.WithField("error", err))
	}

	p.logger.SuccessContext(ctx, "Engine build complete")
	return nil
}

// sourceTreeChanged scans the engine's .py files plus setup.py and
// compares content hashes against the cache, updating it in place.
// Hashes alone decide; timestamps are never consulted.
func (p *EnginePipeline) sourceTreeChanged() bool {
	doc := p.cache.Load()
	changed := false

	sourceDir := filepath.Join(p.projectRoot, p.cfg.Engine.SourceDir)
	filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(d.Name()) != ".py" {
			return nil
		}
		if p.fileChanged(doc, path) {
			changed = true
		}
		return nil
	})

	setupPy := filepath.Join(p.projectRoot, "setup.py")
	if utils.FileExists(setupPy) && p.fileChanged(doc, setupPy) {
		p.logger.Info("setup.py has changed, rebuilding packages")
		changed = true
	}

	return changed
}

func (p *EnginePipeline) fileChanged(doc *buildcache.Document, path string) bool {
	hash, ok := p.hasher.HashFile(path)
	if !ok {
		return true
	}

	key := filepath.ToSlash(path)
	if doc.Files[key] == hash {
		return false
	}
	doc.Files[key] = hash

	if rel, err := filepath.Rel(p.projectRoot, path); err == nil {
		p.logger.Info("Source file has changed", logger.WithField("file", filepath.ToSlash(rel)))
	}
	return true
}

func (p *EnginePipeline) buildWheel(ctx context.Context) error {
	ctx = kcontext.WithOperation(ctx, "wheel-build")
	p.logger.InfoContext(ctx, "Building wheel package...")

	exitCode, err := p.runner.Stream(ctx, process.StreamSpec{
		Command: p.pythonExe,
		Args:    []string{"-m", "pip", "wheel", ".", "-w", p.buildDir},
		Dir:     p.projectRoot,
		LineHandler: func(line string) {
			if strings.Contains(line, "Building wheel") || strings.Contains(line, "Created wheel") ||
				strings.Contains(line, "Processing") {
				p.logger.Info(line)
			}
		},
	})
	if err != nil {
		return &types.BuildFailedError{Stage: "wheel build", Err: err}
	}
	if exitCode != 0 {
		return types.NewBuildFailedError("wheel build", exitCode)
	}

	wheels := p.wheelFiles()
	if len(wheels) == 0 {
		p.logger.Error("Wheel file not found after build")
		return types.NewBuildFailedError("wheel verification", 1)
	}
	p.logArtifact("wheel", wheels[0])
	return nil
}

// buildSdist builds the source distribution. A failure here is
// tolerated: the wheel already exists and is what downstream consumes.
func (p *EnginePipeline) buildSdist(ctx context.Context) {
	ctx = kcontext.WithOperation(ctx, "sdist-build")
	p.logger.InfoContext(ctx, "Building source distribution...")

	exitCode, err := p.runner.Stream(ctx, process.StreamSpec{
		Command: p.pythonExe,
		Args:    []string{"setup.py", "sdist"},
		Dir:     p.projectRoot,
	})
	if err != nil || exitCode != 0 {
		p.logger.Warn("Source distribution build failed, continuing with wheel only",
			logger.WithField("exitCode", exitCode))
	}
}

func (p *EnginePipeline) enginePackageName() string {
	return filepath.Base(p.cfg.Engine.SourceDir)
}

func (p *EnginePipeline) wheelFiles() []string {
	matches, _ := filepath.Glob(filepath.Join(p.buildDir, p.enginePackageName()+"-*.whl"))
	return matches
}

func (p *EnginePipeline) sdistFiles() []string {
	matches, _ := filepath.Glob(filepath.Join(p.buildDir, p.enginePackageName()+"-*.tar.gz"))
	return matches
}

func (p *EnginePipeline) logArtifact(kind, path string) {
	size, err := utils.GetFileSize(path)
	if err != nil {
		return
	}
	p.logger.Info(fmt.Sprintf("Using %s package: %s", kind, filepath.Base(path)),
		logger.WithField("size", utils.FormatBytes(size)))
}
