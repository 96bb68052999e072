package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiln-build/kiln/pkg/buildstate"
	"github.com/kiln-build/kiln/pkg/config"
	kcontext "github.com/kiln-build/kiln/pkg/context"
	"github.com/kiln-build/kiln/pkg/hooks"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/notifier"
	"github.com/kiln-build/kiln/pkg/packaging"
	"github.com/kiln-build/kiln/pkg/process"
	"github.com/kiln-build/kiln/pkg/utils"
	"github.com/kiln-build/kiln/pkg/validation"
)

// ProjectPipeline packages a game project into an executable, building
// the engine first when its artifacts are missing.
type ProjectPipeline struct {
	cfg        *config.Config
	root       string
	name       string
	sourceDir  string
	buildDir   string
	engine     *EnginePipeline
	state      *buildstate.State
	composer   *hooks.Composer
	packager   *packaging.Orchestrator
	notifier   *notifier.BuildNotifier
	runner     process.Runner
	logger     logger.LoggerContext
}

// NewProjectPipeline assembles the project build flow
func NewProjectPipeline(cfg *config.Config, root string, engine *EnginePipeline, runner process.Runner, notify *notifier.BuildNotifier, log logger.Logger) *ProjectPipeline {
	sourceDir := root
	if cfg.Project.SourceDir != "" {
		sourceDir = filepath.Join(root, cfg.Project.SourceDir)
	}

	name := cfg.Project.Name
	if name == "" {
		name = filepath.Base(sourceDir)
	}

	buildDir := filepath.Join(root, "build", name)
	if cfg.Project.BuildDir != "" {
		buildDir = filepath.Join(root, cfg.Project.BuildDir)
	}

	hooksDir := filepath.Join(root, cfg.Engine.SourceDir, "hooks")

	// Packaging places the executable under <buildDir>/out; the state
	// tracker has to look there, not at its default location.
	state := buildstate.New(sourceDir, buildDir, name, log)
	state.SetExpectedArtifact(filepath.Join(buildDir, "out", name+utils.ExecutableExtension()))

	return &ProjectPipeline{
		cfg:       cfg,
		root:      root,
		name:      name,
		sourceDir: sourceDir,
		buildDir:  buildDir,
		engine:    engine,
		state:     state,
		composer:  hooks.NewComposer(hooksDir, log),
		packager:  packaging.New(cfg.PythonExecutable(), root, runner, log),
		notifier:  notify,
		runner:    runner,
		logger:    log.WithTarget(name),
	}
}

// Name returns the project target name
func (p *ProjectPipeline) Name() string {
	return p.name
}

// State exposes the build state for status reporting
func (p *ProjectPipeline) State() *buildstate.State {
	return p.state
}

// Build runs the project flow: engine artifacts first, then the
// rebuild gate, hooks, and packaging. A run where nothing changed
// performs no packaging at all.
func (p *ProjectPipeline) Build(ctx context.Context, force bool) error {
	ctx = kcontext.NewBuildRun(ctx, p.name)
	started := time.Now()
	p.logger.InfoContext(ctx, "Starting project build")

	if !p.engine.HasArtifacts() {
		p.logger.Info("Engine artifacts missing, building engine first")
		if err := p.engine.Build(ctx, false); err != nil {
			p.notifier.NotifyBuildFailure(p.name, err)
			return err
		}
	}

	rebuild, reason := p.state.ShouldRebuild(p.cfg.OverrideMap())
	if force {
		rebuild, reason = true, "force rebuild requested"
	}
	if !rebuild {
		p.logger.Info("Project is up to date, skipping packaging",
			logger.WithField("reason", reason))
		return nil
	}
	p.logger.Info("Rebuilding project", logger.WithField("reason", reason))

	entryScript, err := validation.FindEntryScript(p.sourceDir)
	if err != nil {
		p.notifier.NotifyBuildFailure(p.name, err)
		return err
	}
	p.logger.Info("Using entry script", logger.WithField("script", entryScript))

	if missing := p.composer.Verify(); len(missing) > 0 {
		p.logger.Warn("Required hook templates missing",
			logger.WithField("hooks", strings.Join(missing, ", ")))
	}

	hookFiles, err := p.composer.Compose(p.buildDir)
	if err != nil {
		p.notifier.NotifyBuildFailure(p.name, err)
		return err
	}

	resourcesDir := filepath.Join(p.sourceDir, p.cfg.ResourceDirName())
	if !p.cfg.IncludeResources() || !utils.DirectoryExists(resourcesDir) {
		resourcesDir = ""
	}

	telemetry, err := p.packager.Build(ctx, packaging.Request{
		Name:         p.name,
		EntryScript:  entryScript,
		OutputDir:    p.buildDir,
		ResourcesDir: resourcesDir,
		Console:      p.cfg.ConsoleEnabled(),
		OneFile:      p.cfg.OneFileEnabled(),
		Hooks:        hookFiles,
	})
	if err != nil {
		p.notifier.NotifyBuildFailure(p.name, err)
		return err
	}

	p.state.SetExpectedArtifact(telemetry.ArtifactPath)
	if err := p.state.MarkSuccessfulBuild(p.cfg.OverrideMap()); err != nil {
		p.logger.Warn("Could not persist build state", logger.WithField("error", err))
	}

	duration := time.Since(started)
	p.logger.SuccessContext(ctx, "Project build complete",
		logger.WithField("artifact", telemetry.ArtifactPath),
		logger.WithField("duration", utils.FormatDuration(duration)))
	p.notifier.NotifyBuildSuccess(p.name, duration)
	return nil
}
