package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kiln-build/kiln/pkg/config"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/notifier"
	"github.com/kiln-build/kiln/pkg/pipeline"
	"github.com/kiln-build/kiln/pkg/process"
	"github.com/kiln-build/kiln/pkg/watcher"
)

func newBuildCmd() *cobra.Command {
	var force bool
	var noNotify bool

	cmd := &cobra.Command{
		Use:   "build [target]",
		Short: "Build the engine or a project",
		Long: `Build a target once. With no argument the engine is built: native
extensions are compiled and the distributable packages produced. With a
project directory as argument the project is packaged into a standalone
executable, building the engine first when its artifacts are missing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) > 0 {
				target = args[0]
			}
			return runBuild(cmd.Context(), target, force, !noNotify)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "rebuild everything regardless of cached hashes")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "disable desktop notifications")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "watch [target]",
		Short: "Watch sources and rebuild on change",
		Long:  `Watch the source tree and run an incremental build after each settled burst of changes. Ctrl-C stops watching.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) > 0 {
				target = args[0]
			}
			return runWatch(target, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "force the first rebuild")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show build state for all targets",
		Long:  `Display cached build state: last build time, cache location, and whether each target would rebuild and why.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🔥 Kiln v%s\n", version)
		},
	}
}

func runBuild(ctx context.Context, target string, force, notify bool) error {
	cfg, log, root, err := loadEnvironment()
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := process.NewRunner()
	engine := pipeline.NewEnginePipeline(cfg, root, runner, log)

	if target == "" || target == "engine" {
		if err := engine.Build(ctx, force); err != nil {
			return err
		}
		printSuccess("Engine build complete")
		return nil
	}

	project := projectPipeline(cfg, root, target, engine, runner, notify, log)
	if err := project.Build(ctx, force); err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Project %s build complete", project.Name()))
	return nil
}

func runWatch(target string, force bool) error {
	cfg, log, root, err := loadEnvironment()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	manager := process.NewManager(log)
	manager.RegisterShutdownHandler(func() {
		printInfo("Stopping watch mode")
	})
	manager.Start(ctx)

	// Cancel the context before waiting on the manager, or its signal
	// goroutine never exits when the watcher returns on its own.
	defer manager.Stop()
	defer stop()

	runner := process.NewRunner()
	engine := pipeline.NewEnginePipeline(cfg, root, runner, log)

	roots := []string{filepath.Join(root, cfg.Engine.SourceDir)}
	rebuild := func(ctx context.Context) error {
		return engine.Build(ctx, false)
	}

	if target != "" && target != "engine" {
		project := projectPipeline(cfg, root, target, engine, runner, true, log)
		roots = append(roots, filepath.Join(root, target))
		rebuild = func(ctx context.Context) error {
			return project.Build(ctx, false)
		}
	}

	// Prime the build before settling into watch
	if err := rebuild(ctx); err != nil {
		printError(err.Error())
	}

	printInfo("Watching for changes (Ctrl-C to stop)")
	return watcher.New(roots, rebuild, log).Run(ctx)
}

func runStatus() error {
	cfg, log, root, err := loadEnvironment()
	if err != nil {
		return err
	}

	runner := process.NewRunner()
	engine := pipeline.NewEnginePipeline(cfg, root, runner, log)
	cache := engine.Cache()
	doc := cache.Load()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE")
	fmt.Fprintf(w, "Config\t%s\n", findConfigFile(root))
	fmt.Fprintf(w, "Cache\t%s\n", cache.Path())
	fmt.Fprintf(w, "Tracked files\t%d\n", len(doc.Files))
	if doc.LastBuild != nil {
		fmt.Fprintf(w, "Last build\t%s\n", doc.LastBuild.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(w, "Last build\t%s\n", "never")
	}
	fmt.Fprintf(w, "Engine artifacts\t%v\n", engine.HasArtifacts())

	if cfg.Project.SourceDir != "" || cfg.Project.Name != "" {
		project := projectPipeline(cfg, root, cfg.Project.SourceDir, engine, runner, false, log)
		rebuild, reason := project.State().ShouldRebuild(cfg.OverrideMap())
		fmt.Fprintf(w, "Project %s\twould rebuild: %v (%s)\n", project.Name(), rebuild, reason)
	}

	return w.Flush()
}

// projectPipeline builds a project pipeline for a target directory,
// overriding the configured project source when one is named.
func projectPipeline(cfg *config.Config, root, target string, engine *pipeline.EnginePipeline, runner process.Runner, notify bool, log logger.Logger) *pipeline.ProjectPipeline {
	if target != "" {
		projectCfg := *cfg
		projectCfg.Project.SourceDir = target
		cfg = &projectCfg
	}
	return pipeline.NewProjectPipeline(cfg, root, engine, runner, notifier.New(notify, log), log)
}
