// Package cli provides the command-line interface for Kiln
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiln-build/kiln/pkg/config"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/types"
	"github.com/kiln-build/kiln/pkg/utils"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	pythonExe   string
	version     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Fires raw sources into finished executables",
	Long: `🔥 Kiln - Build orchestration for native-extension game projects

Kiln compiles native extension modules, tracks what changed by content
hash so unchanged work is never redone, and packages projects into
standalone executables with their runtime hooks in the right order.`,

	SilenceUsage:  true,
	SilenceErrors: true,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("🔥 Kiln v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// Explicit initialization instead of init() keeps it testable.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: kiln.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&pythonExe, "python", "", "interpreter used to drive external build tools")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("kiln.config")
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("KILN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadEnvironment resolves the project root, loads and validates the
// configuration, applies flag and env overrides, and builds the logger.
func loadEnvironment() (*config.Config, logger.Logger, string, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, "", err
	}

	path := cfgFile
	if path == "" {
		path = findConfigFile(root)
	}
	if path == "" {
		return nil, nil, "", types.NewConfigurationError("no kiln.config.json or kiln.config.yaml found in %s", root)
	}

	manager := config.NewManager()
	cfg, err := manager.LoadConfig(path)
	if err != nil {
		return nil, nil, "", err
	}

	config.ApplyOverrides(cfg, config.NewViperSource(nil))
	if pythonExe != "" {
		cfg.Python.Executable = pythonExe
	}

	log := buildLogger(cfg, root)
	return cfg, log, root, nil
}

func findConfigFile(root string) string {
	for _, name := range []string{"kiln.config.json", "kiln.config.yaml", "kiln.config.yml"} {
		path := filepath.Join(root, name)
		if utils.FileExists(path) {
			return path
		}
	}
	return ""
}

func buildLogger(cfg *config.Config, root string) logger.Logger {
	level := verbosity
	logFile := ""
	if cfg.Logging != nil {
		if cfg.Logging.Level != "" && !rootCmd.PersistentFlags().Changed("verbosity") {
			level = string(cfg.Logging.Level)
		}
		if cfg.Logging.File != "" {
			logFile = filepath.Join(root, cfg.Logging.File)
			utils.EnsureDirectory(filepath.Dir(logFile))
		}
	}
	return logger.CreateLogger(logFile, level)
}

// console handles CLI output outside of the structured build log
var console = logger.NewConsoleLogger()

func printSuccess(message string) {
	console.Success(message)
}

func printError(message string) {
	console.Error(message)
}

func printInfo(message string) {
	console.Info(message)
}
