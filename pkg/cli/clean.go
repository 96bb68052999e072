package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiln-build/kiln/pkg/utils"
)

func newCleanCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove build artifacts and caches",
		Long: `Remove the build directory, logs, compiled extension droppings
(.pyd/.so and generated .c files), __pycache__ directories, and
egg-info directories. The next build starts cold.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(dryRun)
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "list what would be removed without removing it")
	return cmd
}

func runClean(dryRun bool) error {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return err
	}

	printInfo("Cleaning up build artifacts...")
	start := time.Now()

	targets := []string{
		filepath.Join(root, "build"),
		filepath.Join(root, "dist"),
		filepath.Join(root, "logs"),
	}

	eggInfos, _ := filepath.Glob(filepath.Join(root, "*.egg-info"))
	targets = append(targets, eggInfos...)

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".venv" || name == ".git" || name == "build" {
				return filepath.SkipDir
			}
			if name == "__pycache__" {
				targets = append(targets, path)
				return filepath.SkipDir
			}
			return nil
		}
		if isCompilerDropping(d.Name()) {
			targets = append(targets, path)
		}
		return nil
	})

	removed := 0
	for _, target := range targets {
		if !utils.FileExists(target) && !utils.DirectoryExists(target) {
			continue
		}
		if dryRun {
			printInfo("Would remove: " + target)
			removed++
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			console.Warn(fmt.Sprintf("Could not remove %s: %v", target, err))
			continue
		}
		removed++
	}

	printSuccess(fmt.Sprintf("Clean completed: %d paths in %s",
		removed, utils.FormatDuration(time.Since(start))))
	return nil
}

// isCompilerDropping matches files the extension toolchain leaves in
// the source tree: compiled modules and generated C sources.
func isCompilerDropping(name string) bool {
	switch filepath.Ext(name) {
	case ".pyd", ".so":
		return true
	case ".c":
		return strings.Contains(name, ".cpython-") || strings.HasPrefix(name, "_")
	}
	return false
}
