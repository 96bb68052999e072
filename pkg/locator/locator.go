// Package locator finds compiled extension artifacts and reconciles
// build-tree output back into the declared module directories.
package locator

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/types"
	"github.com/kiln-build/kiln/pkg/utils"
)

// artifactPatterns match compiled extension modules, including the
// version-tagged names toolchains emit (e.g. name.cp312-win_amd64.pyd,
// name.cpython-312-x86_64-linux-gnu.so).
var artifactPatterns = []string{
	"*.pyd",
	"*.so",
	"*.cp*-*.pyd",
	"*.cpython-*.so",
}

// Locator locates compiled native modules on disk
type Locator struct {
	logger logger.Logger
}

// New creates a module locator
func New(log logger.Logger) *Locator {
	return &Locator{logger: log}
}

// HasCompiledModules reports whether the directory directly contains at
// least one compiled module artifact.
func (l *Locator) HasCompiledModules(dir string) bool {
	return len(l.CompiledModules(dir)) > 0
}

// CompiledModules returns the compiled artifact files directly inside
// dir, de-duplicated across overlapping patterns.
func (l *Locator) CompiledModules(dir string) []string {
	seen := make(map[string]bool)
	for _, pattern := range artifactPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			seen[m] = true
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Reconcile ensures every declared module directory contains its
// compiled artifacts. Directories already satisfied are left alone.
// Otherwise each candidate root is searched for lib.* build output
// directories and matching artifacts are copied back, skipping files
// whose size already matches. Success requires EVERY declared directory
// to hold compiled modules afterwards; a partial set is a failure.
func (l *Locator) Reconcile(declaredDirs []types.ModuleDir, candidateRoots []string) error {
	if len(declaredDirs) == 0 {
		return nil
	}

	allSatisfied := true
	for _, dir := range declaredDirs {
		if !l.HasCompiledModules(dir.Path) {
			allSatisfied = false
			break
		}
		if l.logger != nil {
			l.logger.Info("Found existing compiled modules",
				logger.WithField("dir", dir.Path),
				logger.WithField("description", dir.Description))
		}
	}

	if !allSatisfied {
		libDirs := l.findLibDirs(candidateRoots)
		if l.logger != nil {
			l.logger.Info("Searching build output for compiled modules",
				logger.WithField("libDirs", len(libDirs)))
		}

		for _, libDir := range libDirs {
			for _, declared := range declaredDirs {
				l.copyMatching(libDir, declared)
			}
		}
	}

	var missing []string
	for _, dir := range declaredDirs {
		found := l.CompiledModules(dir.Path)
		if len(found) == 0 {
			missing = append(missing, dir.Path)
			continue
		}
		if l.logger != nil {
			l.logger.Info("Compiled modules present",
				logger.WithField("dir", dir.Path),
				logger.WithField("count", len(found)))
		}
	}

	if len(missing) > 0 {
		l.logStrays(candidateRoots)
		return types.NewMissingDependencyError("compiled extension modules",
			"no artifacts found for: %s", strings.Join(missing, ", "))
	}

	return nil
}

// findLibDirs collects lib.* build output directories across the
// candidate roots, de-duplicated.
func (l *Locator) findLibDirs(roots []string) []string {
	seen := make(map[string]bool)
	var dirs []string

	for _, root := range roots {
		matches, err := filepath.Glob(filepath.Join(root, "lib.*"))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if !utils.DirectoryExists(m) || seen[m] {
				continue
			}
			seen[m] = true
			dirs = append(dirs, m)
		}
	}

	sort.Strings(dirs)
	return dirs
}

// copyMatching copies artifacts for one declared directory out of a
// lib.* tree. The build tree mirrors the package layout, so any subtree
// directory sharing the declared directory's base name is a match.
func (l *Locator) copyMatching(libDir string, declared types.ModuleDir) {
	want := filepath.Base(declared.Path)

	filepath.WalkDir(libDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || d.Name() != want {
			return nil
		}

		for _, artifact := range l.CompiledModules(path) {
			target := filepath.Join(declared.Path, filepath.Base(artifact))

			if utils.SameSize(artifact, target) {
				if l.logger != nil {
					l.logger.Debug("Artifact already in place, skipping",
						logger.WithField("file", filepath.Base(target)))
				}
				continue
			}

			if err := utils.CopyFile(artifact, target); err != nil {
				if l.logger != nil {
					l.logger.Error("Failed to copy compiled module",
						logger.WithField("src", artifact),
						logger.WithField("dst", target),
						logger.WithField("error", err))
				}
				continue
			}
			if l.logger != nil {
				l.logger.Info("Copied compiled module",
					logger.WithField("file", filepath.Base(artifact)),
					logger.WithField("dst", declared.Path))
			}
		}
		return filepath.SkipDir
	})
}

// logStrays enumerates artifact-like files under the candidate roots to
// help diagnose a failed reconciliation.
func (l *Locator) logStrays(roots []string) {
	if l.logger == nil {
		return
	}

	for _, root := range roots {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			ext := filepath.Ext(d.Name())
			if ext == ".pyd" || ext == ".so" {
				l.logger.Error("Found stray compiled module", logger.WithField("path", path))
			}
			return nil
		})
	}
}
