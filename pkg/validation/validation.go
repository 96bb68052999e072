// Package validation checks build preconditions: entry-point scripts
// and the interpreter version.
package validation

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kiln-build/kiln/pkg/process"
	"github.com/kiln-build/kiln/pkg/types"
)

// MinPythonVersion is the oldest interpreter the build tools support
const MinPythonVersion = "3.12"

// FindEntryScript locates the script that becomes the executable's
// entry point. main.py at the directory root wins by convention;
// otherwise the tree is scanned for a __main__ guard, preferring
// root-level files.
func FindEntryScript(dir string) (string, error) {
	mainScript := filepath.Join(dir, "main.py")
	if info, err := os.Stat(mainScript); err == nil && !info.IsDir() {
		return mainScript, nil
	}

	var candidates []string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
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

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		content := string(data)
		if strings.Contains(content, `if __name__ == "__main__":`) ||
			strings.Contains(content, `if __name__ == '__main__':`) {
			candidates = append(candidates, path)
		}
		return nil
	})

	if len(candidates) == 0 {
		return "", types.NewConfigurationError("no entry-point script found in %s; add a main.py or a __main__ guard", dir)
	}

	sort.Strings(candidates)
	for _, c := range candidates {
		if filepath.Dir(c) == filepath.Clean(dir) {
			return c, nil
		}
	}
	return candidates[0], nil
}

// CheckPythonVersion verifies the interpreter exists and satisfies the
// minimum version, returning a PythonVersionError otherwise.
func CheckPythonVersion(ctx context.Context, runner process.Runner, pythonExe, minVersion string) error {
	if minVersion == "" {
		minVersion = MinPythonVersion
	}

	out, err := runner.Capture(ctx, pythonExe, "-c",
		`import sys; print("%d.%d.%d" % sys.version_info[:3])`)
	if err != nil {
		return types.NewMissingDependencyError(pythonExe, "interpreter not runnable: %v", err)
	}

	found := strings.TrimSpace(out)
	ok, err := versionAtLeast(found, minVersion)
	if err != nil {
		return types.NewMissingDependencyError(pythonExe, "could not parse interpreter version %q", found)
	}
	if !ok {
		return &types.PythonVersionError{Found: found, Required: minVersion}
	}
	return nil
}

func versionAtLeast(found, required string) (bool, error) {
	f, err := parseVersion(found)
	if err != nil {
		return false, err
	}
	r, err := parseVersion(required)
	if err != nil {
		return false, err
	}

	for i := 0; i < len(r); i++ {
		fv := 0
		if i < len(f) {
			fv = f[i]
		}
		if fv != r[i] {
			return fv > r[i], nil
		}
	}
	return true, nil
}

func parseVersion(v string) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty version")
	}

	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}
	return nums, nil
}
