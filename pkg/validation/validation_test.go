package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiln-build/kiln/pkg/process"
	"github.com/kiln-build/kiln/pkg/types"
)

type fakeRunner struct {
	captureOut string
	captureErr error
}

func (f *fakeRunner) Stream(ctx context.Context, spec process.StreamSpec) (int, error) {
	return 0, nil
}

func (f *fakeRunner) Capture(ctx context.Context, command string, args ...string) (string, error) {
	return f.captureOut, f.captureErr
}

func (f *fakeRunner) Check(ctx context.Context, command string, args ...string) error {
	return nil
}

func write(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindEntryScriptPrefersMainPy(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "game.py", "if __name__ == \"__main__\":\n    run()\n")
	main := write(t, dir, "main.py", "pass\n")

	got, err := FindEntryScript(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != main {
		t.Errorf("got %q, want main.py", got)
	}
}

func TestFindEntryScriptScansForGuard(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "util.py", "def helper(): pass\n")
	guard := write(t, dir, "game.py", "if __name__ == '__main__':\n    run()\n")

	got, err := FindEntryScript(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != guard {
		t.Errorf("got %q, want %q", got, guard)
	}
}

func TestFindEntryScriptPrefersRootLevel(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "sub/deep.py", "if __name__ == \"__main__\":\n    run()\n")
	rootScript := write(t, dir, "top.py", "if __name__ == \"__main__\":\n    run()\n")

	got, err := FindEntryScript(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != rootScript {
		t.Errorf("got %q, want root-level %q", got, rootScript)
	}
}

func TestFindEntryScriptNone(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "util.py", "def helper(): pass\n")

	_, err := FindEntryScript(dir)
	var confErr *types.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestCheckPythonVersion(t *testing.T) {
	cases := []struct {
		found    string
		required string
		ok       bool
	}{
		{"3.12.0", "3.12", true},
		{"3.13.1", "3.12", true},
		{"4.0.0", "3.12", true},
		{"3.11.9", "3.12", false},
		{"3.12.0", "3.12.1", false},
		{"2.7.18", "3.12", false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s>=%s", tc.found, tc.required), func(t *testing.T) {
			runner := &fakeRunner{captureOut: tc.found + "\n"}
			err := CheckPythonVersion(context.Background(), runner, "python3", tc.required)

			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok {
				var verr *types.PythonVersionError
				if !errors.As(err, &verr) {
					t.Errorf("expected PythonVersionError, got %v", err)
				}
			}
		})
	}
}

func TestCheckPythonVersionDefaultMinimum(t *testing.T) {
	runner := &fakeRunner{captureOut: "3.11.0\n"}
	err := CheckPythonVersion(context.Background(), runner, "python3", "")

	var verr *types.PythonVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("expected PythonVersionError against default minimum, got %v", err)
	}
	if verr.Required != MinPythonVersion {
		t.Errorf("required = %q", verr.Required)
	}
}

func TestCheckPythonVersionMissingInterpreter(t *testing.T) {
	runner := &fakeRunner{captureErr: errors.New("exec: not found")}
	err := CheckPythonVersion(context.Background(), runner, "python9", "3.12")

	var depErr *types.MissingDependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected MissingDependencyError, got %v", err)
	}
}
