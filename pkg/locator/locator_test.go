package locator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiln-build/kiln/pkg/types"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestHasCompiledModules(t *testing.T) {
	cases := []struct {
		name string
		file string
		want bool
	}{
		{"plain pyd", "vector.pyd", true},
		{"plain so", "vector.so", true},
		{"version-tagged pyd", "vector.cp312-win_amd64.pyd", true},
		{"version-tagged so", "vector.cpython-312-x86_64-linux-gnu.so", true},
		{"source only", "vector.pyx", false},
		{"generated c", "vector.c", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			touch(t, filepath.Join(dir, tc.file), "bits")

			l := New(nil)
			if got := l.HasCompiledModules(dir); got != tc.want {
				t.Errorf("HasCompiledModules with %s = %v, want %v", tc.file, got, tc.want)
			}
		})
	}
}

func TestCompiledModulesDeduplicates(t *testing.T) {
	dir := t.TempDir()
	// Matches both *.pyd and *.cp*-*.pyd
	touch(t, filepath.Join(dir, "vector.cp312-win_amd64.pyd"), "bits")

	l := New(nil)
	if files := l.CompiledModules(dir); len(files) != 1 {
		t.Errorf("expected 1 artifact, got %d", len(files))
	}
}

func TestReconcileAlreadySatisfied(t *testing.T) {
	moduleDir := t.TempDir()
	touch(t, filepath.Join(moduleDir, "vector.so"), "bits")

	l := New(nil)
	err := l.Reconcile([]types.ModuleDir{{Path: moduleDir}}, nil)
	if err != nil {
		t.Errorf("satisfied dirs should reconcile without roots: %v", err)
	}
}

func TestReconcileCopiesFromLibDir(t *testing.T) {
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	moduleDir := filepath.Join(root, "engine", "core")
	if err := os.MkdirAll(moduleDir, 0755); err != nil {
		t.Fatal(err)
	}

	// Standard build layout: build/lib.linux-x86_64/engine/core/window.so
	artifact := filepath.Join(buildDir, "lib.linux-x86_64-cpython-312", "engine", "core", "window.so")
	touch(t, artifact, "compiled-bits")

	l := New(nil)
	err := l.Reconcile([]types.ModuleDir{{Path: moduleDir, Description: "core modules"}}, []string{buildDir})
	if err != nil {
		t.Fatal(err)
	}

	copied := filepath.Join(moduleDir, "window.so")
	data, err := os.ReadFile(copied)
	if err != nil {
		t.Fatalf("artifact not copied: %v", err)
	}
	if string(data) != "compiled-bits" {
		t.Error("copied artifact content mismatch")
	}
}

func TestReconcileSkipsIdenticalSize(t *testing.T) {
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	moduleDir := filepath.Join(root, "engine", "core")

	artifact := filepath.Join(buildDir, "lib.linux", "core", "window.so")
	touch(t, artifact, "12345678")
	// Same name, same size, different bytes: must be left alone
	existing := filepath.Join(moduleDir, "window.so")
	touch(t, existing, "abcdefgh")

	l := New(nil)
	if err := l.Reconcile([]types.ModuleDir{{Path: moduleDir}}, []string{buildDir}); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(existing)
	if string(data) != "abcdefgh" {
		t.Error("same-size file should not be overwritten")
	}
}

func TestReconcilePartialIsFailure(t *testing.T) {
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	coreDir := filepath.Join(root, "engine", "core")
	mathDir := filepath.Join(root, "engine", "math")

	// Only core gets an artifact; math stays empty
	touch(t, filepath.Join(buildDir, "lib.linux", "core", "window.so"), "bits")
	if err := os.MkdirAll(mathDir, 0755); err != nil {
		t.Fatal(err)
	}

	l := New(nil)
	err := l.Reconcile([]types.ModuleDir{
		{Path: coreDir},
		{Path: mathDir},
	}, []string{buildDir})

	var depErr *types.MissingDependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("partial module set must be MissingDependencyError, got %v", err)
	}
}

func TestReconcileNoDeclaredDirs(t *testing.T) {
	l := New(nil)
	if err := l.Reconcile(nil, []string{t.TempDir()}); err != nil {
		t.Errorf("no declared dirs means nothing to reconcile: %v", err)
	}
}
