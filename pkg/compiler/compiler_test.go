package compiler

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiln-build/kiln/pkg/buildcache"
	"github.com/kiln-build/kiln/pkg/extensions"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/process"
	"github.com/kiln-build/kiln/pkg/types"
)

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("", "error", io.Discard)
}

// fakeRunner stands in for the external toolchain. onStream simulates
// the side effects a real build would have (artifacts on disk).
type fakeRunner struct {
	streamCalls   int
	exitCode      int
	scriptContent string
	onStream      func()
}

func (f *fakeRunner) Stream(ctx context.Context, spec process.StreamSpec) (int, error) {
	f.streamCalls++
	if len(spec.Args) > 0 {
		if data, err := os.ReadFile(spec.Args[0]); err == nil {
			f.scriptContent = string(data)
		}
	}
	if f.onStream != nil {
		f.onStream()
	}
	return f.exitCode, nil
}

func (f *fakeRunner) Capture(ctx context.Context, command string, args ...string) (string, error) {
	return "", nil
}

func (f *fakeRunner) Check(ctx context.Context, command string, args ...string) error {
	return nil
}

type fixture struct {
	root      string
	buildDir  string
	moduleDir string
	runner    *fakeRunner
	cache     *buildcache.Cache
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	moduleDir := filepath.Join(root, "engine", "math")

	if err := os.MkdirAll(moduleDir, 0755); err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(moduleDir, "vector.pyx")
	if err := os.WriteFile(source, []byte("cdef class Vector: pass\n"), 0644); err != nil {
		t.Fatal(err)
	}

	registry := extensions.NewRegistry(root, map[string]string{
		"vector": "engine.math.vector:engine/math/vector.pyx",
	}, nil)
	cache := buildcache.New(buildDir, nil)

	runner := &fakeRunner{}
	runner.onStream = func() {
		// Inplace build drops the artifact next to the source
		os.WriteFile(filepath.Join(moduleDir, "vector.so"), []byte("compiled"), 0644)
	}

	orch := New(Options{
		PythonExe:   "python3",
		ProjectRoot: root,
		BuildDir:    buildDir,
		Directives:  types.DefaultCompilerDirectives(),
		Inplace:     true,
		ModuleDirs:  []types.ModuleDir{{Path: moduleDir, Description: "math modules"}},
	}, registry, cache, runner, testLogger())

	return &fixture{
		root:      root,
		buildDir:  buildDir,
		moduleDir: moduleDir,
		runner:    runner,
		cache:     cache,
		orch:      orch,
	}
}

func TestCompileInvokesToolchain(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.Compile(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if f.runner.streamCalls != 1 {
		t.Errorf("stream calls = %d", f.runner.streamCalls)
	}
	if f.orch.Phase() != PhaseDone {
		t.Errorf("phase = %s", f.orch.Phase())
	}
	if !f.cache.CheckAndResetRebuiltFlag() {
		t.Error("rebuilt flag should be set after compilation")
	}
}

func TestCompileSkipsWhenNothingChanged(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.Compile(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	f.cache.CheckAndResetRebuiltFlag()

	if err := f.orch.Compile(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if f.runner.streamCalls != 1 {
		t.Errorf("unchanged sources must skip the toolchain, calls = %d", f.runner.streamCalls)
	}
	if f.cache.CheckAndResetRebuiltFlag() {
		t.Error("skipped compilation should not set the rebuilt flag")
	}
}

func TestCompileForceRunsEverything(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.Compile(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.Compile(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if f.runner.streamCalls != 2 {
		t.Errorf("force must reinvoke the toolchain, calls = %d", f.runner.streamCalls)
	}
}

func TestCompileMissingArtifactsForcesCompilation(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.Compile(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	// Hashes match but the artifact is gone: must compile again
	if err := os.Remove(filepath.Join(f.moduleDir, "vector.so")); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.Compile(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if f.runner.streamCalls != 2 {
		t.Errorf("missing artifacts should force compilation, calls = %d", f.runner.streamCalls)
	}
}

func TestCompileBuildScriptContents(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.Compile(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	script := f.runner.scriptContent
	for _, want := range []string{
		"engine.math.vector",
		"'language_level': 3",
		"'boundscheck': False",
		"'wraparound': False",
		"'cdivision': True",
		"cythonize(",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("build script missing %q:\n%s", want, script)
		}
	}

	// Transient script must be gone afterwards
	if _, err := os.Stat(filepath.Join(f.buildDir, buildScriptName)); !os.IsNotExist(err) {
		t.Error("transient build script should be removed")
	}
}

func TestCompileFailureStillReconciles(t *testing.T) {
	f := newFixture(t)
	f.runner.exitCode = 1

	err := f.orch.Compile(context.Background(), false)
	var buildErr *types.BuildFailedError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildFailedError, got %v", err)
	}
	if f.orch.Phase() != PhaseFailed {
		t.Errorf("phase = %s", f.orch.Phase())
	}

	// The fake still dropped a partial artifact; reconciliation must
	// have run and found it in place.
	if _, statErr := os.Stat(filepath.Join(f.moduleDir, "vector.so")); statErr != nil {
		t.Error("partial artifacts should survive a failed invocation")
	}
}

func TestCompileFailureWithoutArtifacts(t *testing.T) {
	f := newFixture(t)
	f.runner.exitCode = 1
	f.runner.onStream = nil // toolchain produced nothing

	err := f.orch.Compile(context.Background(), false)
	var depErr *types.MissingDependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected MissingDependencyError from reconciliation, got %v", err)
	}
}
