package hooks

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemplate(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("# hook body\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeAllTemplates(t *testing.T, dir string) {
	t.Helper()
	for _, h := range ExecutionOrder {
		writeTemplate(t, dir, h.SourceName())
	}
}

func TestNameTransform(t *testing.T) {
	h := Hook{Name: "sdl2"}
	if h.SourceName() != "sdl2_hook.py" {
		t.Errorf("SourceName = %q", h.SourceName())
	}
	if h.TargetName() != "hook-sdl2.py" {
		t.Errorf("TargetName = %q", h.TargetName())
	}
}

func TestExecutionOrder(t *testing.T) {
	want := []string{"configs", "logging", "imports", "sdl2", "native"}
	if len(ExecutionOrder) != len(want) {
		t.Fatalf("expected %d hooks, got %d", len(want), len(ExecutionOrder))
	}
	for i, h := range ExecutionOrder {
		if h.Name != want[i] {
			t.Errorf("position %d: got %q, want %q", i, h.Name, want[i])
		}
	}
}

func TestComposeAll(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeAllTemplates(t, srcDir)

	c := NewComposer(srcDir, nil)
	created, err := c.Compose(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != len(ExecutionOrder) {
		t.Fatalf("expected %d hooks, got %d", len(ExecutionOrder), len(created))
	}

	// Created list preserves execution order and uses packager names
	for i, h := range ExecutionOrder {
		want := filepath.Join(outDir, "hooks", h.TargetName())
		if created[i] != want {
			t.Errorf("position %d: got %q, want %q", i, created[i], want)
		}
		if _, statErr := os.Stat(want); statErr != nil {
			t.Errorf("hook file missing: %v", statErr)
		}
	}
}

func TestComposeSkipsMissingTemplate(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	// Everything except the sdl2 template
	for _, h := range ExecutionOrder {
		if h.Name == "sdl2" {
			continue
		}
		writeTemplate(t, srcDir, h.SourceName())
	}

	c := NewComposer(srcDir, nil)
	created, err := c.Compose(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != len(ExecutionOrder)-1 {
		t.Fatalf("expected %d hooks, got %d", len(ExecutionOrder)-1, len(created))
	}
	for _, path := range created {
		if filepath.Base(path) == "hook-sdl2.py" {
			t.Error("missing template must be skipped, not invented")
		}
	}
}

func TestVerifyReportsMissingRequired(t *testing.T) {
	srcDir := t.TempDir()
	// Only the optional sdl2 hook present
	writeTemplate(t, srcDir, "sdl2_hook.py")

	c := NewComposer(srcDir, nil)
	missing := c.Verify()

	want := map[string]bool{"configs": true, "logging": true, "imports": true, "native": true}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v", missing)
	}
	for _, name := range missing {
		if !want[name] {
			t.Errorf("unexpected missing hook %q", name)
		}
	}
}

func TestVerifyCleanWhenComplete(t *testing.T) {
	srcDir := t.TempDir()
	writeAllTemplates(t, srcDir)

	c := NewComposer(srcDir, nil)
	if missing := c.Verify(); len(missing) != 0 {
		t.Errorf("complete template set should verify clean, got %v", missing)
	}
}

func TestHiddenImports(t *testing.T) {
	imports := HiddenImports()
	if len(imports) == 0 {
		t.Fatal("expected at least one hidden import")
	}

	// sdl2 modules come after logging's, matching hook order
	var sawLogging, sawSDL bool
	for _, imp := range imports {
		if imp == "logging.handlers" {
			sawLogging = true
			if sawSDL {
				t.Error("import order must follow hook execution order")
			}
		}
		if imp == "sdl2" {
			sawSDL = true
		}
	}
	if !sawLogging || !sawSDL {
		t.Error("expected logging and sdl2 imports in manifest")
	}
}
