package extensions

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiln-build/kiln/pkg/buildcache"
	"github.com/kiln-build/kiln/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUnitsEmptyManifest(t *testing.T) {
	r := NewRegistry(t.TempDir(), nil, nil)

	_, err := r.Units(nil)
	var confErr *types.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestUnitsMalformedEntry(t *testing.T) {
	r := NewRegistry(t.TempDir(), map[string]string{
		"vector": "engine.math.vector engine/math/vector.pyx",
	}, nil)

	_, err := r.Units(nil)
	var confErr *types.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError for missing colon, got %v", err)
	}
}

func TestUnitsMissingSource(t *testing.T) {
	r := NewRegistry(t.TempDir(), map[string]string{
		"vector": "engine.math.vector:engine/math/vector.pyx",
	}, nil)

	_, err := r.Units(nil)
	var confErr *types.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError for missing source, got %v", err)
	}
}

func TestUnitsParsesManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "engine/math/vector.pyx", "cdef class Vector: pass\n")
	writeFile(t, root, "engine/core/window.pyx", "cdef class Window: pass\n")

	r := NewRegistry(root, map[string]string{
		"vector": "engine.math.vector:engine/math/vector.pyx",
		"window": "engine.core.window:engine/core/window.pyx",
	}, nil)

	units, err := r.Units([]string{"-O2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	// Sorted by manifest key: vector before window
	if units[0].Name != "engine.math.vector" {
		t.Errorf("unit order: got %q first", units[0].Name)
	}
	if len(units[0].CompileArgs) != 1 || units[0].CompileArgs[0] != "-O2" {
		t.Error("compile args not threaded through")
	}
}

func TestCheckFileChangesColdCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "engine/math/vector.pyx", "cdef class Vector: pass\n")

	r := NewRegistry(root, map[string]string{
		"vector": "engine.math.vector:engine/math/vector.pyx",
	}, nil)
	units, err := r.Units(nil)
	if err != nil {
		t.Fatal(err)
	}

	cache := buildcache.New(t.TempDir(), nil)
	changed := r.CheckFileChanges(units, cache, false)
	if len(changed) != 1 {
		t.Fatalf("cold cache should mark every unit changed, got %d", len(changed))
	}
}

func TestCheckFileChangesStableAfterScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "engine/math/vector.pyx", "cdef class Vector: pass\n")

	r := NewRegistry(root, map[string]string{
		"vector": "engine.math.vector:engine/math/vector.pyx",
	}, nil)
	units, _ := r.Units(nil)

	cache := buildcache.New(t.TempDir(), nil)
	r.CheckFileChanges(units, cache, false)

	// Nothing touched between scans
	changed := r.CheckFileChanges(units, cache, false)
	if len(changed) != 0 {
		t.Errorf("unchanged sources should yield no stale units, got %d", len(changed))
	}
}

func TestCheckFileChangesForce(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "engine/math/vector.pyx", "cdef class Vector: pass\n")

	r := NewRegistry(root, map[string]string{
		"vector": "engine.math.vector:engine/math/vector.pyx",
	}, nil)
	units, _ := r.Units(nil)

	cache := buildcache.New(t.TempDir(), nil)
	r.CheckFileChanges(units, cache, false)

	changed := r.CheckFileChanges(units, cache, true)
	if len(changed) != len(units) {
		t.Error("force should return every unit")
	}
}

func TestDeclarationFanOut(t *testing.T) {
	root := t.TempDir()
	// Two units whose sources share the "shapes" stem
	writeFile(t, root, "engine/geo/shapes.pyx", "cdef class Shape: pass\n")
	writeFile(t, root, "engine/geo/other.pyx", "cdef class Other: pass\n")

	r := NewRegistry(root, map[string]string{
		"shapes": "engine.geo.shapes:engine/geo/shapes.pyx",
		"other":  "engine.geo.other:engine/geo/other.pyx",
	}, nil)
	units, _ := r.Units(nil)

	cache := buildcache.New(t.TempDir(), nil)
	r.CheckFileChanges(units, cache, false)

	// A new sibling declaration changes only shapes' stem
	writeFile(t, root, "engine/geo/shapes.pxd", "cdef class Shape\n")

	changed := r.CheckFileChanges(units, cache, false)
	if len(changed) != 1 {
		t.Fatalf("declaration change should fan out to stem-sharing units only, got %d", len(changed))
	}
	if changed[0].Name != "engine.geo.shapes" {
		t.Errorf("wrong unit marked: %q", changed[0].Name)
	}

	// Declaration unchanged on the next scan
	if again := r.CheckFileChanges(units, cache, false); len(again) != 0 {
		t.Errorf("second scan should be clean, got %d", len(again))
	}
}

func TestDeclarationFanOutSharedStem(t *testing.T) {
	root := t.TempDir()
	// Two units compile the same source, so both depend on its
	// sibling declaration file
	writeFile(t, root, "engine/geo/shapes.pyx", "cdef class Shape: pass\n")
	writeFile(t, root, "engine/geo/shapes.pxd", "cdef class Shape\n")

	r := NewRegistry(root, map[string]string{
		"shapes":    "engine.geo.shapes:engine/geo/shapes.pyx",
		"collision": "engine.geo.collision:engine/geo/shapes.pyx",
	}, nil)
	units, err := r.Units(nil)
	if err != nil {
		t.Fatal(err)
	}

	cache := buildcache.New(t.TempDir(), nil)
	r.CheckFileChanges(units, cache, false)

	// Only the declaration changes; both dependents must rebuild
	writeFile(t, root, "engine/geo/shapes.pxd", "cdef class Shape:\n    cdef double area\n")

	changed := r.CheckFileChanges(units, cache, false)
	if len(changed) != 2 {
		t.Fatalf("shared declaration change should mark both units, got %d", len(changed))
	}
	names := map[string]bool{}
	for _, unit := range changed {
		names[unit.Name] = true
	}
	if !names["engine.geo.shapes"] || !names["engine.geo.collision"] {
		t.Errorf("wrong units marked: %v", names)
	}
}

func TestMissingSourceMarksChangedWithoutHash(t *testing.T) {
	root := t.TempDir()
	src := writeFile(t, root, "engine/math/vector.pyx", "cdef class Vector: pass\n")

	r := NewRegistry(root, map[string]string{
		"vector": "engine.math.vector:engine/math/vector.pyx",
	}, nil)
	units, _ := r.Units(nil)

	cache := buildcache.New(t.TempDir(), nil)
	r.CheckFileChanges(units, cache, false)

	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}

	changed := r.CheckFileChanges(units, cache, false)
	if len(changed) != 1 {
		t.Fatal("missing source must mark its unit changed")
	}
}
