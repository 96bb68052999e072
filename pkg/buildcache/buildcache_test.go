package buildcache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingIsCold(t *testing.T) {
	cache := New(t.TempDir(), nil)

	doc := cache.Load()
	if doc == nil {
		t.Fatal("expected a document")
	}
	if len(doc.Files) != 0 {
		t.Error("cold cache should have no files")
	}
	if doc.LastBuild != nil {
		t.Error("cold cache should have no last build time")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	buildDir := t.TempDir()

	cache := New(buildDir, nil)
	doc := cache.Load()
	doc.Files["engine/core/window.pyx"] = "abc123"
	doc.RebuiltModules = true

	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded := New(buildDir, nil).Load()
	if reloaded.Files["engine/core/window.pyx"] != "abc123" {
		t.Error("file hash lost in round trip")
	}
	if !reloaded.RebuiltModules {
		t.Error("rebuilt flag lost in round trip")
	}
	if reloaded.LastBuild == nil {
		t.Error("save should stamp last build time")
	}
}

func TestLoadCorruptIsCold(t *testing.T) {
	buildDir := t.TempDir()
	cache := New(buildDir, nil)

	if err := os.MkdirAll(filepath.Dir(cache.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cache.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	doc := cache.Load()
	if len(doc.Files) != 0 {
		t.Error("corrupt cache should degrade to a fresh document")
	}
}

func TestCheckAndResetRebuiltFlag(t *testing.T) {
	cache := New(t.TempDir(), nil)

	if cache.CheckAndResetRebuiltFlag() {
		t.Error("flag should start cleared")
	}

	cache.MarkRebuilt()
	if !cache.CheckAndResetRebuiltFlag() {
		t.Error("flag should read true after MarkRebuilt")
	}
	if cache.CheckAndResetRebuiltFlag() {
		t.Error("flag should be cleared by the read")
	}
}

func TestRepoint(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	cache := New(dirA, nil)
	cache.Load().Files["x.pyx"] = "aaa"
	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}

	cache.Repoint(dirB)
	if cache.Path() == filepath.Join(dirA, "cache", "build_cache.json") {
		t.Error("repoint should change the cache path")
	}

	doc := cache.Load()
	if len(doc.Files) != 0 {
		t.Error("repoint should drop the in-memory document")
	}
}
