// Package buildcache persists last-known file hashes between build runs
package buildcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/utils"
)

const cacheFileName = "build_cache.json"

// Document is the persisted cache: last-known hash per tracked file,
// the last build timestamp, and the modules-rebuilt hand-off flag.
type Document struct {
	Files          map[string]string `json:"files"`
	LastBuild      *time.Time        `json:"last_build,omitempty"`
	RebuiltModules bool              `json:"rebuilt_modules,omitempty"`
}

// NewDocument returns a fresh empty cache document
func NewDocument() *Document {
	return &Document{Files: map[string]string{}}
}

// Cache is the process-wide hash store. It is passed explicitly through
// pipeline calls rather than living as ambient global state, and is safe
// for single-threaded use only.
type Cache struct {
	cacheDir  string
	cacheFile string
	logger    logger.Logger
	doc       *Document
}

// New creates a cache rooted at <buildDir>/cache. The logger may be nil.
func New(buildDir string, log logger.Logger) *Cache {
	c := &Cache{logger: log}
	c.Repoint(buildDir)
	return c
}

// Repoint moves the cache location to a new build directory. The
// packaging output directory may only be known after the initial
// configuration load, so repointing is an explicit, supported operation.
// Any in-memory document is dropped; the next Load reads the new path.
func (c *Cache) Repoint(buildDir string) {
	c.cacheDir = filepath.Join(buildDir, "cache")
	c.cacheFile = filepath.Join(c.cacheDir, cacheFileName)
	c.doc = nil
}

// Path returns the cache file location
func (c *Cache) Path() string {
	return c.cacheFile
}

// Load reads the persisted document. A missing or corrupt cache file is
// a normal state, not an error: it degrades to a fresh empty document,
// which makes every file look changed.
func (c *Cache) Load() *Document {
	if c.doc != nil {
		return c.doc
	}

	data, err := os.ReadFile(c.cacheFile)
	if err != nil {
		c.doc = NewDocument()
		return c.doc
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		if c.logger != nil {
			c.logger.Warn("Failed to parse build cache, starting cold",
				logger.WithField("path", c.cacheFile),
				logger.WithField("error", err))
		}
		c.doc = NewDocument()
		return c.doc
	}

	if doc.Files == nil {
		doc.Files = map[string]string{}
	}
	c.doc = &doc
	return c.doc
}

// Save stamps the last-build time and persists the document. Writes go
// through a temp file and rename; failures are logged and tolerated
// because a lost cache only costs a rebuild.
func (c *Cache) Save() error {
	doc := c.Load()
	now := time.Now()
	doc.LastBuild = &now

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("Failed to serialize build cache", logger.WithField("error", err))
		}
		return err
	}

	if err := utils.WriteFileAtomic(c.cacheFile, data); err != nil {
		if c.logger != nil {
			c.logger.Warn("Failed to save build cache",
				logger.WithField("path", c.cacheFile),
				logger.WithField("error", err))
		}
		return err
	}

	return nil
}

// MarkRebuilt records that native modules were rebuilt in this run
func (c *Cache) MarkRebuilt() {
	c.Load().RebuiltModules = true
}

// CheckAndResetRebuiltFlag returns whether native modules were rebuilt
// since the flag was last cleared, and clears it. This is the single
// hand-off point between compilation and the packaging decision.
func (c *Cache) CheckAndResetRebuiltFlag() bool {
	doc := c.Load()
	rebuilt := doc.RebuiltModules
	doc.RebuiltModules = false
	return rebuilt
}
