// Package buildstate tracks per-target build state for incremental builds
package buildstate

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kiln-build/kiln/pkg/hashing"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/utils"
)

// TrackedExtensions is the file-suffix set whose contents participate in
// the rebuild decision: sources plus the asset types that get packaged.
var TrackedExtensions = []string{
	".py", ".pyx", ".png", ".jpg", ".wav", ".mp3", ".json", ".tmx", ".tsx", ".ini",
}

// Document is the persisted per-target record of the last successful
// build: configuration hash plus per-source-file content hashes.
type Document struct {
	LastBuildTime *time.Time        `json:"last_build_time,omitempty"`
	ConfigHash    string            `json:"config_hash,omitempty"`
	Files         map[string]string `json:"files"`
}

// State decides whether a target's packaging stage may be skipped.
// One instance per build target; hashes are content digests, never
// filesystem timestamps.
type State struct {
	sourceDir    string
	buildDir     string
	name         string
	stateFile    string
	artifactPath string
	hasher       *hashing.Hasher
	logger       logger.Logger
	doc          *Document
}

// New creates a build-state tracker for one target. The state document
// lives next to the target's build output as <name>.build_state.json.
func New(sourceDir, buildDir, name string, log logger.Logger) *State {
	if name == "" {
		name = filepath.Base(sourceDir)
	}

	s := &State{
		sourceDir: sourceDir,
		buildDir:  buildDir,
		name:      name,
		stateFile: filepath.Join(buildDir, name+".build_state.json"),
		hasher:    hashing.New(log),
		logger:    log,
		doc:       &Document{Files: map[string]string{}},
	}
	s.artifactPath = filepath.Join(buildDir, name+utils.ExecutableExtension())

	s.load()
	return s
}

// SetExpectedArtifact overrides the output path whose absence forces a
// rebuild even when every hash matches.
func (s *State) SetExpectedArtifact(path string) {
	s.artifactPath = path
}

// Name returns the target name
func (s *State) Name() string {
	return s.name
}

// ShouldRebuild reports whether the target must be rebuilt and why.
// Hash mismatches are always authoritative; modification times are
// never consulted.
func (s *State) ShouldRebuild(config interface{}) (bool, string) {
	if s.doc.LastBuildTime == nil {
		return true, "first build"
	}

	// A caller that cannot prove nothing changed never gets to skip.
	if config == nil {
		return true, "no configuration provided"
	}

	if s.hasher.HashConfig(config) != s.doc.ConfigHash {
		return true, "configuration changed"
	}

	current, err := s.scanTrackedFiles()
	if err != nil {
		return true, fmt.Sprintf("error scanning source tree: %v", err)
	}

	for relPath, hash := range current {
		stored, ok := s.doc.Files[relPath]
		if !ok {
			return true, fmt.Sprintf("new source file: %s", relPath)
		}
		if stored != hash {
			return true, fmt.Sprintf("source file changed: %s", relPath)
		}
	}

	for relPath := range s.doc.Files {
		if _, ok := current[relPath]; !ok {
			return true, fmt.Sprintf("source file removed: %s", relPath)
		}
	}

	// A user may have deleted the output by hand
	if !utils.FileExists(s.artifactPath) {
		return true, fmt.Sprintf("output artifact not found: %s", s.artifactPath)
	}

	return false, "no rebuild needed"
}

// MarkSuccessfulBuild rewrites the full state document after a build:
// every tracked file is rehashed from scratch so deleted files drop out,
// the config hash and timestamp are refreshed, and the document is
// persisted. This is the only mutation path.
func (s *State) MarkSuccessfulBuild(config interface{}) error {
	now := time.Now()
	s.doc.LastBuildTime = &now
	s.doc.ConfigHash = s.hasher.HashConfig(config)

	files, err := s.scanTrackedFiles()
	if err != nil {
		return err
	}
	s.doc.Files = files

	if s.logger != nil {
		s.logger.Info("Tracked files for incremental build",
			logger.WithField("target", s.name),
			logger.WithField("count", len(files)))
	}

	return s.save()
}

// scanTrackedFiles hashes every tracked file under the source directory.
// Files that cannot be hashed are skipped with a warning; they will look
// changed (or removed) on the next comparison, which errs toward rebuild.
func (s *State) scanTrackedFiles() (map[string]string, error) {
	files := make(map[string]string)

	err := filepath.WalkDir(s.sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isTracked(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(s.sourceDir, path)
		if err != nil {
			return err
		}

		if hash, ok := s.hasher.HashFile(path); ok {
			files[filepath.ToSlash(relPath)] = hash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (s *State) load() {
	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		if s.logger != nil && os.IsNotExist(err) {
			s.logger.Debug("No build state file found", logger.WithField("path", s.stateFile))
		}
		return
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		if s.logger != nil {
			s.logger.Warn("Could not parse build state",
				logger.WithField("path", s.stateFile),
				logger.WithField("error", err))
		}
		return
	}

	if doc.Files == nil {
		doc.Files = map[string]string{}
	}
	s.doc = &doc
}

func (s *State) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}

	if err := utils.WriteFileAtomic(s.stateFile, data); err != nil {
		if s.logger != nil {
			s.logger.Warn("Could not save build state",
				logger.WithField("path", s.stateFile),
				logger.WithField("error", err))
		}
		return err
	}

	return nil
}

func isTracked(name string) bool {
	ext := filepath.Ext(name)
	for _, tracked := range TrackedExtensions {
		if ext == tracked {
			return true
		}
	}
	return false
}
