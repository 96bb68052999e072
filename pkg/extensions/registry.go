// Package extensions turns the declarative extension manifest into
// compilation units and detects which units have stale sources.
package extensions

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiln-build/kiln/pkg/buildcache"
	"github.com/kiln-build/kiln/pkg/hashing"
	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/types"
	"github.com/kiln-build/kiln/pkg/utils"
)

// DeclarationSuffix is the sibling declaration-file suffix. A source's
// sibling (same stem, this suffix) holds shared interface declarations
// that several compilation units may depend on.
const DeclarationSuffix = ".pxd"

// Registry parses the declarative extension mapping: each entry is
// name = "qualified.module.name:relative/source/path".
type Registry struct {
	projectRoot string
	manifest    map[string]string
	hasher      *hashing.Hasher
	logger      logger.Logger
}

// NewRegistry creates a registry over a manifest's extensions section
func NewRegistry(projectRoot string, manifest map[string]string, log logger.Logger) *Registry {
	return &Registry{
		projectRoot: projectRoot,
		manifest:    manifest,
		hasher:      hashing.New(log),
		logger:      log,
	}
}

// Units builds the immutable compilation-unit set for this run.
// An absent or empty mapping, a malformed entry, or a missing source
// file is a configuration error: compiling with an incomplete unit list
// would silently ship a broken artifact.
func (r *Registry) Units(extraCompileArgs []string) ([]types.CompilationUnit, error) {
	if len(r.manifest) == 0 {
		return nil, types.NewConfigurationError("no extensions defined; add entries of the form name = \"qualified.module.name:relative/source/path\"")
	}

	names := make([]string, 0, len(r.manifest))
	for name := range r.manifest {
		names = append(names, name)
	}
	sort.Strings(names)

	units := make([]types.CompilationUnit, 0, len(names))
	for _, name := range names {
		spec := r.manifest[name]

		moduleName, sourceRel, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, types.NewConfigurationError("extension %q: %q is malformed, expected \"qualified.module.name:relative/source/path\"", name, spec)
		}

		sourcePath := filepath.Join(r.projectRoot, strings.TrimSpace(sourceRel))
		if !utils.FileExists(sourcePath) {
			return nil, types.NewConfigurationError("extension %q: source file not found: %s", name, sourcePath)
		}

		units = append(units, types.CompilationUnit{
			Name:        strings.TrimSpace(moduleName),
			Sources:     []string{sourcePath},
			CompileArgs: extraCompileArgs,
		})
	}

	return units, nil
}

// CheckFileChanges returns the units whose sources or sibling
// declaration files changed since the hashes recorded in the cache.
// A missing source marks its unit changed without recording a hash.
// A changed declaration file marks changed every unit whose sources
// share its stem, because several units may depend on one shared
// declaration (fan-out rule). The cache document is updated in place;
// the caller decides when to persist it.
func (r *Registry) CheckFileChanges(units []types.CompilationUnit, cache *buildcache.Cache, force bool) []types.CompilationUnit {
	if force {
		if r.logger != nil {
			r.logger.Info("Force rebuild requested, rebuilding all extension modules")
		}
		return units
	}

	doc := cache.Load()
	changed := make(map[string]bool)

	for _, unit := range units {
		for _, source := range unit.Sources {
			key := filepath.ToSlash(source)

			if !utils.FileExists(source) {
				// A deleted or renamed source is itself a change
				if r.logger != nil {
					r.logger.Warn("Source file not found", logger.WithField("path", source))
				}
				changed[unit.Name] = true
				continue
			}

			currentHash, ok := r.hasher.HashFile(source)
			if !ok {
				changed[unit.Name] = true
				continue
			}
			if doc.Files[key] != currentHash {
				if r.logger != nil {
					r.logger.Info("Source file has changed or is new",
						logger.WithField("file", filepath.Base(source)))
				}
				doc.Files[key] = currentHash
				changed[unit.Name] = true
			}

			declPath := withSuffix(source, DeclarationSuffix)
			if !utils.FileExists(declPath) {
				continue
			}

			declHash, ok := r.hasher.HashFile(declPath)
			if !ok {
				continue
			}
			declKey := filepath.ToSlash(declPath)
			if doc.Files[declKey] != declHash {
				if r.logger != nil {
					r.logger.Info("Declaration file has changed",
						logger.WithField("file", filepath.Base(declPath)))
				}
				doc.Files[declKey] = declHash

				stem := trimSuffix(declPath)
				for _, other := range units {
					for _, otherSource := range other.Sources {
						if trimSuffix(otherSource) == stem {
							changed[other.Name] = true
						}
					}
				}
			}
		}
	}

	result := make([]types.CompilationUnit, 0, len(changed))
	for _, unit := range units {
		if changed[unit.Name] {
			result = append(result, unit)
		}
	}

	return result
}

func withSuffix(path, suffix string) string {
	return trimSuffix(path) + suffix
}

func trimSuffix(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}
