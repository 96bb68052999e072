// Package hooks composes the runtime-initialization hook set shipped
// with packaged executables.
package hooks

import (
	"path/filepath"
	"strings"

	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/utils"
)

// Hook describes one runtime hook template. Hooks run in the order
// they appear in ExecutionOrder; each entry lists the modules the hook
// needs available at runtime.
type Hook struct {
	Name          string
	Description   string
	Required      bool
	HiddenImports []string
}

// ExecutionOrder is the fixed hook order. Configuration must exist
// before logging, logging before imports, and the shared-library path
// must be set before native modules load.
var ExecutionOrder = []Hook{
	{Name: "configs", Description: "configuration system init", Required: true},
	{Name: "logging", Description: "runtime logging init", Required: true,
		HiddenImports: []string{"logging.handlers"}},
	{Name: "imports", Description: "common engine imports", Required: true},
	{Name: "sdl2", Description: "shared-library path setup",
		HiddenImports: []string{"sdl2", "sdl2.ext"}},
	{Name: "native", Description: "native extension loading", Required: true},
}

// SourceName is the template filename for a hook
func (h Hook) SourceName() string {
	return h.Name + "_hook.py"
}

// TargetName is the filename the packager expects for a hook
func (h Hook) TargetName() string {
	return "hook-" + h.Name + ".py"
}

// HiddenImports flattens the runtime modules every hook in order needs
func HiddenImports() []string {
	var imports []string
	for _, h := range ExecutionOrder {
		imports = append(imports, h.HiddenImports...)
	}
	return imports
}

// Composer copies hook templates into a packaging staging directory
type Composer struct {
	sourceDir string
	logger    logger.Logger
}

// NewComposer creates a composer reading templates from sourceDir
func NewComposer(sourceDir string, log logger.Logger) *Composer {
	return &Composer{sourceDir: sourceDir, logger: log}
}

// Verify returns the names of required hooks whose templates are
// missing. An empty result means the composed set will be complete.
func (c *Composer) Verify() []string {
	var missing []string
	for _, h := range ExecutionOrder {
		if !h.Required {
			continue
		}
		if !utils.FileExists(filepath.Join(c.sourceDir, h.SourceName())) {
			missing = append(missing, h.Name)
		}
	}
	return missing
}

// Compose copies every present hook template into <outputDir>/hooks in
// execution order and returns the created paths. A missing template is
// skipped with a warning; composition itself never fails over one.
func (c *Composer) Compose(outputDir string) ([]string, error) {
	hooksDir := filepath.Join(outputDir, "hooks")
	if err := utils.EnsureDirectory(hooksDir); err != nil {
		return nil, err
	}

	var created []string
	for _, h := range ExecutionOrder {
		src := filepath.Join(c.sourceDir, h.SourceName())
		if !utils.FileExists(src) {
			if c.logger != nil {
				c.logger.Warn("Hook template not found, skipping",
					logger.WithField("hook", h.Name),
					logger.WithField("path", src))
			}
			continue
		}

		dst := filepath.Join(hooksDir, h.TargetName())
		if err := utils.CopyFile(src, dst); err != nil {
			if c.logger != nil {
				c.logger.Error("Failed to create hook",
					logger.WithField("hook", h.Name),
					logger.WithField("error", err))
			}
			continue
		}

		if c.logger != nil {
			c.logger.Info("Created hook",
				logger.WithField("file", h.TargetName()),
				logger.WithField("purpose", h.Description))
		}
		created = append(created, dst)
	}

	if c.logger != nil {
		c.logger.Info("Composed runtime hooks",
			logger.WithField("count", len(created)),
			logger.WithField("order", orderSummary(created)))
	}
	return created, nil
}

func orderSummary(paths []string) string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return strings.Join(names, " < ")
}
