// Package notifier provides desktop build notifications
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/utils"
)

// BuildNotifier sends desktop notifications for build outcomes
type BuildNotifier struct {
	enabled bool
	logger  logger.Logger
}

// New creates a new build notifier
func New(enabled bool, log logger.Logger) *BuildNotifier {
	return &BuildNotifier{
		enabled: enabled,
		logger:  log,
	}
}

// NotifyBuildSuccess notifies that a build succeeded
func (n *BuildNotifier) NotifyBuildSuccess(target string, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := "🔥 Kiln Build Succeeded"
	message := fmt.Sprintf("%s built in %s", target, utils.FormatDuration(duration))

	if err := beeep.Notify(title, message, ""); err != nil && n.logger != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
}

// NotifyBuildFailure notifies that a build failed
func (n *BuildNotifier) NotifyBuildFailure(target string, err error) {
	if !n.enabled {
		return
	}

	title := "❌ Kiln Build Failed"
	message := fmt.Sprintf("%s: %v", target, err)

	if alertErr := beeep.Alert(title, message, ""); alertErr != nil && n.logger != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", alertErr))
	}
}
