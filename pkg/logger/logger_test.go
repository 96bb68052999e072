package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "info", &buf)

	log.Info("compilation started")

	out := buf.String()
	if !strings.Contains(out, "INFO") {
		t.Errorf("missing level in %q", out)
	}
	if !strings.Contains(out, "compilation started") {
		t.Errorf("missing message in %q", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "info", &buf)

	log.Debug("hidden")
	log.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug should be filtered at info level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn should pass at info level: %q", out)
	}
}

func TestLoggerInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "nonsense", &buf)

	log.Debug("hidden")
	log.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("bad level should fall back to info: %q", out)
	}
}

func TestWithTargetPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "info", &buf).WithTarget("engine")

	log.Info("building")

	if !strings.Contains(buf.String(), "[engine]") {
		t.Errorf("missing target prefix in %q", buf.String())
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "info", &buf)

	log.Info("done", WithField("duration", "1.2s"))

	if !strings.Contains(buf.String(), "duration=1.2s") {
		t.Errorf("missing field in %q", buf.String())
	}
}

func TestSuccessMarker(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("", "info", &buf)

	log.Success("build complete")

	if !strings.Contains(buf.String(), "✅ build complete") {
		t.Errorf("missing success marker in %q", buf.String())
	}
}
