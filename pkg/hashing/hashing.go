// Package hashing computes content digests for files and configurations
package hashing

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/kiln-build/kiln/pkg/logger"
)

// Hasher computes stable MD5 content digests. File timestamps are never
// consulted: packaging tools and version control can rewrite mtimes
// without changing content.
type Hasher struct {
	logger logger.Logger
}

// New creates a Hasher. The logger may be nil.
func New(log logger.Logger) *Hasher {
	return &Hasher{logger: log}
}

// HashFile returns the MD5 hex digest of a file's bytes. Read failures
// are soft: they are logged and reported as ok=false so the caller can
// treat the file as changed instead of aborting the whole check pass.
func (h *Hasher) HashFile(path string) (string, bool) {
	file, err := os.Open(path)
	if err != nil {
		h.warn("Failed to hash file", path, err)
		return "", false
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		h.warn("Failed to hash file", path, err)
		return "", false
	}

	return hex.EncodeToString(hash.Sum(nil)), true
}

// HashConfig returns the MD5 hex digest of a configuration value after
// normalizing it, so that semantically identical configurations hash
// identically regardless of construction order. A nil configuration
// hashes to the empty string.
func (h *Hasher) HashConfig(config interface{}) string {
	if config == nil {
		return ""
	}

	normalized, err := normalize(config)
	if err != nil {
		h.warn("Failed to hash config", "", err)
		return ""
	}

	// json.Marshal emits map keys in sorted order, which makes the
	// digest independent of insertion order.
	data, err := json.Marshal(normalized)
	if err != nil {
		h.warn("Failed to hash config", "", err)
		return ""
	}

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (h *Hasher) warn(message, path string, err error) {
	if h.logger == nil {
		return
	}
	fields := []logger.Field{logger.WithField("error", err)}
	if path != "" {
		fields = append(fields, logger.WithField("path", path))
	}
	h.logger.Warn(message, fields...)
}

// normalize round-trips the value through JSON to collapse concrete
// types, then canonicalizes path-like strings.
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return normalizeValue(out), nil
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = normalizeValue(val)
		}
		return m
	case []interface{}:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	case string:
		// Path values must hash the same whichever separator built them
		return filepath.ToSlash(t)
	default:
		return v
	}
}
