package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/exorcist/internal/log"
)

// YAML renders cfg as YAML. Secrets are omitted.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return buf.Bytes(), nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# exorcist configuration
#
# Every key can also be set with an EXORCIST_ environment variable, e.g.
# EXORCIST_ROOT or EXORCIST_OBJECT_STORE_ACCESS_KEY. A .env file in the
# working directory is loaded first.

# sourceRoot written into extracted maps (default: keep the map's own)
# root: http://my.awesome.site/src

# Rewrite absolute source paths relative to this directory
# base: /path/to/project

# Fail instead of passing the input through when it has no inline map
error_on_missing: false

# Follow external sourceMappingURL references next to the input file
resolve_external: false

# Debug logging (also enabled by --debug or EXORCIST_DEBUG)
debug: false
log_file: exorcist-debug.log
log_level: debug   # debug, info, warn, error

watch:
  debounce: 200ms  # coalesce bursts of writes to the input

# Settings for s3://bucket/key map destinations
object_store:
  # endpoint: localhost:9000
  region: us-east-1
  use_ssl: true
  # access_key and secret_key are best supplied via
  # EXORCIST_OBJECT_STORE_ACCESS_KEY / EXORCIST_OBJECT_STORE_SECRET_KEY

# tracing:
#   enabled: false     # default: false
#   exporter: file     # none, file, stdout (written to stderr), otlp
#   file_path: ~/.config/exorcist/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0
`
}

// WriteDefaultConfig writes the default template to configPath, creating the
// parent directory if needed. The file is written to a temp file and renamed
// into place.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".exorcist.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.WriteString(DefaultConfigTemplate()); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, configPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", configPath)
	return nil
}
