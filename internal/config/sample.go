package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Sample is the generated starter configuration.
const Sample = `# coldshift configuration

[global]
log_level = "info"        # debug, info, warn, error
verify_hash = "xxh64"     # xxh64 or blake3
default_priority = 0      # ranking value for files with no priority attribute
exclude = []              # extra exclusion globs; swap/lock files are always excluded

# Tiers are ordered fastest to slowest. At least two are required.

[[tier]]
id = "fast"
dir = ""                  # full path to tier storage pool
max_watermark = 90        # % usage at which to tier down from this tier
min_watermark = 70        # % usage below which to tier up into this tier
# expires = "720h"        # demote files not modified within this duration

[[tier]]
id = "slow"
dir = ""
max_watermark = 95
min_watermark = 80
`

// WriteSample creates a sample config at path, refusing to overwrite an
// existing file. Parent directories are created as needed.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(Sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Dump writes the resolved configuration to w as TOML.
func (c *Config) Dump(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
