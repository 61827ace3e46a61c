package session

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/luastep/internal/render"
)

// Config is the on-disk TOML configuration. Unset fields keep the values
// they are applied over, so the file only needs the keys it changes.
type Config struct {
	Backend      string   `toml:"backend"`
	ContextLines *int     `toml:"context_lines"`
	MaxValueRepr *int     `toml:"max_value_repr"`
	Watch        []string `toml:"watch"`
	LogLevel     string   `toml:"log_level"`
	LogFile      string   `toml:"log_file"`
}

// LoadConfig reads the TOML config at path. A missing file is not an
// error; it yields a zero config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Apply overlays the file's set fields onto s and returns the result.
func (c Config) Apply(s RenderSettings) RenderSettings {
	if c.Backend != "" {
		s.Backend = render.Kind(c.Backend)
	}
	if c.ContextLines != nil {
		s.ContextLines = *c.ContextLines
	}
	if c.MaxValueRepr != nil {
		s.MaxValueRepr = *c.MaxValueRepr
	}
	if len(c.Watch) > 0 {
		s.Watch = c.Watch
	}
	return s
}
