package models

import "time"

// Config represents the main configuration
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Shield    ShieldConfig    `mapstructure:"shield"`
	Sanitizer SanitizerConfig `mapstructure:"sanitizer"`
	Server    ServerConfig    `mapstructure:"server"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Lists     []FilterList    `mapstructure:"lists"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // empty = stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// ShieldConfig contains filtering settings
type ShieldConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SanitizerConfig extends the built-in tracking parameter registry
type SanitizerConfig struct {
	ExtraParams []string `mapstructure:"extra_params"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// SourcesConfig contains list reading settings
type SourcesConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Watch         bool          `mapstructure:"watch"`    // reload when list files change (serve only)
	Debounce      time.Duration `mapstructure:"debounce"` // e.g. "500ms"
}

// FilterList represents a single filter list file
type FilterList struct {
	Name    string `mapstructure:"name"`
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

// EnabledLists returns only enabled filter lists
func (c *Config) EnabledLists() []FilterList {
	var enabled []FilterList
	for _, l := range c.Lists {
		if l.Enabled {
			enabled = append(enabled, l)
		}
	}
	return enabled
}
