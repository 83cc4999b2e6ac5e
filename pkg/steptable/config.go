package steptable

import (
	"flag"
	"fmt"
)

const (
	// DefaultKeyColumn is the monotonically non-decreasing column used for
	// pruning and range search. History tables are keyed by step.
	DefaultKeyColumn = "_step"

	// TimestampColumn is the key column used by event tables.
	TimestampColumn = "_timestamp"
)

// Config holds options for newly opened tables.
type Config struct {
	// KeyColumn is the name of the sorted numeric column scans are keyed by.
	KeyColumn string `yaml:"key_column"`
}

// RegisterFlagsAndApplyDefaults registers config flags and sets defaults.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.KeyColumn, prefix+"key-column", DefaultKeyColumn, "Name of the sorted numeric key column.")
}

func (cfg *Config) applyDefaults() {
	if cfg.KeyColumn == "" {
		cfg.KeyColumn = DefaultKeyColumn
	}
}

// Validate returns an error if the config is unusable.
func (cfg *Config) Validate() error {
	if cfg.KeyColumn == "" {
		return fmt.Errorf("key column cannot be empty")
	}
	return nil
}
