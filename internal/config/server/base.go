package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log        LogServerConfig       `mapstructure:"log"         yaml:"log"`
	Metadata   MetadataServerConfig  `mapstructure:"metadata"    yaml:"metadata"`
	Scheduler  SchedulerServerConfig `mapstructure:"scheduler"   yaml:"scheduler"`
	Bridge     BridgeServerConfig    `mapstructure:"bridge"      yaml:"bridge"`
	API        APIServerConfig       `mapstructure:"api"         yaml:"api"`
	MediaTypes []MediaTypeConfig     `mapstructure:"media_types" yaml:"media_types"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (cfg *BaseServerConfig) Validate() error {
	names := make(map[string]bool)
	for _, mt := range cfg.MediaTypes {
		if mt.Name == "" {
			return fmt.Errorf("media type without name")
		}
		if names[mt.Name] {
			return fmt.Errorf("media type '%s' defined twice", mt.Name)
		}
		names[mt.Name] = true

		if mt.Drives < 0 {
			return fmt.Errorf("media type '%s' has negative drive count %d", mt.Name, mt.Drives)
		}
		for user, share := range mt.Allocations {
			if share < 0 || share > 1 {
				return fmt.Errorf("allocation of user '%s' on media type '%s' must be within [0, 1], got %v", user, mt.Name, share)
			}
		}
	}

	if cfg.Scheduler.MaxSuspendRetries < 0 {
		return fmt.Errorf("scheduler.max_suspend_retries must not be negative")
	}
	if cfg.Scheduler.MaxReadRetries < 0 {
		return fmt.Errorf("scheduler.max_read_retries must not be negative")
	}

	return nil
}

// Duration parses a configured duration string and falls back
// to the given value if the string is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
