package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Metadata: MetadataServerConfig{
			Type: "sqlite",
			SQLite: MetadataSQLiteConfig{
				Path:     "./gostage.db",
				LogLevel: "silent",
			},
		},

		Scheduler: SchedulerServerConfig{
			DispatcherInterval: "5s",
			ActivatorInterval:  "2s",
			DispatchBatch:      1000,
			MaxSuspendRetries:  3,
			SuspendDuration:    "5m",
			MaxReadRetries:     3,
			MetadataMaxAge:     "1h",
			MetadataCacheSize:  100000,
			AllocationMaxAge:   "1m",
			MaxStagers:         0,
		},

		Bridge: BridgeServerConfig{
			ResolveCommand: "hsm-resolve {file}",
			StageCommand:   "hsm-stage {file} {tape} {position}",
			Timeout:        "6h",
		},

		API: APIServerConfig{
			Enabled: true,
			Address: "127.0.0.1:8970",
		},

		MediaTypes: []MediaTypeConfig{
			{
				Name:    "T10K-T2",
				Pattern: "^(IT|JT)[0-9]{4}$",
				Drives:  4,
				Allocations: map[string]float64{
					"atlas": 0.5,
					"cms":   0.25,
				},
			},
			{
				Name:        "LTO8",
				Pattern:     "^L8[0-9]{4}$",
				Drives:      2,
				Allocations: map[string]float64{},
			},
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)
	viper.SetDefault("metadata.sqlite.log_level", defaults.Metadata.SQLite.LogLevel)

	viper.SetDefault("scheduler.dispatcher_interval", defaults.Scheduler.DispatcherInterval)
	viper.SetDefault("scheduler.activator_interval", defaults.Scheduler.ActivatorInterval)
	viper.SetDefault("scheduler.dispatch_batch", defaults.Scheduler.DispatchBatch)
	viper.SetDefault("scheduler.max_suspend_retries", defaults.Scheduler.MaxSuspendRetries)
	viper.SetDefault("scheduler.suspend_duration", defaults.Scheduler.SuspendDuration)
	viper.SetDefault("scheduler.max_read_retries", defaults.Scheduler.MaxReadRetries)
	viper.SetDefault("scheduler.metadata_max_age", defaults.Scheduler.MetadataMaxAge)
	viper.SetDefault("scheduler.metadata_cache_size", defaults.Scheduler.MetadataCacheSize)
	viper.SetDefault("scheduler.allocation_max_age", defaults.Scheduler.AllocationMaxAge)
	viper.SetDefault("scheduler.max_stagers", defaults.Scheduler.MaxStagers)

	viper.SetDefault("bridge.resolve_command", defaults.Bridge.ResolveCommand)
	viper.SetDefault("bridge.stage_command", defaults.Bridge.StageCommand)
	viper.SetDefault("bridge.timeout", defaults.Bridge.Timeout)

	viper.SetDefault("api.enabled", defaults.API.Enabled)
	viper.SetDefault("api.address", defaults.API.Address)

	// Media types are a list and are not merged with defaults; only
	// fall back to the examples if nothing has been configured at all.
	if !viper.IsSet("media_types") {
		viper.SetDefault("media_types", defaults.MediaTypes)
	}
}
