package server

// SchedulerServerConfig holds the settings of the dispatch, activation and staging loops.
type SchedulerServerConfig struct {
	DispatcherInterval string `mapstructure:"dispatcher_interval" yaml:"dispatcher_interval"`
	ActivatorInterval  string `mapstructure:"activator_interval"  yaml:"activator_interval"`
	DispatchBatch      int    `mapstructure:"dispatch_batch"      yaml:"dispatch_batch"`

	MaxSuspendRetries int    `mapstructure:"max_suspend_retries" yaml:"max_suspend_retries"`
	SuspendDuration   string `mapstructure:"suspend_duration"    yaml:"suspend_duration"`
	MaxReadRetries    int    `mapstructure:"max_read_retries"    yaml:"max_read_retries"`

	MetadataMaxAge    string `mapstructure:"metadata_max_age"    yaml:"metadata_max_age"`
	MetadataCacheSize int    `mapstructure:"metadata_cache_size" yaml:"metadata_cache_size"`
	AllocationMaxAge  string `mapstructure:"allocation_max_age"  yaml:"allocation_max_age"`

	// MaxStagers bounds the stager pool. Zero means the sum of all drives.
	MaxStagers int `mapstructure:"max_stagers" yaml:"max_stagers"`
}

// MediaTypeConfig describes one family of tapes and the drives able to read them.
type MediaTypeConfig struct {
	Name    string `mapstructure:"name"    yaml:"name"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Drives  int    `mapstructure:"drives"  yaml:"drives"`

	// Allocations maps a user name to its share of Drives, within [0, 1].
	Allocations map[string]float64 `mapstructure:"allocations" yaml:"allocations"`
}
