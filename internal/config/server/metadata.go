package server

// MetadataServerConfig holds the request database configuration
type MetadataServerConfig struct {
	Type   string               `mapstructure:"type"   yaml:"type"`
	SQLite MetadataSQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// MetadataSQLiteConfig holds SQLite-specific configuration
type MetadataSQLiteConfig struct {
	Path     string `mapstructure:"path"      yaml:"path"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}
