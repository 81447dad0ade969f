package server

// BridgeServerConfig configures the command line tools used to talk to the HSM.
//
// Placeholders {file}, {tape}, {position}, {size} and {user} are substituted
// per argument after the command has been split.
type BridgeServerConfig struct {
	ResolveCommand string `mapstructure:"resolve_command" yaml:"resolve_command"`
	StageCommand   string `mapstructure:"stage_command"   yaml:"stage_command"`
	Timeout        string `mapstructure:"timeout"         yaml:"timeout"`
}
