package config

// Merge takes a struct indicating which configuration options have been provided on the command
// line, as well as a configuration struct parsed from the command line which ALSO includes defaults
// that the user didn't specify. For example the default cache dir is /tmp/dx-docker-cache and if you
// don't specify that on the command line - it gets defaulted into the parsed configuration struct. So:
//
//  1. User provided a value: overwrite current config using the user's value
//  2. User did not provide a value, current config is unspecified: use the default in the parsed config
//  3. User did not provide a value, current config is specified: leave the current config untouched
//
// Values that can only come from the command line (refs, run args, etc.) are always taken
// from the parsed config.
func Merge(fromCmdline FromCmdLine, cfg Configuration) {
	if fromCmdline.LogLevel || config.LogLevel == "" {
		config.LogLevel = cfg.LogLevel
	}
	if fromCmdline.LogFile || config.LogFile == "" {
		config.LogFile = cfg.LogFile
	}
	if fromCmdline.ConfigFile || config.ConfigFile == "" {
		config.ConfigFile = cfg.ConfigFile
	}
	if fromCmdline.CacheDir || config.CacheDir == "" {
		config.CacheDir = cfg.CacheDir
	}
	if fromCmdline.MetricsFile || config.MetricsFile == "" {
		config.MetricsFile = cfg.MetricsFile
	}
	if fromCmdline.Os || config.Os == "" {
		config.Os = cfg.Os
	}
	if fromCmdline.Arch || config.Arch == "" {
		config.Arch = cfg.Arch
	}
	if fromCmdline.Engine || config.Engine == "" {
		config.Engine = cfg.Engine
	}
	if fromCmdline.Project || config.Platform.Project == "" {
		config.Platform.Project = cfg.Platform.Project
	}
	if fromCmdline.Folder || config.AssetConfig.Folder == "" {
		config.AssetConfig.Folder = cfg.AssetConfig.Folder
	}
	if fromCmdline.ListConfig || config.ListConfig == (ListConfig{}) {
		config.ListConfig = cfg.ListConfig
	}
	if fromCmdline.ClearConfig || config.ClearConfig == (ClearConfig{}) {
		config.ClearConfig = cfg.ClearConfig
	}
	config.Quiet = cfg.Quiet
	config.Refs = cfg.Refs
	config.ImageFile = cfg.ImageFile
	config.RunConfig = cfg.RunConfig
	config.AssetConfig.AppletDir = cfg.AssetConfig.AppletDir
	config.AssetConfig.Name = cfg.AssetConfig.Name
	resetRegistryOpts()
}
