package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// authCfg holds basic auth user/pass for registry access, or the name of a token
// provider (like "ecr") and its options
type authCfg struct {
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	PasswordFromEnv string `yaml:"passwordFromEnv"`
	Provider        string `yaml:"provider"`
	ProviderOpts    string `yaml:"providerOpts"`
	Expiry          string `yaml:"expiry"`
}

// tlsCfg holds TLS configuration for registry access
type tlsCfg struct {
	Cert               string `yaml:"cert"`
	Key                string `yaml:"key"`
	CA                 string `yaml:"ca"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// RegistryConfig combines authCfg and tlsCfg and configures the fetcher
// for access to one upstream registry
type RegistryConfig struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Auth        authCfg `yaml:"auth"`
	Tls         tlsCfg  `yaml:"tls"`
	Scheme      string  `yaml:"scheme"`
}

// PlatformConfig configures access to the remote object store that the
// create-asset command uploads to
type PlatformConfig struct {
	ApiServer string `yaml:"apiServer"`
	Token     string `yaml:"token"`
	Project   string `yaml:"project"`
}

// RunConfig configures the run sub-command
type RunConfig struct {
	Volumes []string `yaml:"-"`
	WorkDir string   `yaml:"-"`
	Remove  bool     `yaml:"-"`
	Env     []string `yaml:"-"`
	Command []string `yaml:"-"`
}

// AssetConfig configures the add-to-applet and create-asset sub-commands
type AssetConfig struct {
	AppletDir string `yaml:"-"`
	Folder    string `yaml:"folder"`
	Name      string `yaml:"-"`
}

// ListConfig configures the list sub-command
type ListConfig struct {
	Header bool   `yaml:"header"`
	Expr   string `yaml:"expr"`
}

// ClearConfig configures the clear sub-command. Type is "pattern", "date", or
// empty meaning clear everything.
type ClearConfig struct {
	Type   string `yaml:"type"`
	Expr   string `yaml:"expr"`
	DryRun bool   `yaml:"dryrun"`
}

// Configuration represents the totality of configuration knobs and dials for the tool.
// Values tagged "-" can only come from the command line.
type Configuration struct {
	LogLevel    string           `yaml:"logLevel"`
	LogFile     string           `yaml:"logFile"`
	ConfigFile  string           `yaml:"configFile"`
	CacheDir    string           `yaml:"cacheDir"`
	MetricsFile string           `yaml:"metricsFile"`
	Os          string           `yaml:"os"`
	Arch        string           `yaml:"arch"`
	Engine      string           `yaml:"engine"`
	Quiet       bool             `yaml:"-"`
	Refs        []string         `yaml:"-"`
	ImageFile   string           `yaml:"-"`
	Registries  []RegistryConfig `yaml:"registries"`
	Platform    PlatformConfig   `yaml:"platform"`
	RunConfig   RunConfig        `yaml:"-"`
	AssetConfig AssetConfig      `yaml:"assetConfig"`
	ListConfig  ListConfig       `yaml:"listConfig"`
	ClearConfig ClearConfig      `yaml:"clearConfig"`
}

// FromCmdLine has a flag for every command-line option that can also come from
// the config file. The parsing code sets the flag to true if the option was
// explicitly provided on the command line by the user.
type FromCmdLine struct {
	Command     string
	LogLevel    bool
	LogFile     bool
	ConfigFile  bool
	CacheDir    bool
	MetricsFile bool
	Os          bool
	Arch        bool
	Engine      bool
	Project     bool
	Folder      bool
	ListConfig  bool
	ClearConfig bool
}

var config Configuration

func GetLogLevel() string {
	return config.LogLevel
}

func GetLogFile() string {
	return config.LogFile
}

func GetConfigFile() string {
	return config.ConfigFile
}

func GetCacheDir() string {
	return config.CacheDir
}

func GetMetricsFile() string {
	return config.MetricsFile
}

func GetOs() string {
	return config.Os
}

func GetArch() string {
	return config.Arch
}

func GetEngine() string {
	return config.Engine
}

func GetQuiet() bool {
	return config.Quiet
}

func GetRefs() []string {
	return config.Refs
}

func GetImageFile() string {
	return config.ImageFile
}

func GetRegistries() []RegistryConfig {
	return config.Registries
}

func GetPlatform() PlatformConfig {
	return config.Platform
}

func GetRunConfig() RunConfig {
	return config.RunConfig
}

func GetAssetConfig() AssetConfig {
	return config.AssetConfig
}

func GetListConfig() ListConfig {
	return config.ListConfig
}

func GetClearConfig() ClearConfig {
	return config.ClearConfig
}

// Load loads the passed configuration file into the configuration struct
func Load(configFile string) error {
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("unable to stat configuration file: %s", configFile)
	}
	if contents, err := os.ReadFile(configFile); err != nil {
		return fmt.Errorf("error reading configuration file: %s", configFile)
	} else if err := SetConfigFromStr(contents); err != nil {
		return fmt.Errorf("error parsing configuration file: %s, the error was: %s", configFile, err)
	}
	return nil
}

// Get gets the current configuration
func Get() Configuration {
	return config
}

// Set replaces the configuration with the passed configuration
func Set(cfg Configuration) {
	config = cfg
	resetRegistryOpts()
}

// SetConfigFromStr parses the yaml input and sets the configuration from it
func SetConfigFromStr(configBytes []byte) error {
	var cfg Configuration
	if err := yaml.Unmarshal(configBytes, &cfg); err != nil {
		return err
	}
	Set(cfg)
	return nil
}
