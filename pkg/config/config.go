package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all engine settings.
type Config struct {
	Forks     int           `mapstructure:"forks"`
	FailFast  bool          `mapstructure:"fail_fast"`
	RolesPath string        `mapstructure:"roles_path"`
	Logging   LoggingConfig `mapstructure:"logging"`
	SSH       SSHConfig     `mapstructure:"ssh"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Format     string `mapstructure:"format"`
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Timestamps bool   `mapstructure:"timestamps"`
}

// SSHConfig holds settings for remote connections.
type SSHConfig struct {
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
}

// RolesPaths splits the configured roles_path into individual directories.
func (c *Config) RolesPaths() []string {
	var paths []string
	for _, p := range strings.Split(c.RolesPath, ":") {
		if strings.TrimSpace(p) != "" {
			paths = append(paths, strings.TrimSpace(p))
		}
	}
	if len(paths) == 0 {
		paths = []string{"roles"}
	}
	return paths
}

// Load reads configuration from the given files and OPSRUN_* environment
// variables, applying defaults for anything unset. Passing no paths loads
// defaults plus ./opsrun.yaml when present.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if len(configPaths) == 0 {
		if _, err := os.Stat("opsrun.yaml"); err == nil {
			configPaths = append(configPaths, "opsrun.yaml")
		}
	}
	for _, path := range configPaths {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("OPSRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if config.Forks < 1 {
		return nil, fmt.Errorf("forks must be at least 1, got %d", config.Forks)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("forks", 5)
	v.SetDefault("fail_fast", true)
	v.SetDefault("roles_path", "roles")

	v.SetDefault("logging.format", "plain")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.timestamps", true)

	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.private_key_file", "")
}
