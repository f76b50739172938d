package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultPort is the default HTTP listen port.
	DefaultPort = 3000

	// DefaultMaxConcurrentRuns is the default run concurrency limit.
	DefaultMaxConcurrentRuns = 10

	// DefaultRetentionDays is the default retention window for runs.
	DefaultRetentionDays = 30

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"
)

// AppConfigFile is the application config filename inside the config dir.
const AppConfigFile = "app.config.json"

// Config is the root configuration for testoor.
type Config struct {
	Port              int      `mapstructure:"port"`
	TestRoot          string   `mapstructure:"testRoot"`
	ArtifactRoot      string   `mapstructure:"artifactRoot"`
	DatabasePath      string   `mapstructure:"databasePath"`
	MaxConcurrentRuns int      `mapstructure:"maxConcurrentRuns"`
	RetentionDays     int      `mapstructure:"retentionDays"`
	DriverCommand     []string `mapstructure:"driverCommand"`
	DeployRoot        string   `mapstructure:"deployRoot"`
}

// Environment describes one target environment tests can run against.
type Environment struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	IsProd bool   `json:"isProd"`
}

// User grants an email address access to a set of environment codes.
type User struct {
	Email        string   `json:"email"`
	Environments []string `json:"environments"`
}

type environmentsFile struct {
	Environments []Environment `json:"environments"`
}

type usersFile struct {
	Users []User `json:"users"`
}

// Load reads app.config.json from configDir via viper and applies the
// PORT, TEST_ROOT, ARTIFACT_ROOT and DATABASE_PATH environment overrides.
// A missing config file is not an error; validation catches incomplete
// configuration.
func Load(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, AppConfigFile))
	v.SetConfigType("json")

	v.SetDefault("port", DefaultPort)
	v.SetDefault("maxConcurrentRuns", DefaultMaxConcurrentRuns)
	v.SetDefault("retentionDays", DefaultRetentionDays)

	// Registering the path keys makes their env bindings visible to
	// Unmarshal even when the config file omits them.
	v.SetDefault("testRoot", "")
	v.SetDefault("artifactRoot", "")
	v.SetDefault("databasePath", "")

	// Environment variables win over file values.
	bindings := map[string]string{
		"port":         "PORT",
		"testRoot":     "TEST_ROOT",
		"artifactRoot": "ARTIFACT_ROOT",
		"databasePath": "DATABASE_PATH",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading %s: %w", AppConfigFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", AppConfigFile, err)
	}

	if cfg.DeployRoot == "" {
		cfg.DeployRoot = "."
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TestRoot == "" {
		return fmt.Errorf("testRoot is required")
	}

	if c.ArtifactRoot == "" {
		return fmt.Errorf("artifactRoot is required")
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("databasePath is required")
	}

	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("maxConcurrentRuns must be at least 1")
	}

	if c.RetentionDays < 1 {
		return fmt.Errorf("retentionDays must be at least 1")
	}

	if len(c.DriverCommand) == 0 {
		return fmt.Errorf("driverCommand is required")
	}

	return nil
}

// LoadEnvironments reads environments.json from configDir.
func LoadEnvironments(configDir string) ([]Environment, error) {
	data, err := os.ReadFile(filepath.Join(configDir, "environments.json"))
	if err != nil {
		return nil, fmt.Errorf("reading environments.json: %w", err)
	}

	var f environmentsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing environments.json: %w", err)
	}

	if len(f.Environments) == 0 {
		return nil, fmt.Errorf("environments.json defines no environments")
	}

	for i, env := range f.Environments {
		if env.Code == "" {
			return nil, fmt.Errorf("environment %d: code is required", i)
		}
	}

	return f.Environments, nil
}

// LoadUsers reads users.json from configDir.
func LoadUsers(configDir string) ([]User, error) {
	data, err := os.ReadFile(filepath.Join(configDir, "users.json"))
	if err != nil {
		return nil, fmt.Errorf("reading users.json: %w", err)
	}

	var f usersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing users.json: %w", err)
	}

	return f.Users, nil
}
