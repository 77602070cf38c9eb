package server

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// daemon configuration, merged lowest to highest precedence:
// built-in defaults, yaml file, environment (.env aware).
// Command line flags are applied on top by the daemon itself.
type Config struct {
	Port int `yaml:"port"`
	// HMAC secret for signed client tokens. Empty disables validation.
	TokenSecret string `yaml:"token_secret"`

	ExecuteTimeoutSeconds  int `yaml:"execute_timeout_seconds"`
	ReapGracePeriodSeconds int `yaml:"reap_grace_period_seconds"`

	// language tag -> interpreter argv
	Interpreters map[string][]string `yaml:"interpreters"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:                   5000,
		ExecuteTimeoutSeconds:  30,
		ReapGracePeriodSeconds: 900,
	}
}

func LoadConfig(path string) (*Config, error) {
	// .env values become visible to the env overrides below
	godotenv.Load()

	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, err
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if secret := os.Getenv("NOTEBOOK_TOKEN_SECRET"); secret != "" {
		config.TokenSecret = secret
	}
	if timeout := os.Getenv("NOTEBOOK_EXECUTE_TIMEOUT_SECONDS"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			config.ExecuteTimeoutSeconds = t
		}
	}

	return config, nil
}

func (self *Config) ExecuteTimeout() time.Duration {
	return time.Duration(self.ExecuteTimeoutSeconds) * time.Second
}

func (self *Config) ReapGracePeriod() time.Duration {
	return time.Duration(self.ReapGracePeriodSeconds) * time.Second
}
