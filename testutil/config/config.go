// Package config resolves database DSNs for the integration tests from the
// environment. Tests skip themselves when the respective DSN is not set.
package config

import (
	"github.com/caarlos0/env/v11"
)

// TestConfig carries the DSNs the integration tests connect with.
type TestConfig struct {
	PostgresDSN string `env:"EVENTSTORE_POSTGRES_DSN"`
	MySQLDSN    string `env:"EVENTSTORE_MYSQL_DSN"`
}

// Load parses the test configuration from the environment.
func Load() (TestConfig, error) {
	var cfg TestConfig
	if err := env.Parse(&cfg); err != nil {
		return TestConfig{}, err
	}

	return cfg, nil
}
