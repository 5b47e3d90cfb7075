package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "GARMIN_GO_CONFIG"
	EnvEmail    = "GARMIN_GO_EMAIL"
	EnvPassword = "GARMIN_GO_PASSWORD"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // GARMIN_GO_CONFIG: override config file path
	Email      string // GARMIN_GO_EMAIL: account email
	Password   string // GARMIN_GO_PASSWORD: account password
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Email:      os.Getenv(EnvEmail),
		Password:   os.Getenv(EnvPassword),
	}
}
