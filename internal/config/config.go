// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for garmin-go. Values are layered as
// defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Account AccountConfig `toml:"account"`
	Garmin  GarminConfig  `toml:"garmin"`
	Upload  UploadConfig  `toml:"upload"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// AccountConfig holds the Garmin Connect sign-in identity. Keeping the
// password in the file is supported but GARMIN_GO_PASSWORD is preferred.
type AccountConfig struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// GarminConfig selects the Garmin domain and the OAuth consumer pair used to
// sign the ticket exchange.
type GarminConfig struct {
	Domain         string `toml:"domain"`
	ConsumerKey    string `toml:"consumer_key"`
	ConsumerSecret string `toml:"consumer_secret"`
}

// UploadConfig controls the upload and watch commands.
type UploadConfig struct {
	Format          string   `toml:"format" json:"format"`
	WatchExtensions []string `toml:"watch_extensions" json:"watch_extensions"`
	SettleDelay     string   `toml:"settle_delay" json:"settle_delay"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level" json:"log_level"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout" json:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout" json:"data_timeout"`
	UserAgent      string `toml:"user_agent" json:"user_agent"`
	MaxRetries     int    `toml:"max_retries" json:"max_retries"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit empty value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Email      *string // --email flag
}

// SettleDuration returns the parsed settle delay. Validate guarantees the
// value parses; an invalid value falls back to the default.
func (u *UploadConfig) SettleDuration() time.Duration {
	return parseDurationOr(u.SettleDelay, defaultSettleDelay)
}

// ConnectDuration returns the parsed connect timeout.
func (n *NetworkConfig) ConnectDuration() time.Duration {
	return parseDurationOr(n.ConnectTimeout, defaultConnectTimeout)
}

// DataDuration returns the parsed data timeout.
func (n *NetworkConfig) DataDuration() time.Duration {
	return parseDurationOr(n.DataTimeout, defaultDataTimeout)
}

// HasConsumer reports whether both halves of the consumer pair are set.
func (g *GarminConfig) HasConsumer() bool {
	return g.ConsumerKey != "" && g.ConsumerSecret != ""
}

func parseDurationOr(s, fallback string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
