package config

// Default values for configuration options. These are the first layer of
// the override chain and work without any config file.
const (
	defaultDomain         = "garmin.com"
	defaultFormat         = ".fit"
	defaultSettleDelay    = "2s"
	defaultLogLevel       = "info"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
	defaultMaxRetries     = 3
)

// defaultWatchExtensions are the file types the watch command uploads.
var defaultWatchExtensions = []string{".fit", ".gpx", ".tcx"}

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Garmin: GarminConfig{
			Domain: defaultDomain,
		},
		Upload: UploadConfig{
			Format:          defaultFormat,
			WatchExtensions: append([]string(nil), defaultWatchExtensions...),
			SettleDelay:     defaultSettleDelay,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			MaxRetries:     defaultMaxRetries,
		},
	}
}
