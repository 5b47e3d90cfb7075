package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation range constants.
const (
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
	maxSettleDelay    = 10 * time.Minute
	maxRetries        = 10
)

// supportedFormats are the file types the upload service accepts.
var supportedFormats = map[string]bool{
	".fit": true,
	".gpx": true,
	".tcx": true,
}

// Validate checks all configuration values and returns all errors found,
// so a user sees the complete report in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateGarmin(&cfg.Garmin)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateGarmin(g *GarminConfig) []error {
	var errs []error

	if g.Domain == "" {
		errs = append(errs, errors.New("domain: must not be empty"))
	} else if strings.ContainsAny(g.Domain, "/: ") {
		errs = append(errs, fmt.Errorf("domain: must be a bare host name like garmin.com, got %q", g.Domain))
	}

	if (g.ConsumerKey == "") != (g.ConsumerSecret == "") {
		errs = append(errs, errors.New("consumer_key and consumer_secret: must be set together"))
	}

	return errs
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	if !supportedFormats[u.Format] {
		errs = append(errs, fmt.Errorf("format: must be one of .fit, .gpx, .tcx; got %q", u.Format))
	}

	if len(u.WatchExtensions) == 0 {
		errs = append(errs, errors.New("watch_extensions: must not be empty"))
	}

	for _, ext := range u.WatchExtensions {
		if !supportedFormats[ext] {
			errs = append(errs, fmt.Errorf("watch_extensions: unsupported extension %q", ext))
		}
	}

	d, err := time.ParseDuration(u.SettleDelay)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("settle_delay: invalid duration %q: %w", u.SettleDelay, err))
	case d < 0 || d > maxSettleDelay:
		errs = append(errs, fmt.Errorf("settle_delay: must be between 0s and %s, got %s", maxSettleDelay, d))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogging(l *LoggingConfig) []error {
	if !validLogLevels[l.LogLevel] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.MaxRetries < 0 || n.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxRetries, n.MaxRetries))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
