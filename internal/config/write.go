package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions keeps the file private: it may hold the account
// password and the consumer secret.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteTemplate when the target file exists
// and overwrite was not requested.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is the file written by `config init`. Every setting is
// present as a commented-out default so users can discover options without
// reading docs.
const configTemplate = `# garmin-go configuration

[account]
# Sign-in email. GARMIN_GO_EMAIL and --email override it.
# email = ""

# Storing the password here works, but GARMIN_GO_PASSWORD is preferred.
# password = ""

[garmin]
# domain = "garmin.com"

# OAuth consumer pair used for the ticket exchange. Both are required.
consumer_key = ""
consumer_secret = ""

[upload]
# Format used when a file extension is not recognized: .fit, .gpx, .tcx
# format = ".fit"

# Extensions picked up by 'watch'.
# watch_extensions = [".fit", ".gpx", ".tcx"]

# Quiet period before a watched file is uploaded.
# settle_delay = "2s"

[logging]
# debug, info, warn, error
# log_level = "info"

[network]
# connect_timeout = "10s"
# data_timeout = "60s"
# user_agent = ""
# max_retries = 3
`

// WriteTemplate writes the commented default config to path. An existing
// file is left alone unless overwrite is set. The write is atomic.
func WriteTemplate(path string, overwrite bool) error {
	if path == "" {
		return errors.New("config: cannot determine config file path")
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	slog.Info("writing config template", "path", path, "overwrite", overwrite)

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path and renames it into place, so readers never observe a partial file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
