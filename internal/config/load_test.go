package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[account]
email = "runner@example.com"
password = "s3cret"

[garmin]
domain = "garmin.cn"
consumer_key = "ck"
consumer_secret = "cs"

[upload]
format = "GPX"
watch_extensions = ["fit", ".TCX"]
settle_delay = "5s"

[logging]
log_level = "DEBUG"

[network]
connect_timeout = "3s"
data_timeout = "2m"
user_agent = "garmin-go/test"
max_retries = 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "runner@example.com", cfg.Account.Email)
	assert.Equal(t, "s3cret", cfg.Account.Password)
	assert.Equal(t, "garmin.cn", cfg.Garmin.Domain)
	assert.True(t, cfg.Garmin.HasConsumer())
	assert.Equal(t, ".gpx", cfg.Upload.Format)
	assert.Equal(t, []string{".fit", ".tcx"}, cfg.Upload.WatchExtensions)
	assert.Equal(t, 5*time.Second, cfg.Upload.SettleDuration())
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Network.ConnectDuration())
	assert.Equal(t, 2*time.Minute, cfg.Network.DataDuration())
	assert.Equal(t, "garmin-go/test", cfg.Network.UserAgent)
	assert.Equal(t, 5, cfg.Network.MaxRetries)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[account]\nemail = \"a@b.c\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "a@b.c", cfg.Account.Email)
	assert.Equal(t, defaultDomain, cfg.Garmin.Domain)
	assert.Equal(t, defaultFormat, cfg.Upload.Format)
	assert.Equal(t, defaultWatchExtensions, cfg.Upload.WatchExtensions)
	assert.Equal(t, defaultMaxRetries, cfg.Network.MaxRetries)
	assert.False(t, cfg.Garmin.HasConsumer())
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[account\nemail = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAreCollected(t *testing.T) {
	path := writeTestConfig(t, `
[upload]
format = ".zip"
settle_delay = "soon"

[network]
max_retries = 99
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
	assert.Contains(t, err.Error(), "settle_delay")
	assert.Contains(t, err.Error(), "max_retries")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, "[account]\nemail = \"file@example.com\"\npassword = \"file-pass\"\n")

	tests := []struct {
		name      string
		env       EnvOverrides
		cli       CLIOverrides
		wantEmail string
		wantPass  string
	}{
		{
			name:      "file only",
			env:       EnvOverrides{ConfigPath: path},
			wantEmail: "file@example.com",
			wantPass:  "file-pass",
		},
		{
			name:      "env beats file",
			env:       EnvOverrides{ConfigPath: path, Email: "env@example.com", Password: "env-pass"},
			wantEmail: "env@example.com",
			wantPass:  "env-pass",
		},
		{
			name:      "cli beats env",
			env:       EnvOverrides{ConfigPath: path, Email: "env@example.com"},
			cli:       CLIOverrides{Email: ptr(" cli@example.com ")},
			wantEmail: "cli@example.com",
			wantPass:  "file-pass",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Resolve(tt.env, tt.cli)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, cfg.Account.Email)
			assert.Equal(t, tt.wantPass, cfg.Account.Password)
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "/cli.toml", ResolveConfigPath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
	assert.Equal(t, "/env.toml", ResolveConfigPath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, DefaultConfigPath(), ResolveConfigPath(EnvOverrides{}, CLIOverrides{}))
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvEmail, "env@example.com")
	t.Setenv(EnvPassword, "")

	env := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", env.ConfigPath)
	assert.Equal(t, "env@example.com", env.Email)
	assert.Empty(t, env.Password)
}

func TestDefaultConfigPath_XDG(t *testing.T) {
	if DefaultConfigDir() == "" {
		t.Skip("no home directory")
	}

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	assert.Equal(t, filepath.Join(xdg, appName), linuxConfigDir("/home/ignored"))
	assert.Contains(t, DefaultConfigPath(), appName)
	assert.Equal(t, configFileName, filepath.Base(DefaultConfigPath()))
}

func TestLinuxConfigDir_NoXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	assert.Equal(t, "/home/testuser/.config/garmin-go", linuxConfigDir("/home/testuser"))
}

func ptr[T any](v T) *T {
	return &v
}
