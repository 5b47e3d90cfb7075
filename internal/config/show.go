package config

import (
	"fmt"
	"io"
	"strings"
)

// redacted replaces secret values in rendered output.
const redacted = "********"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. Secrets are redacted. This powers "config show".
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	renderAccountSection(ew, &cfg.Account)
	renderGarminSection(ew, &cfg.Garmin)
	renderUploadSection(ew, &cfg.Upload)
	ew.printf("[logging]\n")
	ew.printf("  log_level = %q\n\n", cfg.Logging.LogLevel)
	renderNetworkSection(ew, &cfg.Network)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAccountSection(ew *errWriter, a *AccountConfig) {
	ew.printf("[account]\n")
	ew.printf("  email    = %q\n", a.Email)
	ew.printf("  password = %q\n", redact(a.Password))
	ew.printf("\n")
}

func renderGarminSection(ew *errWriter, g *GarminConfig) {
	ew.printf("[garmin]\n")
	ew.printf("  domain          = %q\n", g.Domain)
	ew.printf("  consumer_key    = %q\n", g.ConsumerKey)
	ew.printf("  consumer_secret = %q\n", redact(g.ConsumerSecret))
	ew.printf("\n")
}

func renderUploadSection(ew *errWriter, u *UploadConfig) {
	ew.printf("[upload]\n")
	ew.printf("  format           = %q\n", u.Format)
	ew.printf("  watch_extensions = [%s]\n", joinQuoted(u.WatchExtensions))
	ew.printf("  settle_delay     = %q\n", u.SettleDelay)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("  max_retries     = %d\n", n.MaxRetries)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}

	return redacted
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
