package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tonimelisma/garmin-go/internal/session"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
// Method form of statusf, so callers need not thread `quiet bool` through.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// resultJSON is the JSON schema for one operation in --json output.
type resultJSON struct {
	OperationID  string        `json:"operation_id"`
	File         string        `json:"file,omitempty"`
	Success      bool          `json:"success"`
	AuthStatus   string        `json:"auth_status"`
	MFARequested bool          `json:"mfa_requested"`
	UploadID     string        `json:"upload_id,omitempty"`
	Duplicate    bool          `json:"duplicate,omitempty"`
	Messages     []messageJSON `json:"messages,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
}

type messageJSON struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

func newResultJSON(file string, res *session.OperationResult) resultJSON {
	out := resultJSON{
		OperationID:  res.OperationID,
		File:         file,
		Success:      res.Success,
		AuthStatus:   res.AuthStatus.String(),
		MFARequested: res.MFARequested,
		UploadID:     res.UploadID,
	}

	if res.Outcome != nil {
		out.Duplicate = res.Outcome.Duplicate()

		for _, m := range res.Outcome.Messages {
			out.Messages = append(out.Messages, messageJSON{Code: m.Code, Text: m.Text})
		}
	}

	for _, e := range res.ErrorLogs {
		out.Errors = append(out.Errors, e.String())
	}

	return out
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// failureReason condenses a failed result into one line for the user.
func failureReason(res *session.OperationResult) string {
	switch {
	case res.Err != nil:
		return res.Err.Error()
	case res.MFARequested:
		return "MFA code required"
	case res.Encode.Err != nil:
		return res.Encode.Err.Error()
	case res.Outcome != nil && res.Outcome.Duplicate():
		return "already uploaded"
	case len(res.ErrorLogs) > 0:
		return res.ErrorLogs[len(res.ErrorLogs)-1].Message
	case res.Upload.Err != nil:
		return res.Upload.Err.Error()
	default:
		return "authentication " + res.AuthStatus.String()
	}
}
