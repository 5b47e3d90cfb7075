package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/garmin-go/internal/garmin"
	"github.com/tonimelisma/garmin-go/internal/session"
)

var errUploadsFailed = errors.New("one or more uploads failed")

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload activity files to Garmin Connect",
		Long: `Upload FIT, GPX or TCX files. The format is taken from each file's extension
unless --format is given. Files are uploaded one at a time over one login.

Examples:
  garmin-go upload ride.fit run.gpx
  garmin-go upload --format fit export.bin`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().String("mfa-code", "", "MFA code to answer a challenge without prompting")
	cmd.Flags().String("format", "", "upload format for all files (fit, gpx, tcx)")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	mfaCode, _ := cmd.Flags().GetString("mfa-code")
	format, _ := cmd.Flags().GetString("format")

	creds, err := credentials(cc)
	if err != nil {
		return err
	}

	sess, err := newSession(cc)
	if err != nil {
		return err
	}

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	results := make([]resultJSON, 0, len(args))
	rows := make([][]string, 0, len(args))
	failed := 0

	for i, path := range args {
		if ctx.Err() != nil {
			break
		}

		upload := func(code string) session.OperationResult {
			return uploadOne(ctx, sess, creds, path, format, code)
		}

		var res session.OperationResult

		// Only the first file can raise an MFA challenge; later files reuse
		// the token it produced.
		if i == 0 {
			res, err = withMFA(mfaCode, upload)
			if err != nil {
				return err
			}
		} else {
			res = upload("")
		}

		results = append(results, newResultJSON(path, &res))
		rows = append(rows, uploadRow(path, &res))

		if !res.Success {
			failed++
		}

		if res.AuthStatus != garmin.Authenticated && !sess.TokenValid() {
			// Without a token every remaining file would fail the same way.
			cc.Logger.Error("authentication failed, skipping remaining files",
				slog.Int("remaining", len(args)-i-1),
			)

			break
		}
	}

	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, results); err != nil {
			return err
		}
	} else if !cc.Flags.Quiet {
		printTable(os.Stdout, []string{"FILE", "STATUS", "UPLOAD ID", "DETAIL"}, rows)
	}

	if failed > 0 || len(results) < len(args) {
		return fmt.Errorf("%w: %d of %d", errUploadsFailed, len(args)-len(results)+failed, len(args))
	}

	return nil
}

func uploadOne(
	ctx context.Context, sess *session.Session, creds garmin.Credentials, path, format, code string,
) session.OperationResult {
	if format != "" {
		return sess.UploadFileAs(ctx, creds, path, format, code)
	}

	return sess.UploadFile(ctx, creds, path, code)
}

func uploadRow(path string, res *session.OperationResult) []string {
	if res.Success {
		detail := ""
		if info, err := os.Stat(path); err == nil {
			detail = formatSize(info.Size())
		}

		return []string{path, "uploaded", res.UploadID, detail}
	}

	return []string{path, "failed", res.UploadID, failureReason(res)}
}
