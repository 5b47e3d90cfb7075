package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/garmin-go/internal/garmin"
	"github.com/tonimelisma/garmin-go/internal/session"
	"github.com/tonimelisma/garmin-go/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Upload new activity files as they appear in a directory",
		Long: `Watch DIR and upload every new or rewritten file whose extension is listed in
[upload] watch_extensions, once it has been quiet for settle_delay. Signs in
first so an MFA prompt happens up front. Stops on SIGINT or SIGTERM.

Example:
  garmin-go watch ~/Garmin/Activities`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().String("mfa-code", "", "MFA code to answer a challenge without prompting")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	mfaCode, _ := cmd.Flags().GetString("mfa-code")

	creds, err := credentials(cc)
	if err != nil {
		return err
	}

	sess, err := newSession(cc)
	if err != nil {
		return err
	}

	releasePID, err := writePIDFile(watchPIDPath(cc.CfgPath))
	if err != nil {
		return err
	}
	defer releasePID()

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	res, err := withMFA(mfaCode, func(code string) session.OperationResult {
		return sess.Login(ctx, creds, code)
	})
	if err != nil {
		return err
	}

	if !res.Success {
		return fmt.Errorf("%w: %s", errLoginFailed, failureReason(&res))
	}

	fsw, err := watch.NewFsWatcher()
	if err != nil {
		return err
	}

	obs := watch.NewObserver(fsw, args[0], cc.Cfg.Upload.WatchExtensions, cc.Cfg.Upload.SettleDuration(), cc.Logger)

	cc.Statusf("Watching %s (Ctrl-C to stop)\n", args[0])

	return watchAndUpload(ctx, cc, obs, func(ctx context.Context, path string) session.OperationResult {
		return sess.UploadFile(ctx, creds, path, "")
	})
}

// watchAndUpload runs the observer and a single upload consumer until ctx
// is canceled. Uploads are sequential because a Session is not safe for
// concurrent use.
func watchAndUpload(
	ctx context.Context, cc *CLIContext, obs *watch.Observer,
	upload func(ctx context.Context, path string) session.OperationResult,
) error {
	paths := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(paths)
		return obs.Run(gctx, paths)
	})

	g.Go(func() error {
		for path := range paths {
			res := upload(gctx, path)
			reportWatchUpload(cc, path, &res)
		}

		return nil
	})

	return g.Wait()
}

func reportWatchUpload(cc *CLIContext, path string, res *session.OperationResult) {
	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, newResultJSON(path, res)); err != nil {
			cc.Logger.Warn("writing JSON output", slog.String("error", err.Error()))
		}

		return
	}

	if res.Success {
		cc.Statusf("Uploaded %s (upload id %s)\n", path, res.UploadID)
		return
	}

	if res.MFARequested || res.AuthStatus == garmin.Failed {
		cc.Logger.Error("re-authentication needed; restart watch to sign in again",
			slog.String("path", path),
			slog.String("auth_status", res.AuthStatus.String()),
		)
	}

	cc.Statusf("Failed %s: %s\n", path, failureReason(res))
}
