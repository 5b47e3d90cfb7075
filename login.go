package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/garmin-go/internal/session"
)

var errLoginFailed = errors.New("login failed")

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check Garmin Connect credentials",
		Long: `Sign in to Garmin Connect with the configured account and report the result.
Tokens are held in memory only, so login verifies credentials and MFA setup
without saving anything.

Examples:
  GARMIN_GO_PASSWORD=... garmin-go login --email user@example.com
  garmin-go login --mfa-code 123456`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().String("mfa-code", "", "MFA code to answer a challenge without prompting")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
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

	ctx := cmd.Context()

	res, err := withMFA(mfaCode, func(code string) session.OperationResult {
		return sess.Login(ctx, creds, code)
	})

	if cc.Flags.JSON {
		if printErr := printJSON(os.Stdout, newResultJSON("", &res)); printErr != nil {
			return printErr
		}
	}

	if err != nil {
		return err
	}

	if !res.Success {
		return fmt.Errorf("%w: %s", errLoginFailed, failureReason(&res))
	}

	cc.Statusf("Signed in as %s.\n", creds.Identifier)

	return nil
}
