package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/garmin-go/internal/session"
)

var errMFARequired = errors.New(
	"garmin requested an MFA code: rerun with --mfa-code or from an interactive terminal")

// Prompt plumbing, replaced in tests.
var (
	promptInput  io.Reader = os.Stdin
	promptOutput io.Writer = os.Stderr
	stdinIsTTY             = func() bool {
		fd := os.Stdin.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

// withMFA runs op without a code and, if Garmin asks for one, runs it again
// with mfaCode or, on a terminal, a code read from the user. Each operation
// is one fresh attempt, so a code can only answer a challenge raised in the
// same process. The Session keeps the challenge's diagnostics when the code
// is submitted, so the returned result logs the whole exchange.
func withMFA(mfaCode string, op func(code string) session.OperationResult) (session.OperationResult, error) {
	res := op("")
	if !res.MFARequested {
		return res, nil
	}

	code := strings.TrimSpace(mfaCode)
	if code == "" {
		if !stdinIsTTY() {
			return res, errMFARequired
		}

		var err error

		code, err = promptMFACode()
		if err != nil {
			return res, err
		}
	}

	return op(code), nil
}

// promptMFACode reads one line from promptInput. Prompts are shown even in
// quiet mode because the user must act on them.
func promptMFACode() (string, error) {
	fmt.Fprint(promptOutput, "Enter the MFA code Garmin sent you: ")

	line, err := bufio.NewReader(promptInput).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading MFA code: %w", err)
	}

	code := strings.TrimSpace(line)
	if code == "" {
		return "", errMFARequired
	}

	return code, nil
}
