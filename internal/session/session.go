// Package session is the single entry point for host applications. A Session
// owns one logical Garmin login: it authenticates when the cached token is
// not valid, then runs the encode and upload stages, and always returns a
// fully populated OperationResult.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/garmin-go/internal/diag"
	"github.com/tonimelisma/garmin-go/internal/garmin"
)

// Config wires a Session and the garmin components behind it.
type Config struct {
	Client     garmin.Config
	Consumer   garmin.Consumer
	HTTPClient *http.Client

	// Handler receives every log record the Session and its components
	// emit, in addition to the in-memory diagnostics. nil discards them.
	Handler slog.Handler
	// Level is the lowest level captured into OperationResult logs.
	// nil captures Info and above.
	Level slog.Leveler

	// Encoder builds weight payload files for UploadWeight.
	Encoder Encoder
	// Format of files produced by Encoder. Defaults to ".fit".
	Format string

	// Now is the clock used for token expiry. Defaults to time.Now.
	Now func() time.Time
}

// Session composes the authentication flow and the uploader. It is a single
// logical session and is not safe for concurrent use; callers serialize.
type Session struct {
	auth     *garmin.Authenticator
	store    *garmin.TokenStore
	uploader *garmin.Uploader
	encoder  Encoder
	format   string
	recorder *diag.Recorder
	logger   *slog.Logger
}

// New builds a Session from cfg.
func New(cfg Config) (*Session, error) {
	recorder := diag.NewRecorder(cfg.Handler, cfg.Level)
	logger := slog.New(recorder)

	client, err := garmin.NewClient(cfg.Client, cfg.HTTPClient, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	store := garmin.NewTokenStore(cfg.Now)

	format := cfg.Format
	if format == "" {
		format = defaultFormat
	}

	return &Session{
		auth:     garmin.NewAuthenticator(client, store, cfg.Consumer, logger),
		store:    store,
		uploader: garmin.NewUploader(client, store, logger),
		encoder:  cfg.Encoder,
		format:   format,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Logger returns the logger feeding this Session's diagnostics.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Status returns the current authentication status.
func (s *Session) Status() garmin.AuthStatus {
	return s.auth.Status()
}

// TokenValid reports whether the cached bearer token can be used.
func (s *Session) TokenValid() bool {
	return s.store.Valid()
}

// Login authenticates without uploading anything. Pass mfaCode to complete a
// pending MFA challenge. Encode and upload stages are reported as skipped.
func (s *Session) Login(ctx context.Context, creds garmin.Credentials, mfaCode string) OperationResult {
	res, logger := s.begin("login", mfaCode)

	if s.ensureToken(ctx, logger, creds, mfaCode, &res) {
		res.Success = true
	}

	return s.finish(res)
}

// UploadWeight encodes a weight measurement with the configured Encoder and
// uploads the resulting file. An encoding failure is logged and skips the
// upload; it never aborts the call.
func (s *Session) UploadWeight(
	ctx context.Context, creds garmin.Credentials, data WeightData, profile ProfileSettings, mfaCode string,
) OperationResult {
	return s.run(ctx, "upload_weight", creds, mfaCode, s.format, func() (string, error) {
		if s.encoder == nil {
			return "", ErrNoEncoder
		}

		return s.encoder.Encode(data, profile)
	})
}

// UploadFile uploads an already encoded activity file. The encode stage
// checks the file and derives the upload format from its extension.
func (s *Session) UploadFile(ctx context.Context, creds garmin.Credentials, path, mfaCode string) OperationResult {
	format, formatErr := FormatOf(path)

	return s.uploadFile(ctx, creds, path, mfaCode, format, formatErr)
}

// UploadFileAs is UploadFile with an explicit upload format, for files whose
// extension does not name their content.
func (s *Session) UploadFileAs(
	ctx context.Context, creds garmin.Credentials, path, format, mfaCode string,
) OperationResult {
	format, formatErr := normalizeFormat(format)

	return s.uploadFile(ctx, creds, path, mfaCode, format, formatErr)
}

func (s *Session) uploadFile(
	ctx context.Context, creds garmin.Credentials, path, mfaCode, format string, formatErr error,
) OperationResult {
	return s.run(ctx, "upload_file", creds, mfaCode, format, func() (string, error) {
		if formatErr != nil {
			return "", formatErr
		}

		return prepareFile(path)
	})
}

// run is the shared authenticate -> encode -> upload pipeline.
func (s *Session) run(
	ctx context.Context, op string, creds garmin.Credentials, mfaCode, format string,
	encode func() (string, error),
) OperationResult {
	res, logger := s.begin(op, mfaCode)

	if !s.ensureToken(ctx, logger, creds, mfaCode, &res) {
		return s.finish(res)
	}

	path, err := encode()
	if err != nil {
		res.Encode = StageResult{Stage: StageEncode, Status: StageFailed, Err: err}
		logger.Error("problem with creating payload file, upload skipped",
			slog.String("error", err.Error()),
		)

		return s.finish(res)
	}

	res.Encode = StageResult{Stage: StageEncode, Status: StageOK, Output: path}

	out := s.uploader.UploadActivity(ctx, path, format)
	if out == nil {
		res.Upload = StageResult{Stage: StageUpload, Status: StageFailed, Err: ErrUploadFailed}
		return s.finish(res)
	}

	res.Outcome = out
	res.UploadID = out.UploadID
	res.Success = out.Success

	if out.Success {
		res.Upload = StageResult{Stage: StageUpload, Status: StageOK, Output: out.UploadID}
		logger.Info("upload complete", slog.String("upload_id", out.UploadID))
	} else {
		res.Upload = StageResult{Stage: StageUpload, Status: StageFailed, Err: ErrNoUploadID}
	}

	return s.finish(res)
}

// ensureToken authenticates when the cached token is not valid. It reports
// whether the token is valid afterwards. Auth failures are recorded in res,
// never returned.
func (s *Session) ensureToken(
	ctx context.Context, logger *slog.Logger, creds garmin.Credentials, mfaCode string, res *OperationResult,
) bool {
	if s.store.Valid() {
		logger.Debug("reusing cached token")
		return true
	}

	var (
		ar  garmin.AuthResult
		err error
	)

	if mfaCode == "" {
		ar, err = s.auth.Authenticate(ctx, creds)
	} else {
		ar, err = s.auth.CompleteMFA(ctx, mfaCode)
	}

	res.MFARequested = ar.MFARequested

	if errors.Is(err, garmin.ErrNoPendingMFA) {
		// A code without a challenge is a caller bug; surface it as such
		// instead of folding it into an ordinary auth failure.
		res.Err = err
		logger.Error("MFA code supplied without a pending challenge")
	}

	return ar.Success && s.store.Valid()
}

// begin starts an operation: a new operation ID becomes the diagnostics
// scope, so entries from the authenticator and the uploader carry op and
// op_id too. Diagnostics start empty, except when mfaCode answers a pending
// challenge: the entries of the call that raised it are kept, so the result
// shows the whole login.
func (s *Session) begin(op, mfaCode string) (OperationResult, *slog.Logger) {
	if mfaCode == "" || s.auth.Status() != garmin.NeedsMFA {
		s.recorder.Reset()
	}

	res := OperationResult{
		OperationID: uuid.New().String(),
		Encode:      StageResult{Stage: StageEncode, Status: StageSkipped},
		Upload:      StageResult{Stage: StageUpload, Status: StageSkipped},
	}

	s.recorder.SetScope(slog.String("op", op), slog.String("op_id", res.OperationID))
	s.logger.Debug("operation started")

	return res, s.logger
}

// finish attaches the auth status and the diagnostics snapshot.
func (s *Session) finish(res OperationResult) OperationResult {
	res.AuthStatus = s.auth.Status()
	res.Logs = s.recorder.Entries()
	res.ErrorLogs = s.recorder.Errors()

	return res
}
