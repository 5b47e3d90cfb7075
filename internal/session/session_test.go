package session

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/garmin-go/internal/diag"
	"github.com/tonimelisma/garmin-go/internal/garmin"
	"github.com/tonimelisma/garmin-go/internal/garmin/garmintest"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fitEncoder writes a fixed payload into a temp dir and records the data
// it was handed.
type fitEncoder struct {
	dir  string
	err  error
	seen []WeightData
}

func (e *fitEncoder) Encode(data WeightData, _ ProfileSettings) (string, error) {
	e.seen = append(e.seen, data)
	if e.err != nil {
		return "", e.err
	}

	path := filepath.Join(e.dir, "weight.fit")
	if err := os.WriteFile(path, []byte("FIT"), 0o600); err != nil {
		return "", err
	}

	return path, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestSession(t *testing.T, g *garmintest.Server, enc Encoder) (*Session, *clock) {
	t.Helper()

	c := &clock{now: epoch}

	s, err := New(Config{
		Client:   garmin.Config{SSOURL: g.URL, APIURL: g.URL, MaxRetries: -1},
		Consumer: garmin.Consumer{Key: "k", Secret: "s"},
		Encoder:  enc,
		Now:      c.Now,
	})
	require.NoError(t, err)

	return s, c
}

func creds() garmin.Credentials {
	return garmin.Credentials{Identifier: garmintest.User, Secret: garmintest.Password}
}

func weight() WeightData {
	return WeightData{Time: epoch, WeightKg: 80.5, PercentFat: 18.2}
}

func TestUploadWeight_EndToEnd(t *testing.T) {
	g := garmintest.NewServer(t)
	enc := &fitEncoder{dir: t.TempDir()}
	s, _ := newTestSession(t, g, enc)

	res := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{HeightCm: 180}, "")

	assert.True(t, res.Success)
	assert.Equal(t, "123", res.UploadID)
	assert.False(t, res.MFARequested)
	assert.Equal(t, garmin.Authenticated, res.AuthStatus)
	assert.NotEmpty(t, res.OperationID)
	assert.Empty(t, res.ErrorLogs)
	assert.NoError(t, res.Err)

	assert.Equal(t, StageOK, res.Encode.Status)
	assert.Equal(t, filepath.Join(enc.dir, "weight.fit"), res.Encode.Output)
	assert.Equal(t, StageOK, res.Upload.Status)
	assert.Equal(t, "123", res.Upload.Output)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, "activity.fit", res.Outcome.FileName)

	require.Len(t, enc.seen, 1)
	assert.InDelta(t, 80.5, enc.seen[0].WeightKg, 1e-9)
}

func TestUploadWeight_MFAThenRetryWithCode(t *testing.T) {
	g := garmintest.NewServer(t)
	g.RequireMFA = true
	enc := &fitEncoder{dir: t.TempDir()}
	s, _ := newTestSession(t, g, enc)

	first := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, "")
	assert.False(t, first.Success)
	assert.True(t, first.MFARequested)
	assert.Equal(t, garmin.NeedsMFA, first.AuthStatus)
	assert.Equal(t, StageSkipped, first.Encode.Status)
	assert.Equal(t, StageSkipped, first.Upload.Status)
	assert.Empty(t, enc.seen)
	assert.Empty(t, first.ErrorLogs)

	second := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, garmintest.MFACode)
	assert.True(t, second.Success)
	assert.False(t, second.MFARequested)
	assert.Equal(t, "123", second.UploadID)
	assert.Equal(t, garmin.Authenticated, second.AuthStatus)
	assert.Equal(t, 1, g.Calls(garmintest.Signin))
	assert.Equal(t, 1, g.Calls(garmintest.MFA))

	// The answer keeps the diagnostics of the call that raised the challenge.
	challenge := findEntry(second.Logs, "MFA code requested")
	require.NotNil(t, challenge)
	assert.Equal(t, first.OperationID, fieldValue(*challenge, "op_id"))

	done := findEntry(second.Logs, "upload complete")
	require.NotNil(t, done)
	assert.Equal(t, second.OperationID, fieldValue(*done, "op_id"))
}

func findEntry(entries []diag.Entry, msg string) *diag.Entry {
	for i := range entries {
		if entries[i].Message == msg {
			return &entries[i]
		}
	}

	return nil
}

func fieldValue(e diag.Entry, key string) string {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value
		}
	}

	return ""
}

func TestUploadWeight_AuthFailureSkipsStages(t *testing.T) {
	g := garmintest.NewServer(t)
	enc := &fitEncoder{dir: t.TempDir()}
	s, _ := newTestSession(t, g, enc)

	bad := garmin.Credentials{Identifier: garmintest.User, Secret: "wrong"}
	res := s.UploadWeight(context.Background(), bad, weight(), ProfileSettings{}, "")

	assert.False(t, res.Success)
	assert.False(t, res.MFARequested)
	assert.Equal(t, garmin.Failed, res.AuthStatus)
	assert.Equal(t, StageSkipped, res.Encode.Status)
	assert.Equal(t, StageSkipped, res.Upload.Status)
	assert.Nil(t, res.Outcome)
	assert.NotEmpty(t, res.ErrorLogs)
	assert.Empty(t, enc.seen)
	assert.Equal(t, 0, g.Calls(garmintest.Upload))
}

func TestUploadWeight_EncodeFailureSkipsUpload(t *testing.T) {
	g := garmintest.NewServer(t)
	enc := &fitEncoder{dir: t.TempDir(), err: assert.AnError}
	s, _ := newTestSession(t, g, enc)

	res := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, "")

	assert.False(t, res.Success)
	assert.Equal(t, garmin.Authenticated, res.AuthStatus)
	assert.Equal(t, StageFailed, res.Encode.Status)
	require.ErrorIs(t, res.Encode.Err, assert.AnError)
	assert.Equal(t, StageSkipped, res.Upload.Status)
	assert.Equal(t, 0, g.Calls(garmintest.Upload))

	require.Len(t, res.ErrorLogs, 1)
	assert.Equal(t, "problem with creating payload file, upload skipped", res.ErrorLogs[0].Message)
}

func TestUploadWeight_NoEncoder(t *testing.T) {
	g := garmintest.NewServer(t)
	s, _ := newTestSession(t, g, nil)

	res := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, "")

	assert.False(t, res.Success)
	require.ErrorIs(t, res.Encode.Err, ErrNoEncoder)
	assert.Equal(t, 0, g.Calls(garmintest.Upload))
}

func TestUploadWeight_TransportFailure(t *testing.T) {
	g := garmintest.NewServer(t)
	g.UploadHandler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	s, _ := newTestSession(t, g, &fitEncoder{dir: t.TempDir()})

	res := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, "")

	assert.False(t, res.Success)
	assert.Empty(t, res.UploadID)
	assert.Equal(t, StageOK, res.Encode.Status)
	assert.Equal(t, StageFailed, res.Upload.Status)
	require.ErrorIs(t, res.Upload.Err, ErrUploadFailed)
	assert.Nil(t, res.Outcome)
	assert.NotEmpty(t, res.ErrorLogs)
}

func TestUploadWeight_NoUploadID(t *testing.T) {
	g := garmintest.NewServer(t)
	g.UploadHandler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"detailedImportResult":{"uploadId":null,"failures":[{"messages":[{"code":202,"content":"Duplicate Activity."}]}]}}`)
	}
	s, _ := newTestSession(t, g, &fitEncoder{dir: t.TempDir()})

	res := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, "")

	assert.False(t, res.Success)
	assert.Equal(t, StageFailed, res.Upload.Status)
	require.ErrorIs(t, res.Upload.Err, ErrNoUploadID)
	require.NotNil(t, res.Outcome)
	assert.True(t, res.Outcome.Duplicate())
	assert.Empty(t, res.ErrorLogs)
}

func TestLogin_CodeWithoutChallenge(t *testing.T) {
	g := garmintest.NewServer(t)
	s, _ := newTestSession(t, g, nil)

	res := s.Login(context.Background(), creds(), garmintest.MFACode)

	assert.False(t, res.Success)
	require.ErrorIs(t, res.Err, garmin.ErrNoPendingMFA)
	assert.Equal(t, garmin.NotAuthenticated, res.AuthStatus)
	assert.NotEmpty(t, res.ErrorLogs)
	assert.Equal(t, 0, g.Calls(garmintest.Signin))
}

func TestSession_ReusesTokenUntilExpiry(t *testing.T) {
	g := garmintest.NewServer(t)
	s, c := newTestSession(t, g, &fitEncoder{dir: t.TempDir()})

	require.True(t, s.Login(context.Background(), creds(), "").Success)
	assert.True(t, s.TokenValid())

	res := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, "")
	require.True(t, res.Success)
	assert.Equal(t, 1, g.Calls(garmintest.Signin), "valid token must be reused")

	c.now = epoch.Add(2 * time.Hour)
	assert.False(t, s.TokenValid())

	res = s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, "")
	require.True(t, res.Success)
	assert.Equal(t, 2, g.Calls(garmintest.Signin))
}

func TestSession_DiagnosticsArePerOperation(t *testing.T) {
	g := garmintest.NewServer(t)
	s, _ := newTestSession(t, g, &fitEncoder{dir: t.TempDir()})

	bad := s.Login(context.Background(), garmin.Credentials{Identifier: garmintest.User, Secret: "nope"}, "")
	require.NotEmpty(t, bad.ErrorLogs)

	good := s.Login(context.Background(), creds(), "")
	assert.True(t, good.Success)
	assert.Empty(t, good.ErrorLogs)
	assert.NotEqual(t, bad.OperationID, good.OperationID)
}

func TestSession_ComponentEntriesCarryOperation(t *testing.T) {
	g := garmintest.NewServer(t)
	s, _ := newTestSession(t, g, &fitEncoder{dir: t.TempDir()})

	res := s.UploadWeight(context.Background(), creds(), weight(), ProfileSettings{}, "")
	require.True(t, res.Success)

	// Authenticator and Uploader entries, not only the facade's own.
	require.NotNil(t, findEntry(res.Logs, "authenticated"))
	require.NotNil(t, findEntry(res.Logs, "uploading activity"))

	for _, e := range res.Logs {
		assert.Equal(t, "upload_weight", fieldValue(e, "op"), e.String())
		assert.Equal(t, res.OperationID, fieldValue(e, "op_id"), e.String())
	}
}

func TestUploadFile(t *testing.T) {
	g := garmintest.NewServer(t)

	var gotPath string
	g.UploadHandler = func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"detailedImportResult":{"uploadId":77,"failures":[]}}`)
	}

	s, _ := newTestSession(t, g, nil)

	path := filepath.Join(t.TempDir(), "ride.GPX")
	require.NoError(t, os.WriteFile(path, []byte("<gpx/>"), 0o600))

	res := s.UploadFile(context.Background(), creds(), path, "")
	assert.True(t, res.Success)
	assert.Equal(t, "77", res.UploadID)
	assert.Equal(t, "/upload-service/upload/.gpx", gotPath)
}

func TestUploadFile_Rejected(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.fit")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o600))

	tests := []struct {
		name string
		path string
		want error
	}{
		{"empty file", empty, ErrEmptyFile},
		{"unsupported extension", notes, ErrUnsupportedExt},
		{"missing file", filepath.Join(dir, "gone.fit"), os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := garmintest.NewServer(t)
			s, _ := newTestSession(t, g, nil)

			res := s.UploadFile(context.Background(), creds(), tt.path, "")
			assert.False(t, res.Success)
			assert.Equal(t, StageFailed, res.Encode.Status)
			require.ErrorIs(t, res.Encode.Err, tt.want)
			assert.Equal(t, 0, g.Calls(garmintest.Upload))
		})
	}
}

func TestFormatOf(t *testing.T) {
	f, err := FormatOf("/x/run.TCX")
	require.NoError(t, err)
	assert.Equal(t, ".tcx", f)

	_, err = FormatOf("/x/run")
	require.ErrorIs(t, err, ErrUnsupportedExt)
}

func TestStageStatus_String(t *testing.T) {
	assert.Equal(t, "skipped", StageSkipped.String())
	assert.Equal(t, "ok", StageOK.String())
	assert.Equal(t, "failed", StageFailed.String())
	assert.Equal(t, "stage_status(9)", StageStatus(9).String())
}

func TestUploadFileAs_OverridesExtension(t *testing.T) {
	g := garmintest.NewServer(t)

	var gotPath string
	g.UploadHandler = func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"detailedImportResult":{"uploadId":"9","failures":[]}}`)
	}

	s, _ := newTestSession(t, g, nil)

	path := filepath.Join(t.TempDir(), "export.bin")
	require.NoError(t, os.WriteFile(path, []byte("FIT"), 0o600))

	res := s.UploadFileAs(context.Background(), creds(), path, "FIT", "")
	assert.True(t, res.Success)
	assert.Equal(t, "/upload-service/upload/.fit", gotPath)

	res = s.UploadFileAs(context.Background(), creds(), path, "zip", "")
	assert.False(t, res.Success)
	require.ErrorIs(t, res.Encode.Err, ErrUnsupportedExt)
}
