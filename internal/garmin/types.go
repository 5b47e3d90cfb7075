package garmin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Credentials identify the Garmin account for one login attempt. They are
// passed through to the SSO form and never stored.
type Credentials struct {
	Identifier string // account e-mail
	Secret     string // password
}

// normalized returns the credentials with a trimmed, NFC-normalized
// identifier. The secret is submitted byte-for-byte.
func (c Credentials) normalized() Credentials {
	return Credentials{
		Identifier: norm.NFC.String(strings.TrimSpace(c.Identifier)),
		Secret:     c.Secret,
	}
}

// AuthStatus tracks where the authentication flow stands.
type AuthStatus int

// AuthStatus values. NeedsMFA is a suspended state resolved by CompleteMFA.
const (
	NotAuthenticated AuthStatus = iota
	NeedsMFA
	Authenticated
	Failed
)

func (s AuthStatus) String() string {
	switch s {
	case NotAuthenticated:
		return "not_authenticated"
	case NeedsMFA:
		return "needs_mfa"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("auth_status(%d)", int(s))
	}
}

// AuthResult is returned by Authenticate and CompleteMFA.
type AuthResult struct {
	Success      bool
	MFARequested bool
}

// UploadResponse is the JSON body returned by the upload service.
type UploadResponse struct {
	DetailedImportResult *DetailedImportResult `json:"detailedImportResult"`
}

// DetailedImportResult carries the per-file import report.
type DetailedImportResult struct {
	UploadID  UploadID      `json:"uploadId"`
	FileName  string        `json:"fileName"`
	FileSize  int64         `json:"fileSize"`
	Successes []ImportEntry `json:"successes"`
	Failures  []ImportEntry `json:"failures"`
}

// ImportEntry is one entry of the successes or failures list.
type ImportEntry struct {
	Messages []ImportMessage `json:"messages"`
}

// ImportMessage is a coded message attached to an import entry.
type ImportMessage struct {
	Code    int    `json:"code"`
	Content string `json:"content"`
}

// UploadID is the server-assigned upload identifier. Garmin sends it as a
// JSON number; strings are accepted too. Empty means absent (null or missing).
type UploadID string

// UnmarshalJSON accepts null, a number, or a string.
func (id *UploadID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("garmin: decoding uploadId: %w", err)
		}

		*id = UploadID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("garmin: decoding uploadId: %w", err)
	}

	*id = UploadID(n.String())

	return nil
}

// UploadMessage is one (code, text) pair from the upload response, in the
// order the server listed them.
type UploadMessage struct {
	Code int
	Text string
}

// UploadOutcome is the classified result of one upload. Success is decided
// only by the presence of an upload ID; messages do not change it.
type UploadOutcome struct {
	Success  bool
	UploadID string
	FileName string
	Messages []UploadMessage
}

// Duplicate reports whether any message marks the file as already uploaded.
func (o *UploadOutcome) Duplicate() bool {
	for _, m := range o.Messages {
		if m.Code == codeAlreadyUploaded {
			return true
		}
	}

	return false
}
