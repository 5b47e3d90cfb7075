package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

const (
	uploadPath = "/upload-service/upload/"

	// codeAlreadyUploaded marks a duplicate activity in the failures list.
	codeAlreadyUploaded = 202
)

// Uploader sends activity files to the upload service and classifies the
// response. It never triggers authentication: the token in the store must
// already be valid.
type Uploader struct {
	client *Client
	store  *TokenStore
	logger *slog.Logger
}

// NewUploader creates an Uploader reading the bearer token from store.
func NewUploader(client *Client, store *TokenStore, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{client: client, store: store, logger: logger}
}

// UploadActivity uploads the file at filePath as format (".fit", ".gpx",
// ".tcx"). HTTP 409 is accepted alongside 2xx because the service answers a
// duplicate with a regular import report.
//
// Transport failures are logged and absorbed: the return value is nil rather
// than an error, so the caller can still assemble its result.
func (u *Uploader) UploadActivity(ctx context.Context, filePath, format string) *UploadOutcome {
	tok, err := u.store.Current()
	if err != nil {
		u.logger.Error("failed to upload activity: no token", slog.String("error", err.Error()))
		return nil
	}

	body, contentType, err := multipartFile(filePath)
	if err != nil {
		u.logger.Error("failed to upload activity: reading file",
			slog.String("path", filePath),
			slog.String("error", err.Error()),
		)

		return nil
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok.AccessToken)
	h.Set("Content-Type", contentType)
	h.Set("NK", "NT")
	h.Set("Origin", u.client.ssoURL)

	u.logger.Info("uploading activity",
		slog.String("file", filepath.Base(filePath)),
		slog.String("format", normalizeFormat(format)),
		slog.Int("size", len(body)),
	)

	resp, err := u.client.do(ctx, request{
		method: http.MethodPost,
		url:    u.client.apiEndpoint(uploadPath+normalizeFormat(format), nil),
		header: h,
		body:   body,
		accept: acceptUploadStatus,
	})
	if err != nil {
		u.logger.Error("failed to upload activity", slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()

	var ur UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		u.logger.Error("failed to upload activity: decoding response",
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return u.Classify(&ur)
}

// Classify turns an upload response into an outcome. Every failure message
// is recorded in order; code 202 (already uploaded) is logged at Info and
// every other code at Error. Messages never change Success, which is decided
// by the presence of an upload ID alone: the service reports partial
// failures next to imports that went through.
func (u *Uploader) Classify(resp *UploadResponse) *UploadOutcome {
	if resp == nil {
		return nil
	}

	result := resp.DetailedImportResult
	if result == nil {
		u.logger.Error("upload response has no import result")
		return &UploadOutcome{}
	}

	out := &UploadOutcome{
		UploadID: string(result.UploadID),
		FileName: result.FileName,
	}

	for _, failure := range result.Failures {
		for _, msg := range failure.Messages {
			out.Messages = append(out.Messages, UploadMessage{Code: msg.Code, Text: msg.Content})

			if msg.Code == codeAlreadyUploaded {
				u.logger.Info("activity already uploaded",
					slog.String("file", result.FileName),
				)

				continue
			}

			u.logger.Error("upload reported a failure message",
				slog.String("file", result.FileName),
				slog.Int("code", msg.Code),
				slog.String("message", msg.Content),
			)
		}
	}

	out.Success = out.UploadID != ""

	u.logger.Debug("upload classified",
		slog.Bool("success", out.Success),
		slog.String("upload_id", out.UploadID),
		slog.Int("messages", len(out.Messages)),
	)

	return out
}

// acceptUploadStatus accepts 2xx and 409 Conflict.
func acceptUploadStatus(status int) bool {
	return is2xx(status) || status == http.StatusConflict
}

// normalizeFormat returns the format with a leading dot, lowercased.
func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if !strings.HasPrefix(format, ".") {
		format = "." + format
	}

	return format
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// multipartFile builds a multipart/form-data body with the file under the
// "file" field as application/octet-stream.
func multipartFile(filePath string) ([]byte, string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filepath.Base(filePath))))
	h.Set("Content-Type", "application/octet-stream")

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating multipart part: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("writing multipart part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
