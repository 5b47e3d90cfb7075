package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/garmin-go/internal/diag"
	"github.com/tonimelisma/garmin-go/internal/garmin"
)

const defaultFormat = ".fit"

// Pipeline errors recorded in StageResult.Err.
var (
	ErrNoEncoder      = errors.New("session: no encoder configured")
	ErrUploadFailed   = errors.New("session: upload transport failed")
	ErrNoUploadID     = errors.New("session: upload response carried no upload id")
	ErrUnsupportedExt = errors.New("session: unsupported file extension")
	ErrEmptyFile      = errors.New("session: file is empty")
)

// supportedFormats are the extensions the upload service accepts.
var supportedFormats = map[string]bool{
	".fit": true,
	".gpx": true,
	".tcx": true,
}

// Stage names.
const (
	StageEncode = "encode"
	StageUpload = "upload"
)

// StageStatus is the outcome of one pipeline stage.
type StageStatus int

// A stage that never ran is StageSkipped.
const (
	StageSkipped StageStatus = iota
	StageOK
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StageSkipped:
		return "skipped"
	case StageOK:
		return "ok"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage_status(%d)", int(s))
	}
}

// StageResult records one stage of the encode -> upload pipeline. Output is
// the produced file path for encode and the upload ID for upload.
type StageResult struct {
	Stage  string
	Status StageStatus
	Output string
	Err    error
}

// OperationResult is what every Session operation returns. All fields are
// set on every path, early failures included.
type OperationResult struct {
	OperationID  string
	Success      bool
	AuthStatus   garmin.AuthStatus
	MFARequested bool
	UploadID     string

	Encode  StageResult
	Upload  StageResult
	Outcome *garmin.UploadOutcome // nil unless the upload returned a response

	// Err is set only for caller bugs, such as an MFA code without a
	// pending challenge. Ordinary failures are described by the fields above.
	Err error

	Logs      []diag.Entry
	ErrorLogs []diag.Entry
}

// WeightData is one body-composition measurement from a scale.
type WeightData struct {
	Time               time.Time
	WeightKg           float64
	PercentFat         float64
	PercentHydration   float64
	BoneMassKg         float64
	MuscleMassKg       float64
	BMI                float64
	VisceralFatRating  float64
	PhysiqueRating     float64
	MetabolicAge       float64
	BasalMetabolicRate float64
}

// ProfileSettings describes the user the measurement belongs to.
type ProfileSettings struct {
	HeightCm float64
	Age      int
	Gender   string
}

// Encoder writes a measurement to an activity file (FIT) and returns its
// path. Errors are non-fatal to the caller: the upload is skipped.
type Encoder interface {
	Encode(data WeightData, profile ProfileSettings) (string, error)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(WeightData, ProfileSettings) (string, error)

// Encode calls f.
func (f EncoderFunc) Encode(data WeightData, profile ProfileSettings) (string, error) {
	return f(data, profile)
}

// FormatOf returns the upload format (".fit", ".gpx", ".tcx") for path.
func FormatOf(path string) (string, error) {
	return normalizeFormat(filepath.Ext(path))
}

// normalizeFormat accepts "fit", ".FIT" and the like.
func normalizeFormat(format string) (string, error) {
	ext := strings.ToLower(strings.TrimSpace(format))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if !supportedFormats[ext] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExt, ext)
	}

	return ext, nil
}

// prepareFile checks that path is a non-empty regular file.
func prepareFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("session: %s is not a regular file", path)
	}

	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	return path, nil
}
