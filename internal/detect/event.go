package detect

import (
	"errors"
	"fmt"
	"time"

	"github.com/meltforce/pushreps/internal/pose"
)

// DetectionEvent is emitted once per accepted frame.
type DetectionEvent struct {
	SessionID        string          `json:"session_id"`
	Timestamp        time.Time       `json:"timestamp"`
	Confidence       float64         `json:"confidence"`
	Keypoints        []pose.Keypoint `json:"keypoints"`
	Phase            Phase           `json:"phase"`
	Feature          float64         `json:"feature"`
	CountIncremented bool            `json:"count_incremented"`
	// Applied is set when a counted rep reached the session. It stays false
	// while the session or the detector is paused.
	Applied bool `json:"applied"`
	// Count is the session count after applying the rep.
	Count int `json:"count,omitempty"`
}

// ErrorCode classifies pipeline errors.
type ErrorCode string

const (
	CodeModelLoadFailed     ErrorCode = "MODEL_LOAD_FAILED"
	CodeProcessingError     ErrorCode = "PROCESSING_ERROR"
	CodeInvalidFrame        ErrorCode = "INVALID_FRAME"
	CodePerformanceDegraded ErrorCode = "PERFORMANCE_DEGRADED"
)

// ParseErrorCode validates an error code reported by the capture collaborator.
func ParseErrorCode(s string) (ErrorCode, error) {
	switch c := ErrorCode(s); c {
	case CodeModelLoadFailed, CodeProcessingError, CodeInvalidFrame, CodePerformanceDegraded:
		return c, nil
	}
	return "", fmt.Errorf("unknown detection error code %q", s)
}

// Fatal reports whether the code disables detection until the next start.
func (c ErrorCode) Fatal() bool {
	return c == CodeModelLoadFailed || c == CodeProcessingError
}

// DetectionError is published on the error bus. A fatal one is also returned
// from ProcessFrame until detection is restarted.
type DetectionError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *DetectionError) Error() string {
	return string(e.Code) + ": " + e.Message
}

var (
	ErrDetectionInactive  = errors.New("detect: detection is not running")
	ErrDetectionActive    = errors.New("detect: detection already running")
	ErrFrameDropped       = errors.New("detect: frame dropped, previous frame still in flight")
	ErrInvalidSensitivity = errors.New("detect: invalid sensitivity")
)
