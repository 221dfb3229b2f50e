package pose

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultMinConfidence is the per-keypoint confidence floor.
const DefaultMinConfidence = 0.3

var (
	// ErrLowConfidence is returned when no arm has all of its joints above the floor.
	ErrLowConfidence = errors.New("pose: required keypoints below confidence floor")
	// ErrInvalidFrame is returned for malformed frames (NaN, out-of-range coordinates).
	ErrInvalidFrame = errors.New("pose: invalid frame")
	// ErrOutOfOrder is returned when a frame timestamp does not advance.
	ErrOutOfOrder = errors.New("pose: frame timestamp out of order")
)

var arms = [...]struct {
	side                   string
	shoulder, elbow, wrist string
}{
	{"left", LeftShoulder, LeftElbow, LeftWrist},
	{"right", RightShoulder, RightElbow, RightWrist},
}

// Validator rejects frames that cannot be classified. It remembers the last
// timestamp seen, so it is not safe for concurrent use; the detector owns one
// and calls it from a single goroutine at a time.
type Validator struct {
	minConfidence float64
	last          time.Time
}

// NewValidator returns a Validator with the given confidence floor. A floor
// outside (0, 1) falls back to DefaultMinConfidence.
func NewValidator(minConfidence float64) *Validator {
	if minConfidence <= 0 || minConfidence >= 1 {
		minConfidence = DefaultMinConfidence
	}
	return &Validator{minConfidence: minConfidence}
}

// MinConfidence returns the configured floor.
func (v *Validator) MinConfidence() float64 {
	return v.minConfidence
}

// Reset forgets the last seen timestamp.
func (v *Validator) Reset() {
	v.last = time.Time{}
}

// Validate checks a raw frame. At least one arm (shoulder, elbow, wrist) must
// have every joint strictly above the floor; only such arms are kept.
func (v *Validator) Validate(f Frame) (ValidatedFrame, error) {
	if f.Timestamp.IsZero() {
		return ValidatedFrame{}, fmt.Errorf("%w: missing timestamp", ErrInvalidFrame)
	}
	if !v.last.IsZero() && !f.Timestamp.After(v.last) {
		return ValidatedFrame{}, ErrOutOfOrder
	}
	v.last = f.Timestamp

	for _, kp := range f.Keypoints {
		if !inUnit(kp.X) || !inUnit(kp.Y) || !inUnit(kp.Confidence) {
			return ValidatedFrame{}, fmt.Errorf("%w: keypoint %q out of range", ErrInvalidFrame, kp.Name)
		}
	}

	vf := ValidatedFrame{Frame: f}
	for _, a := range arms {
		shoulder, ok1 := f.Find(a.shoulder)
		elbow, ok2 := f.Find(a.elbow)
		wrist, ok3 := f.Find(a.wrist)
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		arm := Arm{Side: a.side, Shoulder: shoulder, Elbow: elbow, Wrist: wrist}
		if arm.MinConfidence() <= v.minConfidence {
			continue
		}
		vf.Arms = append(vf.Arms, arm)
	}
	if len(vf.Arms) == 0 {
		return ValidatedFrame{}, ErrLowConfidence
	}
	return vf, nil
}

func inUnit(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}
