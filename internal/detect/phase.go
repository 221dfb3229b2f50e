// Package detect turns validated pose frames into push-up repetitions:
// a phase classifier with a hysteresis band, a down->up repetition counter
// and the Detector that runs them per frame and reconciles reps with the
// current workout session.
package detect

import (
	"fmt"
	"math"

	"github.com/meltforce/pushreps/internal/pose"
)

// Phase is the discretized body posture.
type Phase string

const (
	PhaseUp         Phase = "up"
	PhaseDown       Phase = "down"
	PhaseTransition Phase = "transition"
)

// Sensitivity controls the width of the hysteresis band.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// ParseSensitivity validates a sensitivity level.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch Sensitivity(s) {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return Sensitivity(s), nil
	}
	return "", fmt.Errorf("unknown sensitivity %q", s)
}

// Band widths per sensitivity. A wider band needs a larger excursion before
// the phase flips.
var bandWidth = map[Sensitivity]float64{
	SensitivityLow:    0.30,
	SensitivityMedium: 0.20,
	SensitivityHigh:   0.10,
}

// DefaultCenter is the extension value in the middle of the hysteresis band.
const DefaultCenter = 0.7

// Thresholds bound the transition band: below Low is down, above High is up.
type Thresholds struct {
	Low  float64
	High float64
}

// PhaseFor maps an extension feature onto a phase. Values on either bound
// are still in the band.
func PhaseFor(feature float64, th Thresholds) Phase {
	switch {
	case feature < th.Low:
		return PhaseDown
	case feature > th.High:
		return PhaseUp
	default:
		return PhaseTransition
	}
}

// Classifier computes the body-extension feature of a frame and maps it to a phase.
type Classifier struct {
	center float64
}

// NewClassifier returns a Classifier whose band is centred on center.
func NewClassifier(center float64) *Classifier {
	if center <= 0 || center >= 1 {
		center = DefaultCenter
	}
	return &Classifier{center: center}
}

// Thresholds returns the band for a sensitivity level. Unknown levels use medium.
func (c *Classifier) Thresholds(s Sensitivity) Thresholds {
	w, ok := bandWidth[s]
	if !ok {
		w = bandWidth[SensitivityMedium]
	}
	return Thresholds{Low: c.center - w/2, High: c.center + w/2}
}

// Classify returns the phase of a validated frame and the feature it was
// derived from. A frame whose arms are all degenerate is a transition.
func (c *Classifier) Classify(vf pose.ValidatedFrame, s Sensitivity) (Phase, float64) {
	feature, ok := Extension(vf)
	if !ok {
		return PhaseTransition, 0
	}
	return PhaseFor(feature, c.Thresholds(s)), feature
}

// Extension is the mean normalized elbow angle of the usable arms: 1.0 is a
// straight arm, 0.5 a right angle.
func Extension(vf pose.ValidatedFrame) (float64, bool) {
	var sum float64
	var n int
	for _, a := range vf.Arms {
		angle, ok := elbowAngle(a)
		if !ok {
			continue
		}
		sum += angle / math.Pi
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func elbowAngle(a pose.Arm) (float64, bool) {
	ux, uy := a.Shoulder.X-a.Elbow.X, a.Shoulder.Y-a.Elbow.Y
	vx, vy := a.Wrist.X-a.Elbow.X, a.Wrist.Y-a.Elbow.Y
	nu, nv := math.Hypot(ux, uy), math.Hypot(vx, vy)
	if nu == 0 || nv == 0 {
		return 0, false
	}
	cos := (ux*vx + uy*vy) / (nu * nv)
	return math.Acos(max(-1, min(1, cos))), true
}
