package detect

import (
	"math"
	"testing"

	"github.com/meltforce/pushreps/internal/pose"
)

// TestPhaseForHysteresis verifies that values oscillating inside the band
// never flip between up and down.
func TestPhaseForHysteresis(t *testing.T) {
	th := Thresholds{Low: 0.4, High: 0.6}
	for _, f := range []float64{0.45, 0.55, 0.45, 0.55, 0.4, 0.6} {
		if got := PhaseFor(f, th); got != PhaseTransition {
			t.Errorf("PhaseFor(%v) = %q, want transition", f, got)
		}
	}
	if got := PhaseFor(0.39, th); got != PhaseDown {
		t.Errorf("PhaseFor(0.39) = %q, want down", got)
	}
	if got := PhaseFor(0.61, th); got != PhaseUp {
		t.Errorf("PhaseFor(0.61) = %q, want up", got)
	}
}

// TestThresholdsBySensitivity verifies that low sensitivity has the widest band
// and high the narrowest, all centred on the same point.
func TestThresholdsBySensitivity(t *testing.T) {
	c := NewClassifier(0.7)
	low := c.Thresholds(SensitivityLow)
	med := c.Thresholds(SensitivityMedium)
	high := c.Thresholds(SensitivityHigh)

	width := func(th Thresholds) float64 { return th.High - th.Low }
	if !(width(low) > width(med) && width(med) > width(high)) {
		t.Errorf("band widths low=%.2f medium=%.2f high=%.2f, want strictly decreasing",
			width(low), width(med), width(high))
	}
	for _, th := range []Thresholds{low, med, high} {
		if mid := (th.Low + th.High) / 2; math.Abs(mid-0.7) > 1e-9 {
			t.Errorf("band %+v centred on %v, want 0.7", th, mid)
		}
	}
	if got := c.Thresholds("bogus"); got != med {
		t.Errorf("unknown sensitivity = %+v, want medium %+v", got, med)
	}
}

// TestParseSensitivity verifies accepted and rejected levels.
func TestParseSensitivity(t *testing.T) {
	for _, s := range []string{"low", "medium", "high"} {
		if _, err := ParseSensitivity(s); err != nil {
			t.Errorf("ParseSensitivity(%q) error: %v", s, err)
		}
	}
	if _, err := ParseSensitivity("extreme"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// bentArm builds an arm whose elbow angle is the given number of degrees.
func bentArm(side string, degrees, conf float64) pose.Arm {
	rad := degrees * math.Pi / 180
	elbow := pose.Keypoint{Name: side + "_elbow", X: 0.5, Y: 0.5, Confidence: conf}
	shoulder := pose.Keypoint{Name: side + "_shoulder", X: 0.5 - 0.2, Y: 0.5, Confidence: conf}
	wrist := pose.Keypoint{
		Name:       side + "_wrist",
		X:          0.5 + 0.2*math.Cos(math.Pi-rad),
		Y:          0.5 + 0.2*math.Sin(math.Pi-rad),
		Confidence: conf,
	}
	return pose.Arm{Side: side, Shoulder: shoulder, Elbow: elbow, Wrist: wrist}
}

// TestClassifyElbowAngle verifies the extension feature on straight, bent and
// intermediate arms with the default medium band (0.6..0.8).
func TestClassifyElbowAngle(t *testing.T) {
	c := NewClassifier(DefaultCenter)
	tests := []struct {
		degrees float64
		want    Phase
	}{
		{180, PhaseUp},
		{160, PhaseUp},
		{126, PhaseTransition},
		{90, PhaseDown},
		{70, PhaseDown},
	}
	for _, tt := range tests {
		vf := pose.ValidatedFrame{Arms: []pose.Arm{bentArm("left", tt.degrees, 0.9)}}
		got, feature := c.Classify(vf, SensitivityMedium)
		if got != tt.want {
			t.Errorf("%v°: phase = %q (feature %.3f), want %q", tt.degrees, got, feature, tt.want)
		}
		if math.Abs(feature-tt.degrees/180) > 1e-6 {
			t.Errorf("%v°: feature = %.4f, want %.4f", tt.degrees, feature, tt.degrees/180)
		}
	}
}

// TestClassifyAveragesArms verifies both visible arms contribute equally.
func TestClassifyAveragesArms(t *testing.T) {
	vf := pose.ValidatedFrame{Arms: []pose.Arm{
		bentArm("left", 180, 0.9),
		bentArm("right", 90, 0.9),
	}}
	f, ok := Extension(vf)
	if !ok {
		t.Fatal("expected a feature")
	}
	if math.Abs(f-0.75) > 1e-6 {
		t.Errorf("feature = %v, want 0.75", f)
	}
}

// TestClassifyDegenerateArm verifies that collapsed joints produce a
// transition instead of a spurious phase.
func TestClassifyDegenerateArm(t *testing.T) {
	kp := pose.Keypoint{X: 0.5, Y: 0.5, Confidence: 0.9}
	vf := pose.ValidatedFrame{Arms: []pose.Arm{{Side: "left", Shoulder: kp, Elbow: kp, Wrist: kp}}}
	if got, _ := NewClassifier(0).Classify(vf, SensitivityHigh); got != PhaseTransition {
		t.Errorf("phase = %q, want transition", got)
	}
}
