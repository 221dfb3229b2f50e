// Package pose holds the keypoint frame types delivered by the pose-estimation
// collaborator and the validator that filters them before classification.
package pose

import "time"

// Keypoint names produced by the supported pose models (MoveNet/BlazePose naming).
const (
	LeftShoulder  = "left_shoulder"
	RightShoulder = "right_shoulder"
	LeftElbow     = "left_elbow"
	RightElbow    = "right_elbow"
	LeftWrist     = "left_wrist"
	RightWrist    = "right_wrist"
	LeftHip       = "left_hip"
	RightHip      = "right_hip"
)

// Keypoint is a named body landmark in normalized image coordinates.
type Keypoint struct {
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Frame is the set of keypoints for one instant.
type Frame struct {
	Timestamp time.Time  `json:"timestamp"`
	Keypoints []Keypoint `json:"keypoints"`
}

// Find returns the first keypoint with the given name.
func (f Frame) Find(name string) (Keypoint, bool) {
	for _, kp := range f.Keypoints {
		if kp.Name == name {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Arm is one shoulder/elbow/wrist chain.
type Arm struct {
	Side     string
	Shoulder Keypoint
	Elbow    Keypoint
	Wrist    Keypoint
}

// MinConfidence returns the lowest confidence of the three joints.
func (a Arm) MinConfidence() float64 {
	return min(a.Shoulder.Confidence, a.Elbow.Confidence, a.Wrist.Confidence)
}

// ValidatedFrame is a frame that passed validation, reduced to the arms
// usable for classification.
type ValidatedFrame struct {
	Frame
	Arms []Arm
}

// Confidence is the minimum confidence across every keypoint used for
// classification.
func (v ValidatedFrame) Confidence() float64 {
	if len(v.Arms) == 0 {
		return 0
	}
	c := 1.0
	for _, a := range v.Arms {
		c = min(c, a.MinConfidence())
	}
	return c
}
