package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/meltforce/pushreps/internal/detect"
	"github.com/meltforce/pushreps/internal/pose"
	"github.com/meltforce/pushreps/internal/session"
)

const maxLine = 1 << 20

// Result summarizes one replay.
type Result struct {
	Session  session.Session
	Frames   int
	Rejected int
	Dropped  int
	Errors   map[string]int
}

// replay starts a workout, runs every frame in r through det and ends the
// workout. Each line of r is one JSON frame; blank lines are skipped.
func replay(ctx context.Context, r io.Reader, mgr *session.Manager, det *detect.Detector) (Result, error) {
	res := Result{Errors: make(map[string]int)}

	s, err := mgr.StartWorkout(ctx)
	if err != nil {
		return res, fmt.Errorf("starting workout: %w", err)
	}
	res.Session = s
	if _, err := det.Start(ctx, s.ID); err != nil {
		return res, fmt.Errorf("starting detection: %w", err)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var f pose.Frame
		if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		res.Frames++

		_, err := det.ProcessFrame(ctx, f)
		var de *detect.DetectionError
		switch {
		case err == nil:
		case errors.Is(err, detect.ErrFrameDropped):
			res.Dropped++
		case errors.Is(err, pose.ErrLowConfidence):
			res.Rejected++
			res.Errors["low_confidence"]++
		case errors.Is(err, pose.ErrOutOfOrder):
			res.Rejected++
			res.Errors["out_of_order"]++
		case errors.Is(err, pose.ErrInvalidFrame):
			res.Rejected++
			res.Errors["invalid_frame"]++
		case errors.As(err, &de):
			return res, fmt.Errorf("line %d: detection failed: %w", line, err)
		default:
			return res, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("reading frames: %w", err)
	}

	det.StopSession(s.ID)
	ended, err := mgr.EndWorkout(ctx, s.ID)
	if err != nil {
		return res, fmt.Errorf("ending workout: %w", err)
	}
	res.Session = ended
	return res, nil
}
