package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// defaultSince parses a start date, defaulting to days ago.
func defaultSince(s string, days int) (time.Time, error) {
	if s == "" {
		return time.Now().AddDate(0, 0, -days), nil
	}
	return parseFlexTime(s)
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// --- Tool definitions ---

var toolGetCurrentSession = mcp.NewTool("get_current_session",
	mcp.WithDescription("Get the workout in progress: live push-up count, status (active or paused), active duration and detection accuracy. Returns null when no workout is running."),
)

var toolGetSessionHistory = mcp.NewTool("get_session_history",
	mcp.WithDescription("List workouts, newest first, including the one in progress."),
	mcp.WithNumber("limit", mcp.Description("Maximum sessions to return. Defaults to 20.")),
	mcp.WithNumber("offset", mcp.Description("Sessions to skip for paging. Defaults to 0.")),
)

var toolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription("Get one workout by ID."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Session ID (UUID)")),
)

var toolGetDetectionStats = mcp.NewTool("get_detection_stats",
	mcp.WithDescription("Camera detection quality: reps detected, average confidence, estimated false positive rate, frame rate and processing latency."),
)

var toolGetWorkoutSummary = mcp.NewTool("get_workout_summary",
	mcp.WithDescription("Totals over completed workouts since a date: session count, total reps, best session, total active time and average detection accuracy."),
	mcp.WithString("since", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 7 days ago.")),
)

// --- Tool handlers ---

func (h *handlers) getCurrentSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.ds.CurrentSession(ctx)
	if err != nil {
		h.log.Error("mcp get_current_session", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if s == nil {
		return mcp.NewToolResultText("null"), nil
	}

	result, err := mcp.NewToolResultJSON(s)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSessionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	offset := req.GetInt("offset", 0)
	if limit < 0 || offset < 0 {
		return mcp.NewToolResultError("limit and offset must not be negative"), nil
	}

	sessions, err := h.ds.SessionHistory(ctx, limit, offset)
	if err != nil {
		h.log.Error("mcp get_session_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sessions)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	s, err := h.ds.GetSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError("session not found: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(s)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getDetectionStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := h.ds.DetectionStats(ctx)
	if err != nil {
		h.log.Error("mcp get_detection_stats", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(st)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getWorkoutSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since, err := defaultSince(req.GetString("since", ""), 7)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	sum, err := h.ds.Summary(ctx, since)
	if err != nil {
		h.log.Error("mcp get_workout_summary", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sum)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
