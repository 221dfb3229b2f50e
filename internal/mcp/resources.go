package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

func (h *handlers) currentWorkout(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	s, err := h.ds.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (h *handlers) weeklySummary(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	since := time.Now().AddDate(0, 0, -7)
	sum, err := h.ds.Summary(ctx, since)
	if err != nil {
		return nil, err
	}

	st, err := h.ds.DetectionStats(ctx)
	if err != nil {
		h.log.Warn("weekly_summary: detection stats failed", "error", err)
	}

	data, err := json.Marshal(map[string]any{
		"since":           since.Format("2006-01-02"),
		"summary":         sum,
		"detection_stats": st,
	})
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
