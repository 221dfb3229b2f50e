package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("PushReps", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("PushReps push-up tracker. Query the workout in progress, past sessions, weekly totals and camera detection quality. All tools are read-only."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolGetCurrentSession, Handler: h.getCurrentSession},
		server.ServerTool{Tool: toolGetSessionHistory, Handler: h.getSessionHistory},
		server.ServerTool{Tool: toolGetSession, Handler: h.getSession},
		server.ServerTool{Tool: toolGetDetectionStats, Handler: h.getDetectionStats},
		server.ServerTool{Tool: toolGetWorkoutSummary, Handler: h.getWorkoutSummary},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resCurrentWorkout, Handler: h.currentWorkout},
		server.ServerResource{Resource: resWeeklySummary, Handler: h.weeklySummary},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resCurrentWorkout = mcp.NewResource(
	"pushreps://current_workout",
	"Current Workout",
	mcp.WithResourceDescription("The workout in progress with its live count, or null when none is running"),
	mcp.WithMIMEType("application/json"),
)

var resWeeklySummary = mcp.NewResource(
	"pushreps://weekly_summary",
	"Weekly Summary",
	mcp.WithResourceDescription("Totals over completed workouts from the last 7 days"),
	mcp.WithMIMEType("application/json"),
)
