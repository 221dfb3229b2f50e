// Command pushreps-replay feeds a recorded keypoint stream through the
// detection pipeline and reports the counted reps.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/meltforce/pushreps/internal/config"
	"github.com/meltforce/pushreps/internal/detect"
	"github.com/meltforce/pushreps/internal/localstore"
	"github.com/meltforce/pushreps/internal/logging"
	"github.com/meltforce/pushreps/internal/session"
	"github.com/meltforce/pushreps/internal/stats"
)

func main() {
	framesPath := flag.String("frames", "", "path to JSONL keypoint frames (required)")
	dbPath := flag.String("db", "", "sqlite database to record the session in (default: in memory)")
	sensitivity := flag.String("sensitivity", "medium", "detection sensitivity: low, medium or high")
	format := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	log := logging.New(os.Stdout, config.LoggingConfig{Level: "info", Format: *format})

	if *framesPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: pushreps-replay -frames session.jsonl [-db pushreps.db] [-sensitivity medium]\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	level, err := detect.ParseSensitivity(*sensitivity)
	if err != nil {
		log.Error("invalid sensitivity", "value", *sensitivity, "error", err)
		os.Exit(1)
	}

	f, err := os.Open(*framesPath)
	if err != nil {
		log.Error("opening frames", "path", *framesPath, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	var store session.Store = session.NewMemoryStore()
	if *dbPath != "" {
		db, err := localstore.Open(*dbPath)
		if err != nil {
			log.Error("opening sqlite store", "path", *dbPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = db
	} else {
		log.Info("DRY RUN mode: the session is kept in memory")
	}

	cfg := detect.DefaultConfig()
	cfg.DefaultSensitivity = level
	agg := stats.New(cfg.ModelVersion)
	mgr := session.NewManager(store, log, session.WithCountObserver(agg))
	det := detect.New(cfg, mgr, agg, log)
	defer det.Close()

	res, err := replay(context.Background(), f, mgr, det)
	if err != nil {
		log.Error("replay failed", "error", err)
		printResult(log, res, det.Stats())
		os.Exit(1)
	}
	printResult(log, res, det.Stats())
}

func printResult(log *slog.Logger, res Result, st stats.DetectionStats) {
	log.Info("replay complete",
		"session_id", res.Session.ID,
		"frames", res.Frames,
		"rejected", res.Rejected,
		"dropped", res.Dropped,
		"reps", res.Session.PushUpCount,
		"duration_sec", res.Session.Duration,
	)
	for kind, n := range res.Errors {
		log.Info("rejected frames", "reason", kind, "count", n)
	}
	log.Info("detection stats",
		"average_confidence", st.AverageConfidence,
		"frame_rate", st.FrameRate,
		"processing_latency_ms", st.ProcessingLatency,
		"false_positive_rate", st.FalsePositiveRate,
	)
}
