package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"tailscale.com/tsnet"

	"github.com/meltforce/pushreps/internal/config"
	"github.com/meltforce/pushreps/internal/detect"
	"github.com/meltforce/pushreps/internal/events"
	"github.com/meltforce/pushreps/internal/export"
	"github.com/meltforce/pushreps/internal/localstore"
	"github.com/meltforce/pushreps/internal/logging"
	"github.com/meltforce/pushreps/internal/mcp"
	"github.com/meltforce/pushreps/internal/metrics"
	"github.com/meltforce/pushreps/internal/preferences"
	"github.com/meltforce/pushreps/internal/server"
	"github.com/meltforce/pushreps/internal/session"
	"github.com/meltforce/pushreps/internal/stats"
	"github.com/meltforce/pushreps/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// store is what both database backends provide.
type store interface {
	session.Store
	preferences.Store
	io.Closer
}

type pgStore struct{ *storage.DB }

func (s pgStore) Close() error {
	s.DB.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, logCloser := logging.Setup(cfg.Logging)
	defer logCloser.Close()
	log.Info("PushReps starting", "version", Version)

	if err := run(cfg, *migrateOnly, log); err != nil {
		log.Error("fatal", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrateOnly bool, log *slog.Logger) error {
	ctx := context.Background()

	db, err := openStore(ctx, cfg.Database, migrateOnly, log)
	if err != nil {
		return err
	}
	if db == nil {
		return nil
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewManager("pushreps", "server", reg)

	agg := stats.New(cfg.Detection.ModelVersion)
	agg.SetReversalWindow(cfg.Detection.ReversalWindow)

	changes := events.New[session.Change](cfg.Events.Buffer, log)
	defer changes.Close()

	sessions := session.NewManager(db, log,
		session.WithCountObserver(agg),
		session.WithCountObserver(m),
		session.WithChanges(changes),
	)
	cur, err := sessions.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}
	if cur != nil {
		log.Info("restored workout in progress", "session_id", cur.ID, "count", cur.PushUpCount, "status", cur.Status)
	}

	changeMetrics, err := changes.Subscribe("metrics")
	if err != nil {
		return err
	}
	go changeMetrics.Each(ctx, m.ObserveChange)

	prefs := preferences.NewService(db, log)

	detector := detect.New(detect.Config{
		MinConfidence:      cfg.Detection.MinConfidence,
		MinRepInterval:     cfg.Detection.MinRepInterval,
		Center:             cfg.Detection.Center,
		ModelVersion:       cfg.Detection.ModelVersion,
		DegradedWindow:     cfg.Detection.DegradedWindow,
		DegradedThreshold:  cfg.Detection.DegradedThreshold,
		DefaultSensitivity: detect.Sensitivity(cfg.Detection.DefaultSensitivity),
	}, sessions, agg, log,
		detect.WithMetrics(m),
		detect.WithSensitivitySource(prefs),
		detect.WithEventBus(events.New[detect.DetectionEvent](cfg.Events.Buffer, log)),
		detect.WithErrorBus(events.New[detect.DetectionError](cfg.Events.Buffer, log)),
	)
	defer detector.Close()
	detector.RefreshSensitivity(ctx)

	runCtx, stopExport := context.WithCancel(ctx)
	defer stopExport()
	fwd, err := startExport(runCtx, cfg.Export, detector, changes, m, log)
	if err != nil {
		return err
	}
	if fwd != nil {
		defer fwd.Close()
	}

	mcpSrv := mcp.New(mcp.NewLocal(sessions, agg), Version, log)

	srv := server.New(server.Deps{
		Sessions:    sessions,
		Detector:    detector,
		Preferences: prefs,
		Changes:     changes,
		Metrics:     m,
		Gatherer:    reg,
		MCP:         mcpserver.NewStreamableHTTPServer(mcpSrv),
		APIKey:      cfg.Auth.APIKey,
	}, log)

	listener, closeListener, err := listen(cfg, log)
	if err != nil {
		return err
	}
	defer closeListener()

	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	detector.Stop()
	if err := sessions.Flush(shutdownCtx); err != nil {
		log.Error("flushing session", "error", err)
	}
	log.Info("server stopped")
	return nil
}

// openStore opens the configured database. It returns a nil store when
// migrateOnly is set and there is nothing left to do.
func openStore(ctx context.Context, cfg config.DatabaseConfig, migrateOnly bool, log *slog.Logger) (store, error) {
	if cfg.Driver == "sqlite" {
		if migrateOnly {
			log.Info("migrate-only: sqlite schema is created on open, exiting")
			return nil, nil
		}
		db, err := localstore.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		log.Info("sqlite store opened", "path", cfg.Path)
		return db, nil
	}

	dsn := cfg.DSN()
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	log.Info("migrations applied")
	if migrateOnly {
		log.Info("migrate-only: exiting")
		return nil, nil
	}

	db, err := storage.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	log.Info("database connected")
	return pgStore{db}, nil
}

// startExport subscribes a forwarder to both buses when a broker is
// configured. It returns nil when export is disabled.
func startExport(ctx context.Context, cfg config.ExportConfig, d *detect.Detector, changes *events.Bus[session.Change], m *metrics.Manager, log *slog.Logger) (*export.Forwarder, error) {
	var sinks []export.Sink
	if cfg.Kafka.Enabled() {
		sinks = append(sinks, export.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		log.Info("kafka export enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	if cfg.MQTT.Enabled() {
		s, err := export.NewMQTTSink(cfg.MQTT, log)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, fmt.Errorf("mqtt export: %w", err)
		}
		sinks = append(sinks, s)
		log.Info("mqtt export enabled", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
	}
	if len(sinks) == 0 {
		return nil, nil
	}

	fwd := export.NewForwarder(log, m, sinks...)
	ds, err := d.Events().Subscribe("export")
	if err != nil {
		fwd.Close()
		return nil, err
	}
	cs, err := changes.Subscribe("export")
	if err != nil {
		fwd.Close()
		return nil, err
	}
	go fwd.Run(ctx, ds, cs)
	return fwd, nil
}

// listen returns a tsnet listener when Tailscale is enabled and a plain TCP
// listener otherwise.
func listen(cfg *config.Config, log *slog.Logger) (net.Listener, func(), error) {
	if !cfg.Tailscale.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
		return ln, func() {}, nil
	}

	ts := &tsnet.Server{
		Hostname: cfg.Tailscale.Hostname,
		Dir:      cfg.Tailscale.StateDir,
	}
	if err := ts.Start(); err != nil {
		return nil, nil, fmt.Errorf("tsnet start: %w", err)
	}
	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		ts.Close()
		return nil, nil, fmt.Errorf("tsnet listen: %w", err)
	}
	log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	return ln, func() { ts.Close() }, nil
}
