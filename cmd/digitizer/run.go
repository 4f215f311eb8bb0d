package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/acquisition"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/api"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/audit"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/auth"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/catalog"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/logging"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/sink"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

type runFlags struct {
	configPath string
	loops      int
	records    int
	samples    int
	reset      bool
	noStdin    bool
	noStdout   bool
}

func newRunCommand() *cobra.Command {
	return runCommand(&runFlags{})
}

func runCommand(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [resource]",
		Short: "Configure the instrument and run the acquisition loop",
		Long: "Run configures the resource, then acquires and writes one trace block per record\n" +
			"on stdout. JSON objects read from stdin reconfigure the run between iterations;\n" +
			"end of stdin stops it.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, *f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file (default $DIGITIZER_CONFIG)")
	fl.IntVarP(&f.loops, "loops", "l", 0, "number of acquisitions, -1 for no limit, 0 configures only")
	fl.IntVarP(&f.records, "records", "r", 0, "records per acquisition")
	fl.IntVarP(&f.samples, "samples", "s", 0, "samples per record")
	fl.BoolVar(&f.reset, "reset", false, "reset the instrument when opening it")
	fl.BoolVar(&f.noStdin, "no-stdin", false, "do not read commands from stdin")
	fl.BoolVar(&f.noStdout, "no-stdout", false, "do not write traces to stdout")
	return cmd
}

// loadConfig loads the configuration and applies the command line on top.
func loadConfig(cmd *cobra.Command, f runFlags, resources []string) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	fl := cmd.Flags()
	if len(resources) > 0 {
		cfg.Resources = resources
	}
	if fl.Changed("loops") {
		cfg.Loops = f.loops
	}
	if fl.Changed("records") {
		cfg.Records = f.records
	}
	if fl.Changed("samples") {
		cfg.Samples = f.samples
	}
	if fl.Changed("reset") {
		cfg.Reset = f.reset
	}
	cfg.Refresh()
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	switch len(cfg.Resources) {
	case 0:
		return nil, errors.New("no resource given")
	case 1:
	default:
		return nil, fmt.Errorf("one resource per run, got %d: %s", len(cfg.Resources), strings.Join(cfg.Resources, ", "))
	}
	return cfg, nil
}

func run(cmd *cobra.Command, f runFlags, resources []string) error {
	// Step 1: Load configuration
	cfg, err := loadConfig(cmd, f, resources)
	if err != nil {
		return err
	}

	// Step 2: Initialize logging. Stdout carries the trace stream.
	log, logCloser, err := logging.New(logging.FromService(cfg.Service), os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	// Writes to a closed stdout return EPIPE and end the run.
	signal.Ignore(syscall.SIGPIPE)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := uuid.NewString()
	entry := log.WithField("run_id", runID)
	entry.WithField("version", Version).Info("starting digitizer")

	// Step 3: Open the instrument
	resource := cfg.Resources[0]
	session, err := driver.Open(ctx, resource, driver.Options{Reset: cfg.Reset})
	if err != nil {
		return err
	}
	entry.WithField("resource", resource).Info("instrument opened")
	running := false
	defer func() {
		if !running {
			closeLogged(entry, "session", session)
		}
	}()

	// Step 4: Command sources
	queue := command.NewQueue()
	defer queue.Close()
	if !f.noStdin {
		reader := command.NewReader(os.Stdin, queue, "stdin", entry, cancel)
		go func() {
			if err := reader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				entry.WithError(err).Error("command input failed")
			}
		}()
	}
	if cfg.Service.MQTT.Broker != "" {
		src := command.NewMQTTSource(cfg.Service.MQTT, queue, entry)
		if err := src.Start(); err != nil {
			entry.WithError(err).Warn("mqtt command source unavailable")
		} else {
			defer src.Close()
		}
	}

	// Step 5: Trace sinks
	var sinks sink.Multi
	if !f.noStdout {
		sinks = append(sinks, sink.NewStream(os.Stdout))
	}
	if cfg.Service.ArchivePath != "" {
		archive, err := sink.CreateArchive(cfg.Service.ArchivePath, cfg.Service.ArchiveSnappy)
		if err != nil {
			return err
		}
		defer closeLogged(entry, "archive", archive)
		sinks = append(sinks, archive)
	}
	var traces *api.TraceFeed
	if cfg.Service.Listen != "" {
		traces = api.NewTraceFeed(entry)
		sinks = append(sinks, traces)
	}

	// Step 6: Observers
	var observers []acquisition.Observer
	var hub *telemetry.Hub
	if cfg.Service.Listen != "" {
		hub = telemetry.NewHub(cfg.Service.Telemetry)
		defer hub.Stop()
		observers = append(observers, telemetry.NewObserver(hub))
	}
	var auditLog *audit.Logger
	if cfg.Service.AuditLog != "" {
		auditLog, err = audit.NewLogger(cfg.Service.AuditLog, cfg.Service.LogMaxSizeMB, cfg.Service.LogMaxBackups)
		if err != nil {
			return err
		}
		defer closeLogged(entry, "audit log", auditLog)
		observers = append(observers, audit.NewObserver(auditLog, func(err error) {
			entry.WithError(err).Error("audit write failed")
		}))
	}
	if cfg.Service.CatalogDSN != "" {
		pool, writer, err := startCatalog(ctx, cfg.Service.CatalogDSN, entry)
		if err != nil {
			entry.WithError(err).Warn("acquisition catalog unavailable")
		} else {
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer scancel()
				writer.Stop(sctx)
				pool.Close()
			}()
			observers = append(observers, writer)
		}
	}

	// Step 7: Orchestrator
	orch := acquisition.New(session, cfg, acquisition.Options{
		Queue:     queue,
		Sink:      sinks,
		Observers: observers,
		Log:       log,
		RunID:     runID,
	})

	// Step 8: Control API
	if cfg.Service.Listen != "" {
		server, err := newServer(cfg.Service, orch, hub, traces, auditLog, entry)
		if err != nil {
			return err
		}
		go func() {
			if err := server.Start(cfg.Service.Listen); err != nil {
				entry.WithError(err).Error("control API failed")
				cancel()
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := server.Stop(sctx); err != nil {
				entry.WithError(err).Warn("control API shutdown")
			}
		}()
	}

	// Step 9: Run until done, cancelled or failed. Run closes the session.
	running = true
	err = orch.Run(ctx)
	status := orch.Status()
	fields := logrus.Fields{"acquired": status.Acquired, "skipped": status.Skipped, "calibrations": status.Calibrations}
	if err != nil {
		entry.WithFields(fields).WithError(err).Error("acquisition failed")
		return err
	}
	entry.WithFields(fields).Info("acquisition finished")
	return nil
}

func startCatalog(ctx context.Context, dsn string, log logrus.FieldLogger) (*pgxpool.Pool, *catalog.Writer, error) {
	pool, err := catalog.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := catalog.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	w := catalog.NewWriter(catalog.DefaultConfig(), pool, log)
	w.Start(context.WithoutCancel(ctx))
	return pool, w, nil
}

func newServer(svc config.ServiceConfig, orch *acquisition.Orchestrator, hub *telemetry.Hub,
	traces *api.TraceFeed, auditLog *audit.Logger, log logrus.FieldLogger) (*api.Server, error) {
	verifier, err := auth.NewVerifier(svc.JWT)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		log.Warn("no JWT key configured, control API is open")
	}
	opts := api.Options{
		Traces: traces,
		Auth:   auth.NewMiddleware(verifier, "/api/v1/health"),
		Log:    log,
	}
	if hub != nil {
		opts.Telemetry = hub
	}
	if auditLog != nil {
		opts.Auditor = auditLog
	}
	return api.NewServer(orch, opts), nil
}

func closeLogged(log logrus.FieldLogger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.WithError(err).WithField("what", what).Warn("close failed")
	}
}
