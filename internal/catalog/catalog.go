package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/acquisition"
)

const schema = `
CREATE TABLE IF NOT EXISTS acquisition_iterations (
	run_id      TEXT             NOT NULL,
	loop        INTEGER          NOT NULL,
	started     TIMESTAMPTZ      NOT NULL,
	duration_us BIGINT           NOT NULL,
	outcome     TEXT             NOT NULL,
	mode        TEXT             NOT NULL,
	channels    INTEGER          NOT NULL,
	records     INTEGER          NOT NULL,
	samples     INTEGER          NOT NULL,
	sample_rate DOUBLE PRECISION NOT NULL,
	calibrated  BOOLEAN          NOT NULL,
	error       TEXT,
	PRIMARY KEY (run_id, loop)
)`

const insertIteration = `
INSERT INTO acquisition_iterations
	(run_id, loop, started, duration_us, outcome, mode, channels, records, samples, sample_rate, calibrated, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''))
ON CONFLICT (run_id, loop) DO NOTHING`

// DB is the part of a pgx pool the writer uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var _ DB = (*pgxpool.Pool)(nil)

// Connect opens and pings a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the iterations table when missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create iterations table: %w", err)
	}
	return nil
}

// Config tunes batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	Backlog       int
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 100, FlushInterval: time.Second, Backlog: 1024}
}

// Metrics counts writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// Writer batches iteration rows into the database. It is an
// acquisition.Observer.
type Writer struct {
	cfg Config
	db  DB
	log logrus.FieldLogger

	input chan acquisition.Iteration
	batch []acquisition.Iteration

	mu      sync.Mutex
	metrics Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter returns a writer to db. Zero fields of cfg take defaults.
func NewWriter(cfg Config, db DB, log logrus.FieldLogger) *Writer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = def.Backlog
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Writer{
		cfg:   cfg,
		db:    db,
		log:   log.WithField("component", "catalog"),
		input: make(chan acquisition.Iteration, cfg.Backlog),
		batch: make([]acquisition.Iteration, 0, cfg.BatchSize),
	}
}

// Observe queues iteration events. A full backlog drops the row.
func (w *Writer) Observe(e acquisition.Event) {
	if e.Type != acquisition.EventIteration || e.Iteration == nil {
		return
	}
	select {
	case w.input <- *e.Iteration:
	default:
		w.mu.Lock()
		w.metrics.Dropped++
		w.mu.Unlock()
	}
}

// Start runs the batching loop until Stop.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	w.log.WithFields(logrus.Fields{
		"batch_size":     w.cfg.BatchSize,
		"flush_interval": w.cfg.FlushInterval,
	}).Info("catalog writer started")
}

// Stop ends the loop and writes the pending rows with ctx.
func (w *Writer) Stop(ctx context.Context) {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
drain:
	for {
		select {
		case it := <-w.input:
			w.batch = append(w.batch, it)
		default:
			break drain
		}
	}
	w.flush(ctx)
	w.log.Info("catalog writer stopped")
}

// Stats returns a copy of the counters.
func (w *Writer) Stats() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-w.input:
			w.batch = append(w.batch, it)
			if len(w.batch) >= w.cfg.BatchSize {
				w.flush(ctx)
			}
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}
	rows := w.batch
	w.batch = make([]acquisition.Iteration, 0, w.cfg.BatchSize)

	start := time.Now()
	conflicts, err := w.insert(ctx, rows)
	w.mu.Lock()
	if err != nil {
		w.metrics.Errors++
	} else {
		w.metrics.Inserts += int64(len(rows) - conflicts)
		w.metrics.Conflicts += int64(conflicts)
		w.metrics.Flushes++
	}
	w.mu.Unlock()

	if err != nil {
		w.log.WithError(err).WithField("count", len(rows)).Error("batch insert failed")
		return
	}
	w.log.WithFields(logrus.Fields{
		"count":     len(rows),
		"conflicts": conflicts,
		"duration":  time.Since(start),
	}).Debug("flushed iterations")
}

func (w *Writer) insert(ctx context.Context, rows []acquisition.Iteration) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertIteration,
			r.RunID, r.Loop, r.Started, r.Duration.Microseconds(), string(r.Outcome), r.Mode,
			r.Channels, r.Records, r.Samples, r.SampleRate, r.Calibrated, r.Error)
	}
	results := w.db.SendBatch(ctx, batch)
	defer func() {
		if cerr := results.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
