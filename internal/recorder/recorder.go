// Package recorder archives the high-frequency status stream and transport
// events to Postgres. It consumes the transport through its anonymous
// subscription surface and batches inserts.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/printforge/moonbridge/internal/rpc"
)

// StatusSource is the slice of the RPC client the recorder needs.
type StatusSource interface {
	Subscribe(fn rpc.NotificationFunc) uint64
	Unsubscribe(id uint64) bool
}

// Config contains configuration for the recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the capacity of the intake channel between the
	// notification callback and the consumer goroutine. Updates arriving
	// while the buffer is full are dropped.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		BufferSize:    4096,
	}
}

// statusRow represents a row for the printer_status table.
type statusRow struct {
	ReceivedAt int64  // Microseconds
	Payload    []byte // JSONB: raw notification params
}

// eventRow represents a row for the transport_events table.
type eventRow struct {
	OccurredAt int64 // Microseconds
	Kind       string
	Message    string
	IsError    bool
	Detail     string
}

// Metrics holds recorder counters.
type Metrics struct {
	Inserts int64
	Dropped int64
	Flushes int64
	Errors  int64
}

// Recorder batches status updates and transport events into Postgres.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	source StatusSource
	subID  uint64

	db *pgxpool.Pool

	intake chan statusRow

	batchMu sync.Mutex
	batch   []statusRow
	events  []eventRow
	metrics Metrics

	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder. db may be nil, in which case flushes are
// dropped with a warning; this keeps the daemon alive through database
// outages at startup.
func NewRecorder(cfg Config, source StatusSource, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Recorder{
		cfg:    cfg,
		source: source,
		db:     db,
		logger: logger,
		intake: make(chan statusRow, cfg.BufferSize),
		batch:  make([]statusRow, 0, cfg.BatchSize),
	}
}

// Start subscribes to the status stream and begins batching.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.subID = r.source.Subscribe(r.onStatusUpdate)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the recorder.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.source.Unsubscribe(r.subID)

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush
	r.drainIntake()
	r.flush()

	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// RecordEvent queues a transport event for archival. Events ride the same
// flush cycle as status rows.
func (r *Recorder) RecordEvent(ev rpc.Event) {
	row := eventRow{
		OccurredAt: time.Now().UnixMicro(),
		Kind:       ev.Kind.String(),
		Message:    ev.Message,
		IsError:    ev.IsError,
		Detail:     ev.Detail,
	}
	r.batchMu.Lock()
	r.events = append(r.events, row)
	r.batchMu.Unlock()
}

// onStatusUpdate runs on the transport's network goroutine; it must never
// block, so a full intake buffer drops the update.
func (r *Recorder) onStatusUpdate(n *rpc.Notification) {
	row := statusRow{
		ReceivedAt: time.Now().UnixMicro(),
		Payload:    append([]byte(nil), n.Params...),
	}
	select {
	case r.intake <- row:
	default:
		r.batchMu.Lock()
		r.metrics.Dropped++
		dropped := r.metrics.Dropped
		r.batchMu.Unlock()
		if dropped%1000 == 1 {
			r.logger.Warn("intake buffer full, dropping status updates", "dropped_total", dropped)
		}
	}
}

// consumeLoop moves rows from the intake channel into the batch.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case row := <-r.intake:
			r.handleRow(row)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

func (r *Recorder) handleRow(row statusRow) {
	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

// drainIntake empties whatever the consumer goroutine had not picked up yet.
func (r *Recorder) drainIntake() {
	for {
		select {
		case row := <-r.intake:
			r.batchMu.Lock()
			r.batch = append(r.batch, row)
			r.batchMu.Unlock()
		default:
			return
		}
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 && len(r.events) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of the current batches
	rows := r.batch
	events := r.events
	r.batch = make([]statusRow, 0, r.cfg.BatchSize)
	r.events = nil
	r.batchMu.Unlock()

	if r.db == nil {
		r.logger.Warn("no database, discarding batch", "status_rows", len(rows), "event_rows", len(events))
		return
	}

	start := time.Now()

	if err := r.batchInsert(rows, events); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(rows)+len(events))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(rows) + len(events))
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed batch",
		"status_rows", len(rows),
		"event_rows", len(events),
		"duration", time.Since(start),
	)
}

// batchInsert inserts both row kinds in one round trip using pgx.Batch.
func (r *Recorder) batchInsert(rows []statusRow, events []eventRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO printer_status (received_at, payload)
			VALUES ($1, $2)
		`, row.ReceivedAt, row.Payload)
	}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO transport_events (occurred_at, kind, message, is_error, detail)
			VALUES ($1, $2, $3, $4, $5)
		`, ev.OccurredAt, ev.Kind, ev.Message, ev.IsError, ev.Detail)
	}

	ctx := r.ctx
	if ctx == nil || ctx.Err() != nil {
		// Final flush after Stop cancelled the lifecycle context.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(rows)+len(events); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
