package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/config"
)

// bookRow is one archived update.
type bookRow struct {
	Symbol     string
	ReceivedAt int64 // unix micros
	Payload    []byte
}

// Metrics counts recorder activity.
type Metrics struct {
	Inserts int64
	Drops   int64
	Errors  int64
	Flushes int64
}

// Recorder archives relayed book updates to Postgres in batches. Record
// never blocks the relay path: a full input buffer drops the update.
type Recorder struct {
	cfg    config.RecorderConfig
	logger *slog.Logger

	input chan bookRow
	db    *pgxpool.Pool

	batch       []bookRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a recorder writing through the given pool.
func New(cfg config.RecorderConfig, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan bookRow, cfg.BufferSize),
		batch:  make([]bookRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming updates and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

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

// Stop shuts the recorder down and flushes the remaining batch.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

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
	r.flush()

	return nil
}

// Record enqueues one update for archiving. Non-blocking.
func (r *Recorder) Record(symbol string, payload []byte, receivedAt time.Time) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	row := bookRow{
		Symbol:     symbol,
		ReceivedAt: receivedAt.UnixMicro(),
		Payload:    cp,
	}

	select {
	case r.input <- row:
	default:
		r.batchMu.Lock()
		r.metrics.Drops++
		r.batchMu.Unlock()
		r.logger.Warn("recorder buffer full, dropping update", "symbol", symbol)
	}
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// consumeLoop reads from the input channel and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			// Drain what already arrived before shutdown.
			for {
				select {
				case row := <-r.input:
					r.accumulate(row)
				default:
					return
				}
			}
		case row := <-r.input:
			r.accumulate(row)
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

// accumulate adds a row to the batch, flushing when full.
func (r *Recorder) accumulate(row bookRow) {
	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]bookRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	if err := r.batchInsert(batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch))
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed book updates",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (r *Recorder) batchInsert(rows []bookRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO book_updates (symbol, received_at, payload)
			VALUES ($1, $2, $3)
		`, row.Symbol, row.ReceivedAt, row.Payload)
	}

	// The final flush runs after cancellation.
	ctx := r.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
