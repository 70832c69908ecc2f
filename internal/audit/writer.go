// Package audit appends one row per finished hedge saga to Postgres
// (optionally Timescale). Rows are write-only; nothing reads them back.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-hedger/internal/config"
	"hl-hedger/internal/hedge"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Row is the flattened outcome of one saga.
type Row struct {
	Time           time.Time
	SagaID         string
	Owner          string
	PositionHash   string
	Coin           string
	Stage          string
	Subaccount     string
	OrderID        int64
	FillPrice      string
	FillSize       string
	MarginMicroUSD int64
	ErrorCode      string
	Error          string
	RollbackFailed bool
	Approximate    bool
}

func RowFromState(st *hedge.State, now time.Time) Row {
	row := Row{
		Time:         now.UTC(),
		SagaID:       st.ID,
		Owner:        st.Owner,
		PositionHash: st.Request.PositionHash,
		Coin:         st.Request.Coin,
		Stage:        st.Stage.String(),
		Subaccount:   st.Subaccount.Address,
		OrderID:      st.OrderID,
	}
	if st.Transfer != nil {
		row.MarginMicroUSD = st.Transfer.AmountMicroUSD
	}
	if st.Fill != nil {
		row.FillPrice = st.Fill.Price.String()
		row.FillSize = st.Fill.Size.String()
		row.Approximate = st.Fill.Approximate
	}
	if st.Err != nil {
		row.ErrorCode = hedge.ErrorCode(st.Err)
		row.Error = st.Err.Error()
	}
	row.RollbackFailed = st.Rollback.Failed()
	return row
}

type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	rows    chan Row
	started atomic.Bool
	dropped atomic.Uint64
	done    chan struct{}
	now     func() time.Time
}

// New returns nil, nil when auditing is disabled; a nil *Writer is safe to use.
func New(cfg config.AuditConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("audit dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		rows:   make(chan Row, queueSize),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the insert loop. When ctx ends, queued rows are flushed
// before Done is closed.
func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

// Done is closed once the insert loop has exited.
func (w *Writer) Done() <-chan struct{} {
	if w == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return w.done
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record implements hedge.AuditSink. It never blocks; a full queue drops the
// row and warns once.
func (w *Writer) Record(st *hedge.State) {
	if w == nil || st == nil {
		return
	}
	w.Enqueue(RowFromState(st, w.now()))
}

func (w *Writer) Enqueue(row Row) {
	if w == nil {
		return
	}
	select {
	case w.rows <- row:
	default:
		if w.dropped.Add(1) == 1 {
			w.log.Warn("audit queue full", zap.String("saga_id", row.SagaID))
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case row := <-w.rows:
			w.insert(ctx, row)
		}
	}
}

func (w *Writer) drain() {
	ctx := context.Background()
	for {
		select {
		case row := <-w.rows:
			w.insert(ctx, row)
		default:
			return
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("audit db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		saga_id TEXT NOT NULL,
		owner TEXT NOT NULL,
		position_hash TEXT NOT NULL,
		coin TEXT NOT NULL,
		stage TEXT NOT NULL,
		subaccount TEXT NOT NULL DEFAULT '',
		order_id BIGINT NOT NULL DEFAULT 0,
		fill_price TEXT NOT NULL DEFAULT '',
		fill_size TEXT NOT NULL DEFAULT '',
		margin_micro_usd BIGINT NOT NULL DEFAULT 0,
		error_code TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		rollback_failed BOOLEAN NOT NULL DEFAULT FALSE,
		approximate BOOLEAN NOT NULL DEFAULT FALSE
	)`, w.table("hedge_sagas"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("hedge_sagas"))); err != nil {
		w.log.Warn("hedge_sagas hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) insert(ctx context.Context, row Row) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, saga_id, owner, position_hash, coin, stage, subaccount, order_id,
		fill_price, fill_size, margin_micro_usd, error_code, error, rollback_failed, approximate
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	)`, w.table("hedge_sagas"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.SagaID,
		row.Owner,
		row.PositionHash,
		row.Coin,
		row.Stage,
		row.Subaccount,
		row.OrderID,
		row.FillPrice,
		row.FillSize,
		row.MarginMicroUSD,
		row.ErrorCode,
		row.Error,
		row.RollbackFailed,
		row.Approximate,
	); err != nil {
		w.log.Warn("audit insert failed", zap.String("saga_id", row.SagaID), zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
