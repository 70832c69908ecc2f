// Package hedge opens short hedges on a perpetual venue as a compensating
// saga: balance check, subaccount claim, margin transfer, IOC order and fill
// confirmation, with rollback once a subaccount claim has committed.
package hedge

import (
	"context"
	"errors"
	"strings"
	"time"

	"hl-hedger/internal/alerts"
	"hl-hedger/internal/config"
	"hl-hedger/internal/metrics"
	"hl-hedger/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Venue is the exchange surface the saga drives.
type Venue interface {
	AccountState(ctx context.Context, address string) (venue.AccountState, error)
	ListSubaccounts(ctx context.Context, owner string) ([]venue.Subaccount, error)
	RenameSubaccount(ctx context.Context, owner, address, name string) error
	ClaimSubaccount(ctx context.Context, owner, address, expectedName, name string) error
	CreateSubaccount(ctx context.Context, owner, name string) (string, error)
	TransferMargin(ctx context.Context, owner, address string, isDeposit bool, amountMicroUSD int64) error
	ResolveAssetIndex(ctx context.Context, coin string) (int, error)
	PlaceOrder(ctx context.Context, owner string, order venue.Order, vault string) (venue.OrderStatus, error)
	OrderState(ctx context.Context, address string, orderID int64) (venue.OrderState, error)
	Position(ctx context.Context, address, coin string) (venue.Position, bool, error)
}

type Wallets interface {
	Check(ctx context.Context, address string) error
}

type Alerter interface {
	Notify(ctx context.Context, ev alerts.Event) error
}

// AuditSink receives every finished saga. Implementations must not block.
type AuditSink interface {
	Record(st *State)
}

type Config struct {
	MarginBuffer     decimal.Decimal
	PriceSlippage    decimal.Decimal
	FillTimeout      time.Duration
	FastPollInterval time.Duration
	FastPollWindow   time.Duration
	SlowPollInterval time.Duration
	ClaimAttempts    int
	ActivePrefix     string
	IdlePrefix       string
	NameMax          int
}

func DefaultConfig() Config {
	return Config{
		MarginBuffer:     decimal.RequireFromString("0.02"),
		PriceSlippage:    decimal.RequireFromString("0.01"),
		FillTimeout:      30 * time.Second,
		FastPollInterval: 500 * time.Millisecond,
		FastPollWindow:   5 * time.Second,
		SlowPollInterval: time.Second,
		ClaimAttempts:    3,
		ActivePrefix:     "mc-",
		IdlePrefix:       "unused-",
		NameMax:          16,
	}
}

// ConfigFrom converts the YAML section, which has already had defaults
// applied by config.Load.
func ConfigFrom(cfg config.HedgeConfig) Config {
	return Config{
		MarginBuffer:     decimal.NewFromFloat(cfg.MarginBuffer),
		PriceSlippage:    decimal.NewFromFloat(cfg.PriceSlippage),
		FillTimeout:      cfg.FillTimeout,
		FastPollInterval: cfg.FastPollInterval,
		FastPollWindow:   cfg.FastPollWindow,
		SlowPollInterval: cfg.SlowPollInterval,
		ClaimAttempts:    cfg.ClaimAttempts,
		ActivePrefix:     cfg.ActivePrefix,
		IdlePrefix:       cfg.IdlePrefix,
		NameMax:          cfg.SubaccountNameMax,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if !c.MarginBuffer.IsPositive() {
		c.MarginBuffer = def.MarginBuffer
	}
	if !c.PriceSlippage.IsPositive() {
		c.PriceSlippage = def.PriceSlippage
	}
	if c.NameMax <= len(c.ActivePrefix) {
		c.NameMax = def.NameMax
	}
	if c.FillTimeout <= 0 {
		c.FillTimeout = def.FillTimeout
	}
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = def.FastPollInterval
	}
	if c.FastPollWindow < 0 {
		c.FastPollWindow = def.FastPollWindow
	}
	if c.SlowPollInterval <= 0 {
		c.SlowPollInterval = def.SlowPollInterval
	}
	if c.ClaimAttempts <= 0 {
		c.ClaimAttempts = def.ClaimAttempts
	}
	if c.ActivePrefix == "" {
		c.ActivePrefix = def.ActivePrefix
	}
	if c.IdlePrefix == "" {
		c.IdlePrefix = def.IdlePrefix
	}
	return c
}

type Deps struct {
	Venue   Venue
	Wallets Wallets
	Alerts  Alerter
	Audit   AuditSink
	Metrics *metrics.Metrics
	Clock   Clock
	Log     *zap.Logger
}

type Orchestrator struct {
	cfg     Config
	venue   Venue
	wallets Wallets
	alerts  Alerter
	audit   AuditSink
	metrics *metrics.Metrics
	clock   Clock
	log     *zap.Logger
	newID   func() uuid.UUID
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Venue == nil {
		return nil, errors.New("venue is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		venue:   deps.Venue,
		wallets: deps.Wallets,
		alerts:  deps.Alerts,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		clock:   deps.Clock,
		log:     deps.Log,
		newID:   uuid.New,
	}, nil
}

// Open runs one hedge-opening saga for owner. Validation failures return a
// *ValidationError before anything is read from the venue; every later
// failure is a *SagaError wrapping the root cause.
func (o *Orchestrator) Open(ctx context.Context, owner string, req Request) (Result, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return Result{}, &ValidationError{Field: "owner", Reason: "is required"}
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	id := sagaIDFrom(ctx, o.newID)
	st := &State{ID: id.String(), Owner: owner, Request: req, Stage: StageInit}
	log := o.log.With(
		zap.String("saga_id", st.ID),
		zap.String("owner", owner),
		zap.String("coin", req.Coin),
		zap.String("position_hash", req.PositionHash),
	)
	o.metrics.SagasStarted.Inc()
	log.Info("hedge saga started",
		zap.Int("leverage", req.Leverage),
		zap.String("notional_usd", req.NotionalValueUSD.String()),
		zap.String("size", req.HedgeSize.String()),
		zap.String("mark_price", req.MarkPrice.String()),
	)

	if err := o.run(ctx, st, clientOrderID(id), log); err != nil {
		failedAfter := st.Completed
		var report *RollbackReport
		if st.Prepared() {
			report = o.rollback(ctx, st, err, log)
		}
		st.fail(err, report)
		o.metrics.SagasFailed.Inc()
		log.Warn("hedge saga failed",
			zap.Stringer("stage", failedAfter),
			zap.String("code", ErrorCode(err)),
			zap.Bool("rollback_failed", report.Failed()),
			zap.Error(err),
		)
		o.record(st)
		return Result{SagaID: st.ID}, &SagaError{SagaID: st.ID, Stage: failedAfter, Err: err, Rollback: report}
	}

	res := resultFromState(st)
	o.metrics.SagasSucceeded.Inc()
	log.Info("hedge saga filled",
		zap.String("subaccount", res.SubaccountAddress),
		zap.Int64("oid", res.OrderID),
		zap.String("fill_price", res.FillPrice.String()),
		zap.String("fill_size", res.FillSize.String()),
		zap.Bool("approximate", res.Approximate),
	)
	o.record(st)
	return res, nil
}

type sagaIDKey struct{}

// WithSagaID makes Open use id instead of generating one, so callers can log
// the saga before it returns.
func WithSagaID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, sagaIDKey{}, id)
}

func sagaIDFrom(ctx context.Context, fallback func() uuid.UUID) uuid.UUID {
	if id, ok := ctx.Value(sagaIDKey{}).(uuid.UUID); ok && id != uuid.Nil {
		return id
	}
	return fallback()
}

func (o *Orchestrator) run(ctx context.Context, st *State, cloid string, log *zap.Logger) error {
	if o.wallets != nil {
		if err := o.wallets.Check(ctx, st.Owner); err != nil {
			return &WalletUnavailableError{Owner: st.Owner, Err: err}
		}
	}
	if err := o.checkBalance(ctx, st, log); err != nil {
		return err
	}
	if err := o.prepareSubaccount(ctx, st, log); err != nil {
		return err
	}
	if err := o.transferMargin(ctx, st, log); err != nil {
		return err
	}
	status, err := o.placeOrder(ctx, st, cloid, log)
	if err != nil {
		return err
	}
	return o.awaitFill(ctx, st, status, log)
}

func (o *Orchestrator) alert(ctx context.Context, ev alerts.Event) {
	if o.alerts == nil {
		return
	}
	if err := o.alerts.Notify(context.WithoutCancel(ctx), ev); err != nil {
		o.log.Warn("alert send failed", zap.Error(err))
	}
}

func (o *Orchestrator) record(st *State) {
	if o.audit != nil {
		o.audit.Record(st)
	}
}
