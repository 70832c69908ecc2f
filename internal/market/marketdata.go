package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hl-hedger/internal/hl/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrAssetNotFound = errors.New("asset not found")

type PerpContext struct {
	Name        string
	Index       int
	SzDecimals  int
	MaxLeverage int
	Delisted    bool
	MarkPrice   decimal.Decimal
	OraclePrice decimal.Decimal
}

// MarketData caches the perp universe from metaAndAssetCtxs.
type MarketData struct {
	rest *rest.Client
	log  *zap.Logger
	now  func() time.Time

	refreshMu        sync.Mutex
	mu               sync.RWMutex
	perpCtx          map[string]PerpContext
	lastCtxRefresh   time.Time
	ctxRefreshWindow time.Duration
}

func New(restClient *rest.Client, log *zap.Logger, refreshWindow time.Duration) *MarketData {
	if log == nil {
		log = zap.NewNop()
	}
	if refreshWindow <= 0 {
		refreshWindow = 30 * time.Second
	}
	return &MarketData{
		rest:             restClient,
		log:              log,
		now:              time.Now,
		perpCtx:          make(map[string]PerpContext),
		ctxRefreshWindow: refreshWindow,
	}
}

// RefreshContexts reloads the universe unless the cache is younger than the
// refresh window.
func (m *MarketData) RefreshContexts(ctx context.Context) error {
	return m.refresh(ctx, false)
}

func (m *MarketData) refresh(ctx context.Context, force bool) error {
	if m.rest == nil {
		return errors.New("rest client is required")
	}
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if !force && !m.shouldRefresh() {
		return nil
	}
	var payload any
	if err := m.rest.Info(ctx, rest.InfoRequest{Type: "metaAndAssetCtxs"}, &payload); err != nil {
		return err
	}
	perpCtx, err := parsePerpContexts(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.perpCtx = perpCtx
	m.lastCtxRefresh = m.now()
	m.mu.Unlock()
	m.log.Debug("perp contexts refreshed", zap.Int("assets", len(perpCtx)))
	return nil
}

func (m *MarketData) shouldRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastCtxRefresh.IsZero() {
		return true
	}
	return m.now().Sub(m.lastCtxRefresh) >= m.ctxRefreshWindow
}

// Perp resolves coin to its context. A miss on a warm cache forces one
// refresh so newly listed assets are picked up before the window expires.
func (m *MarketData) Perp(ctx context.Context, coin string) (PerpContext, error) {
	name := strings.TrimSpace(coin)
	if name == "" {
		return PerpContext{}, fmt.Errorf("%w: empty coin", ErrAssetNotFound)
	}
	refreshed := m.shouldRefresh()
	if err := m.RefreshContexts(ctx); err != nil {
		return PerpContext{}, err
	}
	if pc, ok := m.lookup(name); ok {
		return pc, nil
	}
	if !refreshed {
		if err := m.refresh(ctx, true); err != nil {
			return PerpContext{}, err
		}
		if pc, ok := m.lookup(name); ok {
			return pc, nil
		}
	}
	return PerpContext{}, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
}

func (m *MarketData) lookup(name string) (PerpContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.perpCtx[name]
	if !ok || pc.Delisted {
		return PerpContext{}, false
	}
	return pc, true
}

func (m *MarketData) PerpAssetID(ctx context.Context, coin string) (int, error) {
	pc, err := m.Perp(ctx, coin)
	if err != nil {
		return 0, err
	}
	return pc.Index, nil
}
