package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hl-hedger/internal/alerts"
	"hl-hedger/internal/api"
	"hl-hedger/internal/audit"
	"hl-hedger/internal/config"
	"hl-hedger/internal/hedge"
	"hl-hedger/internal/metrics"
	"hl-hedger/internal/state"
	"hl-hedger/internal/state/sqlite"
	"hl-hedger/internal/venue"
	"hl-hedger/internal/wallet"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   state.Store
	wallets *wallet.Store
	venue   *venue.Hyperliquid
	hedger  *hedge.Orchestrator
	api     *api.Server
	prom    *metrics.Prometheus
	audit   *audit.Writer

	// Set once the listeners are bound.
	ready chan struct{}
	addr  net.Addr
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	key, err := wallet.ParseKey(cfg.Wallet.EncryptionKey)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("wallet encryption key: %w", err)
	}
	walletStore, err := wallet.Open(wallet.OpenOptions{Path: cfg.Wallet.Path, EncryptionKey: key})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if len(key) == 0 {
		log.Warn("wallet store is not encrypted; set wallet.encryption_key or HL_WALLET_ENCRYPTION_KEY")
	}

	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	wallets := wallet.NewService(walletStore, isMainnet, log)
	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if walletAddress != "" && privateKey != "" {
		wallets.SetFallback(walletAddress, privateKey)
		log.Info("fallback wallet configured", zap.String("owner", strings.ToLower(walletAddress)))
	}

	hl := venue.NewHyperliquid(venue.Options{
		BaseURL:       cfg.REST.BaseURL,
		Timeout:       cfg.REST.Timeout,
		AssetCacheTTL: cfg.Hedge.AssetCacheDuration,
	}, wallets, store, log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	auditWriter, err := audit.New(cfg.Audit, log)
	if err != nil {
		_ = walletStore.Close()
		_ = store.Close()
		return nil, fmt.Errorf("audit writer: %w", err)
	}
	deps := hedge.Deps{
		Venue:   hl,
		Wallets: wallets,
		Alerts:  alerts.NewTelegram(cfg.Telegram, log),
		Metrics: m,
		Log:     log,
	}
	if auditWriter != nil {
		deps.Audit = auditWriter
	}
	hedger, err := hedge.New(hedge.ConfigFrom(cfg.Hedge), deps)
	if err != nil {
		_ = auditWriter.Close()
		_ = walletStore.Close()
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		wallets: walletStore,
		venue:   hl,
		hedger:  hedger,
		api: api.NewServer(api.Deps{
			Opener:      hedger,
			Metrics:     m,
			Log:         log,
			OwnerHeader: cfg.HTTP.OwnerHeader,
		}),
		prom:  prom,
		audit: auditWriter,
		ready: make(chan struct{}),
	}, nil
}

// Run serves the API until ctx ends. Shutdown stops accepting requests,
// waits for in-flight sagas (including abandoned ones), then flushes the
// audit queue.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ln, err := net.Listen("tcp", a.cfg.HTTP.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Address, err)
	}
	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	defer stopAudit()
	a.audit.Start(auditCtx)

	a.addr = ln.Addr()
	srv := &http.Server{
		Handler:      a.api.Router(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}
	errCh := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	a.log.Info("api listening", zap.String("address", ln.Addr().String()))

	var metricsSrv *http.Server
	if a.prom != nil {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
		metricsSrv = &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		a.log.Info("metrics listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
	}
	close(a.ready)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}
	a.log.Info("shutting down", zap.Error(runErr))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("api shutdown failed", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("metrics shutdown failed", zap.Error(err))
		}
	}
	a.api.Wait()
	stopAudit()
	<-a.audit.Done()
	return runErr
}

func (a *App) close() {
	if err := a.audit.Close(); err != nil {
		a.log.Warn("audit close failed", zap.Error(err))
	}
	if err := a.wallets.Close(); err != nil {
		a.log.Warn("wallet store close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
}
