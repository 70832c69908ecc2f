package venue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hl-hedger/internal/account"
	"hl-hedger/internal/hl/exchange"
	"hl-hedger/internal/hl/rest"
	"hl-hedger/internal/market"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SignerSource resolves the signing key of an owner address.
type SignerSource interface {
	Signer(ctx context.Context, address string) (*exchange.Signer, error)
}

type Options struct {
	BaseURL       string
	Timeout       time.Duration
	AssetCacheTTL time.Duration
	Retry         RetryPolicy
}

// Hyperliquid implements the hedger's venue contract. One exchange client is
// kept per owner so nonces stay monotonic per signing key.
type Hyperliquid struct {
	opts    Options
	account *account.Account
	market  *market.MarketData
	signers SignerSource
	nonces  exchange.NonceStore
	log     *zap.Logger

	mu         sync.Mutex
	clients    map[string]*exchange.Client
	ownerLocks map[string]*sync.Mutex
}

func NewHyperliquid(opts Options, signers SignerSource, nonces exchange.NonceStore, log *zap.Logger) *Hyperliquid {
	if log == nil {
		log = zap.NewNop()
	}
	restClient := rest.New(opts.BaseURL, opts.Timeout, log)
	return &Hyperliquid{
		opts:       opts,
		account:    account.New(restClient, log),
		market:     market.New(restClient, log, opts.AssetCacheTTL),
		signers:    signers,
		nonces:     nonces,
		log:        log,
		clients:    make(map[string]*exchange.Client),
		ownerLocks: make(map[string]*sync.Mutex),
	}
}

func (h *Hyperliquid) AccountState(ctx context.Context, address string) (AccountState, error) {
	var state account.State
	err := retry(ctx, h.opts.Retry, func() error {
		var err error
		state, err = h.account.ClearinghouseState(ctx, address)
		return err
	})
	if err != nil {
		return AccountState{}, err
	}
	return AccountState{Withdrawable: state.Withdrawable, AccountValue: state.AccountValue}, nil
}

func (h *Hyperliquid) ListSubaccounts(ctx context.Context, owner string) ([]Subaccount, error) {
	var subs []account.SubAccount
	err := retry(ctx, h.opts.Retry, func() error {
		var err error
		subs, err = h.account.SubAccounts(ctx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]Subaccount, 0, len(subs))
	for _, sub := range subs {
		out = append(out, Subaccount{Address: sub.Address, Name: sub.Name, Owner: strings.ToLower(owner)})
	}
	return out, nil
}

func (h *Hyperliquid) RenameSubaccount(ctx context.Context, owner, address, name string) error {
	unlock := h.lockOwner(owner)
	defer unlock()
	client, err := h.clientFor(ctx, owner)
	if err != nil {
		return err
	}
	return client.RenameSubAccount(ctx, common.HexToAddress(address), name)
}

// ClaimSubaccount renames address to name only if it is still called
// expectedName. Claims for the same owner are serialized in-process; a
// claim lost to another process surfaces as ErrClaimConflict.
func (h *Hyperliquid) ClaimSubaccount(ctx context.Context, owner, address, expectedName, name string) error {
	unlock := h.lockOwner(owner)
	defer unlock()
	subs, err := h.ListSubaccounts(ctx, owner)
	if err != nil {
		return err
	}
	current, found := "", false
	for _, sub := range subs {
		if strings.EqualFold(sub.Address, address) {
			current, found = sub.Name, true
			break
		}
	}
	if !found || current != expectedName {
		return fmt.Errorf("%w: %s is %q, expected %q", ErrClaimConflict, address, current, expectedName)
	}
	client, err := h.clientFor(ctx, owner)
	if err != nil {
		return err
	}
	return client.RenameSubAccount(ctx, common.HexToAddress(address), name)
}

func (h *Hyperliquid) CreateSubaccount(ctx context.Context, owner, name string) (string, error) {
	unlock := h.lockOwner(owner)
	defer unlock()
	client, err := h.clientFor(ctx, owner)
	if err != nil {
		return "", err
	}
	addr, err := client.CreateSubAccount(ctx, name)
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr), nil
}

func (h *Hyperliquid) TransferMargin(ctx context.Context, owner, address string, isDeposit bool, amountMicroUSD int64) error {
	client, err := h.clientFor(ctx, owner)
	if err != nil {
		return err
	}
	return client.SubAccountTransfer(ctx, common.HexToAddress(address), isDeposit, amountMicroUSD)
}

func (h *Hyperliquid) ResolveAssetIndex(ctx context.Context, coin string) (int, error) {
	pc, err := h.perp(ctx, coin)
	if err != nil {
		return 0, err
	}
	return pc.Index, nil
}

// PlaceOrder signs with the owner key and routes the order to vault.
// Price and size are normalized to the asset's tick rules first. Failures
// before the exchange call wrap ErrOrderNotSent.
func (h *Hyperliquid) PlaceOrder(ctx context.Context, owner string, order Order, vault string) (OrderStatus, error) {
	pc, err := h.perp(ctx, order.Coin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderNotSent, err)
	}
	if pc.Index != order.AssetIndex {
		return nil, fmt.Errorf("%w: asset index for %s changed from %d to %d", ErrOrderNotSent, order.Coin, order.AssetIndex, pc.Index)
	}
	price := exchange.NormalizePerpPrice(order.LimitPrice, pc.SzDecimals)
	size := exchange.NormalizeSize(order.Size, pc.SzDecimals)
	if !size.IsPositive() {
		return nil, fmt.Errorf("%w: size %s is below the %s lot size (%d decimals)", ErrOrderNotSent, order.Size, order.Coin, pc.SzDecimals)
	}
	tif := exchange.Tif(order.TIF)
	if tif == "" {
		tif = exchange.TifIoc
	}
	wire, err := exchange.LimitOrderWire(pc.Index, order.IsBuy, size, price, order.ReduceOnly, tif, order.ClientOrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderNotSent, err)
	}
	client, err := h.clientFor(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderNotSent, err)
	}
	var vaultAddr *common.Address
	if vault != "" {
		addr := common.HexToAddress(vault)
		vaultAddr = &addr
	}
	h.log.Debug("placing order",
		zap.String("coin", order.Coin),
		zap.Int("asset", pc.Index),
		zap.String("price", wire.Price),
		zap.String("size", wire.Size),
		zap.String("vault", vault),
	)
	status, err := client.PlaceOrder(ctx, wire, vaultAddr)
	if err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) {
			return Rejected{Reason: apiErr.Message}, nil
		}
		return nil, err
	}
	return statusFromWire(status), nil
}

// statusFromWire refuses to report a fill it cannot price.
func statusFromWire(status exchange.OrderStatus) OrderStatus {
	switch {
	case status.Error != "":
		return Rejected{Reason: status.Error}
	case status.Filled != nil:
		avg, errPx := decimal.NewFromString(strings.TrimSpace(status.Filled.AvgPx))
		size, errSz := decimal.NewFromString(strings.TrimSpace(status.Filled.TotalSz))
		if errPx != nil || errSz != nil || !avg.IsPositive() || !size.IsPositive() {
			return Unrecognized{Raw: fmt.Sprintf("filled oid=%d totalSz=%q avgPx=%q", status.Filled.OrderID, status.Filled.TotalSz, status.Filled.AvgPx)}
		}
		return Filled{OrderID: status.Filled.OrderID, AvgPrice: avg, Size: size}
	case status.Resting != nil:
		return Resting{OrderID: status.Resting.OrderID}
	default:
		return Unrecognized{Raw: status.Other}
	}
}

func (h *Hyperliquid) OrderState(ctx context.Context, address string, orderID int64) (OrderState, error) {
	var status account.OrderStatus
	err := retry(ctx, h.opts.Retry, func() error {
		var err error
		status, err = h.account.OrderStatus(ctx, address, orderID)
		return err
	})
	if err != nil {
		return OrderState{}, err
	}
	return OrderState{
		Known:         status.Known,
		Status:        status.Status,
		Filled:        status.Filled(),
		Terminal:      status.Terminal(),
		RemainingSize: status.RemainingSize,
		OriginalSize:  status.OriginalSize,
		LimitPrice:    status.LimitPrice,
	}, nil
}

// Position returns ok=false when address holds no open position in coin.
func (h *Hyperliquid) Position(ctx context.Context, address, coin string) (Position, bool, error) {
	var state account.State
	err := retry(ctx, h.opts.Retry, func() error {
		var err error
		state, err = h.account.ClearinghouseState(ctx, address)
		return err
	})
	if err != nil {
		return Position{}, false, err
	}
	pos, ok := state.Positions[coin]
	if !ok || pos.Size.IsZero() {
		return Position{}, false, nil
	}
	return Position{Coin: pos.Coin, Size: pos.Size, EntryPrice: pos.EntryPrice}, true, nil
}

func (h *Hyperliquid) perp(ctx context.Context, coin string) (market.PerpContext, error) {
	var pc market.PerpContext
	err := retry(ctx, h.opts.Retry, func() error {
		var err error
		pc, err = h.market.Perp(ctx, coin)
		if errors.Is(err, market.ErrAssetNotFound) {
			return fmt.Errorf("%w: %s", ErrAssetNotFound, coin)
		}
		return err
	})
	return pc, err
}

func (h *Hyperliquid) clientFor(ctx context.Context, owner string) (*exchange.Client, error) {
	if h.signers == nil {
		return nil, errors.New("signer source is required")
	}
	signer, err := h.signers.Signer(ctx, owner)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(signer.Address().Hex())
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[key]; ok {
		return client, nil
	}
	client, err := exchange.NewClient(h.opts.BaseURL, h.opts.Timeout, signer)
	if err != nil {
		return nil, err
	}
	client.SetLogger(h.log)
	if h.nonces != nil {
		if err := client.InitNonceStore(ctx, h.nonces); err != nil {
			h.log.Warn("nonce store init failed", zap.String("owner", key), zap.Error(err))
		} else if state, ok := client.NonceState(); ok {
			h.log.Info("nonce persistence enabled", zap.String("nonce_key", state.Key), zap.Uint64("nonce_seed", state.Last))
		}
	}
	h.clients[key] = client
	return client, nil
}

func (h *Hyperliquid) lockOwner(owner string) func() {
	key := strings.ToLower(strings.TrimSpace(owner))
	h.mu.Lock()
	lock, ok := h.ownerLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		h.ownerLocks[key] = lock
	}
	h.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
