package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Client signs and posts L1 actions for a single account key.
type Client struct {
	baseURL       string
	http          *http.Client
	signer        *Signer
	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	log           *zap.Logger
	persistMu     sync.Mutex
	persistWarned atomic.Bool
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type NonceState struct {
	Key       string
	Last      uint64
	Persisted uint64
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
		log:     zap.NewNop(),
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	if log != nil {
		c.log = log
	}
}

func (c *Client) Address() common.Address {
	return c.signer.Address()
}

// PlaceOrder submits a single order. A non-nil vault routes it to that
// subaccount.
func (c *Client) PlaceOrder(ctx context.Context, order OrderWire, vault *common.Address) (OrderStatus, error) {
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	resp, err := c.sendAction(ctx, action, vault)
	if err != nil {
		return OrderStatus{}, err
	}
	statuses, err := orderStatusesFromResponse(resp)
	if err != nil {
		return OrderStatus{}, err
	}
	return statuses[0], nil
}

// CreateSubAccount returns the address of the new subaccount.
func (c *Client) CreateSubAccount(ctx context.Context, name string) (string, error) {
	resp, err := c.sendAction(ctx, CreateSubAccountAction{Type: "createSubAccount", Name: name}, nil)
	if err != nil {
		return "", err
	}
	return subAccountFromResponse(resp)
}

func (c *Client) RenameSubAccount(ctx context.Context, subAccount common.Address, name string) error {
	action := SubAccountModifyAction{
		Type:           "subAccountModify",
		SubAccountUser: strings.ToLower(subAccount.Hex()),
		Name:           name,
	}
	_, err := c.sendAction(ctx, action, nil)
	return err
}

func (c *Client) SubAccountTransfer(ctx context.Context, subAccount common.Address, isDeposit bool, usdMicro int64) error {
	if usdMicro <= 0 {
		return errors.New("amount must be > 0")
	}
	action := SubAccountTransferAction{
		Type:           "subAccountTransfer",
		SubAccountUser: strings.ToLower(subAccount.Hex()),
		IsDeposit:      isDeposit,
		Usd:            usdMicro,
	}
	_, err := c.sendAction(ctx, action, nil)
	return err
}

func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	key := nonceStoreKey(c.baseURL, c.signer)
	seed := uint64(time.Now().UnixMilli())
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		seed = max(seed, parsed)
	}
	seed = max(seed, c.lastNonce.Load())
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) NonceState() (NonceState, bool) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return NonceState{}, false
	}
	return NonceState{
		Key:       c.nonceKey,
		Last:      c.lastNonce.Load(),
		Persisted: c.lastPersisted.Load(),
	}, true
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		if c.persistWarned.CompareAndSwap(false, true) {
			c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
		}
		return
	}
	c.lastPersisted.Store(nonce)
	c.persistWarned.Store(false)
}

func nonceStoreKey(baseURL string, signer *Signer) string {
	addr := "unknown"
	if signer != nil {
		addr = strings.ToLower(signer.Address().Hex())
	}
	return fmt.Sprintf("exchange:nonce:%s:%s", strings.ToLower(strings.TrimSpace(baseURL)), addr)
}

func (c *Client) sendAction(ctx context.Context, action any, vault *common.Address) (typedResponse, error) {
	nonce := c.nextNonce()
	sig, err := c.signer.SignAction(action, nonce, vault, nil)
	if err != nil {
		return typedResponse{}, err
	}
	payload := SignedAction{
		Action:    action,
		Nonce:     nonce,
		Signature: sig,
	}
	if vault != nil {
		addr := strings.ToLower(vault.Hex())
		payload.VaultAddress = &addr
	}
	body, err := c.post(ctx, "/exchange", payload)
	if err != nil {
		return typedResponse{}, err
	}
	return decodeResponse(body)
}

func (c *Client) post(ctx context.Context, path string, req any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > 2048 {
			data = data[:2048]
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
