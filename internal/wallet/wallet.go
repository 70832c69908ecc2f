package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hl-hedger/internal/hl/exchange"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrUnavailable is wrapped by every error that means "this owner cannot
// sign right now".
var ErrUnavailable = errors.New("wallet unavailable")

const keyPrefix = "wallet:"

type credential struct {
	PrivateKey  string `json:"private_key"`
	ExpiresAtMS int64  `json:"expires_at_ms"`
}

// Service hands out signers for owner addresses. Stored credentials take
// precedence over the process-level fallback key.
type Service struct {
	store     *Store
	isMainnet bool
	log       *zap.Logger
	now       func() time.Time

	fallbackAddress string
	fallbackKey     string
}

func NewService(store *Store, isMainnet bool, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, isMainnet: isMainnet, log: log, now: time.Now}
}

// SetFallback registers a single key usable when the store has no entry for
// its address.
func (s *Service) SetFallback(address, privateKey string) {
	s.fallbackAddress = normalize(address)
	s.fallbackKey = strings.TrimSpace(privateKey)
}

// Import stores privateKey for address. A zero expiresAt never expires.
func (s *Service) Import(address, privateKey string, expiresAt time.Time) error {
	if s.store == nil {
		return errors.New("wallet store is not configured")
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q", address)
	}
	signer, err := exchange.NewSigner(privateKey, s.isMainnet)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer.Address().Hex(), address) {
		return fmt.Errorf("private key belongs to %s, not %s", signer.Address().Hex(), address)
	}
	cred := credential{PrivateKey: strings.TrimSpace(privateKey)}
	if !expiresAt.IsZero() {
		cred.ExpiresAtMS = expiresAt.UnixMilli()
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return s.store.Put(keyPrefix+normalize(address), raw)
}

func (s *Service) Remove(address string) error {
	if s.store == nil {
		return errors.New("wallet store is not configured")
	}
	return s.store.Delete(keyPrefix + normalize(address))
}

// Check verifies a usable signer exists for address without returning it.
func (s *Service) Check(ctx context.Context, address string) error {
	_, err := s.Signer(ctx, address)
	return err
}

func (s *Service) Signer(ctx context.Context, address string) (*exchange.Signer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := normalize(address)
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("%w: invalid address %q", ErrUnavailable, address)
	}
	key, err := s.lookup(addr)
	if err != nil {
		return nil, err
	}
	signer, err := exchange.NewSigner(key, s.isMainnet)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, addr, err)
	}
	if !strings.EqualFold(signer.Address().Hex(), addr) {
		return nil, fmt.Errorf("%w: credential for %s signs as %s", ErrUnavailable, addr, signer.Address().Hex())
	}
	return signer, nil
}

func (s *Service) lookup(addr string) (string, error) {
	if s.store != nil {
		raw, ok, err := s.store.Get(keyPrefix + addr)
		if err != nil {
			return "", fmt.Errorf("%w: read credential: %v", ErrUnavailable, err)
		}
		if ok {
			var cred credential
			if err := json.Unmarshal(raw, &cred); err != nil {
				return "", fmt.Errorf("%w: corrupt credential for %s", ErrUnavailable, addr)
			}
			if cred.ExpiresAtMS > 0 && s.now().UnixMilli() >= cred.ExpiresAtMS {
				s.log.Warn("wallet credential expired", zap.String("owner", addr))
				return "", fmt.Errorf("%w: credential for %s expired", ErrUnavailable, addr)
			}
			return cred.PrivateKey, nil
		}
	}
	if s.fallbackKey != "" && s.fallbackAddress == addr {
		return s.fallbackKey, nil
	}
	return "", fmt.Errorf("%w: no credential for %s", ErrUnavailable, addr)
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
