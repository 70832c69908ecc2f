package wallet

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hl-hedger/internal/hl/exchange"

	"github.com/stretchr/testify/require"
)

const (
	testKey      = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2"
	otherTestKey = "6cbed15c793ce57650b9877cf6fa156fbef513c4e6134f022a85b1ffdd59b2a1"
)

func addressOf(t *testing.T, key string) string {
	t.Helper()
	signer, err := exchange.NewSigner(key, true)
	require.NoError(t, err)
	return signer.Address().Hex()
}

func openMemStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestImportAndSigner(t *testing.T) {
	svc := NewService(openMemStore(t), true, nil)
	addr := addressOf(t, testKey)

	require.NoError(t, svc.Import(addr, "0x"+testKey, time.Time{}))

	signer, err := svc.Signer(context.Background(), strings.ToLower(addr))
	require.NoError(t, err)
	require.Equal(t, addr, signer.Address().Hex())
	require.NoError(t, svc.Check(context.Background(), addr))
}

func TestImportRejectsMismatchedKey(t *testing.T) {
	svc := NewService(openMemStore(t), true, nil)
	err := svc.Import(addressOf(t, otherTestKey), testKey, time.Time{})
	require.Error(t, err)
}

func TestSignerMissingCredential(t *testing.T) {
	svc := NewService(openMemStore(t), true, nil)
	err := svc.Check(context.Background(), addressOf(t, testKey))
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSignerInvalidAddress(t *testing.T) {
	svc := NewService(nil, true, nil)
	require.ErrorIs(t, svc.Check(context.Background(), "not-an-address"), ErrUnavailable)
}

func TestSignerExpiredCredential(t *testing.T) {
	svc := NewService(openMemStore(t), true, nil)
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }
	addr := addressOf(t, testKey)
	require.NoError(t, svc.Import(addr, testKey, now.Add(time.Minute)))

	require.NoError(t, svc.Check(context.Background(), addr))
	now = now.Add(2 * time.Minute)
	require.ErrorIs(t, svc.Check(context.Background(), addr), ErrUnavailable)
}

func TestFallbackKey(t *testing.T) {
	svc := NewService(nil, false, nil)
	addr := addressOf(t, testKey)
	svc.SetFallback(strings.ToUpper(addr[2:]), testKey)
	require.ErrorIs(t, svc.Check(context.Background(), addr), ErrUnavailable, "fallback address must match exactly once normalized")

	svc.SetFallback(addr, testKey)
	signer, err := svc.Signer(context.Background(), addr)
	require.NoError(t, err)
	require.False(t, signer.IsMainnet())
	require.ErrorIs(t, svc.Check(context.Background(), addressOf(t, otherTestKey)), ErrUnavailable)
}

func TestStoredCredentialOverridesFallback(t *testing.T) {
	store := openMemStore(t)
	svc := NewService(store, true, nil)
	addr := addressOf(t, testKey)
	svc.SetFallback(addr, otherTestKey)
	require.ErrorIs(t, svc.Check(context.Background(), addr), ErrUnavailable, "mismatched fallback key must be rejected")

	require.NoError(t, svc.Import(addr, testKey, time.Time{}))
	require.NoError(t, svc.Check(context.Background(), addr))

	require.NoError(t, svc.Remove(addr))
	require.ErrorIs(t, svc.Check(context.Background(), addr), ErrUnavailable)
}

func TestSignerHonoursCancelledContext(t *testing.T) {
	svc := NewService(nil, true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, svc.Check(ctx, addressOf(t, testKey)), context.Canceled)
}

func TestEncryptedStorePersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wallets")
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	addr := addressOf(t, testKey)

	store, err := Open(OpenOptions{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	require.NoError(t, NewService(store, true, nil).Import(addr, testKey, time.Time{}))
	require.NoError(t, store.Close())

	reopened, err := Open(OpenOptions{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, NewService(reopened, true, nil).Check(context.Background(), addr))
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, 32)
	raw[0] = 0xab

	got, err := ParseKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, got)

	got, err = ParseKey("0x" + hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, got)

	got, err = ParseKey("")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = ParseKey("abcd")
	require.Error(t, err)
}
