package exchange

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

func TestDecimalToWire(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{in: "1.23", out: "1.23"},
		{in: "0", out: "0"},
		{in: "1.23000000", out: "1.23"},
		{in: "1980.0", out: "1980"},
		{in: "0.00012345", out: "0.00012345"},
	}
	for _, tc := range cases {
		got, err := decimalToWire(decimal.RequireFromString(tc.in))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.in, err)
		}
		if got != tc.out {
			t.Fatalf("expected %s, got %s", tc.out, got)
		}
	}
	if _, err := decimalToWire(decimal.RequireFromString("1.234567891")); err == nil {
		t.Fatalf("expected rounding error")
	}
}

func TestNormalizePerpPrice(t *testing.T) {
	cases := []struct {
		price      string
		szDecimals int
		want       string
	}{
		{price: "1980", szDecimals: 4, want: "1980"},
		{price: "64123.456", szDecimals: 5, want: "64123"},
		{price: "123456.7", szDecimals: 2, want: "123460"},
		{price: "1.234567", szDecimals: 2, want: "1.2346"},
		{price: "0.0123456", szDecimals: 0, want: "0.012346"},
		{price: "0.0123456", szDecimals: 2, want: "0.0123"},
	}
	for _, tc := range cases {
		got := NormalizePerpPrice(decimal.RequireFromString(tc.price), tc.szDecimals)
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("price %s sz %d: expected %s, got %s", tc.price, tc.szDecimals, tc.want, got)
		}
	}
}

func TestNormalizeSizeTruncates(t *testing.T) {
	got := NormalizeSize(decimal.RequireFromString("0.123456"), 3)
	if !got.Equal(decimal.RequireFromString("0.123")) {
		t.Fatalf("expected 0.123, got %s", got)
	}
}

func TestEncodeOrderActionDeterministic(t *testing.T) {
	order, err := LimitOrderWire(1, false, decimal.RequireFromString("2.5"), decimal.NewFromInt(100), false, TifIoc, "0x00000000000000000000000000000001")
	if err != nil {
		t.Fatalf("unexpected order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	b1, err := EncodeAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	b2, _ := EncodeAction(action)
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected deterministic encoding")
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(b1, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	orders, ok := decoded["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("expected 1 order, got %v", decoded["orders"])
	}
	orderMap := orders[0].(map[string]any)
	if orderMap["p"] != "100" || orderMap["s"] != "2.5" || orderMap["b"] != false {
		t.Fatalf("unexpected order map %v", orderMap)
	}
	if orderMap["c"] != "0x00000000000000000000000000000001" {
		t.Fatalf("expected cloid, got %v", orderMap["c"])
	}
}

func TestEncodeSubAccountActionsKeyOrder(t *testing.T) {
	payload, err := EncodeAction(SubAccountTransferAction{SubAccountUser: "0xabc", IsDeposit: true, Usd: 204_000_000})
	if err != nil {
		t.Fatalf("encode transfer: %v", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	n, err := dec.DecodeMapLen()
	if err != nil || n != 4 {
		t.Fatalf("expected 4 keys, got %d (%v)", n, err)
	}
	var keys []string
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			t.Fatalf("decode key: %v", err)
		}
		keys = append(keys, key)
		if _, err := dec.DecodeInterface(); err != nil {
			t.Fatalf("decode value: %v", err)
		}
	}
	want := []string{"type", "subAccountUser", "isDeposit", "usd"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
	if _, err := EncodeAction(CreateSubAccountAction{}); err == nil {
		t.Fatalf("expected error for empty subaccount name")
	}
	if _, err := EncodeAction(SubAccountTransferAction{SubAccountUser: "0xabc"}); err == nil {
		t.Fatalf("expected error for zero transfer")
	}
	if _, err := EncodeAction(struct{}{}); err == nil {
		t.Fatalf("expected error for unsupported action")
	}
}

func TestSignerRecoverWithVault(t *testing.T) {
	signer, err := NewSigner(testPrivateKey, true)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	order, err := LimitOrderWire(1, false, decimal.RequireFromString("2.5"), decimal.NewFromInt(100), false, TifIoc, "")
	if err != nil {
		t.Fatalf("order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	vault := common.HexToAddress("0x1111111111111111111111111111111111111111")
	nonce := uint64(1700000000000)
	sig, err := signer.SignAction(action, nonce, &vault, nil)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	payload, err := EncodeAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	digest, err := agentTypedDataHash(actionHash(payload, nonce, &vault, nil), true)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	sigBytes, err := signatureBytes(sig)
	if err != nil {
		t.Fatalf("signature bytes error: %v", err)
	}
	pubKey, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		t.Fatalf("recover error: %v", err)
	}
	if recovered := crypto.PubkeyToAddress(*pubKey); recovered != signer.Address() {
		t.Fatalf("expected %s, got %s", signer.Address().Hex(), recovered.Hex())
	}
}

func TestActionHashDependsOnVault(t *testing.T) {
	payload := []byte{0x81, 0xa1, 0x61, 0x01}
	vault := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if bytes.Equal(actionHash(payload, 1, nil, nil), actionHash(payload, 1, &vault, nil)) {
		t.Fatalf("expected vault address to change the action hash")
	}
	if !bytes.Equal(payload, []byte{0x81, 0xa1, 0x61, 0x01}) {
		t.Fatalf("action hash must not mutate the payload")
	}
}

func signatureBytes(sig Signature) ([]byte, error) {
	r, err := hexutil.Decode(sig.R)
	if err != nil {
		return nil, err
	}
	s, err := hexutil.Decode(sig.S)
	if err != nil {
		return nil, err
	}
	if len(r) != 32 || len(s) != 32 {
		return nil, errors.New("unexpected signature length")
	}
	v := sig.V - 27
	if v < 0 || v > 1 {
		return nil, errors.New("unexpected signature v")
	}
	out := append(append([]byte{}, r...), s...)
	return append(out, byte(v)), nil
}
