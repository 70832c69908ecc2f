package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"hl-hedger/internal/config"
	"hl-hedger/internal/logging"
	"hl-hedger/internal/state/sqlite"
	"hl-hedger/internal/venue"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultRESTTimeout   = 10 * time.Second
	defaultRESTBaseURL   = "https://api.hyperliquid.xyz"
	defaultVerifyEnvFile = ".env"
	defaultVerifyCoin    = "ETH"
)

// verify performs the read-only half of a hedge against the live venue:
// owner balance, subaccount inventory, asset resolution and positions. It
// never signs anything.
func main() {
	configPath := flag.String("config", "", "optional config path for REST and state settings")
	owner := flag.String("owner", "", "owner address (defaults to HL_WALLET_ADDRESS)")
	coin := flag.String("coin", "", "perp coin to resolve (defaults to HL_VERIFY_COIN or ETH)")
	nonces := flag.Bool("nonces", false, "list persisted exchange nonces and exit")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "warn"}
	opts := venue.Options{BaseURL: defaultRESTBaseURL, Timeout: defaultRESTTimeout}
	statePath := "data/hl-hedger.db"
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		opts.BaseURL = cfg.REST.BaseURL
		opts.Timeout = cfg.REST.Timeout
		opts.AssetCacheTTL = cfg.Hedge.AssetCacheDuration
		statePath = cfg.State.SQLitePath
	}
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *nonces {
		listNonces(ctx, statePath)
		return
	}

	address := strings.TrimSpace(*owner)
	if address == "" {
		address = strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	}
	if !common.IsHexAddress(address) {
		fatal(errors.New("owner address is required (-owner or HL_WALLET_ADDRESS)"))
	}
	asset := strings.TrimSpace(*coin)
	if asset == "" {
		asset = strings.TrimSpace(os.Getenv("HL_VERIFY_COIN"))
	}
	if asset == "" {
		asset = defaultVerifyCoin
	}

	hl := venue.NewHyperliquid(opts, nil, nil, log)

	state, err := hl.AccountState(ctx, address)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("owner: %s withdrawable=%s account_value=%s\n", strings.ToLower(address), state.Withdrawable, state.AccountValue)

	subs, err := hl.ListSubaccounts(ctx, address)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("subaccounts: %d\n", len(subs))
	for _, sub := range subs {
		line := fmt.Sprintf("  %s name=%q", sub.Address, sub.Name)
		if pos, ok, err := hl.Position(ctx, sub.Address, asset); err != nil {
			line += " position_error=" + err.Error()
		} else if ok {
			line += fmt.Sprintf(" %s_size=%s entry=%s", asset, pos.Size, pos.EntryPrice)
		}
		fmt.Println(line)
	}

	idx, err := hl.ResolveAssetIndex(ctx, asset)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("asset: %s index=%d\n", asset, idx)
}

func listNonces(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		fatal(fmt.Errorf("state store %s: %w", path, err))
	}
	store, err := sqlite.New(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()
	entries, err := store.List(ctx, "exchange:nonce:")
	if err != nil {
		fatal(err)
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%s=%s\n", key, entries[key])
	}
	fmt.Printf("nonce keys: %d\n", len(keys))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
