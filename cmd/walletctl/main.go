package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"hl-hedger/internal/config"
	"hl-hedger/internal/wallet"

	"go.uber.org/zap"
)

// walletctl manages owner signing keys in the wallet store. The service must
// be stopped first; Badger allows one writer per directory.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	remove := flag.Bool("remove", false, "remove the credential for -address instead of importing")
	address := flag.String("address", "", "owner address (defaults to HL_WALLET_ADDRESS)")
	expires := flag.Duration("expires", 0, "credential lifetime; 0 never expires")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	owner := strings.TrimSpace(*address)
	if owner == "" {
		owner = strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	}
	if owner == "" {
		fatal(errors.New("owner address is required (-address or HL_WALLET_ADDRESS)"))
	}

	key, err := wallet.ParseKey(cfg.Wallet.EncryptionKey)
	if err != nil {
		fatal(err)
	}
	store, err := wallet.Open(wallet.OpenOptions{Path: cfg.Wallet.Path, EncryptionKey: key})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	svc := wallet.NewService(store, isMainnet, zap.NewNop())

	if *remove {
		if err := svc.Remove(owner); err != nil {
			fatal(err)
		}
		fmt.Printf("removed credential for %s\n", strings.ToLower(owner))
		return
	}

	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		fatal(errors.New("HL_PRIVATE_KEY is required"))
	}
	var expiresAt time.Time
	if *expires > 0 {
		expiresAt = time.Now().Add(*expires)
	}
	if err := svc.Import(owner, privateKey, expiresAt); err != nil {
		fatal(err)
	}
	if expiresAt.IsZero() {
		fmt.Printf("imported credential for %s\n", strings.ToLower(owner))
		return
	}
	fmt.Printf("imported credential for %s expires=%s\n", strings.ToLower(owner), expiresAt.UTC().Format(time.RFC3339))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
