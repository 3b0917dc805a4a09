package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"usdx/config"
	"usdx/crypto"
	nativecommon "usdx/native/common"
	"usdx/native/engine"
	"usdx/native/oracle"
	"usdx/native/registry"
	"usdx/native/token"
	"usdx/observability/logging"
	"usdx/rpc"
	"usdx/state"
	"usdx/storage"
)

const (
	rpcTokenEnv = "USDX_RPC_TOKEN"
	debtSymbol  = "USDX"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("usdxd", cfg.Environment)

	authToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if authToken == "" {
		authToken = strings.TrimSpace(cfg.RPCAuthToken)
	}
	if authToken == "" {
		logger.Warn("RPC auth token not configured; mutating methods will be rejected")
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	owner, custody, err := resolveIdentities(cfg)
	if err != nil {
		logger.Error("Failed to resolve identities", slog.Any("error", err))
		os.Exit(1)
	}

	factory, oracles := buildFactories(cfg.MaxQuoteAge())

	symbols := make([]string, 0, len(cfg.Collateral))
	assets := make([]token.FungibleAsset, 0, len(cfg.Collateral))
	adapters := make([]*oracle.Adapter, 0, len(cfg.Collateral))
	for _, entry := range cfg.Collateral {
		asset, adapter, buildErr := factory(entry.Symbol, entry.FeedEndpoint, entry.FeedAPIKey)
		if buildErr != nil {
			logger.Error("Failed to build collateral backing", slog.String("symbol", entry.Symbol), slog.Any("error", buildErr))
			os.Exit(1)
		}
		symbols = append(symbols, entry.Symbol)
		assets = append(assets, asset)
		adapters = append(adapters, adapter)
	}

	reg, err := registry.New(owner, symbols, assets, adapters)
	if err != nil {
		logger.Error("Failed to build collateral registry", slog.Any("error", err))
		os.Exit(1)
	}

	debt := token.NewLedgerToken(debtSymbol)
	eng := engine.NewEngine(custody, reg, debt)
	eng.SetState(state.NewPositionStore(db))
	if pauses := cfg.Pauses(); pauses != nil {
		eng.SetPauses(nativecommon.StaticPauses(pauses))
	}

	server := rpc.NewServer(eng, authToken, cfg.RateLimitPerMin, factory, oracles)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("addr", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", slog.Any("error", err))
	}
}

// resolveIdentities decodes the configured owner and derives the custody
// account. With no owner configured a fresh keypair stands in for both, which
// keeps local development runs working out of the box.
func resolveIdentities(cfg *config.Config) (owner, custody crypto.Address, err error) {
	if strings.TrimSpace(cfg.Owner) != "" {
		owner, err = cfg.OwnerAddress()
		if err != nil {
			return crypto.Address{}, crypto.Address{}, err
		}
		return owner, owner, nil
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	addr := key.PubKey().Address()
	return addr, addr, nil
}

func buildFactories(maxQuoteAge time.Duration) (rpc.CollateralFactory, rpc.OracleFactory) {
	client := &http.Client{Timeout: 10 * time.Second}
	oracles := func(feedEndpoint, feedAPIKey string) (*oracle.Adapter, error) {
		trimmed := strings.TrimSpace(feedEndpoint)
		if trimmed == "" {
			return nil, errors.New("feed endpoint required")
		}
		feed := oracle.NewHTTPFeed(client, trimmed, feedAPIKey)
		return oracle.NewAdapter(feed, maxQuoteAge), nil
	}
	collateral := func(symbol, feedEndpoint, feedAPIKey string) (token.FungibleAsset, *oracle.Adapter, error) {
		adapter, err := oracles(feedEndpoint, feedAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", symbol, err)
		}
		return token.NewLedgerToken(strings.ToUpper(strings.TrimSpace(symbol))), adapter, nil
	}
	return collateral, oracles
}
