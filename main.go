package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/stablezap/stablezap/pkg/balance"
	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/circuitbreaker"
	"github.com/stablezap/stablezap/pkg/config"
	"github.com/stablezap/stablezap/pkg/executor"
	"github.com/stablezap/stablezap/pkg/health"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/monitor"
	"github.com/stablezap/stablezap/pkg/protocols"
	"github.com/stablezap/stablezap/pkg/recovery"
	"github.com/stablezap/stablezap/pkg/router"
	"github.com/stablezap/stablezap/pkg/storage"
	"github.com/stablezap/stablezap/pkg/swap"
	"github.com/stablezap/stablezap/pkg/userop"
	"github.com/stablezap/stablezap/pkg/wallet"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cfg, appLogger); err != nil {
		log.Fatalf("Service failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, appLogger logger.Logger) error {
	client, err := blockchain.Dial(ctx, cfg.RPCURL, cfg.ChainID)
	if err != nil {
		return err
	}
	defer client.Close()
	chainID := big.NewInt(cfg.ChainID)

	breakerFor := func(name string) *circuitbreaker.CircuitBreaker {
		cb := cfg.CircuitBreaker
		return circuitbreaker.NewCircuitBreaker(name, cb.Enabled, cb.Threshold, cb.WindowDuration, cb.ResetTimeout, appLogger)
	}
	aggregatorBreaker := breakerFor("aggregator")
	bundlerBreaker := breakerFor("bundler")

	// Persistence
	db, err := storage.ConnectPostgres(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	ledger := storage.NewGormLedger(db)
	if err := ledger.Migrate(); err != nil {
		return err
	}
	signers := storage.NewKeystoreSigners(cfg.KeystoreDir, cfg.KeystorePassphrase, chainID)
	directory := storage.NewWalletDirectory(db, signers)
	if err := directory.Migrate(); err != nil {
		return err
	}

	backends := map[string]health.Pinger{"postgres": ledger}
	var pendingStore interface {
		recovery.Store
		health.PendingLister
	}
	if cfg.RedisURL != "" {
		redisClient, err := storage.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		redisStore := storage.NewRedisPendingStore(redisClient)
		pendingStore = redisStore
		backends["redis"] = redisStore
	} else {
		appLogger.Notice("REDIS_URL not set, pending intents are kept in memory")
		pendingStore = storage.NewMemoryPendingStore()
	}

	// Execution
	nonces := blockchain.NewNonceManager(appLogger)
	nonces.SetTransactionTimeout(cfg.ReceiptTimeout)
	standard := executor.New(client, nonces, executor.Config{
		GasMultiplier:  cfg.GasMultiplier,
		MaxGasPrice:    cfg.MaxGasPrice,
		ReceiptTimeout: cfg.ReceiptTimeout,
	}, appLogger)

	var gasless protocols.GaslessExecutor
	walletStore := wallet.Store(directory)
	if cfg.GaslessEnabled() {
		bundler, err := userop.DialBundler(ctx, cfg.BundlerURL)
		if err != nil {
			return err
		}
		defer bundler.Close()
		gasless = userop.NewExecutor(client, bundler, bundlerBreaker, userop.Config{
			EntryPoint:     cfg.EntryPoint,
			ChainID:        chainID,
			GasToken:       cfg.StableToken,
			ReceiptTimeout: cfg.ReceiptTimeout,
			PollInterval:   userop.DefaultPollInterval,
		}, appLogger)
	} else {
		appLogger.Notice("BUNDLER_URL not set, smart wallets are ignored")
		walletStore = eoaOnly{directory}
	}

	balances := balance.NewService(client, appLogger)

	registry := protocols.NewRegistry(protocols.Dependencies{
		Chain:            client,
		Balances:         balances,
		Standard:         standard,
		Gasless:          gasless,
		MinNativeBalance: cfg.MinNativeBalance,
		Logger:           appLogger,
	})
	p := cfg.Protocols
	registry.Register(protocols.NewAaveAdapter(client, p.AavePool, p.AaveAToken, p.AaveRewards, cfg.StableToken))
	registry.Register(protocols.NewCompoundAdapter(client, p.CompoundComet, p.CompoundReward, cfg.StableToken))
	registry.Register(protocols.NewMorphoAdapter(client, p.MorphoVault, cfg.StableToken))

	swaps := swap.NewEngine(
		swap.NewClient(cfg.Aggregator.URL, cfg.Aggregator.Timeout, appLogger),
		swap.NewLimiter(cfg.Aggregator.RateLimit),
		aggregatorBreaker,
		client,
		swap.Config{
			ChainID:         cfg.ChainID,
			DefaultSlippage: cfg.Aggregator.DefaultSlippage,
			MaxSlippage:     cfg.Aggregator.MaxSlippage,
			Timeout:         cfg.Aggregator.Timeout,
		},
		appLogger,
	)
	prices := swap.NewPriceCache(swap.DefaultPriceTTL)
	swaps.SetPriceCache(prices)

	intentRouter := router.New(router.Dependencies{
		Chain:    client,
		Wallets:  wallet.NewResolver(walletStore, appLogger),
		Balances: balances,
		Registry: registry,
		Swaps:    swaps,
		Standard: standard,
		Gasless:  gasless,
		Ledger:   ledger,
		Prices:   prices,
	}, router.Config{
		StableToken:       cfg.StableToken,
		StableDecimals:    cfg.StableDecimals,
		IndexTokens:       cfg.IndexTokens,
		MinNativeBalance:  cfg.MinNativeBalance,
		GaslessFeeReserve: blockchain.ToBaseUnits(cfg.GaslessFeeReserve, cfg.StableDecimals),
	}, appLogger)

	// Recovery of intents that are short of funds
	poller := monitor.NewPoller(client, cfg.MonitorInterval, appLogger)
	pending := recovery.NewManager(pendingStore, poller, balances, client, appLogger)
	pending.SetReplayer(intentRouter)
	intentRouter.SetRecovery(pending)
	poller.SetHandler(pending.HandleDeposit)
	poller.Start(ctx)
	defer poller.Stop()
	go pending.Run(ctx, recovery.DefaultSweepInterval)

	healthServer := health.NewServer(cfg.MetricsPort, cfg.MetricsAPIKey, health.Dependencies{
		Chain:    client,
		Backends: backends,
		Breakers: circuitbreaker.NewSet(aggregatorBreaker, bundlerBreaker),
		Nonces:   nonces,
		Pending:  pendingStore,
	}, appLogger)

	appLogger.Info("Router ready on chain %d with protocols %v", cfg.ChainID, registry.Names())
	healthServer.Start(ctx)
	return nil
}

// eoaOnly hides smart wallets when no bundler is configured
type eoaOnly struct {
	wallet.Store
}

func (eoaOnly) GetSmartWallet(_ context.Context, _ string) (*wallet.SmartAccount, error) {
	return nil, nil
}
