package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/flashdex/flashdex/params"
	"github.com/flashdex/flashdex/pkg/api"
	"github.com/flashdex/flashdex/pkg/exchange"
	"github.com/flashdex/flashdex/pkg/journal"
	"github.com/flashdex/flashdex/pkg/token"
	"github.com/flashdex/flashdex/pkg/util"
)

// Well-known demo accounts. The deployer holds the full supply of every
// demo token; user1/user2 are the accounts the seeder trades with.
var (
	exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000000Ec")
	deployer     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	user1        = common.HexToAddress("0x1000000000000000000000000000000000000002")
	user2        = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// ---- Demo asset ledgers ----
	registry := token.NewRegistry()
	fdx := token.New("Flashdex", "FDX", 1_000_000, deployer)
	musdc := token.New("Mock USDC", "mUSDC", 1_000_000, deployer)
	mlink := token.New("Mock LINK", "mLINK", 1_000_000, deployer)
	registry.Register(fdx)
	registry.Register(musdc)
	registry.Register(mlink)
	for _, t := range []*token.Token{fdx, musdc, mlink} {
		sugar.Infow("asset_registered", "symbol", t.Symbol(), "address", t.Address().Hex())
	}

	// ---- Durability ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		sugar.Fatalw("data_dir", "error", err)
	}
	store, err := exchange.NewStore(filepath.Join(cfg.Node.DataDir, "exchange.db"))
	if err != nil {
		sugar.Fatalw("store_open", "error", err)
	}
	defer store.Close()

	jnl, err := journal.NewFileJournal(filepath.Join(cfg.Node.DataDir, "audit.log"), logger)
	if err != nil {
		sugar.Fatalw("journal_open", "error", err)
	}
	defer jnl.Close()

	// ---- Engine ----
	eng, err := exchange.New(exchange.Config{
		Address:    exchangeAddr,
		FeeAccount: cfg.Engine.FeeAccount,
		FeePercent: cfg.Engine.FeePercent,
		LoanFeeBps: cfg.Engine.LoanFeeBps,
	}, registry,
		exchange.WithStore(store),
		exchange.WithSink(journal.Sink(jnl)),
		exchange.WithLogger(logger),
	)
	if err != nil {
		sugar.Fatalw("engine_init", "error", err)
	}
	sugar.Infow("engine_ready",
		"exchange", exchangeAddr.Hex(),
		"fee_account", cfg.Engine.FeeAccount.Hex(),
		"fee_percent", cfg.Engine.FeePercent,
		"loan_fee_bps", cfg.Engine.LoanFeeBps,
		"order_count", eng.OrderCount())

	// ---- API ----
	srv := api.NewServer(eng, registry, logger)
	eng.Subscribe(srv.EventSink())

	if cfg.Node.Seed {
		if err := seedDemo(eng, fdx, musdc, sugar); err != nil {
			sugar.Fatalw("seed", "error", err)
		}
	}

	go func() {
		if err := srv.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	if err := jnl.Err(); err != nil {
		sugar.Warnw("journal_incomplete", "error", err)
	}
	sugar.Infow("shutting_down", "state_digest", eng.StateDigest().Hex())
}
