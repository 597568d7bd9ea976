package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lythesia/minidex/params"
	"github.com/lythesia/minidex/pkg/api"
	"github.com/lythesia/minidex/pkg/app/core"
	"github.com/lythesia/minidex/pkg/storage"
	"github.com/lythesia/minidex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	store, err := storage.NewStore(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	// ---- Engine ----
	pair := core.Pair{
		Symbol:     cfg.Market.Symbol,
		BaseAsset:  cfg.Market.BaseAsset,
		QuoteAsset: cfg.Market.QuoteAsset,
	}
	engine := core.NewEngine(pair)

	// Replay persisted state, then attach the recorder so the replay itself
	// is not written back
	balances, err := store.LoadBalances()
	if err != nil {
		sugar.Fatalw("balance_replay_failed", "err", err)
	}
	for _, b := range balances {
		engine.RestoreBalance(b.Addr, b.Asset, b.Available, b.Locked)
	}
	orders, err := store.LoadOpenOrders()
	if err != nil {
		sugar.Fatalw("order_replay_failed", "err", err)
	}
	for _, o := range orders {
		engine.RestoreOrder(o)
	}
	seq, err := store.LoadOrderSeq()
	if err != nil {
		sugar.Fatalw("order_seq_replay_failed", "err", err)
	}
	engine.RestoreOrderSeq(seq)
	engine.SetRecorder(store)

	sugar.Infow("state_restored",
		"pair", pair.Symbol,
		"balances", len(balances),
		"open_orders", len(orders),
		"next_order_id", seq)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(engine, store, util.RealClock{}, sugar, api.Options{
		AllowedOrigins:    cfg.API.AllowedOrigins,
		TradeHistoryLimit: cfg.Market.TradeHistoryLimit,
	})

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.ListenAddr)
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started", "pair", pair.Symbol)

	<-ctx.Done()
	sugar.Info("node_shutting_down")
}
