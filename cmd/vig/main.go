// Vig — an automated snowball-betting bot for Polymarket binary
// prediction markets.
//
// Architecture:
//
//	main.go             — entry point: loads config, wires components, runs until SIGINT/SIGTERM
//	engine/engine.go    — orchestrator: scan → risk check → bet → settle → snowball, one cycle per interval
//	market/scanner.go   — polls the Gamma API for near-expiry favorite-priced markets, ranks candidates
//	snowball/snowball.go— bankroll sizing: reinvests a fraction of profit into the clip, pockets the rest
//	risk/manager.go     — consecutive-loss, daily-loss, and win-rate guards over recorded bets
//	betting/placer.go   — sizes stakes, fits them to balance, submits orders concurrently
//	settle/engine.go    — resolves pending bets against market prices, sweeps leftovers from old cycles
//	exchange/client.go  — REST client for the CLOB API; paper.go simulates fills against a local balance
//	gamma/client.go     — Gamma market-data client with pagination
//	store/store.go      — SQLite persistence for bets, cycles, and the heartbeat row
//
// How it makes money:
//
//	The bot buys heavy favorites shortly before their markets expire.
//	Each favorite pays out $1 per share on resolution, so a fill at 0.80
//	returns 25% when it wins. Profits feed the snowball: part of every
//	winning cycle grows the per-bet clip, the rest is pocketed. Once the
//	clip hits its ceiling the bot pockets all further profit.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vig/internal/betting"
	"vig/internal/config"
	"vig/internal/engine"
	"vig/internal/exchange"
	"vig/internal/gamma"
	"vig/internal/market"
	"vig/internal/risk"
	"vig/internal/settle"
	"vig/internal/snowball"
	"vig/internal/store"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("VIG_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := cfg.Validate(); err != nil {
		// Config problems are fatal only with real money on the line.
		if !cfg.Paper {
			logger.Error("invalid config", "error", err)
			os.Exit(1)
		}
		logger.Warn("config validation failed, continuing in paper mode", "error", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.Store.Path)
		os.Exit(1)
	}
	defer st.Close()

	gammaClient := gamma.NewClient(cfg.API.GammaBaseURL, logger)

	var exec exchange.Executor
	if cfg.Paper {
		exec = exchange.NewPaper(cfg.Betting.PaperBalance, logger)
		logger.Warn("PAPER MODE — no real orders will be placed",
			"balance", cfg.Betting.PaperBalance)
	} else {
		exec = exchange.NewClient(cfg.API, logger)
	}

	sb := snowball.New(cfg.Snowball)
	scanner := market.NewScanner(gammaClient, cfg.Scanner, logger)
	riskMgr := risk.NewManager(cfg.Risk, st, logger)
	placer := betting.NewPlacer(cfg.Betting, exec, sb, st, cfg.Paper, logger)
	settler := settle.NewEngine(cfg.Settlement, gammaClient, exec, st, logger)

	eng := engine.New(*cfg, scanner, placer, settler, riskMgr, sb, st, logger)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("vig started",
		"min_favorite", cfg.Scanner.MinFavoritePrice,
		"starting_clip", cfg.Snowball.StartingClip,
		"max_clip", cfg.Snowball.MaxClip,
		"paper", cfg.Paper,
	)

	if err := eng.Run(ctx); err != nil {
		logger.Error("engine exited with error", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
