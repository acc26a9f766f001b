// Subscribes to trade events for the configured symbols and prints them
// until interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/romanzzaa/krakenws/config"
	"github.com/romanzzaa/krakenws/kraken"
	"github.com/romanzzaa/krakenws/kraken/schema"
	"github.com/romanzzaa/krakenws/transport"
)

func connectionConfig(cfg *config.Config) transport.ConnectionConfig {
	return transport.ConnectionConfig{
		LivenessTimeout:        cfg.Liveness.Timeout,
		LivenessWarningPercent: cfg.Liveness.WarningPercent,
	}
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	session := kraken.NewSession(kraken.Config{
		Connection: connectionConfig(cfg),
	})

	session.OnStatus(func(u *schema.StatusUpdate) {
		slog.Info("status", "system", u.System, "api_version", u.APIVersion,
			"connection_id", u.ConnectionID, "version", u.Version)
	})
	session.OnRejection(func(n *schema.RejectionNotice) {
		slog.Warn("rejected", "error", n.Error)
	})

	if err := session.Connect(cfg.Endpoint); err != nil {
		slog.Error("connect failed", "endpoint", cfg.Endpoint, "err", err)
		os.Exit(-1)
	}
	defer session.Close()

	symbols := make([]schema.Symbol, len(cfg.Feed.Symbols))
	for i, s := range cfg.Feed.Symbols {
		symbols[i] = schema.Symbol(s)
	}

	_, err = session.SubscribeTrades(schema.TradeSubscribe{
		Symbols:  symbols,
		Snapshot: &cfg.Feed.Snapshot,
	}, func(resp *schema.TradeResponse) {
		for _, tr := range resp.Trades {
			slog.Info("trade", "symbol", tr.Symbol, "side", tr.Side,
				"price", tr.Price, "qty", tr.Qty, "trade_id", tr.TradeID)
		}
	})
	if err != nil {
		slog.Error("subscribe failed", "err", err)
		os.Exit(2)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			session.Poll()
		}
	}

	if _, err := session.UnsubscribeTrades(schema.TradeUnsubscribe{Symbols: symbols}); err != nil {
		slog.Warn("unsubscribe failed", "err", err)
	}
	// Drain outstanding messages before exit.
	for i := 0; i < 200; i++ {
		session.Poll()
		time.Sleep(10 * time.Millisecond)
	}
	slog.Info("done")
}
