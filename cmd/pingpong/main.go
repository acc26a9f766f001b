// Sends a manual ping and measures round-trip latency against both the
// engine timestamps and the local clock.
package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/romanzzaa/krakenws/config"
	"github.com/romanzzaa/krakenws/kraken"
	"github.com/romanzzaa/krakenws/kraken/schema"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	session := kraken.NewSession(kraken.Config{})

	var pingSentAt time.Time
	session.OnStatus(func(u *schema.StatusUpdate) {
		slog.Info("status", "system", u.System, "api_version", u.APIVersion,
			"connection_id", u.ConnectionID, "version", u.Version)
	})
	session.OnPong(func(p *schema.Pong) {
		args := []any{}
		if p.ReqID != nil {
			args = append(args, "req_id", *p.ReqID)
		}
		if p.Success != nil {
			args = append(args, "success", *p.Success)
		}
		if len(p.Warnings) > 0 {
			args = append(args, "warnings", p.Warnings)
		}
		if p.TimeIn != nil && p.TimeOut != nil {
			args = append(args, "engine_rtt", p.TimeOut.Sub(*p.TimeIn))
		}
		args = append(args, "local_rtt", time.Since(pingSentAt))
		slog.Info("pong", args...)
	})

	if err := session.Connect(cfg.Endpoint); err != nil {
		slog.Error("connect failed", "endpoint", cfg.Endpoint, "err", err)
		os.Exit(-1)
	}
	defer session.Close()

	pingSentAt = time.Now()
	reqID, err := session.Ping(nil)
	if err != nil {
		slog.Error("ping failed", "err", err)
		os.Exit(2)
	}
	slog.Info("ping sent", "req_id", reqID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session.Poll()
		time.Sleep(10 * time.Millisecond)
	}
	slog.Info("done")
}
