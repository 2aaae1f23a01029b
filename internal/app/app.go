// Package app maps the config file onto component configs so cmd/bot
// and cmd/worker wire things the same way. Secrets never come from the
// config file; they are parsed from the environment here.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"promobot/internal/config"
	"promobot/internal/queue"
	"promobot/internal/server"
	"promobot/internal/storage"
	"promobot/internal/worker"
	"promobot/pkg/logx"
)

// Secrets are the environment-supplied credentials shared by the two
// binaries. Gateway credentials live in internal/gateway.
type Secrets struct {
	RedisPassword string `env:"REDIS_PASSWORD"`
	VerifyToken   string `env:"PROMO_VERIFY_TOKEN"`
}

func LoadSecrets() (Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("secrets env: %w", err)
	}
	return s, nil
}

func MapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	out := logx.Config{Level: lc.Level, Console: lc.Console}
	out.File.Enabled = lc.File.Enabled
	out.File.Path = lc.File.Path
	if !out.Console && !out.File.Enabled {
		out.Console = true
	}
	return out
}

func MapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}
	switch driver {
	case "", "sqlite", "sqlite3":
		if out.Path == "" {
			out.Path = "./data/promobot.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "memory":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

func MapQueue(cfg *config.Config, secrets Secrets) (queue.Config, error) {
	qc := cfg.Queue
	driver := strings.ToLower(strings.TrimSpace(qc.Driver))
	out := queue.Config{
		Driver:        driver,
		Addr:          strings.TrimSpace(qc.Addr),
		Password:      secrets.RedisPassword,
		DB:            qc.DB,
		Key:           strings.TrimSpace(qc.Key),
		DeadLetterKey: strings.TrimSpace(qc.DeadLetterKey),
		Path:          strings.TrimSpace(qc.Path),
	}
	switch driver {
	case "", "sqlite", "sqlite3":
		if out.Path == "" {
			out.Path = "./data/outbox.db"
		}
		poll, err := config.ParseDurationOrDefault("queue.poll_interval", qc.PollInterval, 250*time.Millisecond)
		if err != nil {
			return queue.Config{}, err
		}
		out.PollInterval = poll
		busy, err := config.ParseDurationOrDefault("queue.busy_timeout", qc.BusyTimeout, time.Second)
		if err != nil {
			return queue.Config{}, err
		}
		out.BusyTimeout = busy
	case "redis", "memory":
	default:
		return queue.Config{}, fmt.Errorf("unknown queue.driver: %s", qc.Driver)
	}
	return out, nil
}

func MapWorker(cfg *config.Config) (worker.Config, error) {
	wc := cfg.Worker
	timeout, err := config.ParseDurationOrDefault("worker.send_timeout", wc.SendTimeout, 10*time.Second)
	if err != nil {
		return worker.Config{}, err
	}
	base, err := config.ParseDurationOrDefault("worker.retry.base", wc.Retry.Base, 500*time.Millisecond)
	if err != nil {
		return worker.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("worker.retry.max_delay", wc.Retry.MaxDelay, 15*time.Second)
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{
		RatePerSec:  wc.RatePerSec,
		SendTimeout: timeout,
		Retry: worker.RetryPolicy{
			Enabled:  wc.Retry.Enabled,
			Max:      wc.Retry.Max,
			Base:     base,
			MaxDelay: maxDelay,
			Jitter:   wc.Retry.Jitter,
		},
	}, nil
}

func MapJanitor(cfg *config.Config) (spec string, staleAfter time.Duration, err error) {
	jc := cfg.Worker.Janitor
	spec = strings.TrimSpace(jc.Every)
	if spec == "" {
		spec = "@every 1m"
	}
	staleAfter, err = config.ParseDurationOrDefault("worker.janitor.stale_after", jc.StaleAfter, 5*time.Minute)
	return spec, staleAfter, err
}

func MapServer(cfg *config.Config, secrets Secrets) server.Config {
	out := server.Config{
		Addr:        strings.TrimSpace(cfg.Server.Addr),
		VerifyToken: strings.TrimSpace(cfg.Server.VerifyToken),
	}
	if secrets.VerifyToken != "" {
		out.VerifyToken = secrets.VerifyToken
	}
	return out
}
