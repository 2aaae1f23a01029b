package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"promobot/internal/app"
	"promobot/internal/artifact"
	"promobot/internal/config"
	"promobot/internal/flow"
	"promobot/internal/queue"
	"promobot/internal/server"
	"promobot/internal/storage"
	"promobot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath, logx.Nop())
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logClose, err := logx.New(app.MapLogging(cfg))
	if err != nil {
		return err
	}
	defer logClose.Close()

	secrets, err := app.LoadSecrets()
	if err != nil {
		return err
	}

	storeCfg, err := app.MapStorage(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(storeCfg, log.With().Str("component", "storage").Logger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	queueCfg, err := app.MapQueue(cfg, secrets)
	if err != nil {
		return err
	}
	q, err := queue.Open(queueCfg, log.With().Str("component", "queue").Logger())
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	renderer := artifact.URLTemplate{}
	dispatcher, err := flow.NewDispatcher(store, q, renderer, cfg.Flow, log.With().Str("component", "flow").Logger())
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	// Flow parameters (trigger, replies, products) follow the config
	// file without a restart.
	sub := mgr.Subscribe(1)
	go func() {
		for next := range sub {
			if err := dispatcher.Apply(next.Flow, renderer); err != nil {
				log.Warn().Err(err).Msg("flow config rejected")
			}
		}
	}()
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	srv := server.New(app.MapServer(cfg, secrets), dispatcher, store, log.With().Str("component", "http").Logger())

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	return srv.Run(ctx)
}
