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
	"promobot/internal/config"
	"promobot/internal/gateway"
	"promobot/internal/queue"
	"promobot/internal/worker"
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
	gwEnv, err := gateway.EnvConfig()
	if err != nil {
		return err
	}

	queueCfg, err := app.MapQueue(cfg, secrets)
	if err != nil {
		return err
	}
	q, err := queue.Open(queueCfg, log.With().Str("component", "queue").Logger())
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	workerCfg, err := app.MapWorker(cfg)
	if err != nil {
		return err
	}
	client := gateway.NewClient(gwEnv, workerCfg.SendTimeout, log.With().Str("component", "gateway").Logger())
	w := worker.New(q, client, workerCfg, log.With().Str("component", "worker").Logger())

	spec, staleAfter, err := app.MapJanitor(cfg)
	if err != nil {
		return err
	}
	stopJanitor, err := w.StartJanitor(ctx, spec, staleAfter)
	if err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	if stopJanitor != nil {
		defer stopJanitor()
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	return w.Run(ctx)
}
