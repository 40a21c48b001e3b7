// Command printer is the arbitrage daemon. It loads configuration, wires the
// two venue backends, and runs the scanner until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"money-printer-go/config"
	"money-printer-go/gateway"
	"money-printer-go/infrastructure/alert"
	"money-printer-go/infrastructure/logger"
	"money-printer-go/internal/engine"
	"money-printer-go/market"
	"money-printer-go/metrics"
	"money-printer-go/operator"
	"money-printer-go/trade"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "path to .env file with credentials (optional)")
	dryRun := flag.Bool("dry-run", false, "log orders instead of placing them")
	interactive := flag.Bool("interactive", false, "confirm trades on the terminal instead of Telegram/auto")
	flag.Parse()

	if err := run(*configPath, *envFile, *dryRun, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, dryRun, interactive bool) error {
	// Credentials come from the environment; the .env file is a
	// convenience for non-systemd deployments.
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dryRun {
		cfg.General.DryRun = true
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	log.Info("money printer starting",
		zap.String("env", cfg.Env),
		zap.Bool("dry_run", cfg.General.DryRun),
		zap.Float64("min_profit", cfg.General.MinProfit))

	if cfg.Metrics.Addr != "" {
		metrics.StartMetricsServer(cfg.Metrics.Addr)
	}

	bitcoinde := gateway.NewBitcoindeBackend(gateway.BitcoindeConfig{
		Key:          cfg.Bitcoinde.APIKey,
		Secret:       cfg.Bitcoinde.APISecret,
		BaseURL:      cfg.Bitcoinde.BaseURL,
		Risk:         cfg.Bitcoinde.Risk,
		FeeLessPrice: cfg.Bitcoinde.FeeLessPrice,
		FeeLessCoin:  cfg.Bitcoinde.FeeLessCoin,
		DryRun:       cfg.General.DryRun,
	}, log)
	kraken := gateway.NewKrakenBackend(gateway.KrakenConfig{
		Key:     cfg.Kraken.APIKey,
		Secret:  cfg.Kraken.APISecret,
		BaseURL: cfg.Kraken.BaseURL,
		Risk:    cfg.Kraken.Risk,
		Fee:     cfg.Kraken.Fee,
		DryRun:  cfg.General.DryRun,
	}, log)
	backends := []market.Backend{bitcoinde, kraken}

	alerts := alert.NewManager([]alert.Channel{
		alert.NewLogChannel("log", nil),
	}, 5*time.Minute)
	if interactive {
		// Alerts land on the same terminal the operator is confirming on.
		alerts.AddChannel(alert.NewConsoleChannel("console"))
	}
	if cfg.Telegram.Token != "" {
		alerts.AddChannel(alert.NewTelegramChannel(cfg.Telegram.Token, cfg.Telegram.ChatID))
	}

	op := chooseOperator(cfg, interactive)

	executor := trade.NewExecutor(executorConfig(cfg), op, alerts, log)
	scanner, err := engine.NewScanner(engine.Config{
		Threshold: cfg.General.MinProfit,
		Interval:  time.Duration(cfg.General.ScanIntervalMs) * time.Millisecond,
	}, backends, executor, log)
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	if err := scanner.Start(ctx); err != nil {
		return fmt.Errorf("start scanner: %w", err)
	}
	group.Go(func() error {
		<-ctx.Done()
		scanner.Stop()
		scanner.Wait()
		return ctx.Err()
	})

	if cfg.Bitcoinde.Websocket {
		feed := gateway.NewBitcoindeFeed(log)
		feed.OnEvent = func(gateway.OrderEvent) { scanner.Poke() }
		group.Go(func() error {
			return feed.Run(ctx)
		})
	}

	// Threshold and stake changes apply between scans; credential changes
	// need a restart.
	watcher := config.Watcher{Path: configPath}
	group.Go(func() error {
		return watcher.Start(ctx, func(updated config.AppConfig) {
			scanner.SetConfig(engine.Config{
				Threshold: updated.General.MinProfit,
				Interval:  time.Duration(updated.General.ScanIntervalMs) * time.Millisecond,
			})
			executor.SetConfig(executorConfig(updated))
			log.Info("config reloaded",
				zap.Float64("min_profit", updated.General.MinProfit),
				zap.Float64("max_stake", updated.General.MaxStake))
		})
	})

	group.Go(func() error {
		return notifySystemd(ctx)
	})

	_ = alerts.SendInfo("money printer started", map[string]interface{}{"env": cfg.Env})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("money printer stopped")
		return nil
	}
	return err
}

func executorConfig(cfg config.AppConfig) trade.Config {
	return trade.Config{
		Threshold:    cfg.General.MinProfit,
		MaxStake:     cfg.General.MaxStake,
		HodlTarget:   cfg.General.HodlTarget,
		MaxStray:     cfg.General.MaxStray,
		ConfirmRisky: cfg.General.ConfirmRisky,
		ConfirmSafe:  cfg.General.ConfirmSafe,
	}
}

func chooseOperator(cfg config.AppConfig, interactive bool) operator.Interactor {
	if interactive {
		return operator.NewTerminalInteractor(os.Stdin, os.Stdout)
	}
	if cfg.General.ConfirmRisky || cfg.General.ConfirmSafe {
		if cfg.Telegram.Token != "" {
			return operator.NewTelegramInteractor(cfg.Telegram.Token, cfg.Telegram.ChatID)
		}
		// Confirmation requested but nobody to ask: deny rather than
		// trade unsupervised.
		return operator.AutoApprover{Approve: false}
	}
	return operator.AutoApprover{Approve: true}
}

// notifySystemd reports readiness and feeds the watchdog when the unit has
// one configured. A no-op outside systemd.
func notifySystemd(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			return ctx.Err()
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
