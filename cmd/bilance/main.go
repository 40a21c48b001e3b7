// Command bilance prints a balance report over the venues' trade history:
// per-venue flows, average prices and estimated profit for a date window.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"money-printer-go/config"
	"money-printer-go/gateway"
	"money-printer-go/infrastructure/logger"
	"money-printer-go/market"
	"money-printer-go/report"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "path to .env file with credentials (optional)")
	days := flag.Int("days", 1, "how many days back the window starts")
	flag.Parse()

	if err := run(*configPath, *envFile, *days); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, days int) error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Nop()
	bitcoinde := gateway.NewBitcoindeBackend(gateway.BitcoindeConfig{
		Key:          cfg.Bitcoinde.APIKey,
		Secret:       cfg.Bitcoinde.APISecret,
		BaseURL:      cfg.Bitcoinde.BaseURL,
		FeeLessPrice: cfg.Bitcoinde.FeeLessPrice,
		FeeLessCoin:  cfg.Bitcoinde.FeeLessCoin,
	}, log)
	kraken := gateway.NewKrakenBackend(gateway.KrakenConfig{
		Key:     cfg.Kraken.APIKey,
		Secret:  cfg.Kraken.APISecret,
		BaseURL: cfg.Kraken.BaseURL,
		Fee:     cfg.Kraken.Fee,
	}, log)
	backends := []market.Backend{bitcoinde, kraken}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	to := time.Now()
	from := to.AddDate(0, 0, -days)
	summary, err := report.Collect(ctx, backends, from, to)
	if err != nil {
		return err
	}

	// Value any open position at Kraken's current bid.
	refPrice := 0.0
	if res := kraken.CurrentSellPrice(ctx); res.OK() {
		refPrice = res.Value()
	}

	fmt.Print(summary.Render(refPrice))
	return nil
}
