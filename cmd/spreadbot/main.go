/*
Package main implements the spreadbot command, a long-running
bid/ask spread collector for the Independent Reserve exchange.

The collector polls the best bid/ask for one currency pair on a fixed
cadence, tracks the minimum and maximum spread seen in the current
window, and appends a one-line summary to the output file every flush
interval. It runs unattended, surviving transient network and API
failures, and shuts down cleanly on SIGINT/SIGTERM.

Usage:

	spreadbot -config config.yaml [run|test|watch|dump-config]

Subcommands:

	run          start the collector (default)
	test         exercise the public and authenticated API once and exit
	watch        stream live spread changes from the ticker channel
	dump-config  print the effective configuration (secrets redacted)

Exit code 0 means a clean shutdown; non-zero codes identify the fatal
supervisor state that ended the process.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"spreadbot/internal/config"
	"spreadbot/internal/exchange"
	"spreadbot/internal/spread"
	"spreadbot/internal/storage"
)

var configPath = flag.String("config", "config.yaml", "Path to the configuration file")

func main() {
	flag.Parse()

	// Console logging on stderr; level is refined once config loads.
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(logLevel(cfg.LogLevel))

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	switch cmd {
	case "run":
		os.Exit(runCollector(cfg))
	case "test":
		os.Exit(runSmokeTest(cfg))
	case "watch":
		os.Exit(runWatch(cfg))
	case "dump-config":
		os.Exit(dumpConfig(cfg))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprintf(os.Stderr, "usage: spreadbot -config <file> [run|test|watch|dump-config]\n")
		os.Exit(1)
	}
}

// runCollector wires the collector together and runs it until a signal
// or a fatal supervisor transition, returning the process exit code.
func runCollector(cfg config.Config) int {
	// Probe the output path before any network resource is acquired.
	sink, err := storage.NewSink(cfg.OutputPath)
	if err != nil {
		log.Error().Err(err).Msg("cannot open output file")
		return 1
	}
	defer sink.Close()

	client := exchange.NewPublic(nil)
	agg := spread.NewAggregator(cfg.CurrencyPair, time.Now().UTC())
	sampler := spread.NewSampler(client, agg, cfg.Base(), cfg.Quote())

	sup, err := spread.NewSupervisor(spread.Config{
		PollInterval:      cfg.PollInterval(),
		FlushInterval:     cfg.FlushInterval(),
		TolerateFlushLoss: cfg.TolerateFlushLoss,
	}, sampler, agg, sink)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct supervisor")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("pair", cfg.CurrencyPair).
		Str("output", cfg.OutputPath).
		Dur("pollInterval", cfg.PollInterval()).
		Dur("flushInterval", cfg.FlushInterval()).
		Msg("collector starting")

	reason := sup.Run(ctx)
	return reason.ExitCode()
}

// runSmokeTest exercises the public and the authenticated API surface
// once each and reports the result.
func runSmokeTest(cfg config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pub := exchange.NewPublic(nil)
	priv := exchange.NewPrivate(cfg.Keys.ReadOnly.APIKey, cfg.Keys.ReadOnly.APISecret, nil)

	if err := smokeTest(ctx, pub, priv, cfg.Base(), cfg.Quote()); err != nil {
		log.Error().Err(err).Msg("API check failed")
		return 1
	}

	log.Info().Msg("API connectivity ok")
	return 0
}

// smokeTest runs one pass over every API call the collector and its
// tooling depend on: currency listings, market summary, order book,
// account balances and open orders.
func smokeTest(ctx context.Context, pub *exchange.Public, priv *exchange.Private, base, quote string) error {
	primary, err := pub.GetValidPrimaryCurrencyCodes(ctx)
	if err != nil {
		return fmt.Errorf("list primary currency codes: %w", err)
	}
	secondary, err := pub.GetValidSecondaryCurrencyCodes(ctx)
	if err != nil {
		return fmt.Errorf("list secondary currency codes: %w", err)
	}
	log.Info().
		Strs("primary", primary).
		Strs("secondary", secondary).
		Msg("supported currencies")

	reading, err := pub.FetchSpread(ctx, base, quote)
	if err != nil {
		return fmt.Errorf("fetch market summary: %w", err)
	}
	log.Info().
		Str("pair", reading.Pair).
		Str("bid", reading.Bid.String()).
		Str("ask", reading.Ask.String()).
		Str("spread", reading.Spread().String()).
		Msg("market summary ok")

	book, err := pub.GetOrderBook(ctx, base, quote)
	if err != nil {
		return fmt.Errorf("fetch order book: %w", err)
	}
	log.Info().
		Int("buyOrders", len(book.BuyOrders)).
		Int("sellOrders", len(book.SellOrders)).
		Msg("order book ok")

	accounts, err := priv.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("fetch account balances: %w", err)
	}
	for _, acc := range accounts {
		log.Info().
			Str("currency", acc.CurrencyCode).
			Str("available", acc.AvailableBalance.String()).
			Str("total", acc.TotalBalance.String()).
			Msg("account balance")
	}

	orders, err := priv.GetOpenOrders(ctx, base, quote, 0)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	log.Info().Int("openOrders", len(orders)).Msg("open orders ok")

	return nil
}

// runWatch streams live spread changes from the ticker channel until
// interrupted. Observation only: nothing is aggregated or persisted.
func runWatch(cfg config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := exchange.NewTickerStream(nil)
	readings, err := stream.Subscribe(ctx, cfg.Base(), cfg.Quote())
	if err != nil {
		log.Error().Err(err).Msg("failed to subscribe to ticker stream")
		return 1
	}

	log.Info().Str("pair", cfg.CurrencyPair).Msg("watching live spread")
	for {
		select {
		case <-ctx.Done():
			return 0
		case r, ok := <-readings:
			if !ok {
				log.Warn().Msg("ticker stream closed")
				return 1
			}
			log.Info().
				Str("bid", r.Bid.String()).
				Str("ask", r.Ask.String()).
				Str("spread", r.Spread().String()).
				Str("percent", r.SpreadPercent().String()).
				Msg("spread")
		}
	}
}

// dumpConfig prints the effective configuration with secrets redacted.
func dumpConfig(cfg config.Config) int {
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal configuration")
		return 1
	}
	fmt.Print(string(out))
	return 0
}

func logLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
