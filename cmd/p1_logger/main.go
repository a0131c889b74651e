// p1_logger subscribes to DSMR P1 telegrams relayed over MQTT (or read
// straight from the serial port) and appends one row per telegram to a
// daily CSV file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/NotCoffee418/p1_logger/pkg/broker"
	"github.com/NotCoffee418/p1_logger/pkg/clock"
	"github.com/NotCoffee418/p1_logger/pkg/config"
	"github.com/NotCoffee418/p1_logger/pkg/dailyfile"
	"github.com/NotCoffee418/p1_logger/pkg/dispatcher"
	"github.com/NotCoffee418/p1_logger/pkg/envelope"
	"github.com/NotCoffee418/p1_logger/pkg/livefeed"
	"github.com/NotCoffee418/p1_logger/pkg/meterdb"
	"github.com/NotCoffee418/p1_logger/pkg/metrics"
	"github.com/NotCoffee418/p1_logger/pkg/pathing"
	"github.com/NotCoffee418/p1_logger/pkg/port_reader"
	"github.com/NotCoffee418/p1_logger/pkg/reading"
	"github.com/NotCoffee418/p1_logger/pkg/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, signature, outputDir, source, meterDBPath string

	flagSet := pflag.NewFlagSet("p1_logger", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", pathing.GetConfigPath(), "path to the TOML or YAML config file")
	flagSet.StringVar(&signature, "signature", "", "only log telegrams from this device signature")
	flagSet.StringVar(&outputDir, "output-dir", "", "directory holding the daily files")
	flagSet.StringVar(&source, "source", "", "telegram source: mqtt or serial")
	flagSet.StringVar(&meterDBPath, "meterdb", "", "also store records in this SQLite database")
	flagSet.Lookup("meterdb").NoOptDefVal = pathing.GetMeterDbPath()
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagSet.Changed("signature") {
		cfg.Signature = signature
	}
	if flagSet.Changed("output-dir") {
		cfg.Output.Dir = outputDir
	}
	if flagSet.Changed("source") {
		cfg.Source = source
	}
	if flagSet.Changed("meterdb") {
		cfg.MeterDB.Path = meterDBPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	zone, err := clock.LoadZoned(cfg.Timezone)
	if err != nil {
		return err
	}
	loc := zone.Location()
	delimiter, _ := cfg.DelimiterRune()

	var header []string
	if cfg.Output.WriteHeader {
		header = reading.Header(cfg.Output.IncludeTariffs)
	}
	sink, err := dailyfile.New(dailyfile.Options{
		Dir:       cfg.Output.Dir,
		Extension: cfg.Output.Extension,
		Delimiter: delimiter,
		Header:    header,
		CRLF:      cfg.Output.CRLF,
	})
	if err != nil {
		return err
	}

	collector := metrics.New()
	var observers []dispatcher.Observer

	if cfg.MeterDB.Path != "" {
		if err := pathing.EnsureDir(filepath.Dir(cfg.MeterDB.Path)); err != nil {
			return err
		}
		store, err := meterdb.Open(cfg.MeterDB.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		observers = append(observers, store)
	}

	var hub *livefeed.Hub
	if cfg.LiveFeed.Listen != "" {
		hub = livefeed.NewHub(logger)
		observers = append(observers, hub)
	}

	d, err := dispatcher.New(dispatcher.Options{
		Filter:     envelope.NewFilter(cfg.Signature),
		Decoder:    telegram.NewDecoder(cfg.VerifyCRC),
		Normalizer: reading.NewNormalizer(loc, cfg.Output.IncludeTariffs),
		Sink:       sink,
		Clock:      zone,
		Logger:     logger,
		Metrics:    collector,
		Observers:  observers,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Listen != "" {
		serve(ctx, group, logger, "metrics", cfg.Metrics.Listen, collector.Handler())
	}
	if hub != nil {
		serve(ctx, group, logger, "livefeed", cfg.LiveFeed.Listen, hub.Handler())
	}

	logger.Info("p1_logger starting",
		"source", cfg.Source,
		"signature", cfg.Signature,
		"output_dir", cfg.Output.Dir,
		"timezone", loc.String())

	group.Go(func() error {
		switch cfg.Source {
		case config.SourceSerial:
			reader := port_reader.NewP1Reader(cfg.Serial.Device, cfg.Serial.Baudrate, logger)
			return reader.Run(ctx, func(text string) { d.HandleTelegram(text) })
		default:
			subscriber := broker.NewSubscriber(cfg.MQTT, logger)
			return subscriber.Run(ctx, func(payload []byte) { d.HandleMessage(payload) })
		}
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("p1_logger stopped")
	return nil
}

func serve(ctx context.Context, group *errgroup.Group, logger *slog.Logger, name, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	group.Go(func() error {
		logger.Info("http listener started", "name", name, "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s listener: %w", name, err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}
