// Command tfaggd hosts the timeframe aggregator: one EquipmentProducer per
// configured input, a single Aggregator fair-merging their output, and the
// optional metrics exporter and demonstration consumer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coredaq/tfagg/aggregator"
	"github.com/coredaq/tfagg/boundedqueue"
	"github.com/coredaq/tfagg/consumer/stats"
	"github.com/coredaq/tfagg/dma"
	"github.com/coredaq/tfagg/dma/card"
	"github.com/coredaq/tfagg/dma/emulator"
	"github.com/coredaq/tfagg/dma/filereplay"
	"github.com/coredaq/tfagg/equipment"
	"github.com/coredaq/tfagg/pagepool"
	"github.com/coredaq/tfagg/tfconfig"
	"github.com/coredaq/tfagg/tfmetrics"
)

const defaultConfigPath = "config/tfagg.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := tfconfig.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting tfaggd", "config", *configPath, "equipment", len(cfg.Equipment))

	pool, err := pagepool.New(cfg.Pool.Capacity, cfg.Pool.PageSize)
	if err != nil {
		logger.Error("failed to create page pool", "error", err)
		os.Exit(1)
	}

	agg, err := aggregator.New(aggregator.Config{
		DisableSlicing: cfg.Aggregator.DisableSlicing,
		SliceTimeout:   cfg.Aggregator.SliceTimeout,
		OutputCapacity: cfg.Aggregator.OutputCapacity,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to create aggregator", "error", err)
		os.Exit(1)
	}
	agg.SetRelease(pool.Release)

	var metricsReg *tfmetrics.Registry
	var metricsCounters []tfmetrics.Counters
	if cfg.Metrics.Enabled {
		metricsReg = tfmetrics.New()
	}

	producers := make([]*equipment.Producer, 0, len(cfg.Equipment))
	for _, eqCfg := range cfg.Equipment {
		eqLogger := logger.With("equipment", eqCfg.Name)

		driver, err := newDriver(eqCfg, eqLogger)
		if err != nil {
			logger.Error("failed to create driver", "equipment", eqCfg.Name, "error", err)
			os.Exit(1)
		}

		outQ, err := boundedqueue.New[pagepool.Page](64)
		if err != nil {
			logger.Error("failed to create equipment output queue", "error", err)
			os.Exit(1)
		}
		agg.AddInput(outQ)

		prodCfg := equipment.DefaultConfig()
		prodCfg.RdhUseFirstInPageEnabled = eqCfg.Rdh.UseFirstInPageEnabled
		prodCfg.RdhCheckEnabled = eqCfg.Rdh.CheckEnabled
		prodCfg.RdhCheckPacketCounterContiguous = eqCfg.Rdh.ContiguousCheck()
		prodCfg.RdhDumpEnabled = eqCfg.Rdh.DumpEnabled
		prodCfg.RdhDumpErrorEnabled = eqCfg.Rdh.DumpOnError()
		prodCfg.CleanPageBeforeUse = eqCfg.CleanPageBeforeUse
		prodCfg.TFPeriodOrbits = eqCfg.TFPeriod
		prodCfg.StopOnError = eqCfg.StopOnError

		producer := equipment.New(driver, pool, outQ, prodCfg, eqLogger)
		if err := producer.Open(); err != nil {
			logger.Error("failed to open equipment", "equipment", eqCfg.Name, "error", err)
			os.Exit(1)
		}
		if err := producer.Start(); err != nil {
			logger.Error("failed to start equipment", "equipment", eqCfg.Name, "error", err)
			os.Exit(1)
		}
		producers = append(producers, producer)

		if metricsReg != nil {
			metricsCounters = append(metricsCounters, metricsReg.NewCounters(eqCfg.Name))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for _, p := range producers {
		go p.Run(ctx)
	}
	agg.Start(ctx)

	if metricsReg != nil {
		go func() {
			if err := metricsReg.Serve(ctx, tfmetrics.Config{Enabled: true, Addr: cfg.Metrics.Addr}); err != nil {
				logger.Error("metrics exporter stopped", "error", err)
			}
		}()
		go pollMetrics(ctx, metricsReg, producers, metricsCounters, agg)
	}

	consumerLogger := logger.With("component", "consumer")
	demoConsumer := stats.New(agg.Output(), pool, consumerLogger, 10*time.Second)
	go demoConsumer.Run(ctx)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	cancel()
	for i, p := range producers {
		if err := p.Stop(); err != nil {
			logger.Warn("equipment stop failed", "equipment", cfg.Equipment[i].Name, "error", err)
		}
		if err := p.Teardown(); err != nil {
			logger.Warn("equipment teardown failed", "equipment", cfg.Equipment[i].Name, "error", err)
		}
	}
	agg.Stop(true)

	logger.Info("tfaggd stopped")
}

// newDriver selects a concrete dma.Driver by configured kind.
func newDriver(eqCfg tfconfig.EquipmentConfig, logger *slog.Logger) (dma.Driver, error) {
	switch eqCfg.Kind {
	case "card":
		return card.New(), nil
	case "emulator":
		return emulator.New(emulator.Config{}), nil
	case "filereplay":
		return filereplay.New(eqCfg.FilePath, 64), nil
	default:
		return nil, fmt.Errorf("unknown equipment kind %q", eqCfg.Kind)
	}
}

// pollMetrics periodically copies each producer's counter snapshot and the
// aggregator output depth into the Prometheus registry.
func pollMetrics(ctx context.Context, reg *tfmetrics.Registry, producers []*equipment.Producer, counters []tfmetrics.Counters, agg *aggregator.Aggregator) {
	prevs := make([]tfmetrics.Snapshot, len(producers))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, p := range producers {
				c := p.Counters()
				cur := tfmetrics.Snapshot{
					PagesIn:         c.PagesIn,
					PagesEmpty:      c.PagesEmpty,
					PagesLost:       c.PagesLost,
					Timeframes:      c.Timeframes,
					RdhOk:           c.RdhOk,
					RdhErr:          c.RdhErr,
					RdhStreamErr:    c.RdhStreamErr,
					DroppedByDriver: c.DroppedByDriver,
					PushBlockedIdle: c.PushBlockedIdle,
				}
				counters[i].Observe(prevs[i], cur)
				prevs[i] = cur
			}
			reg.SetOutputQueueDepth(agg.Output().Len())
		}
	}
}
