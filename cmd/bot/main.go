package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	"trendbot/internal/alerts"
	"trendbot/internal/config"
	"trendbot/internal/engine"
	"trendbot/internal/exchange/bybit"
	"trendbot/internal/executor"
	"trendbot/internal/instruments"
	"trendbot/internal/logger"
	"trendbot/internal/marketdata"
	"trendbot/internal/strategy"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	logger.Info("Бот запущен.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := alerts.New(cfg.Alerts, logger)

	client := bybit.New(cfg.Exchange, logger, func(reason string) {
		notifier.Critical("Стрим остановлен: " + reason)
		cancel()
	})

	exec := executor.New(logger)
	resolver := instruments.NewResolver(client, exec, logger)
	cache := marketdata.NewCache(cfg.Bot.Symbol, cfg.Bot.CandleLimit,
		time.Duration(cfg.Bot.StaleBufferSec)*time.Second, client, exec, logger)
	strat := strategy.NewEMACross(cfg.Strategy.FastPeriod, cfg.Strategy.SlowPeriod, cfg.Strategy.ATRPeriod)

	var ledger *engine.Ledger
	if cfg.Runtime.LedgerFile != "" {
		ledger, err = engine.OpenLedger(cfg.Runtime.LedgerFile)
		if err != nil {
			logger.WithError(err).Fatal("Не удалось открыть журнал сделок.")
		}
		defer ledger.Close()
	}
	tracker := engine.NewPerformanceTracker(logger, ledger)

	publicEvents, err := client.ConnectPublic(ctx, cfg.Bot.Symbol, cfg.Bot.Interval, cfg.Bot.HigherTimeframes)
	if err != nil {
		logger.WithError(err).Fatal("Не удалось подключить публичный стрим.")
	}
	privateEvents, err := client.ConnectPrivate(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Не удалось подключить приватный стрим.")
	}
	defer client.DisconnectStreams()

	eng := engine.New(cfg, client, exec, resolver, cache, strat, tracker, notifier, logger)
	if err := eng.Start(ctx, publicEvents, privateEvents); err != nil {
		logger.WithError(err).Fatal("Движок не запустился.")
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	cancel()
	eng.Shutdown()

	logger.Info("Бот остановлен.")
}
