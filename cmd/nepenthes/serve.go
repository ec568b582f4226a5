package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/HerbHall/nepenthes/internal/config"
	"github.com/HerbHall/nepenthes/internal/function"
	"github.com/HerbHall/nepenthes/internal/server"
	"github.com/HerbHall/nepenthes/internal/telemetry"
	"github.com/HerbHall/nepenthes/internal/version"
	"go.uber.org/zap"
)

func runServe(ctx context.Context, c *components, settings *config.Settings, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("nepenthes server starting", zap.String("version", version.Short()))

	reg := function.NewRegistry(logger.Named("registry"))
	if err := registerFunctions(ctx, c, reg, allFunctions, false); err != nil {
		return err
	}
	if len(reg.Infos()) == 0 {
		return errors.New("no function has complete configuration")
	}

	var wg sync.WaitGroup

	if _, ok := reg.Get(function.NamePlugStatus); ok {
		poller := server.NewPoller(reg, function.NamePlugStatus, settings.Serve.PollInterval, logger.Named("poller"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	var sub *telemetry.Subscriber
	if _, ok := reg.Get(function.NameLogPuller); ok {
		sub = telemetry.NewSubscriber(settings.MQTT, func(ctx context.Context, payload []byte) error {
			_, err := reg.Invoke(ctx, function.NameLogPuller, payload)
			return err
		}, logger.Named("telemetry"))
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
	}

	ready := server.ReadinessChecker(func(context.Context) error {
		if sub != nil && !sub.Connected() {
			return errors.New("telemetry broker not connected")
		}
		return nil
	})
	srv := server.New(settings.Serve, reg, ready, logger.Named("server"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("nepenthes server ready",
		zap.String("addr", settings.Serve.Addr),
		zap.Int("functions", len(reg.Infos())),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
	}

	// Graceful shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	logger.Info("nepenthes server stopped")
	return serveErr
}
