package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nugget/azaman/internal/api"
	"github.com/nugget/azaman/internal/buildinfo"
	"github.com/nugget/azaman/internal/events"
	"github.com/nugget/azaman/internal/mqtt"
)

// shutdownTimeout bounds the graceful drain of HTTP and MQTT.
const shutdownTimeout = 10 * time.Second

// runServe starts the API server and, when configured, the MQTT
// publisher, then blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives. In-flight turns are drained before the stores close.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting Aza Man",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Model,
		"data_dir", cfg.DataDir,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	bus := events.New()
	rt.loop.SetEventBus(bus)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, rt.loop, logger)
	server.SetEventBus(bus)
	server.SetUsageStore(rt.ledger)

	var wg sync.WaitGroup
	var publisher *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		publisher = mqtt.New(cfg.MQTT, instanceID, rt.tokens, logger)
		rt.loop.SetStateObserver(publisher)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
			}
		}()
		logger.Info("mqtt publisher enabled", "broker", cfg.MQTT.Broker, "device", cfg.MQTT.DeviceName)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt shutdown", "error", err)
		}
	}
	wg.Wait()

	logger.Info("Aza Man stopped")
	return nil
}
