package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paddylink/internal/api"
	"paddylink/internal/config"
	"paddylink/internal/core"
	"paddylink/internal/devicesim"
	"paddylink/internal/logging"
	"paddylink/internal/rtstore"
	"paddylink/internal/schedule"
	"paddylink/internal/store"
)

// simulatedKinds are the command slots the built-in simulator serves.
var simulatedKinds = []string{core.KindRelay, core.KindMotor, core.KindSensor, core.KindLocation}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	var records rtstore.RecordStore
	switch cfg.StoreBackend {
	case "nats":
		natsStore, err := rtstore.OpenNATS(cfg.NATSURL, cfg.NATSBucket)
		if err != nil {
			logger.Error("open nats record store", "url", cfg.NATSURL, "err", err)
			os.Exit(1)
		}
		defer natsStore.Close()
		records = natsStore
	default:
		records = rtstore.NewMemoryStore()
	}
	logger.Info("record store ready", "backend", cfg.StoreBackend)

	commands := core.NewService(records, storeInst, cfg.DefaultDeadline, logger)
	scheduler := schedule.NewScheduler(storeInst, commands, logger, time.UTC)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	scheduler.Start(ctx)
	if err := scheduler.Sync(ctx); err != nil {
		logger.Error("initial schedule sync", "err", err)
	}

	var devices []*devicesim.Device
	for _, target := range cfg.SimDevices {
		device := devicesim.New(records, target, devicesim.Behavior{
			AckDelay:  200 * time.Millisecond,
			ExecDelay: time.Second,
		}, logger)
		for _, kind := range simulatedKinds {
			if err := device.Listen(kind); err != nil {
				logger.Error("simulator listen", "target", target, "kind", kind, "err", err)
			}
		}
		devices = append(devices, device)
		logger.Info("device simulator listening", "target", target)
	}

	server := api.NewServer(cfg.Addr, cfg.AuthToken, storeInst, commands, scheduler, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("scheduler stop timed out")
	}

	for _, device := range devices {
		device.Close()
	}
	logger.Info("shutdown complete")
}
