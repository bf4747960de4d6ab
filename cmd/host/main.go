package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/microdeck/host/internal/infrastructure/config"
	"github.com/microdeck/host/internal/logging"
	"github.com/microdeck/host/internal/server"
)

func main() {
	configPath := flag.String("config", "", "TOML config file (optional)")
	cart := flag.String("cart", "", "cart to load and start on boot")
	flag.Parse()

	cfg := loadConfig(*configPath)

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build host", zap.Error(err))
	}

	if *cart != "" {
		if srv.Engine().Load(*cart) {
			srv.Engine().Start()
		} else {
			logger.Warn("boot cart did not load", zap.String("cart", *cart))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// With the control server disabled the engine still runs, driven by the
	// configured strategy; only the HTTP surface stays down.
	errChan := make(chan error, 1)
	if cfg.Server.Enabled {
		go func() {
			errChan <- srv.Run()
		}()
	} else {
		logger.Info("control server disabled")
	}

	select {
	case <-sigChan:
		logger.Info("shutting down")
		if err := srv.Close(); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("server error", zap.Error(err))
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.LoadOrDefault()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}
