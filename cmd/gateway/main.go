package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jobwire/gateway/internal/config"
	"github.com/jobwire/gateway/internal/gateway"
	"github.com/jobwire/gateway/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (falls back to environment variables)")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("API Gateway %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	var (
		cfg *config.Config
		err error
	)
	loader := config.NewLoader()
	if *configPath != "" {
		cfg, err = loader.Load(*configPath)
	} else {
		cfg, err = loader.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	var logger *zap.Logger
	if cfg.Logging.File != "" {
		logger, err = logging.NewWithFile(cfg.Logging.Level, logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		})
	} else {
		logger, err = logging.New(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting API Gateway",
		zap.String("version", version),
		zap.String("service", cfg.Service.Name),
		zap.String("config", *configPath),
		zap.Int("port", cfg.Service.Port),
	)

	gw := gateway.New(cfg, gateway.WithConfigPath(*configPath))
	server := gateway.NewServer(gw)

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath)
		if err != nil {
			logging.Error("Failed to create config watcher", zap.Error(err))
			os.Exit(1)
		}
		watcher.OnChange(func(updated *config.Config) {
			gw.SetConfig(updated)
		})
		if err := watcher.Start(); err != nil {
			logging.Error("Failed to start config watcher", zap.Error(err))
			os.Exit(1)
		}
		defer watcher.Stop()
	}

	if err := server.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
