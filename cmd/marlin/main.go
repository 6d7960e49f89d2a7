package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"marlin/internal/app"
	"marlin/internal/config"
	"marlin/internal/logger"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "marlin",
		Short:         "Perp-futures strategy engine: data, replay, live decisions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "config file path")

	root.AddCommand(newServeCmd())
	root.AddCommand(newBacktestCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newReportCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("marlin: %v", err)
	}
}

func defaultConfigPath() string {
	if env := os.Getenv("MARLIN_CONFIG"); env != "" {
		return env
	}
	return "configs/config.yaml"
}

// bootstrap loads config, routes logs and builds the application.
func bootstrap() (*app.App, *config.Config, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config failed: %w", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening log file failed: %w", err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s)", cfg.App.Env)

	a, err := app.New(cfg)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, nil, nil, err
	}
	cleanup := func() {
		a.Close()
		if logFile != nil {
			logFile.Close()
		}
	}
	return a, cfg, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
