package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vladislavdragonenkov/vendormarket/internal/app"
	"github.com/vladislavdragonenkov/vendormarket/internal/version"
)

const envLogFile = "LOG_FILE"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogger настраивает формат и уровень логирования. Если задан logFile,
// логи дублируются в файл с ротацией.
func setupLogger(level, logFile string, stdout io.Writer) (io.Closer, error) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	parsed := log.InfoLevel
	if strings.TrimSpace(level) != "" {
		var err error
		parsed, err = log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}
	log.SetLevel(parsed)

	if strings.TrimSpace(logFile) == "" {
		log.SetOutput(stdout)
		return nopCloser{}, nil
	}

	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(stdout, rotating))
	return rotating, nil
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	closer, err := setupLogger(cfg.LogLevel, os.Getenv(envLogFile), os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("failed to configure logger")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Current().Fields()).WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.Storage.Driver,
	}).Info("starting marketplace service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("marketplace service exited with error")
		closer.Close()
		os.Exit(1)
	}

	log.Info("marketplace service stopped")
}
