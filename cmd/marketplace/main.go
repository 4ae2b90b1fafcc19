package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/app"
	"github.com/vladislavdragonenkov/marketplace/internal/config"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const envConfigPath = "MARKETPLACE_CONFIG"

type envLookup func(string) (string, bool)

// resolveConfigPath берёт путь из флага, а без него из MARKETPLACE_CONFIG.
func resolveConfigPath(flagValue string, lookup envLookup) string {
	if flagValue != "" {
		return flagValue
	}
	if v, ok := lookup(envConfigPath); ok {
		return v
	}
	return ""
}

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(cfg config.Config) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(cfg.LogLevel())
}

func main() {
	var path string
	flag.StringVar(&path, "config", "", "path to YAML config (fallback: "+envConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(resolveConfigPath(path, os.LookupEnv))
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"http_addr":    cfg.HTTP.Addr,
		"storage":      cfg.Storage.Driver,
		"gateway_mode": cfg.Gateway.Mode,
		"kafka":        cfg.KafkaEnabled(),
	}).Info("starting marketplace")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("marketplace stopped with error")
	}

	log.Info("marketplace stopped")
}
