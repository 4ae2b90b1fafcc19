package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/config"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/notification"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const (
	envConfigPath      = "MARKETPLACE_CONFIG"
	defaultOpsAddr     = ":9091"
	opsShutdownTimeout = 5 * time.Second
)

var errBrokersRequired = errors.New("notifier requires kafka.brokers")

// newOpsRouter отдаёт метрики доставки и liveness.
func newOpsRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/livez", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.String()})
	})
	return router
}

func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envConfigPath)
}

func run(ctx context.Context, cfg config.Config, opsAddr string, logger *log.Entry) error {
	if !cfg.KafkaEnabled() {
		return errBrokersRequired
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return fmt.Errorf("dlq producer: %w", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dlq producer")
		}
	}()

	sender := notification.NewInstrumentedSender(
		notification.NewLogSender(logger.WithField("component", "mail")),
		metrics.NewDelivery(nil),
	)

	consumer, err := kafka.NewConsumer(
		cfg.Kafka.Brokers,
		cfg.Kafka.ConsumerGroup,
		[]string{cfg.Kafka.NotificationsTopic},
		kafka.NewNotificationHandler(sender),
		kafka.WithDLQ(producer, cfg.Kafka.DLQTopic),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	ops := &http.Server{
		Addr:              opsAddr,
		Handler:           newOpsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	opsErr := make(chan error, 1)
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opsErr <- err
		}
		close(opsErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-opsErr:
		if ok {
			runErr = fmt.Errorf("ops server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("ops server shutdown failed")
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop consumer")
	}
	return runErr
}

func main() {
	var (
		path    string
		opsAddr string
	)
	flag.StringVar(&path, "config", "", "path to YAML config (fallback: "+envConfigPath+")")
	flag.StringVar(&opsAddr, "ops-addr", defaultOpsAddr, "address for /metrics and /livez")
	flag.Parse()

	cfg, err := config.Load(configPath(path))
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(cfg.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.WithField("component", "notifier")
	logger.WithFields(log.Fields{
		"version": version.String(),
		"topic":   cfg.Kafka.NotificationsTopic,
		"group":   cfg.Kafka.ConsumerGroup,
	}).Info("starting notifier")

	if err := run(ctx, cfg, opsAddr, logger); err != nil {
		logger.WithError(err).Fatal("notifier stopped with error")
	}
	logger.Info("notifier stopped")
}
