package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/kafka"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/worker"
)

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Consume business events and deliver them to subscribers",
	RunE:  runDeliveries,
}

func runDeliveries(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Init(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) delivery engine over the registry and audit log
	engine := delivery.NewEngine(
		repository.NewSubscriptionsRepository(dbx),
		repository.NewDeliveriesRepository(dbx),
		cfg.Delivery,
		log.Named("delivery"),
	)

	// 4) kafka consumer
	kcfg := kafka.ConfigFrom(cfg.Kafka)
	if kcfg.GroupID == "" {
		kcfg.GroupID = "hookgw-deliveries"
	}
	consumer := kafka.NewConsumerFromConfig(kcfg)
	defer consumer.Close()

	w := worker.NewEventsKafka(consumer, engine, log.Named("events"))

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("deliveries worker started",
		zap.Strings("brokers", kcfg.Brokers),
		zap.String("topic", kcfg.Topic),
		zap.String("group", kcfg.GroupID),
		zap.Int("max_attempts", cfg.Delivery.MaxAttempts),
	)

	runErr := w.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Delivery.Timeout)
	defer cancel()
	engine.Shutdown(drainCtx)

	return runErr
}
