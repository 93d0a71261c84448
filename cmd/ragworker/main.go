package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aihub/docqa/app/bootstrap"
	"github.com/aihub/docqa/internal/kafka"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
)

func main() {
	app, err := bootstrap.Init(bootstrap.DefaultOptions)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	cfg := app.Config.Kafka
	if !cfg.Enabled {
		logger.Fatal("Kafka is disabled, set kafka.enabled to run the worker")
	}

	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.GroupID, []string{cfg.JobsTopic})
	if err != nil {
		logger.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}

	err = app.Container.Invoke(func(pipeline *knowledge.IndexingPipeline) {
		consumer.RegisterHandler(cfg.JobsTopic, kafka.NewJobHandler(pipeline).Handle)
	})
	if err != nil {
		logger.Fatal("Failed to resolve indexing pipeline", zap.Error(err))
	}

	consumer.Start(app.Context())
	logger.Info("Index worker started",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.JobsTopic),
		zap.String("group_id", cfg.GroupID))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutting down worker", zap.String("signal", sig.String()))

	if err := consumer.Close(); err != nil {
		logger.Warn("Failed to close Kafka consumer", zap.Error(err))
	}
}
