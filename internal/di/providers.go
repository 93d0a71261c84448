package di

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/docqa/internal/config"
	"github.com/aihub/docqa/internal/database"
	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/kafka"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
	"github.com/aihub/docqa/internal/metrics"
	"github.com/aihub/docqa/internal/storage"
)

const startupTimeout = 30 * time.Second

// Cleanup 按注册的逆序释放资源
type Cleanup struct {
	mu    sync.Mutex
	tasks []func() error
}

// Add 注册清理任务
func (c *Cleanup) Add(task func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task)
}

// Run 执行全部清理任务，尽力而为
func (c *Cleanup) Run() {
	c.mu.Lock()
	tasks := c.tasks
	c.tasks = nil
	c.mu.Unlock()

	for i := len(tasks) - 1; i >= 0; i-- {
		if err := tasks[i](); err != nil {
			logger.Warn("Cleanup error", zap.Error(err))
		}
	}
}

// HealthCheckers 已启用依赖的健康检查器
type HealthCheckers []*database.HealthChecker

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, cfg *config.Config) error {
	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *Cleanup { return &Cleanup{} },
		provideZap,
		provideLogrus,
		providePrometheus,
		func(reg *prometheus.Registry) *metrics.Collector { return metrics.NewCollector(reg) },
		func(reg *prometheus.Registry) *apperrors.ErrorMonitor { return apperrors.NewErrorMonitor(reg) },
		apperrors.NewErrorHandler,
		provideTokenizer,
		provideChunker,
		provideEmbedder,
		provideVectorStore,
		provideRedis,
		provideConverter,
		provideLanguageModel,
		provideDatabase,
		provideRegistry,
		provideSourceArchive,
		provideProducer,
		provideHealthCheckers,
		providePipeline,
		provideRetrieval,
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

func provideZap() *zap.Logger {
	return logger.GetLogger()
}

// provideLogrus 登记库沿用logrus
func provideLogrus(cfg *config.Config) *logrus.Logger {
	l := &logrus.Logger{
		Out:       os.Stdout,
		Formatter: &logrus.JSONFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		l.SetLevel(level)
	}
	return l
}

func providePrometheus() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideTokenizer(cfg *config.Config) (knowledge.Tokenizer, error) {
	return knowledge.NewTiktokenTokenizer(cfg.Chunker.Encoding)
}

func provideChunker(cfg *config.Config, tokenizer knowledge.Tokenizer) (*knowledge.Chunker, error) {
	return knowledge.NewChunker(tokenizer, cfg.Chunker.MaxTokens, cfg.Chunker.Overlap)
}

func provideEmbedder(cfg *config.Config) (knowledge.Embedder, error) {
	embedder, err := knowledge.NewOpenAIEmbedder(knowledge.EmbedderOptions{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	if embedder.Dimensions() == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		dims, err := embedder.ProbeDimensions(ctx)
		if err != nil {
			return nil, apperrors.NewConfigError("failed to determine embedding dimension").WithCause(err)
		}
		logger.Info("Embedding dimension probed", zap.Int("dimensions", dims))
	}

	if cfg.Embedding.CacheSize > 0 {
		return knowledge.NewCachedEmbedder(embedder, cfg.Embedding.Model, cfg.Embedding.CacheSize), nil
	}
	return embedder, nil
}

func provideVectorStore(cfg *config.Config, embedder knowledge.Embedder, cleanup *Cleanup) (knowledge.VectorStore, error) {
	var store knowledge.VectorStore

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	switch cfg.VectorStore.Provider {
	case "memory":
		store = knowledge.NewMemoryVectorStore(embedder.Dimensions())
	default:
		m := cfg.VectorStore.Milvus
		milvus, err := knowledge.NewMilvusVectorStore(ctx, knowledge.MilvusOptions{
			Address:          m.Address,
			Username:         m.Username,
			Password:         m.Password,
			Database:         m.Database,
			Collection:       m.Collection,
			UseTLS:           m.TLS,
			Dimension:        embedder.Dimensions(),
			ContentMaxLength: m.ContentMaxLength,
			Timeout:          m.Timeout,
		})
		if err != nil {
			return nil, err
		}
		store = milvus
	}

	if err := store.Open(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	cleanup.Add(store.Close)

	logger.Info("Vector store ready",
		zap.String("provider", cfg.VectorStore.Provider),
		zap.Int("dimensions", embedder.Dimensions()))
	return store, nil
}

// provideRedis 未启用或连接失败时返回nil，转换缓存随之关闭
func provideRedis(cfg *config.Config, log *logrus.Logger, cleanup *Cleanup) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	rdb, err := database.OpenRedis(ctx, cfg.Redis, log)
	if err != nil {
		logger.Warn("Failed to initialize Redis", zap.Error(err))
		return nil
	}
	cleanup.Add(rdb.Close)
	return rdb
}

func provideConverter(cfg *config.Config, rdb *redis.Client) knowledge.Converter {
	var opts []knowledge.ConverterOption
	if cfg.Converter.MarkdownDir != "" {
		opts = append(opts, knowledge.WithMarkdownDir(cfg.Converter.MarkdownDir))
	}
	if rdb != nil {
		opts = append(opts, knowledge.WithConversionCache(knowledge.NewRedisConversionCache(rdb, cfg.Redis.TTL)))
	}
	return knowledge.NewMarkdownConverter(opts...)
}

func provideLanguageModel(cfg *config.Config) (knowledge.LanguageModel, error) {
	return knowledge.NewOpenAIChatModel(knowledge.ChatOptions{
		APIKey:             cfg.LLM.APIKey,
		BaseURL:            cfg.LLM.BaseURL,
		Model:              cfg.LLM.Model,
		Temperature:        cfg.LLM.Temperature,
		MaxTokens:          cfg.LLM.MaxTokens,
		Timeout:            cfg.LLM.Timeout,
		MaxRetries:         cfg.LLM.MaxRetries,
		Backoff:            cfg.LLM.Backoff,
		InsecureSkipVerify: cfg.LLM.InsecureSkipVerify,
	})
}

// provideDatabase 登记库可选；启用时连接失败即启动失败
func provideDatabase(cfg *config.Config, log *logrus.Logger, cleanup *Cleanup) (*gorm.DB, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}
	db, err := database.Open(cfg.Database, cfg.App.Env, log)
	if err != nil {
		return nil, err
	}
	cleanup.Add(func() error { return database.Close(db) })
	return db, nil
}

func provideRegistry(db *gorm.DB, log *logrus.Logger, reg *prometheus.Registry) (*database.Registry, *database.MetricsCollector, error) {
	if db == nil {
		return nil, nil, nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	mc := database.NewMetricsCollector(sqlDB, reg, log)
	return database.NewRegistry(db, log, mc), mc, nil
}

func provideSourceArchive(cfg *config.Config) *storage.SourceArchive {
	if !cfg.MinIO.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	archive, err := storage.NewSourceArchive(ctx, cfg.MinIO)
	if err != nil {
		logger.Warn("Failed to initialize MinIO", zap.Error(err))
		return nil
	}
	return archive
}

func provideProducer(cfg *config.Config, cleanup *Cleanup) *kafka.Producer {
	if !cfg.Kafka.Enabled {
		return nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
	if err != nil {
		logger.Warn("Failed to initialize Kafka producer", zap.Error(err))
		return nil
	}
	cleanup.Add(producer.Close)
	return producer
}

func provideHealthCheckers(db *gorm.DB, rdb *redis.Client, log *logrus.Logger) HealthCheckers {
	var checkers HealthCheckers
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			checkers = append(checkers, database.NewHealthChecker("postgres", sqlDB, log))
		}
	}
	if rdb != nil {
		checkers = append(checkers, database.NewHealthChecker("redis", database.RedisPinger(rdb), log))
	}
	return checkers
}

func providePipeline(
	converter knowledge.Converter,
	chunker *knowledge.Chunker,
	embedder knowledge.Embedder,
	store knowledge.VectorStore,
	collector *metrics.Collector,
	registry *database.Registry,
	archive *storage.SourceArchive,
	producer *kafka.Producer,
) *knowledge.IndexingPipeline {
	pipeline := knowledge.NewIndexingPipeline(converter, chunker, embedder, store, collector)
	if registry != nil {
		pipeline.AddObserver(registry)
	}
	if archive != nil {
		pipeline.AddObserver(archive)
	}
	if producer != nil {
		pipeline.AddObserver(producer)
	}
	return pipeline
}

func provideRetrieval(cfg *config.Config, embedder knowledge.Embedder, store knowledge.VectorStore, llm knowledge.LanguageModel, collector *metrics.Collector) *knowledge.RetrievalService {
	opts := []knowledge.RetrievalOption{
		knowledge.WithContextLimit(cfg.Retrieval.ContextLimit),
		knowledge.WithQueryObserver(collector),
	}
	if cfg.LLM.SystemPrompt != "" {
		opts = append(opts, knowledge.WithSystemPrompt(cfg.LLM.SystemPrompt))
	}
	return knowledge.NewRetrievalService(embedder, store, llm, opts...)
}
