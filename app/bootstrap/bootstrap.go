package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/config"
	"github.com/aihub/docqa/internal/database"
	"github.com/aihub/docqa/internal/di"
	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/logger"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config    *config.Config
	Container *dig.Container

	ctx          context.Context
	cancel       context.CancelFunc
	cleanupTasks []func() error
}

// Options 启动选项
type Options struct {
	// Migrate 启用登记库时是否执行迁移
	Migrate bool
	// Background 是否启动健康检查与连接池指标采集
	Background bool
}

// DefaultOptions 服务进程的启动选项
var DefaultOptions = Options{Migrate: true, Background: true}

// Init bootstraps configuration, logger, the dependency container and
// shared infrastructure.
func Init(opts Options) (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Options{Env: cfg.App.Env, Level: cfg.App.LogLevel}); err != nil {
		return nil, err
	}

	if opts.Migrate && cfg.Database.Enabled {
		if err := migrate(cfg); err != nil {
			return nil, err
		}
	}

	container, err := di.InitContainer(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Container: container,
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := container.Invoke(func(cleanup *di.Cleanup) {
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			cleanup.Run()
			return nil
		})
	}); err != nil {
		app.Shutdown()
		return nil, err
	}

	if opts.Background {
		if err := app.startBackground(); err != nil {
			app.Shutdown()
			return nil, err
		}
	}

	logger.Info("Application bootstrapped",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("vector_store", cfg.VectorStore.Provider))
	return app, nil
}

func migrate(cfg *config.Config) error {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		log.SetLevel(level)
	}

	start := time.Now()
	if err := database.Migrate(cfg.Database, log); err != nil {
		return err
	}
	logger.Info("Registry migrations applied", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// startBackground 启动依赖健康检查与连接池指标采集
func (a *App) startBackground() error {
	return a.Container.Invoke(func(checkers di.HealthCheckers, mc *database.MetricsCollector, monitor *apperrors.ErrorMonitor) {
		for _, checker := range checkers {
			go checker.Start(a.ctx)
			a.cleanupTasks = append(a.cleanupTasks, stopTask(checker))
		}
		if mc != nil {
			mc.Start(a.ctx)
		}
		go pruneErrorStats(a.ctx, monitor)
	})
}

// pruneErrorStats 定期清理一天内未再出现的错误统计
func pruneErrorStats(ctx context.Context, monitor *apperrors.ErrorMonitor) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := monitor.Prune(24 * time.Hour); removed > 0 {
				logger.Debug("Pruned error stats", zap.Int("removed", removed))
			}
		}
	}
}

func stopTask(checker *database.HealthChecker) func() error {
	return func() error {
		checker.Stop()
		return nil
	}
}

// Context 在Shutdown时取消
func (a *App) Context() context.Context {
	return a.ctx
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	a.cancel()

	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}
	a.cleanupTasks = nil

	// Flush logger buffers.
	logger.Sync()
}
