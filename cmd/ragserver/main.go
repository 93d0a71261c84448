package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/aihub/docqa/app/bootstrap"
	"github.com/aihub/docqa/app/controllers"
	"github.com/aihub/docqa/app/middleware"
	"github.com/aihub/docqa/app/router"
	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/logger"
)

func main() {
	app, err := bootstrap.Init(bootstrap.DefaultOptions)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	cfg := app.Config

	// 配置Beego全局设置
	web.BConfig.AppName = cfg.App.Name
	web.BConfig.RunMode = web.PROD
	if cfg.App.Env == "development" {
		web.BConfig.RunMode = web.DEV
	}
	web.BConfig.Listen.HTTPPort = cfg.Server.Port
	web.BConfig.CopyRequestBody = false
	web.BConfig.MaxMemory = cfg.Server.MaxUploadSize
	web.BConfig.MaxUploadSize = cfg.Server.MaxUploadSize

	if err := router.Init(controllers.NewControllerFactory(app.Container)); err != nil {
		logger.Fatal("Failed to register routes", zap.Error(err))
	}

	var errorHandler *apperrors.ErrorHandler
	err = app.Container.Invoke(func(h *apperrors.ErrorHandler, zl *zap.Logger) error {
		errorHandler = h
		mm := middleware.NewMiddlewareManager(zl, h, cfg.Server.RateLimit)
		mm.StartCleanup(app.Context())
		return mm.Apply(web.BeeApp.Handlers, cfg.Server)
	})
	if err != nil {
		logger.Fatal("Failed to apply middlewares", zap.Error(err))
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		app.Shutdown()
		os.Exit(0)
	}()

	logger.Info("Starting docqa server", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.RunWithMiddleWares("", errorHandler.Middleware)
}
