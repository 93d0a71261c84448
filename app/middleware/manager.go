package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/config"
	apperrors "github.com/aihub/docqa/internal/errors"
)

const requestStartKey = "request_start"

// rateLimitedRoutes 消耗模型调用的接口
var rateLimitedRoutes = []string{"/index", "/query", "/search"}

// MiddlewareManager 中间件管理器
type MiddlewareManager struct {
	logger       *zap.Logger
	errorHandler *apperrors.ErrorHandler
	rateLimiter  *RateLimiter
}

// NewMiddlewareManager 创建中间件管理器；rateLimit为每分钟每IP请求数，0表示不限流
func NewMiddlewareManager(logger *zap.Logger, errorHandler *apperrors.ErrorHandler, rateLimit int) *MiddlewareManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	mm := &MiddlewareManager{logger: logger, errorHandler: errorHandler}
	if rateLimit > 0 {
		mm.rateLimiter = NewRateLimiter(rateLimit, time.Minute)
	}
	return mm
}

// Apply 在路由表上注册全部过滤器
func (mm *MiddlewareManager) Apply(reg *web.ControllerRegister, cfg config.ServerConfig) error {
	before := []web.FilterFunc{
		mm.requestStart,
		SecurityHeaders(),
		CORSMiddleware(cfg.CORSOrigins),
	}
	for _, filter := range before {
		if err := reg.InsertFilter("/*", web.BeforeRouter, filter); err != nil {
			return err
		}
	}

	if mm.rateLimiter != nil {
		for _, pattern := range rateLimitedRoutes {
			if err := reg.InsertFilter(pattern, web.BeforeRouter, mm.rateLimiter.Filter(mm.errorHandler)); err != nil {
				return err
			}
		}
	}

	return reg.InsertFilter("/*", web.FinishRouter, mm.requestLog, web.WithReturnOnOutput(false))
}

// StartCleanup 定期清理限流器状态，ctx结束时退出
func (mm *MiddlewareManager) StartCleanup(ctx context.Context) {
	if mm.rateLimiter == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(mm.rateLimiter.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mm.rateLimiter.Cleanup()
			}
		}
	}()
}

func (mm *MiddlewareManager) requestStart(ctx *beecontext.Context) {
	ctx.Input.SetData(requestStartKey, time.Now())
}

// requestLog 请求日志，按状态码选择级别
func (mm *MiddlewareManager) requestLog(ctx *beecontext.Context) {
	status := ctx.ResponseWriter.Status
	if status == 0 {
		status = http.StatusOK
	}

	fields := []zap.Field{
		zap.String("method", ctx.Input.Method()),
		zap.String("path", ctx.Input.URL()),
		zap.Int("status", status),
		zap.String("remote_addr", getClientIP(ctx)),
	}
	if start, ok := ctx.Input.GetData(requestStartKey).(time.Time); ok {
		fields = append(fields, zap.Duration("duration", time.Since(start)))
	}

	switch {
	case status >= http.StatusInternalServerError:
		mm.logger.Error("Request completed", fields...)
	case status >= http.StatusBadRequest:
		mm.logger.Warn("Request completed", fields...)
	default:
		mm.logger.Info("Request completed", fields...)
	}
}
