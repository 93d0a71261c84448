package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"golang.org/x/time/rate"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// SecurityHeaders 安全头中间件
func SecurityHeaders() web.FilterFunc {
	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	return func(ctx *beecontext.Context) {
		for key, value := range headers {
			ctx.Output.Header(key, value)
		}
	}
}

// RateLimiter 按客户端IP的令牌桶限流器，窗口内最多requests次
type RateLimiter struct {
	mu       sync.Mutex
	requests int
	window   time.Duration
	clients  map[string]*clientLimiter
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: requests,
		window:   window,
		clients:  make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, ok := rl.clients[clientIP]
	if !ok {
		client = &clientLimiter{
			limiter: rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.requests)), rl.requests),
		}
		rl.clients[clientIP] = client
	}
	client.lastSeen = now
	return client.limiter.AllowN(now, 1)
}

// Cleanup 移除一个窗口内没有请求的客户端
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	idleSince := rl.now().Add(-rl.window)
	removed := 0
	for clientIP, client := range rl.clients {
		if !client.lastSeen.After(idleSince) {
			delete(rl.clients, clientIP)
			removed++
		}
	}
	return removed
}

// Filter 超出限额时返回429
func (rl *RateLimiter) Filter(errorHandler *apperrors.ErrorHandler) web.FilterFunc {
	return func(ctx *beecontext.Context) {
		if rl.Allow(getClientIP(ctx)) {
			return
		}
		errorHandler.Handle(ctx.ResponseWriter, ctx.Request,
			apperrors.NewBusinessError(apperrors.ErrCodeRateLimited, "Too many requests"))
	}
}

// getClientIP 获取客户端IP地址
func getClientIP(ctx *beecontext.Context) string {
	if xff := ctx.Input.Header("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := ctx.Input.Header("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return ctx.Input.IP()
}
