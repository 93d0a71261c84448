package database

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pinger 可探活的依赖，*sql.DB 与 *redis.Client 的包装都满足
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc 将函数适配为Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthChecker 外部依赖健康检查器
type HealthChecker struct {
	name          string
	target        Pinger
	logger        *logrus.Logger
	checkInterval time.Duration
	timeout       time.Duration
	isHealthy     bool
	lastCheck     time.Time
	lastError     error
	responseTime  time.Duration
	mu            sync.RWMutex
	stopChan      chan struct{}
	stopOnce      sync.Once
	running       bool
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Name         string    `json:"name"`
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastError    string    `json:"last_error,omitempty"`
	ResponseTime string    `json:"response_time,omitempty"`
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(name string, target Pinger, logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		name:          name,
		target:        target,
		logger:        logger,
		checkInterval: 30 * time.Second,
		timeout:       5 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// Name 依赖名称
func (hc *HealthChecker) Name() string {
	return hc.name
}

// SetCheckInterval 设置检查间隔
func (hc *HealthChecker) SetCheckInterval(interval time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkInterval = interval
}

// Start 周期检查，阻塞直到ctx取消或Stop
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	interval := hc.checkInterval
	hc.mu.Unlock()

	hc.logger.WithField("component", hc.name).Info("Starting health checker")
	_ = hc.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hc.setStopped()
			return
		case <-hc.stopChan:
			hc.setStopped()
			return
		case <-ticker.C:
			_ = hc.Check(ctx)
		}
	}
}

func (hc *HealthChecker) setStopped() {
	hc.mu.Lock()
	hc.running = false
	hc.mu.Unlock()
	hc.logger.WithField("component", hc.name).Info("Health checker stopped")
}

// Stop 停止周期检查，可重复调用
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}

// Check 执行单次检查
func (hc *HealthChecker) Check(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	err := hc.target.PingContext(ctx)
	responseTime := time.Since(start)

	hc.mu.Lock()
	wasHealthy := hc.isHealthy
	hc.lastCheck = time.Now()
	hc.responseTime = responseTime
	hc.lastError = err
	hc.isHealthy = err == nil
	hc.mu.Unlock()

	fields := logrus.Fields{"component": hc.name, "response_time": responseTime}
	if err != nil {
		fields["error"] = err.Error()
		hc.logger.WithFields(fields).Warn("Health check failed")
		return err
	}
	if !wasHealthy {
		hc.logger.WithFields(fields).Info("Connection restored")
	}
	return nil
}

// IsHealthy 当前健康状态
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.isHealthy
}

// GetHealthResult 获取健康检查结果
func (hc *HealthChecker) GetHealthResult() HealthCheckResult {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result := HealthCheckResult{
		Name:      hc.name,
		Healthy:   hc.isHealthy,
		LastCheck: hc.lastCheck,
	}
	if hc.lastError != nil {
		result.LastError = hc.lastError.Error()
	}
	if !hc.lastCheck.IsZero() {
		result.ResponseTime = hc.responseTime.String()
	}
	return result
}

// WaitForHealthy 等待依赖变为健康
func (hc *HealthChecker) WaitForHealthy(ctx context.Context, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if hc.IsHealthy() {
			return nil
		}
		select {
		case <-timeoutCtx.Done():
			return timeoutCtx.Err()
		case <-ticker.C:
		}
	}
}
