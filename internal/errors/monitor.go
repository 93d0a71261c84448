package errors

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorMonitor API错误监控器
type ErrorMonitor struct {
	errorCounter *prometheus.CounterVec
	responseTime *prometheus.HistogramVec

	stats      map[string]*ErrorStats
	statsMutex sync.RWMutex
	now        func() time.Time
}

// ErrorStats 错误统计信息
type ErrorStats struct {
	Code        string        `json:"code"`
	Type        string        `json:"type"`
	Endpoint    string        `json:"endpoint"`
	Count       int64         `json:"count"`
	FirstSeen   time.Time     `json:"first_seen"`
	LastSeen    time.Time     `json:"last_seen"`
	AvgResponse time.Duration `json:"avg_response"`
}

// NewErrorMonitor 创建错误监控器；reg为nil时注册到默认注册表
func NewErrorMonitor(reg prometheus.Registerer) *ErrorMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ErrorMonitor{
		errorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_api_errors_total",
				Help: "Total number of API errors by code and type",
			},
			[]string{"code", "type", "endpoint"},
		),
		responseTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_api_error_response_seconds",
				Help:    "Time spent rendering error responses",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"code", "endpoint"},
		),
		stats: make(map[string]*ErrorStats),
		now:   time.Now,
	}
}

// RecordError 记录错误
func (em *ErrorMonitor) RecordError(appErr *AppError, endpoint string, responseTime time.Duration) {
	if appErr == nil {
		return
	}

	em.errorCounter.WithLabelValues(string(appErr.Code), getErrorTypeString(appErr.Type), endpoint).Inc()
	em.responseTime.WithLabelValues(string(appErr.Code), endpoint).Observe(responseTime.Seconds())
	em.updateStats(appErr, endpoint, responseTime)
}

// updateStats 更新内存统计
func (em *ErrorMonitor) updateStats(appErr *AppError, endpoint string, responseTime time.Duration) {
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	now := em.now()
	key := string(appErr.Code) + ":" + endpoint

	stats, exists := em.stats[key]
	if !exists {
		stats = &ErrorStats{
			Code:      string(appErr.Code),
			Type:      getErrorTypeString(appErr.Type),
			Endpoint:  endpoint,
			FirstSeen: now,
		}
		em.stats[key] = stats
	}

	stats.Count++
	stats.LastSeen = now

	// 累计平均
	stats.AvgResponse += (responseTime - stats.AvgResponse) / time.Duration(stats.Count)
}

// GetTopErrors 获取最常见的错误
func (em *ErrorMonitor) GetTopErrors(limit int) []ErrorStats {
	em.statsMutex.RLock()
	statsList := make([]ErrorStats, 0, len(em.stats))
	for _, stats := range em.stats {
		statsList = append(statsList, *stats)
	}
	em.statsMutex.RUnlock()

	sort.Slice(statsList, func(i, j int) bool {
		if statsList[i].Count != statsList[j].Count {
			return statsList[i].Count > statsList[j].Count
		}
		return statsList[i].Code+statsList[i].Endpoint < statsList[j].Code+statsList[j].Endpoint
	})

	if limit > 0 && len(statsList) > limit {
		statsList = statsList[:limit]
	}
	return statsList
}

// Prune 清理maxAge之前最后出现的统计
func (em *ErrorMonitor) Prune(maxAge time.Duration) int {
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	threshold := em.now().Add(-maxAge)
	removed := 0
	for key, stats := range em.stats {
		if stats.LastSeen.Before(threshold) {
			delete(em.stats, key)
			removed++
		}
	}
	return removed
}

// Reset 重置所有统计信息
func (em *ErrorMonitor) Reset() {
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	em.stats = make(map[string]*ErrorStats)
}
