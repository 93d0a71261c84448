package controllers

import (
	"net/http"

	"github.com/aihub/docqa/internal/database"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string                       `json:"status"`
	Checks []database.HealthCheckResult `json:"checks,omitempty"`
}

// HealthController 健康检查
type HealthController struct {
	BaseController
	Checkers []*database.HealthChecker
}

// Health 汇总各依赖的最近一次检查结果，任一不健康即返回503
func (c *HealthController) Health() {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	for _, checker := range c.Checkers {
		result := checker.GetHealthResult()
		resp.Checks = append(resp.Checks, result)
		if !result.Healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, resp)
}
