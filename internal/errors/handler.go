package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorResponse 错误响应体，与成功响应共用success字段
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// ErrorBody 错误响应内容
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger     *zap.Logger
	monitor    *ErrorMonitor
	translator *ErrorTranslator
}

// NewErrorHandler 创建错误处理器；monitor可为nil
func NewErrorHandler(logger *zap.Logger, monitor *ErrorMonitor) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger, monitor: monitor, translator: NewErrorTranslator()}
}

// Handle 处理错误并转换为HTTP响应
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	start := time.Now()
	appErr := h.translator.Translate(err)
	if appErr == nil {
		appErr = NewSystemError(ErrCodeInternalServer, "Internal server error")
	}

	if h.monitor != nil {
		h.monitor.RecordError(appErr, r.URL.Path, time.Since(start))
	}
	h.logError(appErr, r)

	body := ErrorBody{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Type:    getErrorTypeString(appErr.Type),
	}
	if appErr.Details != nil && shouldIncludeDetails(appErr) {
		body.Details = appErr.Details
	}

	jsonResponse, jsonErr := json.Marshal(ErrorResponse{Error: body})
	if jsonErr != nil {
		h.logger.Error("Failed to marshal error response", zap.Error(jsonErr))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"success": false, "error": {"code": "INTERNAL_SERVER_ERROR", "message": "Failed to process error response"}}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPCode)
	_, _ = w.Write(jsonResponse)
}

// HandlePanic 处理panic并转换为错误响应
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	err := fmt.Errorf("panic recovered: %v", recovered)
	h.logger.Error("Panic recovered",
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.ByteString("stack", debug.Stack()))

	h.Handle(w, r, NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err))
}

// Middleware 创建panic恢复中间件
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				h.HandlePanic(w, r, recovered)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// logError 按错误类型选择日志级别
func (h *ErrorHandler) logError(appErr *AppError, r *http.Request) {
	fields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_type", getErrorTypeString(appErr.Type)),
		zap.Int("http_code", appErr.HTTPCode),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", getClientIP(r)),
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.String("cause", appErr.Cause.Error()))
	}

	switch appErr.Type {
	case ErrorTypeSystem:
		h.logger.Error(appErr.Message, fields...)
	case ErrorTypeBusiness, ErrorTypeExternal:
		h.logger.Warn(appErr.Message, fields...)
	default:
		h.logger.Info(appErr.Message, fields...)
	}
}

// getErrorTypeString 获取错误类型字符串
func getErrorTypeString(errorType ErrorType) string {
	switch errorType {
	case ErrorTypeSystem:
		return "system"
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// shouldIncludeDetails 系统错误和外部错误不暴露详情
func shouldIncludeDetails(appErr *AppError) bool {
	return appErr.Type == ErrorTypeValidation || appErr.Type == ErrorTypeBusiness
}

// getClientIP 获取客户端IP地址
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For可能包含多个IP，取第一个
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return strings.Split(r.RemoteAddr, ":")[0]
}
