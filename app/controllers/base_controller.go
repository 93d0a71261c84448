package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/beego/beego/v2/server/web"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
	Errors *apperrors.ErrorHandler
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	_ = c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// HandleError renders err through the shared error handler.
func (c *BaseController) HandleError(err error) {
	if c.Errors == nil {
		c.Errors = apperrors.NewErrorHandler(nil, nil)
	}
	c.Errors.Handle(c.Ctx.ResponseWriter, c.Ctx.Request, err)
}

// optionalInt64 解析可选的整数参数，缺省时返回nil
func (c *BaseController) optionalInt64(name string) (*int64, error) {
	raw := strings.TrimSpace(c.GetString(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(name, "must be an integer")
	}
	return &v, nil
}

// optionalString 缺省或空白时返回nil
func (c *BaseController) optionalString(name string) *string {
	raw := strings.TrimSpace(c.GetString(name))
	if raw == "" {
		return nil
	}
	return &raw
}
