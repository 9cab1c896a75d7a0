package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/middleware"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/pkg/errcode"
	"github.com/xxxsen/ragkb/internal/pkg/response"
)

var errorMapper = response.NewMapper(errcode.ErrInternal, "internal error",
	response.Rule{Match: appErr.IsNotFound, Code: errcode.ErrNotFound, Text: "not found"},
	response.Rule{Match: appErr.IsInvalid, Code: errcode.ErrInvalid, Expose: true},
	response.Rule{Match: appErr.IsConflict, Code: errcode.ErrConflict, Text: "conflict"},
	response.Rule{Match: func(err error) bool { return errors.Is(err, ai.ErrNoProvider) }, Code: errcode.ErrNoProvider, Text: "no embedding provider enabled"},
	response.Rule{Match: isAs[*ai.ConfigurationError], Code: errcode.ErrProviderConfig, Expose: true},
	response.Rule{Match: isAs[*ai.RateLimitError], Code: errcode.ErrProviderRateLimit, Text: "provider rate limited"},
	response.Rule{Match: isAs[*ai.APIError], Code: errcode.ErrProviderAPI, Text: "provider request failed"},
)

func isAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	errorMapper.Fail(c, err)
}

func badRequest(c *gin.Context, msg string) {
	response.Error(c, errcode.ErrInvalid, msg)
}

// intQuery reads a non-negative integer query parameter. Missing values
// yield def; malformed or negative values are reported as false.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func boolQuery(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
