package apihttp

import (
	"net/http"
	"strings"

	"candlelab/internal/apperr"
	"candlelab/internal/exchange"
	"candlelab/internal/logger"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindBuild:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError 按错误分类映射状态码，响应体为 {"error": kind, "message": text}。
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: kind.String(), Message: err.Error()})
}

func knownExchange(client exchange.Client, name string) error {
	for _, ex := range client.Exchanges() {
		if strings.EqualFold(ex, strings.TrimSpace(name)) {
			return nil
		}
	}
	return apperr.InvalidField("exchange", name)
}
