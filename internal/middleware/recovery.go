package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/logger"
	"github.com/classline/classline/pkg/response"
)

// Recovery turns panics into a JSON 500 without leaking the panic value.
func Recovery() gin.HandlerFunc {
	log := logger.WithModule("http")

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", r),
				)
				c.Abort()
				response.Error(c, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}

// NotFoundHandler serves a JSON 404 for unmatched routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, apperrors.New("NOT_FOUND",
		fmt.Sprintf("route %s not found", c.Request.URL.Path), http.StatusNotFound))
}
