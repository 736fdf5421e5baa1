package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/response"
)

// Health returns a simple status payload useful for liveness checks.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

// Ready verifies database connectivity for readiness checks.
func Ready(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(requestContext(c))
		}
		if err != nil {
			response.Error(c, errors.ErrServiceUnavailable)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ready"})
	}
}
