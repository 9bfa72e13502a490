package controller

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/middleware"
)

// respondError logs err and replies with its status and a friendly
// message.
func respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= 500 {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	} else {
		slog.Warn("request rejected", "method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": apperr.Friendly(err)})
}

func currentUser(c *gin.Context) string {
	return c.GetString(middleware.KeyUserID)
}
