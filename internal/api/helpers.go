package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// parseLimit reads the limit query parameter, falling back to defaultLimit
// when it is missing or invalid.
func parseLimit(c *gin.Context, defaultLimit int) int {
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 {
		return parsed
	}
	return defaultLimit
}

// uuidParam reads a UUID path parameter and answers 400 when it is malformed.
func uuidParam(c *gin.Context, name string) (string, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return "", false
	}
	return id.String(), true
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// internalError logs err and answers 500 without leaking details.
func (h *Handlers) internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	h.log.WithError(err).WithField("path", c.Request.URL.Path).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
