package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/db"
)

type resolveRequest struct {
	ThreadID string `json:"thread_id" binding:"required"`
	Note     string `json:"note"`
}

type dismissRequest struct {
	Note string `json:"note"`
}

func (h *Handlers) ListUnmatched(c *gin.Context) {
	records, err := db.ListUnmatched(c.Request.Context(), h.pool, c.Query("include_resolved") == "true")
	if err != nil {
		h.internalError(c, "Failed to list unmatched messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unmatched": records})
}

// ResolveUnmatched pins the record's message to a thread. The next routing
// run moves it.
func (h *Handlers) ResolveUnmatched(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := uuid.Parse(req.ThreadID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread_id"})
		return
	}

	err := db.ResolveUnmatched(c.Request.Context(), h.pool, id, req.ThreadID, req.Note)
	switch {
	case errors.Is(err, db.ErrUnmatchedNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unmatched message not found or already resolved"})
	case errors.Is(err, db.ErrThreadNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "thread not found"})
	case err != nil:
		h.internalError(c, "Failed to resolve unmatched message", err)
	default:
		h.log.WithFields(logrus.Fields{"id": id, "thread_id": req.ThreadID}).Info("Unmatched message resolved")
		c.JSON(http.StatusOK, gin.H{"resolved": id})
	}
}

func (h *Handlers) DismissUnmatched(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	var req dismissRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	err := db.DismissUnmatched(c.Request.Context(), h.pool, id, req.Note)
	if errors.Is(err, db.ErrUnmatchedNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unmatched message not found or already resolved"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to dismiss unmatched message", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dismissed": id})
}
