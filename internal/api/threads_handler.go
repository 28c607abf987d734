package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/offpost/mailsync/internal/db"
)

func (h *Handlers) ListThreads(c *gin.Context) {
	threads, err := db.ListThreads(c.Request.Context(), h.pool)
	if err != nil {
		h.internalError(c, "Failed to list threads", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// GetThread returns the thread with its emails in receive order.
func (h *Handlers) GetThread(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	thread, err := db.GetThreadByID(ctx, h.pool, id)
	if errors.Is(err, db.ErrThreadNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to get thread", err)
		return
	}

	emails, err := db.ListThreadEmails(ctx, h.pool, id)
	if err != nil {
		h.internalError(c, "Failed to list thread emails", err)
		return
	}
	thread.Emails = emails

	c.JSON(http.StatusOK, thread)
}
