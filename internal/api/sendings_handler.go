package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/models"
)

type createSendingRequest struct {
	ThreadID      string `json:"thread_id" binding:"required"`
	EmailTo       string `json:"email_to" binding:"required"`
	EmailFrom     string `json:"email_from"`
	EmailFromName string `json:"email_from_name"`
	EmailSubject  string `json:"email_subject" binding:"required"`
	EmailBody     string `json:"email_body"`
	// Ready releases the draft for delivery right away.
	Ready bool `json:"ready"`
}

func (h *Handlers) ListSendings(c *gin.Context) {
	sendings, err := db.ListSendings(c.Request.Context(), h.pool, c.Query("thread_id"))
	if err != nil {
		h.internalError(c, "Failed to list sendings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sendings": sendings})
}

func (h *Handlers) CreateSending(c *gin.Context) {
	var body createSendingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := uuid.Parse(body.ThreadID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread_id"})
		return
	}

	ctx := c.Request.Context()
	req := &models.OutboundSendRequest{
		ThreadID:      body.ThreadID,
		EmailTo:       body.EmailTo,
		EmailFrom:     body.EmailFrom,
		EmailFromName: body.EmailFromName,
		EmailSubject:  body.EmailSubject,
		EmailBody:     body.EmailBody,
	}

	enqueue := h.queue.Enqueue
	if body.Ready {
		enqueue = h.queue.EnqueueReady
	}

	err := enqueue(ctx, req)
	if errors.Is(err, db.ErrThreadNotFound) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "thread not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to enqueue sending", err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

func (h *Handlers) MarkSendingReady(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	err := h.queue.MarkReady(c.Request.Context(), id)
	switch {
	case errors.Is(err, db.ErrSendingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "sending not found"})
	case errors.Is(err, db.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.internalError(c, "Failed to mark sending ready", err)
	default:
		c.JSON(http.StatusOK, gin.H{"id": id, "status": models.SendingStatusReadyForSending})
	}
}
