package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/offpost/mailsync/internal/scheduler"
)

func (h *Handlers) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.Status()})
}

// RunJob runs one job synchronously and returns its result. A failed run
// still returns whatever partial result the job produced.
func (h *Handlers) RunJob(c *gin.Context) {
	name := c.Param("job")

	result, err := h.jobs.Trigger(c.Request.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		h.log.WithError(err).WithField("job", name).Warn("Triggered job failed")
		c.JSON(http.StatusInternalServerError, gin.H{"job": name, "error": err.Error(), "result": result})
	default:
		c.JSON(http.StatusOK, gin.H{"job": name, "result": result})
	}
}
