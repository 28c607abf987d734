package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/offpost/mailsync/internal/db"
)

func (h *Handlers) ListFolders(c *gin.Context) {
	statuses, err := db.ListFolderStatuses(c.Request.Context(), h.pool)
	if err != nil {
		h.internalError(c, "Failed to list folder statuses", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": statuses})
}

// ListFolderLogs returns the newest receive log entries, optionally for one folder.
func (h *Handlers) ListFolderLogs(c *gin.Context) {
	entries, err := db.ListLogs(c.Request.Context(), h.pool, c.Query("folder"), parseLimit(c, 100))
	if err != nil {
		h.internalError(c, "Failed to list folder logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}
