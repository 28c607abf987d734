package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/auth"
)

// NewRouter wires all routes. Everything under /api/v1 needs the admin token.
func NewRouter(h *Handlers, adminToken string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.log))

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.Use(auth.RequireToken(adminToken, h.log))
	{
		v1.GET("/jobs", h.ListJobs)
		v1.POST("/jobs/:job/run", h.RunJob)

		v1.GET("/threads", h.ListThreads)
		v1.GET("/threads/:id", h.GetThread)

		v1.GET("/folders", h.ListFolders)
		v1.GET("/folders/logs", h.ListFolderLogs)

		v1.GET("/unmatched", h.ListUnmatched)
		v1.POST("/unmatched/:id/resolve", h.ResolveUnmatched)
		v1.POST("/unmatched/:id/dismiss", h.DismissUnmatched)

		v1.GET("/sendings", h.ListSendings)
		v1.POST("/sendings", h.CreateSending)
		v1.POST("/sendings/:id/ready", h.MarkSendingReady)
	}

	return r
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Debug("Request handled")
	}
}
