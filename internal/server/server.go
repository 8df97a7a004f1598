package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/runpod"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type JobHandler interface {
	Handle(context.Context, job.Job) (job.Result, error)
}

// Server exposes the handler over a runsync-style HTTP API. Jobs run one at
// a time since the backend holds a single model.
type Server struct {
	handler JobHandler
	logger  *slog.Logger
	mu      sync.Mutex
}

func New(handler JobHandler, logger *slog.Logger) *Server {
	return &Server{handler: handler, logger: logger}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggerMiddleware(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.POST("/runsync", s.runSync)
	return r
}

func (s *Server) runSync(c *gin.Context) {
	var j job.Job
	if err := c.ShouldBindJSON(&j); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}

	ctx := log.NewContext(c.Request.Context(), s.logger)
	start := time.Now()

	s.mu.Lock()
	delay := time.Since(start)
	res, _ := s.handler.Handle(ctx, j)
	s.mu.Unlock()

	output, err := json.Marshal(res)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := runpod.Response{
		ID:            j.ID,
		Status:        runpod.StatusCompleted,
		Output:        output,
		DelayTime:     delay.Milliseconds(),
		ExecutionTime: (time.Since(start) - delay).Milliseconds(),
	}
	if res.Failed() {
		resp.Status = runpod.StatusFailed
		resp.Error = res.Error
	}
	c.JSON(http.StatusOK, resp)
}

func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
