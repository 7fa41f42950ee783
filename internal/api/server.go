// Package api exposes schedules, manual runs and execution history over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/history"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/metrics"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recurrence"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/schedule"
)

const (
	defaultPreviewCount = 5
	defaultHistoryLimit = 20
	maxRunWait          = 60 * time.Second
)

// Queue accepts manual execution requests
type Queue interface {
	Enqueue(ctx context.Context, req *execution.Request) error
}

// depthReporter is implemented by queues that can report their lengths
type depthReporter interface {
	Depths(ctx context.Context) (map[string]int64, error)
}

// Server routes HTTP requests to the schedule service, the queue and the history
type Server struct {
	schedules *schedule.Service
	queue     Queue
	history   history.Store
	metrics   *metrics.Collector
	clock     schedule.Clock
	router    *gin.Engine
	log       logger.Logger
}

// NewServer builds the router. hist may be nil, in which case the execution
// endpoints answer 503.
func NewServer(schedules *schedule.Service, queue Queue, hist history.Store, collector *metrics.Collector) *Server {
	if collector == nil {
		collector = metrics.Default()
	}
	s := &Server{
		schedules: schedules,
		queue:     queue,
		history:   hist,
		metrics:   collector,
		clock:     schedule.SystemClock{},
		router:    gin.New(),
		log:       logger.Default().WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.health)

	api := s.router.Group("/api/v1")

	schedules := api.Group("/schedules")
	{
		schedules.POST("", s.createSchedule)
		schedules.GET("", s.listSchedules)
		schedules.GET("/:id", s.getSchedule)
		schedules.PUT("/:id/rule", s.updateRule)
		schedules.PUT("/:id/enable", s.enableSchedule)
		schedules.PUT("/:id/disable", s.disableSchedule)
		schedules.DELETE("/:id", s.deleteSchedule)
	}

	api.POST("/rules/preview", s.previewRule)

	api.POST("/report-configs/:id/run", s.runReport)
	api.GET("/report-configs/:id/executions", s.listExecutions)
	api.GET("/executions/:id", s.getExecution)

	api.GET("/metrics", s.getMetrics)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))

		start := time.Now()
		c.Next()

		s.log.DebugContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}

// respondError maps domain errors to status codes
func (s *Server) respondError(c *gin.Context, err error) {
	var invalid *recurrence.InvalidRuleError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": invalid.Reason, "field": invalid.Field})
	case errors.Is(err, schedule.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.log.ErrorContext(c.Request.Context(), "Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createScheduleRequest struct {
	ReportConfigID string          `json:"reportConfigId"`
	Rule           recurrence.Spec `json:"rule"`
	Enabled        *bool           `json:"enabled"`
}

func (s *Server) createSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ReportConfigID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reportConfigId is required", "field": "reportConfigId"})
		return
	}

	rule, err := req.Rule.Rule()
	if err != nil {
		s.respondError(c, err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	created, err := s.schedules.Create(c.Request.Context(), req.ReportConfigID, rule, enabled)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.log.InfoContext(c.Request.Context(), "Schedule created",
		"schedule_id", created.ID, "report_config_id", created.ReportConfigID, "rule", created.Describe())
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listSchedules(c *gin.Context) {
	var (
		list []*schedule.Schedule
		err  error
	)
	if reportConfigID := c.Query("reportConfigId"); reportConfigID != "" {
		list, err = s.schedules.ListByReportConfig(c.Request.Context(), reportConfigID)
	} else {
		list, err = s.schedules.List(c.Request.Context())
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	if list == nil {
		list = []*schedule.Schedule{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getSchedule(c *gin.Context) {
	found, err := s.schedules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (s *Server) updateRule(c *gin.Context) {
	var spec recurrence.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := spec.Rule()
	if err != nil {
		s.respondError(c, err)
		return
	}

	updated, err := s.schedules.UpdateRule(c.Request.Context(), c.Param("id"), rule)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) enableSchedule(c *gin.Context) {
	s.setEnabled(c, true)
}

func (s *Server) disableSchedule(c *gin.Context) {
	s.setEnabled(c, false)
}

func (s *Server) setEnabled(c *gin.Context, enabled bool) {
	updated, err := s.schedules.SetEnabled(c.Request.Context(), c.Param("id"), enabled)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	if err := s.schedules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type previewRequest struct {
	Rule  recurrence.Spec `json:"rule"`
	Count int             `json:"count"`
}

type previewResponse struct {
	Description    string      `json:"description"`
	CronExpression string      `json:"cronExpression,omitempty"`
	NextRuns       []time.Time `json:"nextRuns"`
}

func (s *Server) previewRule(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Count == 0 {
		req.Count = defaultPreviewCount
	}
	if req.Count < 1 || req.Count > 50 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be between 1 and 50", "field": "count"})
		return
	}

	rule, err := req.Rule.Rule()
	if err != nil {
		s.respondError(c, err)
		return
	}
	next, err := s.schedules.Preview(rule, req.Count)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := previewResponse{Description: recurrence.Describe(rule), NextRuns: next}
	// Monthly rules past the 28th have no cron equivalent
	if expr, err := recurrence.CronExpression(rule); err == nil {
		resp.CronExpression = expr
	}
	c.JSON(http.StatusOK, resp)
}

type runResponse struct {
	RequestID string            `json:"requestId"`
	Status    execution.Status  `json:"status"`
	Result    *execution.Result `json:"result,omitempty"`
}

// runReport enqueues a manual run. With ?wait=<duration> it blocks until the
// result is recorded or the wait elapses.
func (s *Server) runReport(c *gin.Context) {
	ctx := c.Request.Context()
	req := execution.NewManual(c.Param("id"), s.clock.Now())

	var wait time.Duration
	if raw := c.Query("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wait must be a positive duration", "field": "wait"})
			return
		}
		wait = min(d, maxRunWait)
	}
	if wait > 0 && s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history is disabled"})
		return
	}

	if err := s.queue.Enqueue(ctx, req); err != nil {
		s.log.ErrorContext(ctx, "Failed to enqueue manual run", "report_config_id", req.ReportConfigID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue execution request"})
		return
	}
	s.log.InfoContext(ctx, "Manual run requested", "report_config_id", req.ReportConfigID, "request_id", req.ID)

	resp := runResponse{RequestID: req.ID, Status: execution.StatusPending}
	if wait > 0 {
		result, err := s.history.WaitForResult(ctx, req.ID, wait)
		if err != nil {
			s.log.WarnContext(ctx, "Waiting for result failed", "request_id", req.ID, "error", err)
		}
		if result != nil {
			resp.Status = result.Status
			resp.Result = result
			c.JSON(http.StatusOK, resp)
			return
		}
	}
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) getExecution(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history is disabled"})
		return
	}
	result, err := s.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution result not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listExecutions(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history is disabled"})
		return
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer", "field": "limit"})
			return
		}
		limit = l
	}

	results, err := s.history.ListByReportConfig(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if results == nil {
		results = []*execution.Result{}
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) getMetrics(c *gin.Context) {
	if q, ok := s.queue.(depthReporter); ok {
		if depths, err := q.Depths(c.Request.Context()); err == nil {
			s.metrics.RecordQueueDepths(depths)
		} else {
			s.log.WarnContext(c.Request.Context(), "Failed to read queue depths", "error", err)
		}
	}
	c.JSON(http.StatusOK, s.metrics.GetMetrics())
}

// SetClock replaces the clock used to stamp manual requests
func (s *Server) SetClock(clock schedule.Clock) {
	s.clock = clock
}

// SetLogger replaces the server's logger
func (s *Server) SetLogger(l logger.Logger) {
	s.log = l.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)
}
