// Package server exposes the controller over a small JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"audiodesk/internal/bootstrap"
	"audiodesk/internal/config"
	"audiodesk/internal/controller"
	"audiodesk/internal/jobs"
)

// Response is the standard API response structure
type Response struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

// RecordRequest is the request body for POST /api/record. Duration is the
// raw user input in seconds; empty uses record_duration.
type RecordRequest struct {
	Duration string `json:"duration"`
}

// SliceRequest is the request body for POST /api/slice. SplitMs is the raw
// user input in milliseconds; empty uses slice_time_ms.
type SliceRequest struct {
	Path    string `json:"path"`
	SplitMs string `json:"split_ms"`
}

// TranscribeRequest is the request body for POST /api/transcribe.
type TranscribeRequest struct {
	Path string `json:"path"`
}

// ConfigSetRequest is the request body for POST /api/settings
type ConfigSetRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

// Options configures the HTTP server.
type Options struct {
	Addr   string
	APIKey string
	Logger zerolog.Logger
}

// Server is the HTTP control surface.
type Server struct {
	svc    *bootstrap.Services
	apiKey string
	addr   string
	log    zerolog.Logger
	engine *gin.Engine
	server *http.Server
}

// New builds the server and its routes.
func New(svc *bootstrap.Services, opts Options) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:8765"
	}
	s := &Server{
		svc:    svc,
		apiKey: opts.APIKey,
		addr:   addr,
		log:    opts.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.loggingMiddleware())
	if s.apiKey != "" {
		s.engine.Use(s.authMiddleware())
	}

	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/state", s.handleState)
	api.GET("/task", s.handleTask)
	api.GET("/events", s.handleEvents)
	api.POST("/record", s.handleRecord)
	api.POST("/slice", s.handleSlice)
	api.POST("/transcribe", s.handleTranscribe)
	api.POST("/cancel", s.handleCancel)
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handleUpdateSettings)
	api.POST("/settings", s.handleSetSetting)
	api.GET("/diagnostics", s.handleDiagnostics)
	api.POST("/diagnostics/:id/fix", s.handleFix)
	api.GET("/models", s.handleModels)
	api.POST("/models/:id/download", s.handleDownloadModel)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, Response{Code: 404, Message: "not found"})
	})

	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Bool("auth", s.apiKey != "").Msg("http server listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Middleware

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != s.apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Code:    401,
				Message: "invalid or missing API key",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code:    200,
		Data:    gin.H{"status": "ok", "busy": s.svc.Executor.Busy()},
		Message: "everything is good",
	})
}

func (s *Server) handleState(c *gin.Context) {
	ok(c, s.svc.Controller.Snapshot(), "")
}

func (s *Server) handleTask(c *gin.Context) {
	task := s.svc.Executor.Current()
	ok(c, task, string(task.Status))
}

func (s *Server) handleEvents(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}
	events := s.svc.Executor.Events().Since(since)
	ok(c, gin.H{"events": events}, fmt.Sprintf("%d events", len(events)))
}

func (s *Server) handleRecord(c *gin.Context) {
	var req RecordRequest
	if !bindOptional(c, &req) {
		return
	}
	input := req.Duration
	if strings.TrimSpace(input) == "" {
		input = strconv.Itoa(s.svc.Settings().RecordDuration)
	}

	if _, err := s.svc.Controller.Record(input); err != nil {
		s.taskError(c, err)
		return
	}
	accepted(c, s.svc.Executor.Current(), "recording started")
}

func (s *Server) handleSlice(c *gin.Context) {
	var req SliceRequest
	if !bindOptional(c, &req) {
		return
	}
	input := req.SplitMs
	if strings.TrimSpace(input) == "" {
		input = strconv.Itoa(s.svc.Settings().SliceTimeMs)
	}

	if _, err := s.svc.Controller.Slice(req.Path, input); err != nil {
		s.taskError(c, err)
		return
	}
	accepted(c, s.svc.Executor.Current(), "slice started")
}

func (s *Server) handleTranscribe(c *gin.Context) {
	var req TranscribeRequest
	if !bindOptional(c, &req) {
		return
	}

	if _, err := s.svc.Controller.Transcribe(req.Path); err != nil {
		s.taskError(c, err)
		return
	}
	accepted(c, s.svc.Executor.Current(), "transcription started")
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.svc.Controller.Cancel(); err != nil {
		s.taskError(c, err)
		return
	}
	ok(c, s.svc.Executor.Current(), "cancellation requested")
}

func (s *Server) handleGetSettings(c *gin.Context) {
	ok(c, s.svc.Settings(), "")
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	settings := s.svc.Settings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	saved, err := s.svc.SaveSettings(settings)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, saved, "settings saved")
}

func (s *Server) handleSetSetting(c *gin.Context) {
	var req ConfigSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: key is required")
		return
	}

	settings := s.svc.Settings()
	if err := config.Apply(&settings, req.Key, req.Value); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := s.svc.SaveSettings(settings)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, saved, fmt.Sprintf("%s updated", req.Key))
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	report := s.svc.Diagnostics()
	if c.Query("refresh") == "true" {
		report = s.svc.RefreshDiagnostics()
	}
	ok(c, report, "")
}

func (s *Server) handleFix(c *gin.Context) {
	report, err := s.svc.Fix(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, Response{Code: 422, Data: report, Message: err.Error()})
		return
	}
	ok(c, report, "fixed")
}

func (s *Server) handleModels(c *gin.Context) {
	models := s.svc.Models()
	ok(c, gin.H{"models": models}, fmt.Sprintf("%d models", len(models)))
}

func (s *Server) handleDownloadModel(c *gin.Context) {
	settings, err := s.svc.DownloadModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	ok(c, settings, "model downloaded")
}

// taskError maps controller errors to HTTP statuses.
func (s *Server) taskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, controller.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrTaskAlreadyRunning), errors.Is(err, jobs.ErrNoRunningTask):
		fail(c, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("task request failed")
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

// bindOptional decodes a JSON body when one is present.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func ok(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, Response{Code: 200, Data: data, Message: message})
}

func accepted(c *gin.Context, data any, message string) {
	c.JSON(http.StatusAccepted, Response{Code: 202, Data: data, Message: message})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Code: status, Message: message})
}
