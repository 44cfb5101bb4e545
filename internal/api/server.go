// Package api exposes the pipeline controller over HTTP: ingest, schema,
// analyze, download, insights, and lineage endpoints, wrapped in the
// request-id/auth/CORS/rate-limit middleware stack §6 describes.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/concentra-io/concentra/internal/config"
	"github.com/concentra-io/concentra/internal/pipeline"
	"github.com/concentra-io/concentra/internal/ratelimit"
	"github.com/concentra-io/concentra/internal/util"
)

// Server wires the pipeline Controller to a gin.Engine.
type Server struct {
	cfg     *config.Config
	ctrl    *pipeline.Controller
	limiter *ratelimit.Limiter
	router  *gin.Engine
	logger  *slog.Logger
}

// NewServer builds a Server ready to Start.
func NewServer(cfg *config.Config, ctrl *pipeline.Controller) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		limiter: ratelimit.New(cfg.RateLimit.Budget, cfg.RateLimit.Window),
		logger:  util.Logger,
	}
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware(s.cfg.CORS.AllowedOrigins))
	router.Use(rateLimitMiddleware(s.limiter))

	datasets := router.Group("/datasets", apiKeyMiddleware(s.cfg.Server.Auth.APIKey))
	{
		datasets.POST("", s.handleIngest)
		datasets.GET("", s.handleListDatasets)
		datasets.GET("/:id/schema", s.handleSchema)
		datasets.POST("/:id/analyze", s.handleAnalyze)
		datasets.GET("/:id/download/:artifact", s.handleDownload)
		datasets.GET("/:id/insights", s.handleInsights)
		datasets.GET("/:id/lineage", s.handleLineage)
	}
	router.GET("/healthz", s.handleHealth)

	return router
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully with a bounded drain window.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.setupRouter()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != "" {
			err = httpServer.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("server listening", "address", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleIngest(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondValidation(c, "a multipart 'file' field is required")
		return
	}
	f, err := file.Open()
	if err != nil {
		respondError(c, util.WrapKindError(util.KindValidation, err, "failed to read uploaded file"))
		return
	}
	defer f.Close()

	result, err := s.ctrl.Ingest(c.Request.Context(), file.Filename, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListDatasets(c *gin.Context) {
	datasets, err := s.ctrl.ListDatasets()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

func (s *Server) handleSchema(c *gin.Context) {
	schema, err := s.ctrl.Schema(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

// analyzeBody is the decoded POST /datasets/:id/analyze request.
type analyzeBody struct {
	GroupBy    string `json:"group_by" binding:"required"`
	Value      string `json:"value" binding:"required"`
	TimeColumn string `json:"time_column"`
	Thresholds []int  `json:"thresholds"`
	RunLLM     *bool  `json:"run_llm"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var body analyzeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}

	runLLM := true
	if body.RunLLM != nil {
		runLLM = *body.RunLLM
	}

	result, err := s.ctrl.Analyze(c.Request.Context(), pipeline.AnalyzeRequest{
		DatasetID:  c.Param("id"),
		GroupBy:    body.GroupBy,
		Value:      body.Value,
		TimeColumn: body.TimeColumn,
		Thresholds: body.Thresholds,
		RunLLM:     runLLM,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDownload(c *gin.Context) {
	path, err := s.ctrl.DownloadPath(c.Param("id"), c.Param("artifact"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, c.Param("artifact"))
}

func (s *Server) handleInsights(c *gin.Context) {
	insight, err := s.ctrl.Insights(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, insight)
}

func (s *Server) handleLineage(c *gin.Context) {
	lineage, err := s.ctrl.Lineage(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lineage)
}
