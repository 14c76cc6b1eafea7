package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IliaW/page-guard/config"
	"github.com/IliaW/page-guard/internal/coordinator"
	"github.com/IliaW/page-guard/internal/domain"
	"github.com/IliaW/page-guard/internal/model"
	"github.com/IliaW/page-guard/internal/persistence"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// DefaultAllowedOrigins admits any Chromium or Firefox extension.
var DefaultAllowedOrigins = []string{"chrome-extension://*", "moz-extension://*"}

type CredentialWriter interface {
	Save(key string) error
}

type Server struct {
	coordinator *coordinator.Coordinator
	hub         *Hub
	credentials CredentialWriter
	history     persistence.VerdictStorage
	cfg         *config.ApiConfig
}

type navigationRequest struct {
	URL string `json:"url" binding:"required"`
}

type credentialRequest struct {
	ApiKey string `json:"api_key" binding:"required"`
}

type historyResponse struct {
	URL      string                 `json:"url"`
	Verdicts []*model.VerdictRecord `json:"verdicts"`
}

func NewServer(coord *coordinator.Coordinator, hub *Hub, credentials CredentialWriter,
	history persistence.VerdictStorage, cfg *config.ApiConfig) *Server {
	if history == nil {
		history = persistence.NoopStorage{}
	}
	return &Server{
		coordinator: coord,
		hub:         hub,
		credentials: credentials,
		history:     history,
		cfg:         cfg,
	}
}

// Router builds the gin engine serving the extension.
func (s *Server) Router() *gin.Engine {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:           origins,
		AllowWildcard:          true,
		AllowBrowserExtensions: true,
		AllowMethods:           []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:           []string{"Origin", "Content-Type"},
		MaxAge:                 12 * time.Hour,
	}))

	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	router.GET("/ws", s.hub.HandleConnection)

	v1 := router.Group("/api/v1")
	tabs := v1.Group("/tabs/:tab_id")
	tabs.POST("/page", s.handlePageData)
	tabs.POST("/navigation", s.handleNavigation)
	tabs.DELETE("", s.handleTabClosed)
	tabs.POST("/proceed", s.handleProceed)
	tabs.POST("/back", s.handleGoBack)
	tabs.GET("/status", s.handleStatus)
	v1.PUT("/credential", s.handleCredential)
	v1.GET("/history", s.handleHistory)

	return router
}

func (s *Server) handlePageData(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	var page model.PageSummary
	if err := c.ShouldBindJSON(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := domain.Of(page.URL); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be absolute"})
		return
	}

	// the verdict must be stored even if the extension stops waiting for it
	ctx := context.WithoutCancel(c.Request.Context())
	c.JSON(http.StatusOK, s.coordinator.HandlePageData(ctx, &page, tabID))
}

func (s *Server) handleNavigation(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	var req navigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.coordinator.OnNavigationCompleted(tabID, req.URL)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTabClosed(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	s.coordinator.OnTabClosed(tabID)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleProceed(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	rec, err := s.coordinator.ProceedAnyway(tabID)
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGoBack(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	if err := s.coordinator.GoBack(c.Request.Context(), tabID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleStatus(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.coordinator.GetStatus(tabID))
}

func (s *Server) handleCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ApiKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	if err := s.credentials.Save(req.ApiKey); err != nil {
		slog.Error("failed to save the credential.", slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save the credential"})
		return
	}
	s.coordinator.OnCredentialSaved()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHistory(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}
	limit := s.cfg.HistoryLimit
	if limit <= 0 {
		limit = 20
	}
	verdicts := s.history.GetHistory(url, limit)
	if verdicts == nil {
		verdicts = []*model.VerdictRecord{}
	}
	c.JSON(http.StatusOK, historyResponse{URL: url, Verdicts: verdicts})
}

func tabParam(c *gin.Context) (int, bool) {
	tabID, err := strconv.Atoi(c.Param("tab_id"))
	if err != nil || tabID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tab_id must be a non-negative integer"})
		return 0, false
	}
	return tabID, true
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("request served.", slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()), slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}
