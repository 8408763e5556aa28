// Package api 提供只读的运行状态接口：进度、链接表、最近一次报表与 metrics。
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"fbahunter/internal/api/middleware"
	"fbahunter/internal/kv"
	"fbahunter/internal/model"
	"fbahunter/internal/report"
	"fbahunter/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	healthTimeout   = 2 * time.Second
	requestTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
	healthProbeKey  = "health/probe"
)

// LatestReport 保存最近一次生成的报表，同时作为 report.Sink 挂到流水线上。
type LatestReport struct {
	mu sync.RWMutex
	r  *report.Report
}

// Name 实现 report.Sink。
func (l *LatestReport) Name() string { return "api" }

// Write 实现 report.Sink。
func (l *LatestReport) Write(_ context.Context, r *report.Report) error {
	l.mu.Lock()
	l.r = r
	l.mu.Unlock()
	return nil
}

// Get 返回最近的报表，尚未生成时返回 nil。
func (l *LatestReport) Get() *report.Report {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.r
}

// Server 状态接口服务。
type Server struct {
	kv       kv.Store
	progress *store.ProgressStore
	reports  *LatestReport
	logger   *slog.Logger
	router   *gin.Engine
}

// NewServer 创建状态接口。
//
// 参数:
//
//	s: 与流水线共用的键值存储
//	progress: 进度存储（只使用 Peek）
//	reports: 最近报表，可以为 nil
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 注册好路由的服务实例
func NewServer(s kv.Store, progress *store.ProgressStore, reports *LatestReport, logger *slog.Logger) *Server {
	if reports == nil {
		reports = &LatestReport{}
	}
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger, "/healthz", "/metrics"))

	srv := &Server{
		kv:       s,
		progress: progress,
		reports:  reports,
		logger:   logger,
		router:   r,
	}
	srv.registerRoutes()
	return srv
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Run 在 addr 上监听，ctx 结束时优雅关闭。
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: requestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", slog.String("addr", addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	g := s.router.Group("/api")
	g.GET("/progress/:supplier", s.handleProgress)
	g.GET("/links/:supplier", s.handleLinks)
	g.GET("/report", s.handleReport)
}

// handleHealthz 探测存储是否可读。键不存在视为健康。
func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if s.kv == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if _, err := s.kv.Get(ctx, healthProbeKey); err != nil && !errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// progressResponse 进度接口的响应。
type progressResponse struct {
	*model.ProcessingState
	Errors model.ErrorSummary `json:"error_summary"`
}

func (s *Server) handleProgress(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	supplier := c.Param("supplier")
	st, err := s.progress.Peek(ctx, supplier)
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no progress for supplier"})
		return
	case errors.Is(err, model.ErrStateCorruption):
		c.JSON(http.StatusConflict, gin.H{"error": "progress document corrupt"})
		return
	case err != nil:
		s.logger.Error("peek progress failed",
			slog.String("supplier", supplier),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load progress failed"})
		return
	}
	c.JSON(http.StatusOK, progressResponse{ProcessingState: st, Errors: st.Summary()})
}

// handleLinks 返回供应商的链接表。?match_type= 可按匹配方式过滤。
func (s *Server) handleLinks(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	supplier := c.Param("supplier")
	all, err := store.PeekLinks(ctx, s.kv, supplier)
	switch {
	case errors.Is(err, model.ErrStateCorruption):
		c.JSON(http.StatusConflict, gin.H{"error": "linking map corrupt"})
		return
	case err != nil:
		s.logger.Error("load links failed",
			slog.String("supplier", supplier),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load links failed"})
		return
	}

	filter := model.MatchType(c.Query("match_type"))
	entries := make([]model.LinkEntry, 0, len(all))
	for _, e := range all {
		if filter != "" && e.MatchType != filter {
			continue
		}
		entries = append(entries, e)
	}
	c.JSON(http.StatusOK, gin.H{
		"supplier": supplier,
		"count":    len(entries),
		"entries":  entries,
	})
}

// reportResponse 报表接口的响应。
type reportResponse struct {
	RunID       string               `json:"run_id"`
	Supplier    string               `json:"supplier"`
	GeneratedAt time.Time            `json:"generated_at"`
	Total       int                  `json:"total"`
	Profitable  int                  `json:"profitable"`
	Records     []model.ProfitRecord `json:"records"`
	Errors      model.ErrorSummary   `json:"error_summary"`
}

// handleReport 返回最近一次报表。?profitable=true 只返回达标记录。
func (s *Server) handleReport(c *gin.Context) {
	r := s.reports.Get()
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report yet"})
		return
	}

	onlyProfitable := false
	if v := c.Query("profitable"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profitable flag"})
			return
		}
		onlyProfitable = b
	}

	profitable := r.Profitable()
	records := r.Records
	if onlyProfitable {
		records = profitable
	}
	if records == nil {
		records = []model.ProfitRecord{}
	}
	c.JSON(http.StatusOK, reportResponse{
		RunID:       r.RunID,
		Supplier:    r.Supplier,
		GeneratedAt: r.GeneratedAt,
		Total:       len(r.Records),
		Profitable:  len(profitable),
		Records:     records,
		Errors:      r.Errors,
	})
}
