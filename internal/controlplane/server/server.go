package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qtrade/riskcore/internal/approval"
	"github.com/qtrade/riskcore/internal/intent"
	"github.com/qtrade/riskcore/internal/orchestrator"
	"github.com/qtrade/riskcore/internal/risk"
)

var srvLog = logrus.WithField("component", "controlplane")

// Config 控制面配置。
type Config struct {
	ListenAddr string
	// Multipliers 合约乘数表（symbol -> 乘数）。
	// 提交意图未显式给 multiplier 时按表取默认值，表中也没有则按 1。
	Multipliers map[string]int64
}

// Server 风控控制面：只读状态查询 + 人工操作（审批/熔断覆盖/解锁）。
// 人工操作全部走各组件自身的锁，和 tick 主循环天然并发安全。
type Server struct {
	cfg      Config
	manager  *risk.Manager
	breaker  *risk.Breaker
	registry *intent.Registry
	intake   *orchestrator.Intake
	approver *approval.ManualApprover // 可为 nil（http 审批模式）
	hub      *auditHub
}

// New 创建控制面。approver 传 nil 时审批相关端点不注册。
func New(cfg Config, manager *risk.Manager, breaker *risk.Breaker,
	registry *intent.Registry, intake *orchestrator.Intake,
	approver *approval.ManualApprover) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	return &Server{
		cfg:      cfg,
		manager:  manager,
		breaker:  breaker,
		registry: registry,
		intake:   intake,
		approver: approver,
		hub:      newAuditHub(),
	}
}

// Router 组装路由。
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")

	riskGrp := api.Group("/risk")
	riskGrp.GET("/status", s.handleRiskStatus)
	riskGrp.POST("/unlock", s.handleRiskUnlock)

	brk := api.Group("/breaker")
	brk.GET("/status", s.handleBreakerStatus)
	brk.GET("/records", s.handleBreakerRecords)
	brk.POST("/override", s.handleBreakerOverride)
	brk.POST("/release", s.handleBreakerRelease)

	if s.approver != nil {
		ap := api.Group("/approvals")
		ap.GET("", s.handleApprovalsList)
		ap.POST("/:intentID", s.handleApprovalResolve)
	}

	api.GET("/intents/active", s.handleIntentsActive)
	api.POST("/intents", s.handleIntentSubmit)

	r.GET("/ws/audit", s.handleAuditStream)

	return r
}

// Run 启动控制面并在 ctx 取消时优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		srvLog.Infof("✅ 控制面已启动: %s", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.hub.closeAll()
		return srv.Shutdown(shutdownCtx)
	}
}
