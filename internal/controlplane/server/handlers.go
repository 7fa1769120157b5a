package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qtrade/riskcore/internal/risk"
)

func (s *Server) handleRiskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode":                    s.manager.Mode(),
		"kill_switch_fired_today": s.manager.KillSwitchFiredToday(),
		"flatten_in_progress":     s.manager.FlattenInProgress(),
	})
}

type unlockRequest struct {
	Operator string `json:"operator" binding:"required"`
}

func (s *Server) handleRiskUnlock(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator is required"})
		return
	}
	if err := s.manager.ManualUnlock(req.Operator); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	srvLog.Warnf("🔓 控制面人工解锁: operator=%s", req.Operator)
	c.JSON(http.StatusOK, gin.H{"mode": s.manager.Mode()})
}

func (s *Server) handleBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":          s.breaker.State(),
		"position_ratio": s.breaker.PositionRatio(),
	})
}

func (s *Server) handleBreakerRecords(c *gin.Context) {
	if reason := c.Query("reason"); reason != "" {
		c.JSON(http.StatusOK, s.breaker.RecordsByReason(reason))
		return
	}
	c.JSON(http.StatusOK, s.breaker.Records())
}

type overrideRequest struct {
	Operator string `json:"operator" binding:"required"`
	Reason   string `json:"reason"`
}

func (s *Server) handleBreakerOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator is required"})
		return
	}
	s.breaker.ManualOverride(req.Operator, req.Reason)
	srvLog.Warnf("🖐️ 控制面人工接管断路器: operator=%s reason=%s", req.Operator, req.Reason)
	c.JSON(http.StatusOK, gin.H{"state": s.breaker.State()})
}

type releaseRequest struct {
	Operator string `json:"operator" binding:"required"`
	To       string `json:"to" binding:"required"` // NORMAL | COOLING
}

func (s *Server) handleBreakerRelease(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator and to are required"})
		return
	}
	if err := s.breaker.ManualRelease(risk.BreakerState(req.To), req.Operator); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.breaker.State()})
}

func (s *Server) handleApprovalsList(c *gin.Context) {
	c.JSON(http.StatusOK, s.approver.Pending())
}

type resolveRequest struct {
	Approved bool   `json:"approved"`
	Operator string `json:"operator" binding:"required"`
	Comment  string `json:"comment"`
}

func (s *Server) handleApprovalResolve(c *gin.Context) {
	intentID := c.Param("intentID")
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator is required"})
		return
	}
	if err := s.approver.Resolve(intentID, req.Approved, req.Operator, req.Comment); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent_id": intentID, "approved": req.Approved})
}

func (s *Server) handleIntentsActive(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.ActiveIntents())
}
