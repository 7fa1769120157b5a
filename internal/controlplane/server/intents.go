package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/orchestrator"
)

type submitIntentRequest struct {
	StrategyID   string  `json:"strategy_id" binding:"required"`
	DecisionHash string  `json:"decision_hash"`
	Symbol       string  `json:"symbol" binding:"required"`
	Side         string  `json:"side" binding:"required"`
	Offset       string  `json:"offset" binding:"required"`
	TargetQty    int64   `json:"target_qty" binding:"required"`
	Algo         string  `json:"algo"`
	Urgency      string  `json:"urgency"`
	LimitPrice   string  `json:"limit_price"`
	SignalTS     int64   `json:"signal_ts" binding:"required"`
	ExpireTS     int64   `json:"expire_ts"`
	Class        string  `json:"class"`
	Multiplier   int64   `json:"multiplier"`
}

func (s *Server) handleIntentSubmit(c *gin.Context) {
	var req submitIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	oi := &domain.OrderIntent{
		StrategyID:   req.StrategyID,
		DecisionHash: req.DecisionHash,
		Symbol:       req.Symbol,
		Side:         domain.Side(req.Side),
		Offset:       domain.Offset(req.Offset),
		TargetQty:    req.TargetQty,
		Algo:         domain.Algo(req.Algo),
		Urgency:      domain.Urgency(req.Urgency),
		SignalTS:     req.SignalTS,
		ExpireTS:     req.ExpireTS,
	}
	if req.LimitPrice != "" {
		px, err := decimal.NewFromString(req.LimitPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit_price"})
			return
		}
		oi.LimitPrice = &px
	}
	if err := oi.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mult := req.Multiplier
	if mult <= 0 {
		if m, ok := s.cfg.Multipliers[req.Symbol]; ok {
			mult = m
		} else {
			mult = 1
		}
	}

	s.intake.Submit(orchestrator.IntentRequest{
		Intent:     oi,
		Class:      req.Class,
		Multiplier: mult,
	})
	c.JSON(http.StatusAccepted, gin.H{"queued": s.intake.Len()})
}
