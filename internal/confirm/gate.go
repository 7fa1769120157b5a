package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/ports"
	"github.com/qtrade/riskcore/internal/risk"
)

var gateLog = logrus.WithField("component", "confirmation_gate")

// StrategyClass 策略分类（影响确认级别）。
type StrategyClass string

const (
	ClassStandard     StrategyClass = "STANDARD"
	ClassHighFreq     StrategyClass = "HIGH_FREQ"     // 限额+白名单内豁免
	ClassExperimental StrategyClass = "EXPERIMENTAL" // 一律硬确认
)

// GateConfig 分层确认闸口配置。
type GateConfig struct {
	SoftNotional decimal.Decimal // 名义金额 >= 此值 ⇒ 至少软确认
	HardNotional decimal.Decimal // 名义金额 >= 此值 ⇒ 硬确认

	HFTMaxNotional decimal.Decimal // 高频豁免的名义金额上限
	HFTSymbols     []string        // 高频豁免合约白名单

	MaxPriceDeviation float64         // 软确认：限价相对盘口中价的最大偏离
	MaxOrderNotional  decimal.Decimal // 软确认：单笔名义金额 sanity 上限

	HardConfirmTimeout time.Duration // 硬确认外部审批限时
	RecoveryWindow     time.Duration // 熔断后升级窗口

	DaySessionStartHour int // 日盘起（含）
	DaySessionEndHour   int // 日盘止（不含）
}

// Validate 校验并填默认值。
func (c *GateConfig) Validate() error {
	if c.SoftNotional.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("softNotional 必须 > 0")
	}
	if c.HardNotional.LessThanOrEqual(c.SoftNotional) {
		return fmt.Errorf("hardNotional 必须 > softNotional")
	}
	if c.HFTMaxNotional.IsZero() {
		c.HFTMaxNotional = c.SoftNotional
	}
	if c.MaxPriceDeviation <= 0 {
		c.MaxPriceDeviation = 0.05
	}
	if c.MaxOrderNotional.IsZero() {
		c.MaxOrderNotional = c.HardNotional.Mul(decimal.NewFromInt(10))
	}
	if c.HardConfirmTimeout <= 0 {
		c.HardConfirmTimeout = 30 * time.Second
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = time.Hour
	}
	if c.DaySessionStartHour == 0 && c.DaySessionEndHour == 0 {
		c.DaySessionStartHour, c.DaySessionEndHour = 9, 15
	}
	if c.DaySessionStartHour < 0 || c.DaySessionEndHour > 24 ||
		c.DaySessionStartHour >= c.DaySessionEndHour {
		return fmt.Errorf("非法日盘区间: [%d,%d)", c.DaySessionStartHour, c.DaySessionEndHour)
	}
	return nil
}

// Request 一次确认请求。
type Request struct {
	IntentID string
	Intent   *domain.OrderIntent
	Notional decimal.Decimal
	Book     domain.BookTop // 软确认二次校验用的盘口
	Class    StrategyClass
}

// Gate 分层确认闸口。
//
// 任何订单意图进入执行前都要经过这里，与止损强平路径互相独立。
// 级别计算：名义金额定基础档，时段与策略分类只升不降，最后咨询断路器——
// 非 NORMAL 且非豁免直接拒；熔断后恢复窗口内整体升一级。
// 唯一允许的挂起点是硬确认的外部审批等待：限时、可取消、不持有任何
// 风控/断路器锁，恰好产生一个终态决策。
type Gate struct {
	cfg      GateConfig
	breaker  *risk.Breaker
	approver ports.Approver
	now      func() time.Time

	mu        sync.Mutex
	decisions []domain.Event
}

// NewGate 创建确认闸口。cfg 必须先通过 Validate。
func NewGate(cfg GateConfig, breaker *risk.Breaker, approver ports.Approver) *Gate {
	return &Gate{
		cfg:      cfg,
		breaker:  breaker,
		approver: approver,
		now:      time.Now,
	}
}

// Confirm 计算并落档一次确认决策。
func (g *Gate) Confirm(ctx context.Context, req Request) domain.ConfirmationDecision {
	d := g.decide(ctx, req)

	g.mu.Lock()
	g.decisions = append(g.decisions, domain.ConfirmDecisionEvent{
		IntentID:  req.IntentID,
		Result:    string(d.Result),
		Level:     d.Level.String(),
		Reasons:   d.Reasons,
		Timestamp: g.now(),
	})
	g.mu.Unlock()

	if d.Approved() {
		gateLog.Infof("✅ 确认放行: intent=%s level=%s result=%s", req.IntentID, d.Level, d.Result)
	} else {
		gateLog.Warnf("⛔ 确认拦截: intent=%s level=%s code=%s reasons=%v",
			req.IntentID, d.Level, d.Code, d.Reasons)
	}
	return d
}

// DrainEvents 取走全部待持久化的决策事件（FIFO）。
func (g *Gate) DrainEvents() []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.decisions
	g.decisions = nil
	return out
}

func (g *Gate) decide(ctx context.Context, req Request) domain.ConfirmationDecision {
	var reasons []string

	// 1) 名义金额定基础档
	level := domain.ConfirmAuto
	switch {
	case req.Notional.GreaterThanOrEqual(g.cfg.HardNotional):
		level = domain.ConfirmHard
		reasons = append(reasons, fmt.Sprintf("notional %s >= hard %s", req.Notional, g.cfg.HardNotional))
	case req.Notional.GreaterThanOrEqual(g.cfg.SoftNotional):
		level = domain.ConfirmSoft
		reasons = append(reasons, fmt.Sprintf("notional %s >= soft %s", req.Notional, g.cfg.SoftNotional))
	}

	// 2) 时段规则：非日盘至少软确认
	daySession := g.inDaySession()
	if !daySession && level < domain.ConfirmSoft {
		level = domain.ConfirmSoft
		reasons = append(reasons, "off-hours: escalate to SOFT")
	}

	// 3) 策略分类
	exempt := false
	switch req.Class {
	case ClassHighFreq:
		if g.hftExempt(req) {
			exempt = true
			level = domain.ConfirmAuto
			reasons = append(reasons, "high-freq exemption")
		}
	case ClassExperimental:
		level = domain.ConfirmHard
		reasons = append(reasons, "experimental strategy: force HARD")
	}

	// 4) 断路器咨询
	if st := g.breaker.State(); st != risk.BreakerNormal && !exempt {
		return domain.ConfirmationDecision{
			Result: domain.ConfirmRejected,
			Level:  level,
			Code:   domain.ReasonBreakerOpen,
			Reasons: append(reasons,
				fmt.Sprintf("circuit breaker %s: reject", st)),
		}
	}
	if !exempt && g.breaker.InRecoveryWindow(g.cfg.RecoveryWindow) {
		level = level.Escalate()
		reasons = append(reasons, "post-trigger recovery window: escalate one level")
	}

	// 5) 按最终级别裁决
	switch level {
	case domain.ConfirmAuto:
		return domain.ConfirmationDecision{
			Result: domain.ConfirmApproved, Level: level, Reasons: reasons,
		}
	case domain.ConfirmSoft:
		return g.softConfirm(req, level, reasons)
	default:
		return g.hardConfirm(ctx, req, reasons, daySession)
	}
}

// softConfirm 同步二次校验：全部通过即自动放行。
func (g *Gate) softConfirm(req Request, level domain.ConfirmLevel, reasons []string) domain.ConfirmationDecision {
	if err := g.priceLimitCheck(req); err != nil {
		return domain.ConfirmationDecision{
			Result: domain.ConfirmRejected, Level: level,
			Code:    domain.ReasonCheckFailed,
			Reasons: append(reasons, "price-limit check failed: "+err.Error()),
		}
	}
	if err := g.costSanityCheck(req); err != nil {
		return domain.ConfirmationDecision{
			Result: domain.ConfirmRejected, Level: level,
			Code:    domain.ReasonCheckFailed,
			Reasons: append(reasons, "cost sanity check failed: "+err.Error()),
		}
	}
	return domain.ConfirmationDecision{
		Result: domain.ConfirmApproved, Level: level,
		Reasons: append(reasons, "secondary checks passed"),
	}
}

// hardConfirm 有界等待外部审批。日盘超时升级为熔断（重大决策无人应答
// 本身就是异常）；夜盘超时退化走软确认，避免无限阻塞。
func (g *Gate) hardConfirm(ctx context.Context, req Request, reasons []string, daySession bool) domain.ConfirmationDecision {
	if g.approver == nil {
		return domain.ConfirmationDecision{
			Result: domain.ConfirmRejected, Level: domain.ConfirmHard,
			Code:    domain.ReasonApprovalTimeout,
			Reasons: append(reasons, "no approver configured"),
		}
	}

	deadline := g.now().Add(g.cfg.HardConfirmTimeout)
	actx, cancel := context.WithTimeout(ctx, g.cfg.HardConfirmTimeout)
	defer cancel()

	outcome, err := g.approver.RequestApproval(actx, ports.ApprovalRequest{
		IntentID: req.IntentID,
		Symbol:   req.Intent.Symbol,
		Side:     req.Intent.Side,
		Offset:   req.Intent.Offset,
		Qty:      req.Intent.TargetQty,
		Notional: req.Notional.String(),
		Reasons:  reasons,
		Deadline: deadline,
	})

	switch {
	case err == nil && outcome.Approved:
		return domain.ConfirmationDecision{
			Result: domain.ConfirmApproved, Level: domain.ConfirmHard,
			Reasons: append(reasons, "approved by "+outcome.Operator),
		}
	case err == nil:
		return domain.ConfirmationDecision{
			Result: domain.ConfirmRejected, Level: domain.ConfirmHard,
			Code:    domain.ReasonApprovalDenied,
			Reasons: append(reasons, "denied by "+outcome.Operator+": "+outcome.Comment),
		}
	}

	// 超时/审批服务不可达
	if daySession {
		if g.breaker.ForceTrigger("hard_confirm_timeout") {
			gateLog.Errorf("🚨 日盘硬确认超时，触发熔断: intent=%s", req.IntentID)
		}
		return domain.ConfirmationDecision{
			Result: domain.ConfirmRejected, Level: domain.ConfirmHard,
			Code:    domain.ReasonApprovalTimeout,
			Reasons: append(reasons, "day-session approval timeout: breaker triggered"),
		}
	}

	// 夜盘退化：走软确认路径
	reasons = append(reasons, "off-hours approval timeout: degrade to SOFT checks")
	soft := g.softConfirm(req, domain.ConfirmHard, reasons)
	if soft.Result == domain.ConfirmApproved {
		soft.Result = domain.ConfirmTimeoutAutoApprove
	}
	return soft
}

func (g *Gate) hftExempt(req Request) bool {
	if req.Notional.GreaterThan(g.cfg.HFTMaxNotional) {
		return false
	}
	for _, s := range g.cfg.HFTSymbols {
		if s == req.Intent.Symbol {
			return true
		}
	}
	return false
}

// priceLimitCheck 限价相对盘口中价的偏离校验。
func (g *Gate) priceLimitCheck(req Request) error {
	if req.Intent.LimitPrice == nil {
		return nil // 对价单由执行算法定价
	}
	if !req.Book.IsValid() {
		return fmt.Errorf("盘口不可用 symbol=%s", req.Intent.Symbol)
	}
	mid := req.Book.Bid.Add(req.Book.Ask).Div(decimal.NewFromInt(2))
	dev, _ := req.Intent.LimitPrice.Sub(mid).Div(mid).Abs().Float64()
	if dev > g.cfg.MaxPriceDeviation {
		return fmt.Errorf("限价偏离中价 %.4f 超过上限 %.4f", dev, g.cfg.MaxPriceDeviation)
	}
	return nil
}

// costSanityCheck 名义金额 sanity 校验。
func (g *Gate) costSanityCheck(req Request) error {
	if req.Notional.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("名义金额非正: %s", req.Notional)
	}
	if req.Notional.GreaterThan(g.cfg.MaxOrderNotional) {
		return fmt.Errorf("名义金额 %s 超过 sanity 上限 %s", req.Notional, g.cfg.MaxOrderNotional)
	}
	return nil
}

func (g *Gate) inDaySession() bool {
	h := g.now().Hour()
	return h >= g.cfg.DaySessionStartHour && h < g.cfg.DaySessionEndHour
}
