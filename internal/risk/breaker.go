package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var breakerLog = logrus.WithField("component", "circuit_breaker")

// BreakerState 断路器状态
type BreakerState string

const (
	BreakerNormal         BreakerState = "NORMAL"
	BreakerTriggered      BreakerState = "TRIGGERED"
	BreakerCooling        BreakerState = "COOLING"
	BreakerRecovery       BreakerState = "RECOVERY"
	BreakerManualOverride BreakerState = "MANUAL_OVERRIDE"
)

// IllegalTransitionError 非法迁移：同步返回，零状态变更，零审计记录。
type IllegalTransitionError struct {
	From BreakerState
	To   BreakerState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal breaker transition: %s -> %s", e.From, e.To)
}

// BreakerThresholds 熔断阈值（OR 组合，<=0 表示关闭该项）。
type BreakerThresholds struct {
	DailyLossPct         float64 `yaml:"dailyLossPct"`         // 日亏损比例（0.05 = 5%）
	PositionLossPct      float64 `yaml:"positionLossPct"`      // 单仓亏损比例
	MarginUsagePct       float64 `yaml:"marginUsagePct"`       // 保证金占用比例
	MaxConsecutiveLosses int     `yaml:"maxConsecutiveLosses"` // 连续亏损笔数
}

// BreakerMetrics 触发判定输入（亏损用正数表达）。
type BreakerMetrics struct {
	DailyLossPct      float64
	WorstPositionLoss float64
	MarginUsagePct    float64
	ConsecutiveLosses int
}

// BreakerConfig 断路器配置。
type BreakerConfig struct {
	Thresholds BreakerThresholds `yaml:"thresholds"`

	TriggerHold     time.Duration `yaml:"triggerHold"`     // TRIGGERED 停留时长
	CoolingDuration time.Duration `yaml:"coolingDuration"` // COOLING 停留时长
	// RecoverySteps 恢复期仓位比例阶梯（升序，必须以 1.0 结尾）
	RecoverySteps        []float64     `yaml:"recoverySteps"`
	RecoveryStepInterval time.Duration `yaml:"recoveryStepInterval"` // 每档停留时长
}

// Validate 校验并填默认值。
func (c *BreakerConfig) Validate() error {
	if c.TriggerHold <= 0 {
		c.TriggerHold = 1 * time.Minute
	}
	if c.CoolingDuration <= 0 {
		c.CoolingDuration = 15 * time.Minute
	}
	if len(c.RecoverySteps) == 0 {
		c.RecoverySteps = []float64{0.25, 0.50, 0.75, 1.0}
	}
	if !sort.Float64sAreSorted(c.RecoverySteps) {
		return fmt.Errorf("recoverySteps 必须升序: %v", c.RecoverySteps)
	}
	last := c.RecoverySteps[len(c.RecoverySteps)-1]
	if last != 1.0 {
		return fmt.Errorf("recoverySteps 最后一档必须为 1.0, got %v", last)
	}
	for _, s := range c.RecoverySteps {
		if s <= 0 || s > 1 {
			return fmt.Errorf("recoveryStep 必须在 (0,1] 内: %v", s)
		}
	}
	if c.RecoveryStepInterval <= 0 {
		c.RecoveryStepInterval = 5 * time.Minute
	}
	return nil
}

// BreakerRecord 断路器审计记录（追加后不可变）。
type BreakerRecord struct {
	Seq    int          `json:"seq"`
	Time   time.Time    `json:"time"`
	From   BreakerState `json:"from"`
	To     BreakerState `json:"to"`
	Reason string       `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// Breaker 通用分级断路器。
//
// 合法迁移表：
//   NORMAL          -> TRIGGERED        （Trigger，阈值命中）
//   TRIGGERED       -> COOLING          （Tick，停留期满）
//   COOLING         -> RECOVERY         （Tick，冷却期满）
//   RECOVERY        -> NORMAL           （Tick，走完全部阶梯）
//   任意状态        -> MANUAL_OVERRIDE  （ManualOverride）
//   MANUAL_OVERRIDE -> NORMAL | COOLING （ManualRelease）
// 表外迁移返回 IllegalTransitionError，不产生任何状态变更与审计记录。
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time

	state        BreakerState
	enteredAt    time.Time // 进入当前状态的时刻
	lastTrigger  time.Time // 最近一次 NORMAL->TRIGGERED 的时刻
	stepIndex    int       // RECOVERY 当前档位下标
	stepAdvanced time.Time // 最近一次进档时刻

	records []BreakerRecord
}

// NewBreaker 创建断路器。cfg 必须先通过 Validate。
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg,
		now:   time.Now,
		state: BreakerNormal,
	}
}

// State 当前状态。
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PositionRatio 当前允许的仓位比例。
// 不变量：NORMAL=1.0，RECOVERY=当前档位值，其余状态=0.0。
func (b *Breaker) PositionRatio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerNormal:
		return 1.0
	case BreakerRecovery:
		return b.cfg.RecoverySteps[b.stepIndex]
	default:
		return 0.0
	}
}

// Trigger 按阈值 OR 判定尝试熔断。
// 返回 (是否触发, 命中原因)。非 NORMAL 状态下重复触发是 no-op。
func (b *Breaker) Trigger(m BreakerMetrics) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerNormal {
		return false, ""
	}

	reason, detail := b.cfg.Thresholds.firstHit(m)
	if reason == "" {
		return false, ""
	}

	now := b.now()
	b.lastTrigger = now
	b.transitionLocked(BreakerTriggered, reason, detail, now)
	breakerLog.Warnf("⛔ 断路器熔断: reason=%s %s", reason, detail)
	return true, reason
}

// ForceTrigger 无条件熔断（如硬确认超时这类「异常本身」）。
// 仅在 NORMAL 下生效，语义与 Trigger 相同。
func (b *Breaker) ForceTrigger(reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerNormal {
		return false
	}
	now := b.now()
	b.lastTrigger = now
	b.transitionLocked(BreakerTriggered, reason, "", now)
	breakerLog.Warnf("⛔ 断路器强制熔断: reason=%s", reason)
	return true
}

// Tick 时间驱动推进：TRIGGERED→COOLING→RECOVERY→(阶梯)→NORMAL。
func (b *Breaker) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	switch b.state {
	case BreakerTriggered:
		if now.Sub(b.enteredAt) >= b.cfg.TriggerHold {
			b.transitionLocked(BreakerCooling, "trigger_hold_elapsed", "", now)
		}

	case BreakerCooling:
		if now.Sub(b.enteredAt) >= b.cfg.CoolingDuration {
			b.stepIndex = 0
			b.stepAdvanced = now
			b.transitionLocked(BreakerRecovery, "cooling_elapsed", "", now)
			breakerLog.Infof("🌱 进入恢复期: ratio=%.2f", b.cfg.RecoverySteps[0])
		}

	case BreakerRecovery:
		if now.Sub(b.stepAdvanced) < b.cfg.RecoveryStepInterval {
			return
		}
		if b.stepIndex+1 < len(b.cfg.RecoverySteps) {
			b.stepIndex++
			b.stepAdvanced = now
			breakerLog.Infof("🌱 恢复期进档: ratio=%.2f", b.cfg.RecoverySteps[b.stepIndex])
			if b.cfg.RecoverySteps[b.stepIndex] < 1.0 {
				return
			}
		}
		// 到达 1.0：恢复完成
		b.transitionLocked(BreakerNormal, "recovery_completed", "", now)
		breakerLog.Infof("✅ 断路器恢复 NORMAL")
	}
}

// ManualOverride 人工接管（任意状态合法）。
func (b *Breaker) ManualOverride(operator, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.transitionLocked(BreakerManualOverride, "manual_override",
		fmt.Sprintf("operator=%s reason=%s", operator, reason), now)
	breakerLog.Warnf("🖐️ 人工接管断路器: operator=%s reason=%s", operator, reason)
}

// ManualRelease 人工释放：仅允许 MANUAL_OVERRIDE -> NORMAL | COOLING。
func (b *Breaker) ManualRelease(to BreakerState, operator string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerManualOverride {
		return &IllegalTransitionError{From: b.state, To: to}
	}
	if to != BreakerNormal && to != BreakerCooling {
		return &IllegalTransitionError{From: b.state, To: to}
	}
	b.transitionLocked(to, "manual_release", "operator="+operator, b.now())
	breakerLog.Warnf("🖐️ 人工释放断路器: -> %s operator=%s", to, operator)
	return nil
}

// InRecoveryWindow 最近一次熔断距今是否在 window 内（确认闸口升级判据）。
func (b *Breaker) InRecoveryWindow(window time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastTrigger.IsZero() {
		return false
	}
	return b.now().Sub(b.lastTrigger) < window
}

// Records 全部审计记录的副本。
func (b *Breaker) Records() []BreakerRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BreakerRecord, len(b.records))
	copy(out, b.records)
	return out
}

// RecordsByReason 按原因检索审计记录。
func (b *Breaker) RecordsByReason(reason string) []BreakerRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []BreakerRecord
	for _, r := range b.records {
		if r.Reason == reason {
			out = append(out, r)
		}
	}
	return out
}

// transitionLocked 调用方持有 b.mu，且已确认迁移合法。
func (b *Breaker) transitionLocked(to BreakerState, reason, detail string, now time.Time) {
	from := b.state
	b.state = to
	b.enteredAt = now
	b.records = append(b.records, BreakerRecord{
		Seq: len(b.records), Time: now, From: from, To: to,
		Reason: reason, Detail: detail,
	})
}

// firstHit 依次判定，首个命中的条件即为熔断原因。
func (t BreakerThresholds) firstHit(m BreakerMetrics) (reason, detail string) {
	if t.DailyLossPct > 0 && m.DailyLossPct >= t.DailyLossPct {
		return "daily_loss", fmt.Sprintf("loss=%.4f limit=%.4f", m.DailyLossPct, t.DailyLossPct)
	}
	if t.PositionLossPct > 0 && m.WorstPositionLoss >= t.PositionLossPct {
		return "position_loss", fmt.Sprintf("loss=%.4f limit=%.4f", m.WorstPositionLoss, t.PositionLossPct)
	}
	if t.MarginUsagePct > 0 && m.MarginUsagePct >= t.MarginUsagePct {
		return "margin_usage", fmt.Sprintf("usage=%.4f limit=%.4f", m.MarginUsagePct, t.MarginUsagePct)
	}
	if t.MaxConsecutiveLosses > 0 && m.ConsecutiveLosses >= t.MaxConsecutiveLosses {
		return "consecutive_losses", fmt.Sprintf("count=%d limit=%d", m.ConsecutiveLosses, t.MaxConsecutiveLosses)
	}
	return "", ""
}
