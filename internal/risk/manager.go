package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/qtrade/riskcore/internal/domain"
)

var riskLog = logrus.WithField("component", "risk_manager")

// Mode 日内风控模式
type Mode string

const (
	ModeNormal   Mode = "NORMAL"   // 正常交易
	ModeCooldown Mode = "COOLDOWN" // 触发止损后的冷静期（已发起全撤+强平）
	ModeRecovery Mode = "RECOVERY" // 冷静期结束，降杠杆恢复
	ModeLocked   Mode = "LOCKED"   // 同日二次触线，当日锁定
)

// Callbacks 风控动作回调（注入端口）。
// 每个回调都会被限时包裹：超时/出错转为 RiskActionFailedEvent，绝不把异常
// 抛回 tick 主循环。
type Callbacks struct {
	CancelAll    func(ctx context.Context) error // 全部撤单
	ForceFlatten func(ctx context.Context) error // 全部强平
}

// ManagerConfig 日内止损状态机配置。
type ManagerConfig struct {
	DailyLossLimit         float64       `yaml:"dailyLossLimit"`         // 日亏损触发线（正数，0.03 表示 -3% 触发）
	Cooldown               time.Duration `yaml:"cooldown"`               // 冷静期时长
	RecoveryRiskMultiplier float64       `yaml:"recoveryRiskMultiplier"` // 恢复期新仓缩放系数（如 0.30）
	NormalMarginCeiling    float64       `yaml:"normalMarginCeiling"`    // 正常模式保证金占用上限
	RecoveryMarginCeiling  float64       `yaml:"recoveryMarginCeiling"`  // 恢复模式保证金占用上限
	CallbackTimeout        time.Duration `yaml:"callbackTimeout"`        // 单个回调的限时
	// LockedUntilDayStart：LOCKED 是否持续到下一个日始重置。
	// false 时允许 ManualUnlock 人工解锁。这是显式配置项，不做隐式推断。
	LockedUntilDayStart bool `yaml:"lockedUntilDayStart"`
}

// Validate 校验并填默认值。
func (c *ManagerConfig) Validate() error {
	if c.DailyLossLimit <= 0 || c.DailyLossLimit >= 1 {
		return fmt.Errorf("dailyLossLimit 必须在 (0,1) 内: %v", c.DailyLossLimit)
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.RecoveryRiskMultiplier <= 0 || c.RecoveryRiskMultiplier > 1 {
		c.RecoveryRiskMultiplier = 0.30
	}
	if c.NormalMarginCeiling <= 0 || c.NormalMarginCeiling > 1 {
		c.NormalMarginCeiling = 0.80
	}
	if c.RecoveryMarginCeiling <= 0 || c.RecoveryMarginCeiling > 1 {
		c.RecoveryMarginCeiling = 0.50
	}
	if c.RecoveryMarginCeiling > c.NormalMarginCeiling {
		return fmt.Errorf("recoveryMarginCeiling 不能高于 normalMarginCeiling")
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = 10 * time.Second
	}
	return nil
}

// Manager 日内止损状态机（RiskState 的唯一所有者）。
//
// 状态迁移（触线判定是边沿触发的）：
//   NORMAL   --dd触线--> COOLDOWN（撤单+强平恰好执行一次）
//   COOLDOWN --冷静期到--> RECOVERY（新仓按 multiplier 缩放）
//   RECOVERY --dd再触线--> LOCKED（回调绝不二次执行）
//   NORMAL(已触发过) --dd触线--> LOCKED
// 所有迁移入队为类型化事件，调用方按 FIFO 经 DrainEvents 取走。
type Manager struct {
	mu  sync.Mutex
	cfg ManagerConfig
	cbs Callbacks
	now func() time.Time

	mode                  Mode
	dayStartEquity        decimal.Decimal
	killSwitchFiredToday  bool
	cooldownEnd           time.Time
	flattenInProgress     bool
	flattenCompletedToday bool

	events []domain.Event
}

// NewManager 创建风控状态机。cfg 必须先通过 Validate。
func NewManager(cfg ManagerConfig, cbs Callbacks) *Manager {
	return &Manager{
		cfg:  cfg,
		cbs:  cbs,
		now:  time.Now,
		mode: ModeNormal,
	}
}

// Mode 当前模式。
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// KillSwitchFiredToday 当日是否已触发过止损。
func (m *Manager) KillSwitchFiredToday() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitchFiredToday
}

// OnDayStart 日始重置：基线权益、当日触发标记、强平标记全部清零。
// LOCKED 在此处解除（LockedUntilDayStart 的约定归宿）。
func (m *Manager) OnDayStart(snap domain.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.mode
	m.mode = ModeNormal
	m.dayStartEquity = snap.Equity
	m.killSwitchFiredToday = false
	m.cooldownEnd = time.Time{}
	m.flattenInProgress = false
	m.flattenCompletedToday = false

	if prev != ModeNormal {
		m.enqueue(domain.ModeChangedEvent{
			From: string(prev), To: string(ModeNormal),
			Reason: "day_start_reset", Timestamp: m.now(),
		})
	}
	riskLog.Infof("🌅 日始重置: dayStartEquity=%s prevMode=%s", snap.Equity, prev)
}

// ManualUnlock 人工解锁 LOCKED。仅当 LockedUntilDayStart=false 时允许。
func (m *Manager) ManualUnlock(operator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.LockedUntilDayStart {
		return fmt.Errorf("lockedUntilDayStart=true，LOCKED 只能由日始重置解除")
	}
	if m.mode != ModeLocked {
		return fmt.Errorf("当前模式 %s 不是 LOCKED", m.mode)
	}
	m.mode = ModeRecovery
	m.enqueue(domain.ModeChangedEvent{
		From: string(ModeLocked), To: string(ModeRecovery),
		Reason: "manual_unlock:" + operator, Timestamp: m.now(),
	})
	riskLog.Warnf("🔓 人工解锁: operator=%s -> RECOVERY", operator)
	return nil
}

// Update 按最新账户快照推进状态机。
// 同一交易日内撤单/强平回调至多执行一次；二次触线直接 LOCKED。
func (m *Manager) Update(snap domain.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dayStartEquity.IsZero() {
		// 未显式 OnDayStart 时，以首个快照为当日基线
		m.dayStartEquity = snap.Equity
	}

	dd := m.drawdownLocked(snap.Equity)
	now := m.now()

	switch m.mode {
	case ModeNormal:
		if dd <= -m.cfg.DailyLossLimit {
			if m.killSwitchFiredToday {
				// 现有迁移表不会带着当日触发标记回到 NORMAL
				// （日始重置清标记，人工解锁只到 RECOVERY）。
				// 这里兜住的是将来新增此类迁移时的单次触发约束：
				// 已触发过则绝不二次执行回调，直接锁定。
				m.transitionLocked(ModeLocked, "second_breach", now)
				return
			}
			m.fireKillSwitchLocked(snap, dd, now)
		}

	case ModeCooldown:
		if !m.cooldownEnd.IsZero() && !now.Before(m.cooldownEnd) {
			m.transitionLocked(ModeRecovery, "cooldown_elapsed", now)
		}

	case ModeRecovery:
		if dd <= -m.cfg.DailyLossLimit {
			m.transitionLocked(ModeLocked, "second_breach", now)
		}

	case ModeLocked:
		// 终态（当日），等待日始重置或人工解锁
	}
}

// CanOpen 是否允许开新仓。拦截时返回机器可读原因码与说明。
func (m *Manager) CanOpen(snap domain.AccountSnapshot) (bool, domain.ReasonCode, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case ModeLocked:
		return false, domain.ReasonRiskLocked, "当日风控已锁定，禁止开仓"
	case ModeCooldown:
		return false, domain.ReasonRiskCooldown, "冷静期内禁止开仓"
	}

	ceiling := m.cfg.NormalMarginCeiling
	if m.mode == ModeRecovery {
		ceiling = m.cfg.RecoveryMarginCeiling
	}
	if r := snap.MarginRatio(); r > ceiling {
		return false, domain.ReasonMarginCeiling,
			fmt.Sprintf("保证金占用 %.2f 超过 %s 模式上限 %.2f", r, m.mode, ceiling)
	}
	return true, "", ""
}

// ScaleQty 按当前模式缩放目标数量（恢复期乘 multiplier 向下取整，至少为 1）。
func (m *Manager) ScaleQty(qty int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeRecovery || qty <= 0 {
		return qty
	}
	scaled := int64(float64(qty) * m.cfg.RecoveryRiskMultiplier)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// BeginFlatten 尝试进入强平流程。已在进行中则返回 false（阻止重入）。
func (m *Manager) BeginFlatten() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flattenInProgress || m.flattenCompletedToday {
		return false
	}
	m.flattenInProgress = true
	return true
}

// CompleteFlatten 强平流程收尾。
func (m *Manager) CompleteFlatten(symbols, rejections int, aborted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flattenInProgress = false
	m.flattenCompletedToday = true
	m.enqueue(domain.FlattenCompletedEvent{
		Symbols: symbols, Rejections: rejections, Aborted: aborted, Timestamp: m.now(),
	})
}

// FlattenInProgress 强平是否进行中。
func (m *Manager) FlattenInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flattenInProgress
}

// DrainEvents 按 FIFO 取走全部待处理事件。
func (m *Manager) DrainEvents() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}

// Drawdown 当前回撤比例（负数表示亏损）。
func (m *Manager) Drawdown(equity decimal.Decimal) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdownLocked(equity)
}

func (m *Manager) drawdownLocked(equity decimal.Decimal) float64 {
	if m.dayStartEquity.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	dd, _ := equity.Sub(m.dayStartEquity).Div(m.dayStartEquity).Float64()
	return dd
}

// fireKillSwitchLocked 触发日内止损：撤单+强平各执行一次，进入 COOLDOWN。
// 调用方持有 m.mu。
func (m *Manager) fireKillSwitchLocked(snap domain.AccountSnapshot, dd float64, now time.Time) {
	m.killSwitchFiredToday = true

	riskLog.Warnf("🚨 日内止损触发: dd=%.4f limit=-%.4f equity=%s dayStart=%s",
		dd, m.cfg.DailyLossLimit, snap.Equity, m.dayStartEquity)

	m.enqueue(domain.KillSwitchFiredEvent{
		Drawdown:       dd,
		DayStartEquity: m.dayStartEquity.String(),
		Equity:         snap.Equity.String(),
		Timestamp:      now,
	})

	m.runCallbackLocked("cancel_all", m.cbs.CancelAll, now)
	m.runCallbackLocked("force_flatten", m.cbs.ForceFlatten, now)

	m.cooldownEnd = now.Add(m.cfg.Cooldown)
	m.transitionLocked(ModeCooldown, "daily_loss_breach", now)
}

// runCallbackLocked 限时执行回调，panic/错误/超时都转为失败事件。
func (m *Manager) runCallbackLocked(name string, fn func(ctx context.Context) error, now time.Time) {
	if fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallbackTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("panic: %v", r)
			}
		}()
		errCh <- fn(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = fmt.Errorf("timeout after %s", m.cfg.CallbackTimeout)
	}
	if err != nil {
		riskLog.Errorf("❌ 风控动作失败: action=%s err=%v", name, err)
		m.enqueue(domain.RiskActionFailedEvent{Action: name, Error: err.Error(), Timestamp: now})
	}
}

func (m *Manager) transitionLocked(to Mode, reason string, now time.Time) {
	from := m.mode
	if from == to {
		return
	}
	m.mode = to
	m.enqueue(domain.ModeChangedEvent{
		From: string(from), To: string(to), Reason: reason, Timestamp: now,
	})
	riskLog.Infof("🔀 风控模式: %s -> %s (%s)", from, to, reason)
}

func (m *Manager) enqueue(e domain.Event) {
	m.events = append(m.events, e)
}
