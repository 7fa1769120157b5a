package domain

import (
	"time"
)

// EventKind 事件类型标识（审计记录中的 type 字段）。
type EventKind string

const (
	// 审计类
	EventKindSnapshotHash EventKind = "audit.snapshot_hash" // tick 输入的规范化哈希
	EventKindDataQuality  EventKind = "audit.data_quality"  // 数据缺失/异常（如持仓无盘口）

	// 风控类（guardian 族）
	EventKindKillSwitchFired  EventKind = "risk.kill_switch_fired"
	EventKindModeChanged      EventKind = "risk.mode_changed"
	EventKindRiskActionFailed EventKind = "risk.action_failed"
	EventKindFlattenCompleted EventKind = "risk.flatten_completed"
	EventKindBreakerTripped   EventKind = "risk.breaker_transition"

	// 决策类（decision 族）
	EventKindConfirmDecision EventKind = "decision.confirmation"

	// 执行类
	EventKindOrderExecuted EventKind = "exec.order_executed"
	EventKindOrderRejected EventKind = "exec.order_rejected"
	EventKindOpenSkipped   EventKind = "exec.open_skipped"
)

// Event 闭集事件接口：每种事件一个结构体，只携带该种类的字段。
// 刻意不用 map[string]any 载荷——字段缺失在编译期暴露，而不是运行期 key 查找。
type Event interface {
	Kind() EventKind
}

// SnapshotHashEvent tick 输入快照的规范化哈希（回放一致性校验的锚点）。
type SnapshotHashEvent struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

func (SnapshotHashEvent) Kind() EventKind { return EventKindSnapshotHash }

// DataQualityEvent 数据质量问题（例如持仓缺盘口，强平时跳过该合约）。
type DataQualityEvent struct {
	Symbol    string    `json:"symbol"`
	Problem   string    `json:"problem"`
	Timestamp time.Time `json:"timestamp"`
}

func (DataQualityEvent) Kind() EventKind { return EventKindDataQuality }

// KillSwitchFiredEvent 日内止损触发（每个交易日至多一次）。
type KillSwitchFiredEvent struct {
	Drawdown       float64   `json:"drawdown"`        // 触发时回撤比例（负数）
	DayStartEquity string    `json:"day_start_equity"`
	Equity         string    `json:"equity"`
	Timestamp      time.Time `json:"timestamp"`
}

func (KillSwitchFiredEvent) Kind() EventKind { return EventKindKillSwitchFired }

// ModeChangedEvent 风控模式变更。
type ModeChangedEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (ModeChangedEvent) Kind() EventKind { return EventKindModeChanged }

// RiskActionFailedEvent 风控动作（撤单/强平回调）失败。
// 回调异常在边界捕获转为事件，绝不向上层抛出打断 tick。
type RiskActionFailedEvent struct {
	Action    string    `json:"action"` // "cancel_all" / "force_flatten"
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (RiskActionFailedEvent) Kind() EventKind { return EventKindRiskActionFailed }

// FlattenCompletedEvent 强平流程收尾。
type FlattenCompletedEvent struct {
	Symbols    int       `json:"symbols"`    // 覆盖的合约数
	Rejections int       `json:"rejections"` // 累计拒单数
	Aborted    bool      `json:"aborted"`    // 是否因拒单超限提前中止
	Timestamp  time.Time `json:"timestamp"`
}

func (FlattenCompletedEvent) Kind() EventKind { return EventKindFlattenCompleted }

// BreakerTransitionEvent 断路器状态迁移。
type BreakerTransitionEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (BreakerTransitionEvent) Kind() EventKind { return EventKindBreakerTripped }

// ConfirmDecisionEvent 确认闸口决策落档。
type ConfirmDecisionEvent struct {
	IntentID  string    `json:"intent_id"`
	Result    string    `json:"result"`
	Level     string    `json:"level"`
	Reasons   []string  `json:"reasons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (ConfirmDecisionEvent) Kind() EventKind { return EventKindConfirmDecision }

// OrderExecutedEvent 单笔订单已提交/成交回报。
type OrderExecutedEvent struct {
	IntentID      string    `json:"intent_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Offset        Offset    `json:"offset"`
	Qty           int64     `json:"qty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (OrderExecutedEvent) Kind() EventKind { return EventKindOrderExecuted }

// OrderRejectedEvent 单笔订单被拒。拒单是一等数据，不是异常。
type OrderRejectedEvent struct {
	IntentID      string    `json:"intent_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Offset        Offset    `json:"offset"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

func (OrderRejectedEvent) Kind() EventKind { return EventKindOrderRejected }

// OpenSkippedEvent 平仓批次失败超限，开仓批次整体跳过。
// 保证：解不掉的风险敞口绝不允许再叠加新敞口。
type OpenSkippedEvent struct {
	CloseRejections int       `json:"close_rejections"`
	MaxRejections   int       `json:"max_rejections"`
	SkippedOpens    int       `json:"skipped_opens"`
	Timestamp       time.Time `json:"timestamp"`
}

func (OpenSkippedEvent) Kind() EventKind { return EventKindOpenSkipped }
