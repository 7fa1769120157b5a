package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Offset 开平标志。国内期货区分平今/平昨，风控层按「平仓优先」排序时
// CLOSE 与 CLOSETODAY 同属平仓组。
type Offset string

const (
	OffsetOpen       Offset = "OPEN"
	OffsetClose      Offset = "CLOSE"
	OffsetCloseToday Offset = "CLOSETODAY"
)

// IsClose 是否为平仓方向
func (o Offset) IsClose() bool {
	return o == OffsetClose || o == OffsetCloseToday
}

// Algo 执行算法
type Algo string

const (
	AlgoAggressive Algo = "AGGRESSIVE" // 对价吃单
	AlgoPassive    Algo = "PASSIVE"    // 挂价等待
	AlgoTWAP       Algo = "TWAP"       // 时间加权拆单
)

// Urgency 紧急程度
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyNormal Urgency = "NORMAL"
	UrgencyHigh   Urgency = "HIGH" // 强平/风控单
)

// OrderIntent 交易意图（不可变值对象）。
//
// 上游策略/组合层产出，经确认闸口与注册表准入后进入执行。
// 注意：intent_id 不是字段——它由经济字段推导（见 internal/intent），
// 任何经济字段变化都会产生不同的 id，元数据（算法、紧急度、限价）不参与。
type OrderIntent struct {
	StrategyID   string  // 策略 ID
	DecisionHash string  // 上游决策哈希（同一决策重发时保持一致）
	Symbol       string  // 合约代码
	Side         Side    // 买卖方向
	Offset       Offset  // 开平标志
	TargetQty    int64   // 目标数量（手），必须 > 0
	Algo         Algo    // 执行算法（元数据）
	Urgency      Urgency // 紧急程度（元数据）

	LimitPrice *decimal.Decimal // 限价（可选，nil 表示市价/对价）
	SignalTS   int64            // 信号时间戳（毫秒）
	ExpireTS   int64            // 过期时间戳（毫秒，0 表示不过期）

	ParentIntentID string // 父意图 ID（拆单/补单场景，可选）
}

// Validate 构造期校验：非法意图不允许进入任何后续环节。
func (i *OrderIntent) Validate() error {
	if i == nil {
		return fmt.Errorf("intent is nil")
	}
	if i.StrategyID == "" {
		return fmt.Errorf("strategyID 不能为空")
	}
	if i.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if i.Side != SideBuy && i.Side != SideSell {
		return fmt.Errorf("非法 side: %q", i.Side)
	}
	switch i.Offset {
	case OffsetOpen, OffsetClose, OffsetCloseToday:
	default:
		return fmt.Errorf("非法 offset: %q", i.Offset)
	}
	if i.TargetQty <= 0 {
		return fmt.Errorf("targetQty 必须 > 0, got %d", i.TargetQty)
	}
	if i.LimitPrice != nil && !i.LimitPrice.IsPositive() {
		return fmt.Errorf("limitPrice 必须 > 0, got %s", i.LimitPrice)
	}
	if i.SignalTS <= 0 {
		return fmt.Errorf("signalTS 必须 > 0")
	}
	if i.ExpireTS != 0 && i.ExpireTS < i.SignalTS {
		return fmt.Errorf("expireTS 早于 signalTS")
	}
	return nil
}

// Notional 名义金额（价格 × 数量 × 合约乘数）。
// 无限价时用传入的参考价（通常为对手价）。
func (i *OrderIntent) Notional(refPrice decimal.Decimal, multiplier int64) decimal.Decimal {
	px := refPrice
	if i.LimitPrice != nil {
		px = *i.LimitPrice
	}
	return px.Mul(decimal.NewFromInt(i.TargetQty)).Mul(decimal.NewFromInt(multiplier))
}
