package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot 账户快照（不可变）。
// 每个 tick 由外部行情/柜台回报层采集一次，风控层只读消费。
type AccountSnapshot struct {
	Equity     decimal.Decimal // 动态权益
	MarginUsed decimal.Decimal // 占用保证金
	Timestamp  time.Time       // 采集时间
}

// MarginRatio 保证金占用比（MarginUsed / Equity）。
// Equity <= 0 时返回 1.0（视为满仓占用，风控侧按最保守处理）。
func (s AccountSnapshot) MarginRatio() float64 {
	if s.Equity.LessThanOrEqual(decimal.Zero) {
		return 1.0
	}
	r, _ := s.MarginUsed.Div(s.Equity).Float64()
	return r
}

// Direction 持仓方向
type Direction string

const (
	DirLong  Direction = "LONG"  // 多头
	DirShort Direction = "SHORT" // 空头
)

// Position 持仓（tick 内只读）
type Position struct {
	Symbol       string    // 合约代码
	Direction    Direction // 持仓方向
	Qty          int64     // 总持仓（手）
	AvailableQty int64     // 可平数量（手），扣除冻结
}

// CloseSide 返回平掉该仓位所需的买卖方向（平多=卖，平空=买）。
func (p Position) CloseSide() Side {
	if p.Direction == DirLong {
		return SideSell
	}
	return SideBuy
}

// BookTop 盘口一档（假定上游已做质量过滤）
type BookTop struct {
	Symbol   string
	Bid      decimal.Decimal // 最优买价
	Ask      decimal.Decimal // 最优卖价
	TickSize decimal.Decimal // 最小变动价位
}

// IsValid 盘口是否可用（买卖价均为正）。
func (b BookTop) IsValid() bool {
	return b.Bid.IsPositive() && b.Ask.IsPositive()
}
