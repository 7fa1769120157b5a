package brokersim

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/ports"
)

var simLog = logrus.WithField("component", "broker_sim")

// Transport 纸交易柜台：不触达真实交易所，按预设规则逐笔回执。
// 用于测试与 riskcored 的演练模式。
type Transport struct {
	mu            sync.Mutex
	rejectSymbols map[string]string // symbol -> 拒单原因
	failNextCall  error             // 下一次 Execute 整体失败（模拟柜台断连）

	calls   [][]ports.BrokerOrder // 历史提交（断言用）
	corrIDs []string
	seen    map[string]int // clientOrderID -> 提交次数（幂等性断言用）
	events  []domain.Event
}

// New 创建纸交易柜台。
func New() *Transport {
	return &Transport{
		rejectSymbols: make(map[string]string),
		seen:          make(map[string]int),
	}
}

// RejectSymbol 配置指定合约逐笔拒单。
func (t *Transport) RejectSymbol(symbol, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectSymbols[symbol] = reason
}

// FailNextCall 配置下一次 Execute 整体失败。
func (t *Transport) FailNextCall(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNextCall = err
}

// Execute 模拟提交：逐笔回执，拒单按 RejectSymbol 配置产生。
func (t *Transport) Execute(ctx context.Context, orders []ports.BrokerOrder, correlationID string) ([]ports.ExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failNextCall != nil {
		err := t.failNextCall
		t.failNextCall = nil
		return nil, err
	}

	t.calls = append(t.calls, append([]ports.BrokerOrder(nil), orders...))
	t.corrIDs = append(t.corrIDs, correlationID)

	recs := make([]ports.ExecutionRecord, 0, len(orders))
	for _, o := range orders {
		t.seen[o.ClientOrderID]++
		if reason, ok := t.rejectSymbols[o.Symbol]; ok {
			recs = append(recs, ports.ExecutionRecord{
				ClientOrderID: o.ClientOrderID, Accepted: false, RejectReason: reason,
			})
			continue
		}
		simLog.Debugf("📝 [纸交易] 模拟提交: cid=%s %s %s %s qty=%d corr=%s",
			o.ClientOrderID, o.Symbol, o.Side, o.Offset, o.Qty, correlationID)
		recs = append(recs, ports.ExecutionRecord{ClientOrderID: o.ClientOrderID, Accepted: true})
	}
	return recs, nil
}

// DrainEvents 取走柜台侧事件（纸交易默认无；测试可经 PushEvent 注入）。
func (t *Transport) DrainEvents() []domain.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.events
	t.events = nil
	return out
}

// PushEvent 测试辅助：注入柜台侧事件。
func (t *Transport) PushEvent(e domain.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

// Calls 历史提交批次副本。
func (t *Transport) Calls() [][]ports.BrokerOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]ports.BrokerOrder, len(t.calls))
	copy(out, t.calls)
	return out
}

// CorrelationIDs 每次调用归属的 correlation id。
func (t *Transport) CorrelationIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.corrIDs...)
}

// SubmitCount clientOrderID 的累计提交次数（幂等性断言）。
func (t *Transport) SubmitCount(clientOrderID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[clientOrderID]
}

// AssertAtMostOnce 幂等性检查：任何 clientOrderID 提交超过一次即报错。
func (t *Transport) AssertAtMostOnce() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for cid, n := range t.seen {
		if n > 1 {
			return fmt.Errorf("clientOrderID %s 提交了 %d 次", cid, n)
		}
	}
	return nil
}
