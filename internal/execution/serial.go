package execution

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/intent"
	"github.com/qtrade/riskcore/internal/ports"
)

var execLog = logrus.WithField("component", "serial_executor")

// Item 一笔待执行的意图（已注册、已过闸口）。
type Item struct {
	IntentID string
	Intent   *domain.OrderIntent
	Qty      int64 // 缩放后的数量；0 表示用 Intent.TargetQty
}

// Result 一次批次执行的结果。
type Result struct {
	Events          []domain.Event          // 按发生顺序：平仓批次事件全部先于开仓批次
	Records         []ports.ExecutionRecord // 柜台逐笔回执
	CloseRejections int                     // 平仓批次拒单数
	OpenRejections  int                     // 开仓批次拒单数
	Aborted         bool                    // 是否因拒单超限跳过开仓批次
}

// Rejections 批次内拒单总数。
func (r Result) Rejections() int { return r.CloseRejections + r.OpenRejections }

// SerialExecutor 平仓优先的串行执行器。
//
// 不变量：任何混合批次中，全部平仓单先于任何开仓单提交；
// 平仓拒单数（含调用方传入的累计值）达到 maxRejections 时，开仓批次
// 一单不发并显式落 OpenSkippedEvent——解不开的风险敞口绝不允许再加仓。
type SerialExecutor struct {
	transport     ports.BrokerTransport
	maxRejections int
	now           func() time.Time
}

// NewSerialExecutor 创建执行器。maxRejections <= 0 时默认 3。
func NewSerialExecutor(transport ports.BrokerTransport, maxRejections int) *SerialExecutor {
	if maxRejections <= 0 {
		maxRejections = 3
	}
	return &SerialExecutor{
		transport:     transport,
		maxRejections: maxRejections,
		now:           time.Now,
	}
}

// MaxRejections 共享拒单阈值。
func (e *SerialExecutor) MaxRejections() int { return e.maxRejections }

// Execute 执行一个批次。priorRejections 为本 tick 先前批次累计的拒单数
// （强平按合约分批时共享同一阈值）。
func (e *SerialExecutor) Execute(ctx context.Context, items []Item, correlationID string, priorRejections int) Result {
	var res Result

	closes, opens := partition(items)

	if len(closes) > 0 {
		recs := e.submit(ctx, closes, correlationID)
		for i, rec := range recs {
			res.Records = append(res.Records, rec)
			res.Events = append(res.Events, recordEvent(closes[i], rec, e.now()))
			if !rec.Accepted {
				res.CloseRejections++
			}
		}
	}

	if priorRejections+res.CloseRejections >= e.maxRejections && len(opens) > 0 {
		res.Aborted = true
		res.Events = append(res.Events, domain.OpenSkippedEvent{
			CloseRejections: priorRejections + res.CloseRejections,
			MaxRejections:   e.maxRejections,
			SkippedOpens:    len(opens),
			Timestamp:       e.now(),
		})
		execLog.Warnf("⛔ 平仓拒单超限，跳过开仓批次: rejections=%d max=%d skipped=%d",
			priorRejections+res.CloseRejections, e.maxRejections, len(opens))
		return res
	}

	if len(opens) > 0 {
		recs := e.submit(ctx, opens, correlationID)
		for i, rec := range recs {
			res.Records = append(res.Records, rec)
			res.Events = append(res.Events, recordEvent(opens[i], rec, e.now()))
			if !rec.Accepted {
				res.OpenRejections++
			}
		}
	}
	return res
}

// submit 提交一个子批次。柜台整体调用失败时按逐笔拒单处理——
// 拒单是一等数据，整批失败也不允许被吞掉。
func (e *SerialExecutor) submit(ctx context.Context, items []Item, correlationID string) []ports.ExecutionRecord {
	orders := make([]ports.BrokerOrder, 0, len(items))
	for _, it := range items {
		orders = append(orders, buildOrder(it))
	}

	recs, err := e.transport.Execute(ctx, orders, correlationID)
	if err != nil {
		execLog.Errorf("❌ 柜台调用失败，整批按拒单处理: corr=%s err=%v", correlationID, err)
		return rejectAll(orders, "transport: "+err.Error())
	}
	// 回执必须与订单一一对应；错位的回执无法归属，整批按拒单处理
	if len(recs) != len(orders) {
		execLog.Errorf("❌ 柜台回执数量错位: corr=%s orders=%d records=%d",
			correlationID, len(orders), len(recs))
		return rejectAll(orders, "transport: misaligned reply")
	}
	return recs
}

func rejectAll(orders []ports.BrokerOrder, reason string) []ports.ExecutionRecord {
	recs := make([]ports.ExecutionRecord, len(orders))
	for i, o := range orders {
		recs[i] = ports.ExecutionRecord{
			ClientOrderID: o.ClientOrderID,
			Accepted:      false,
			RejectReason:  reason,
		}
	}
	return recs
}

func buildOrder(it Item) ports.BrokerOrder {
	qty := it.Qty
	if qty <= 0 {
		qty = it.Intent.TargetQty
	}
	// slice/retry 超界在意图构造期已被校验掉；这里 0/0 必然合法
	cid, _ := intent.FormatClientOrderID(it.IntentID, 0, 0)
	price := ""
	if it.Intent.LimitPrice != nil {
		price = it.Intent.LimitPrice.String()
	}
	return ports.BrokerOrder{
		ClientOrderID: cid,
		IntentID:      it.IntentID,
		Symbol:        it.Intent.Symbol,
		Side:          it.Intent.Side,
		Offset:        it.Intent.Offset,
		Qty:           qty,
		Price:         price,
		Algo:          it.Intent.Algo,
	}
}

func recordEvent(it Item, rec ports.ExecutionRecord, now time.Time) domain.Event {
	qty := it.Qty
	if qty <= 0 {
		qty = it.Intent.TargetQty
	}
	if rec.Accepted {
		return domain.OrderExecutedEvent{
			IntentID:      it.IntentID,
			ClientOrderID: rec.ClientOrderID,
			Symbol:        it.Intent.Symbol,
			Offset:        it.Intent.Offset,
			Qty:           qty,
			Timestamp:     now,
		}
	}
	return domain.OrderRejectedEvent{
		IntentID:      it.IntentID,
		ClientOrderID: rec.ClientOrderID,
		Symbol:        it.Intent.Symbol,
		Offset:        it.Intent.Offset,
		Reason:        rec.RejectReason,
		Timestamp:     now,
	}
}

// partition 稳定划分为平仓/开仓两个子批次（各自保持相对顺序）。
func partition(items []Item) (closes, opens []Item) {
	for _, it := range items {
		if it.Intent.Offset.IsClose() {
			closes = append(closes, it)
		} else {
			opens = append(opens, it)
		}
	}
	return closes, opens
}
