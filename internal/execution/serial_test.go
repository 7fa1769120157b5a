package execution

import (
	"context"
	"fmt"
	"testing"

	"github.com/qtrade/riskcore/internal/brokersim"
	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/intent"
	"github.com/qtrade/riskcore/internal/ports"
)

func item(symbol string, offset domain.Offset, qty int64) Item {
	i := &domain.OrderIntent{
		StrategyID:   "trend_01",
		DecisionHash: "hash_" + symbol + string(offset),
		Symbol:       symbol,
		Side:         domain.SideBuy,
		Offset:       offset,
		TargetQty:    qty,
		SignalTS:     1766301000000,
	}
	return Item{IntentID: intent.IntentID(i), Intent: i}
}

func TestSerialExecutor_CloseBeforeOpen(t *testing.T) {
	sim := brokersim.New()
	e := NewSerialExecutor(sim, 3)

	batch := []Item{
		item("rb2510", domain.OffsetOpen, 2),
		item("hc2510", domain.OffsetClose, 1),
		item("i2509", domain.OffsetOpen, 3),
		item("rb2510", domain.OffsetCloseToday, 4),
	}
	res := e.Execute(context.Background(), batch, "corr-1", 0)

	if res.Rejections() != 0 || res.Aborted {
		t.Fatalf("clean batch: %+v", res)
	}

	// 事件序：平仓全部先于开仓，各自保持相对顺序
	var offsets []domain.Offset
	for _, ev := range res.Events {
		if ex, ok := ev.(domain.OrderExecutedEvent); ok {
			offsets = append(offsets, ex.Offset)
		}
	}
	want := []domain.Offset{domain.OffsetClose, domain.OffsetCloseToday, domain.OffsetOpen, domain.OffsetOpen}
	if len(offsets) != len(want) {
		t.Fatalf("expected %d executed events, got %d", len(want), len(offsets))
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("event order mismatch at %d: got %v want %v", i, offsets, want)
		}
	}

	// 柜台调用也应为两个子批次：先平后开
	calls := sim.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 transport calls, got %d", len(calls))
	}
	for _, o := range calls[0] {
		if !o.Offset.IsClose() {
			t.Fatalf("first call must contain only closes: %+v", o)
		}
	}
	for _, o := range calls[1] {
		if o.Offset != domain.OffsetOpen {
			t.Fatalf("second call must contain only opens: %+v", o)
		}
	}
	for _, corr := range sim.CorrelationIDs() {
		if corr != "corr-1" {
			t.Fatalf("all calls must carry the correlation id, got %q", corr)
		}
	}
	if err := sim.AssertAtMostOnce(); err != nil {
		t.Fatalf("idempotency violated: %v", err)
	}
}

func TestSerialExecutor_AbortSkipsOpens(t *testing.T) {
	sim := brokersim.New()
	sim.RejectSymbol("hc2510", "insufficient position")
	e := NewSerialExecutor(sim, 2)

	batch := []Item{
		item("hc2510", domain.OffsetClose, 1),
		item("hc2510", domain.OffsetCloseToday, 2),
		item("rb2510", domain.OffsetOpen, 3),
	}
	res := e.Execute(context.Background(), batch, "corr-2", 0)

	if res.CloseRejections != 2 || !res.Aborted {
		t.Fatalf("expected 2 close rejections and abort: %+v", res)
	}

	// 零开仓事件 + 一条显式 open_skipped
	var opens, skips int
	for _, ev := range res.Events {
		switch v := ev.(type) {
		case domain.OrderExecutedEvent:
			if v.Offset == domain.OffsetOpen {
				opens++
			}
		case domain.OpenSkippedEvent:
			skips++
			if v.SkippedOpens != 1 || v.MaxRejections != 2 {
				t.Fatalf("open_skipped detail: %+v", v)
			}
		}
	}
	if opens != 0 || skips != 1 {
		t.Fatalf("opens=%d skips=%d", opens, skips)
	}
	if len(sim.Calls()) != 1 {
		t.Fatalf("open sub-batch must never reach the transport")
	}
}

func TestSerialExecutor_PriorRejectionsShareBudget(t *testing.T) {
	sim := brokersim.New()
	e := NewSerialExecutor(sim, 3)

	// 本批平仓全部成功，但此前批次已累计 3 笔拒单：开仓仍须跳过
	batch := []Item{
		item("rb2510", domain.OffsetClose, 1),
		item("rb2510", domain.OffsetOpen, 1),
	}
	res := e.Execute(context.Background(), batch, "corr-3", 3)
	if !res.Aborted {
		t.Fatalf("prior rejections must count against the shared budget: %+v", res)
	}
}

func TestSerialExecutor_TransportFailureBecomesRejections(t *testing.T) {
	sim := brokersim.New()
	sim.FailNextCall(fmt.Errorf("counter disconnected"))
	e := NewSerialExecutor(sim, 10)

	batch := []Item{
		item("rb2510", domain.OffsetClose, 1),
		item("hc2510", domain.OffsetClose, 2),
	}
	res := e.Execute(context.Background(), batch, "corr-4", 0)

	if res.CloseRejections != 2 {
		t.Fatalf("whole-call failure must surface as per-order rejections: %+v", res)
	}
	for _, ev := range res.Events {
		rej, ok := ev.(domain.OrderRejectedEvent)
		if !ok {
			t.Fatalf("expected rejection events only, got %T", ev)
		}
		if rej.Reason == "" {
			t.Fatalf("rejection must carry a reason")
		}
	}
}

// misalignedTransport 回执条数与订单数不一致的故障柜台。
type misalignedTransport struct {
	extra int // 正数多回，负数少回
}

func (m *misalignedTransport) Execute(_ context.Context, orders []ports.BrokerOrder, _ string) ([]ports.ExecutionRecord, error) {
	n := len(orders) + m.extra
	recs := make([]ports.ExecutionRecord, 0, n)
	for i := 0; i < n; i++ {
		cid := "ghost"
		if i < len(orders) {
			cid = orders[i].ClientOrderID
		}
		recs = append(recs, ports.ExecutionRecord{ClientOrderID: cid, Accepted: true})
	}
	return recs, nil
}

func (m *misalignedTransport) DrainEvents() []domain.Event { return nil }

func TestSerialExecutor_MisalignedReplyBecomesRejections(t *testing.T) {
	for _, extra := range []int{1, -1} {
		e := NewSerialExecutor(&misalignedTransport{extra: extra}, 10)
		batch := []Item{
			item("rb2510", domain.OffsetClose, 1),
			item("hc2510", domain.OffsetClose, 2),
		}
		res := e.Execute(context.Background(), batch, "corr-5", 0)

		if len(res.Records) != len(batch) {
			t.Fatalf("extra=%d: records must stay aligned with orders: %+v", extra, res)
		}
		if res.CloseRejections != len(batch) {
			t.Fatalf("extra=%d: misaligned reply must surface as per-order rejections: %+v", extra, res)
		}
		for _, ev := range res.Events {
			if _, ok := ev.(domain.OrderRejectedEvent); !ok {
				t.Fatalf("extra=%d: expected rejection events only, got %T", extra, ev)
			}
		}
	}
}
