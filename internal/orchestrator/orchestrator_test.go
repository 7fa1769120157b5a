package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qtrade/riskcore/internal/audit"
	"github.com/qtrade/riskcore/internal/brokersim"
	"github.com/qtrade/riskcore/internal/confirm"
	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/execution"
	"github.com/qtrade/riskcore/internal/intent"
	"github.com/qtrade/riskcore/internal/risk"
)

// memSink 内存审计落点（测试用）。
type memSink struct {
	recs []domain.AuditRecord
}

func (s *memSink) Append(rec domain.AuditRecord) error {
	s.recs = append(s.recs, rec)
	return nil
}
func (s *memSink) Close() error { return nil }

type stack struct {
	orch *Orchestrator
	sim  *brokersim.Transport
	sink *memSink
}

func newTestStack(t *testing.T) *stack {
	t.Helper()

	bc := risk.BreakerConfig{Thresholds: risk.BreakerThresholds{DailyLossPct: 0.50}}
	if err := bc.Validate(); err != nil {
		t.Fatalf("breaker config: %v", err)
	}
	breaker := risk.NewBreaker(bc)

	gc := confirm.GateConfig{
		SoftNotional:        decimal.NewFromInt(100_000_000),
		HardNotional:        decimal.NewFromInt(200_000_000),
		DaySessionStartHour: 0,
		DaySessionEndHour:   24,
	}
	if err := gc.Validate(); err != nil {
		t.Fatalf("gate config: %v", err)
	}
	gate := confirm.NewGate(gc, breaker, nil)

	rc := risk.ManagerConfig{
		DailyLossLimit:      0.03,
		LockedUntilDayStart: true,
	}
	if err := rc.Validate(); err != nil {
		t.Fatalf("risk config: %v", err)
	}

	sim := brokersim.New()
	sink := &memSink{}
	orch := New(rc, Deps{
		Registry:  intent.NewRegistry(nil),
		Gate:      gate,
		Breaker:   breaker,
		Executor:  execution.NewSerialExecutor(sim, 3),
		Transport: sim,
		Sink:      sink,
	})

	base := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	orch.now = func() time.Time { return base }
	seq := 0
	orch.newCorrID = func() string { seq++; return fmt.Sprintf("tick-%04d", seq) }
	return &stack{orch: orch, sim: sim, sink: sink}
}

func eq(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func book(symbol string, bid, ask int64) domain.BookTop {
	return domain.BookTop{
		Symbol: symbol, Bid: eq(bid), Ask: eq(ask), TickSize: decimal.NewFromFloat(0.2),
	}
}

func openIntent(symbol string, qty int64) *domain.OrderIntent {
	return &domain.OrderIntent{
		StrategyID:   "trend_a",
		DecisionHash: "d-" + symbol,
		Symbol:       symbol,
		Side:         domain.SideBuy,
		Offset:       domain.OffsetOpen,
		TargetQty:    qty,
		Algo:         domain.AlgoPassive,
		Urgency:      domain.UrgencyNormal,
		SignalTS:     1767259800000,
	}
}

func TestTickExecutesApprovedIntents(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	acct := domain.AccountSnapshot{Equity: eq(1_000_000), Timestamp: time.UnixMilli(1767259800000)}
	s.orch.OnDayStart(acct)

	in := TickInput{
		Account: acct,
		Books:   map[string]domain.BookTop{"IF2609": book("IF2609", 4000, 4001)},
		Intents: []IntentRequest{{Intent: openIntent("IF2609", 2), Multiplier: 300}},
	}
	res := s.orch.Tick(ctx, in)

	if res.Mode != risk.ModeNormal {
		t.Fatalf("mode = %s, want NORMAL", res.Mode)
	}
	if res.Executed != 1 || res.Rejected != 0 {
		t.Fatalf("executed=%d rejected=%d, want 1/0", res.Executed, res.Rejected)
	}
	if len(res.Events) == 0 {
		t.Fatal("no events recorded")
	}
	if _, ok := res.Events[0].(domain.SnapshotHashEvent); !ok {
		t.Fatalf("first event = %T, want SnapshotHashEvent", res.Events[0])
	}
	if res.SnapshotHash == "" {
		t.Fatal("empty snapshot hash")
	}
	if len(s.sink.recs) != len(res.Events) {
		t.Fatalf("sink has %d records, result has %d events", len(s.sink.recs), len(res.Events))
	}

	calls := s.sim.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("unexpected broker calls: %v", calls)
	}
	if calls[0][0].Offset != domain.OffsetOpen || calls[0][0].Qty != 2 {
		t.Fatalf("unexpected order: %+v", calls[0][0])
	}
}

func TestTickRejectsDuplicateIntent(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	acct := domain.AccountSnapshot{Equity: eq(1_000_000), Timestamp: time.UnixMilli(1767259800000)}
	s.orch.OnDayStart(acct)

	in := TickInput{
		Account: acct,
		Books:   map[string]domain.BookTop{"IF2609": book("IF2609", 4000, 4001)},
		Intents: []IntentRequest{{Intent: openIntent("IF2609", 2), Multiplier: 300}},
	}
	first := s.orch.Tick(ctx, in)
	if first.Executed != 1 {
		t.Fatalf("first tick executed=%d, want 1", first.Executed)
	}

	// 同一意图原样重放：准入被拒，柜台不再收到任何提交
	second := s.orch.Tick(ctx, in)
	if second.Executed != 0 {
		t.Fatalf("second tick executed=%d, want 0", second.Executed)
	}
	var dup bool
	for _, e := range second.Events {
		if d, ok := e.(domain.ConfirmDecisionEvent); ok {
			for _, r := range d.Reasons {
				if r == string(domain.ReasonDuplicateIntent) {
					dup = true
				}
			}
		}
	}
	if !dup {
		t.Fatal("expected DUPLICATE_INTENT decision on replayed intent")
	}
	if err := s.sim.AssertAtMostOnce(); err != nil {
		t.Fatal(err)
	}
	if calls := s.sim.Calls(); len(calls) != 1 {
		t.Fatalf("broker got %d calls, want 1", len(calls))
	}
}

func TestKillSwitchTickFlattensAndBlocksOpens(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	s.orch.OnDayStart(domain.AccountSnapshot{Equity: eq(1_000_000)})

	in := TickInput{
		Account: domain.AccountSnapshot{
			Equity: eq(969_000), MarginUsed: eq(150_000),
			Timestamp: time.UnixMilli(1767259800000),
		},
		Positions: []domain.Position{
			{Symbol: "IF2609", Direction: domain.DirLong, Qty: 5, AvailableQty: 5},
			{Symbol: "IC2609", Direction: domain.DirShort, Qty: 2, AvailableQty: 2}, // 无盘口
		},
		Books:   map[string]domain.BookTop{"IF2609": book("IF2609", 3900, 3901)},
		Intents: []IntentRequest{{Intent: openIntent("IF2609", 10), Multiplier: 300}},
	}
	res := s.orch.Tick(ctx, in)

	if res.Mode != risk.ModeCooldown {
		t.Fatalf("mode = %s, want COOLDOWN", res.Mode)
	}
	if !res.FlattenRan || res.FlattenAborted {
		t.Fatalf("flatten ran=%v aborted=%v, want true/false", res.FlattenRan, res.FlattenAborted)
	}

	var fired, flattenDone, dataQuality, cooldownRejected bool
	for _, e := range res.Events {
		switch ev := e.(type) {
		case domain.KillSwitchFiredEvent:
			fired = true
		case domain.FlattenCompletedEvent:
			flattenDone = true
			if ev.Symbols != 1 || ev.Rejections != 0 || ev.Aborted {
				t.Fatalf("flatten summary: %+v", ev)
			}
		case domain.DataQualityEvent:
			if ev.Symbol == "IC2609" {
				dataQuality = true
			}
		case domain.ConfirmDecisionEvent:
			for _, r := range ev.Reasons {
				if r == string(domain.ReasonRiskCooldown) {
					cooldownRejected = true
				}
			}
		}
	}
	if !fired || !flattenDone || !dataQuality || !cooldownRejected {
		t.Fatalf("missing events: fired=%v flatten=%v dataQuality=%v cooldownRejected=%v",
			fired, flattenDone, dataQuality, cooldownRejected)
	}

	// 柜台只收到强平平仓单：SELL CLOSE IF2609 x5
	calls := s.sim.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("unexpected broker calls: %v", calls)
	}
	o := calls[0][0]
	if o.Symbol != "IF2609" || o.Side != domain.SideSell || o.Offset != domain.OffsetClose || o.Qty != 5 {
		t.Fatalf("unexpected flatten order: %+v", o)
	}
}

func TestFlattenStopsAtRejectionBudget(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	s.orch.OnDayStart(domain.AccountSnapshot{Equity: eq(1_000_000)})

	symbols := []string{"AG2609", "AU2609", "CU2609", "IF2609", "RB2609"}
	books := make(map[string]domain.BookTop, len(symbols))
	var positions []domain.Position
	for _, sym := range symbols {
		s.sim.RejectSymbol(sym, "exchange rejected")
		books[sym] = book(sym, 1000, 1001)
		positions = append(positions, domain.Position{
			Symbol: sym, Direction: domain.DirLong, Qty: 1, AvailableQty: 1,
		})
	}

	res := s.orch.Tick(ctx, TickInput{
		Account: domain.AccountSnapshot{
			Equity: eq(960_000), Timestamp: time.UnixMilli(1767259800000),
		},
		Positions: positions,
		Books:     books,
	})

	if !res.FlattenRan || !res.FlattenAborted {
		t.Fatalf("flatten ran=%v aborted=%v, want true/true", res.FlattenRan, res.FlattenAborted)
	}
	// 拒单预算 3：第 4 个及之后的合约一单不发
	if calls := s.sim.Calls(); len(calls) != 3 {
		t.Fatalf("broker got %d flatten batches, want 3", len(calls))
	}
	var done domain.FlattenCompletedEvent
	for _, e := range res.Events {
		if ev, ok := e.(domain.FlattenCompletedEvent); ok {
			done = ev
		}
	}
	if done.Symbols != 3 || done.Rejections != 3 || !done.Aborted {
		t.Fatalf("flatten summary: %+v", done)
	}
}

// 回放一致性：相同的脚本化输入喂给两套独立装配的栈（挂钟与关联号不同），
// decision / guardian / 全量三个事件族都必须逐条一致。
func TestTickReplayDeterminism(t *testing.T) {
	script := func() []TickInput {
		acctTS := time.UnixMilli(1767259800000)
		return []TickInput{
			{
				Account: domain.AccountSnapshot{Equity: eq(1_000_000), Timestamp: acctTS},
				Books:   map[string]domain.BookTop{"IF2609": book("IF2609", 4000, 4001)},
				Intents: []IntentRequest{{Intent: openIntent("IF2609", 2), Multiplier: 300}},
			},
			{
				Account: domain.AccountSnapshot{
					Equity: eq(969_000), Timestamp: acctTS.Add(time.Minute),
				},
				Positions: []domain.Position{
					{Symbol: "IF2609", Direction: domain.DirLong, Qty: 2, AvailableQty: 2},
				},
				Books:   map[string]domain.BookTop{"IF2609": book("IF2609", 3900, 3901)},
				Intents: []IntentRequest{{Intent: openIntent("IC2609", 4), Multiplier: 200}},
			},
		}
	}

	run := func(clockBase time.Time, corrPrefix string) []domain.AuditRecord {
		s := newTestStack(t)
		s.orch.now = func() time.Time { return clockBase }
		seq := 0
		s.orch.newCorrID = func() string { seq++; return fmt.Sprintf("%s-%d", corrPrefix, seq) }

		s.orch.OnDayStart(domain.AccountSnapshot{Equity: eq(1_000_000)})
		for _, in := range script() {
			s.orch.Tick(context.Background(), in)
		}
		return s.sink.recs
	}

	a := run(time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC), "run-a")
	b := run(time.Date(2026, 2, 9, 21, 5, 0, 0, time.UTC), "run-b")

	for _, fam := range []audit.Family{audit.FamilyAll, audit.FamilyDecision, audit.FamilyGuardian} {
		res := audit.Verify(a, b, fam)
		if !res.IsMatch {
			t.Fatalf("family %s mismatch at %d:\nA: %s\nB: %s",
				fam, res.FirstMismatchIndex, res.MismatchA, res.MismatchB)
		}
	}
}
