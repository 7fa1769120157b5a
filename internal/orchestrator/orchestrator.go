package orchestrator

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/qtrade/riskcore/internal/confirm"
	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/execution"
	"github.com/qtrade/riskcore/internal/intent"
	"github.com/qtrade/riskcore/internal/metrics"
	"github.com/qtrade/riskcore/internal/ports"
	"github.com/qtrade/riskcore/internal/risk"
)

var orchLog = logrus.WithField("component", "orchestrator")

// guardianStrategyID 风控强平意图的策略标识。
const guardianStrategyID = "risk_guardian"

// Deps 编排器的注入依赖。
type Deps struct {
	Registry  *intent.Registry
	Gate      *confirm.Gate
	Breaker   *risk.Breaker
	Executor  *execution.SerialExecutor
	Transport ports.BrokerTransport
	Sink      ports.AuditSink

	// CancelAll 止损触发时的全撤回调（柜台能力，可为 nil）。
	CancelAll func(ctx context.Context) error
}

// TickResult 一个 tick 的聚合结果。
type TickResult struct {
	CorrelationID  string
	SnapshotHash   string
	Mode           risk.Mode
	Events         []domain.Event // 按落档顺序
	Executed       int
	Rejected       int
	FlattenRan     bool
	FlattenAborted bool
	AuditFailures  int // 审计落盘失败条数（只记不抛）
}

// Orchestrator 风控 tick 主循环。
//
// 每个 tick 严格按序推进：输入快照哈希 → 断路器/风控状态机推进 →
// 止损强平（若本 tick 触发）→ 意图准入（注册表→风控→确认闸口）→
// 串行执行。所有组件事件统一在此落档，事件顺序即语义顺序。
// Tick 不并发调用；tick 之间的外部接口（控制面）只读或走各组件自身的锁。
type Orchestrator struct {
	manager   *risk.Manager
	registry  *intent.Registry
	gate      *confirm.Gate
	breaker   *risk.Breaker
	executor  *execution.SerialExecutor
	transport ports.BrokerTransport
	sink      ports.AuditSink

	flattenRequested atomic.Bool
	breakerSeq       int // 已落档的断路器记录水位

	now       func() time.Time
	newCorrID func() string
}

// New 创建编排器并装配风控状态机。
// 强平回调只置位请求标记，实际强平在 Update 返回后的 tick 主线中执行——
// 回调在状态机持锁期间运行，绝不允许回调再进状态机。
func New(riskCfg risk.ManagerConfig, deps Deps) *Orchestrator {
	o := &Orchestrator{
		breakerSeq: -1,
		registry:   deps.Registry,
		gate:       deps.Gate,
		breaker:    deps.Breaker,
		executor:   deps.Executor,
		transport:  deps.Transport,
		sink:       deps.Sink,
		now:        time.Now,
		newCorrID:  func() string { return uuid.New().String() },
	}
	o.manager = risk.NewManager(riskCfg, risk.Callbacks{
		CancelAll: deps.CancelAll,
		ForceFlatten: func(ctx context.Context) error {
			o.flattenRequested.Store(true)
			return nil
		},
	})
	return o
}

// Manager 风控状态机（控制面只读/人工操作入口）。
func (o *Orchestrator) Manager() *risk.Manager { return o.manager }

// SetSink 装配/替换审计落点。只允许在开始 Tick 前调用一次（装配期，
// 控制面 WS tap 依赖编排器先建好）。
func (o *Orchestrator) SetSink(sink ports.AuditSink) { o.sink = sink }

// OnDayStart 日始重置（模式变更事件在下一个 tick 落档）。
func (o *Orchestrator) OnDayStart(snap domain.AccountSnapshot) {
	o.manager.OnDayStart(snap)
}

// Tick 推进一个风控周期。
func (o *Orchestrator) Tick(ctx context.Context, in TickInput) TickResult {
	corr := o.newCorrID()
	res := TickResult{CorrelationID: corr}

	res.SnapshotHash = SnapshotHash(in)
	o.record(corr, domain.SnapshotHashEvent{Hash: res.SnapshotHash, Timestamp: o.now()}, &res)

	o.breaker.Tick()
	o.manager.Update(in.Account)
	o.drainRisk(corr, &res)

	if o.flattenRequested.Swap(false) {
		o.runFlatten(ctx, in, corr, &res)
		o.drainRisk(corr, &res) // FlattenCompleted
	}

	items := o.admit(ctx, in, corr, &res)
	if len(items) > 0 {
		er := o.executor.Execute(ctx, items, corr, 0)
		o.recordExecution(corr, items, er, &res)
	}

	o.mirrorBreakerRecords(corr, &res)

	for _, e := range o.transport.DrainEvents() {
		o.record(corr, e, &res)
	}

	res.Mode = o.manager.Mode()

	metrics.TicksProcessed.Add(1)
	metrics.OrdersExecuted.Add(int64(res.Executed))
	metrics.OrdersRejected.Add(int64(res.Rejected))
	metrics.AuditAppendErrors.Add(int64(res.AuditFailures))
	return res
}

// admit 意图准入管道：注册表（幂等）→ 过期 → 风控开仓闸 → 确认闸口。
// 返回已放行、带缩放数量的执行项。
func (o *Orchestrator) admit(ctx context.Context, in TickInput, corr string, res *TickResult) []execution.Item {
	var items []execution.Item
	nowMs := o.now().UnixMilli()

	for _, req := range in.Intents {
		if err := req.Intent.Validate(); err != nil {
			o.recordDecision(corr, "", "REJECTED", []string{"invalid_intent"}, res)
			continue
		}

		id, fresh := o.registry.Register(req.Intent)
		if !fresh {
			metrics.IntentsDuplicate.Add(1)
			o.recordDecision(corr, id, "REJECTED", []string{string(domain.ReasonDuplicateIntent)}, res)
			continue
		}
		metrics.IntentsAdmitted.Add(1)

		if req.Intent.ExpireTS > 0 && nowMs > req.Intent.ExpireTS {
			o.registry.MarkFailed(id)
			o.recordDecision(corr, id, "REJECTED", []string{"intent_expired"}, res)
			continue
		}

		qty := req.Intent.TargetQty
		if !req.Intent.Offset.IsClose() {
			ok, code, msg := o.manager.CanOpen(in.Account)
			if !ok {
				o.registry.MarkFailed(id)
				o.recordDecision(corr, id, "REJECTED", []string{string(code)}, res)
				orchLog.Warnf("⛔ 开仓被风控拦截: intent=%s code=%s %s", id, code, msg)
				continue
			}
			qty = o.manager.ScaleQty(qty)
		}

		mult := req.Multiplier
		if mult <= 0 {
			mult = 1
		}
		book := in.Books[req.Intent.Symbol]
		d := o.gate.Confirm(ctx, confirm.Request{
			IntentID: id,
			Intent:   req.Intent,
			Notional: req.Intent.Notional(midPrice(book), mult),
			Book:     book,
			Class:    strategyClass(req.Class),
		})
		for _, e := range o.gate.DrainEvents() {
			o.record(corr, e, res)
		}
		if !d.Approved() {
			o.registry.MarkFailed(id)
			continue
		}
		items = append(items, execution.Item{IntentID: id, Intent: req.Intent, Qty: qty})
	}
	return items
}

// runFlatten 止损强平：为每个可平持仓构造平仓意图，逐合约批次提交，
// 共享同一拒单预算。缺有效盘口的持仓落数据质量事件后跳过。
func (o *Orchestrator) runFlatten(ctx context.Context, in TickInput, corr string, res *TickResult) {
	if !o.manager.BeginFlatten() {
		return
	}
	res.FlattenRan = true
	orchLog.Warn("🛑 开始止损强平")

	pos := make([]domain.Position, len(in.Positions))
	copy(pos, in.Positions)
	sort.Slice(pos, func(i, j int) bool {
		if pos[i].Symbol != pos[j].Symbol {
			return pos[i].Symbol < pos[j].Symbol
		}
		return pos[i].Direction < pos[j].Direction
	})

	signalTS := in.Account.Timestamp.UnixMilli()
	if signalTS <= 0 {
		signalTS = o.now().UnixMilli()
	}

	maxRej := o.executor.MaxRejections()
	cum := 0
	touched := 0
	aborted := false

	for _, p := range pos {
		if p.AvailableQty <= 0 {
			continue
		}
		book, ok := in.Books[p.Symbol]
		if !ok || !book.IsValid() {
			o.record(corr, domain.DataQualityEvent{
				Symbol: p.Symbol, Problem: "强平缺少有效盘口，跳过该持仓", Timestamp: o.now(),
			}, res)
			continue
		}
		if cum >= maxRej {
			aborted = true
			orchLog.Errorf("❌ 强平拒单超限，中止剩余批次: rejections=%d max=%d", cum, maxRej)
			break
		}

		fi := &domain.OrderIntent{
			StrategyID:   guardianStrategyID,
			DecisionHash: "flatten:" + p.Symbol + ":" + string(p.Direction),
			Symbol:       p.Symbol,
			Side:         p.CloseSide(),
			Offset:       domain.OffsetClose,
			TargetQty:    p.AvailableQty,
			Algo:         domain.AlgoAggressive,
			Urgency:      domain.UrgencyHigh,
			SignalTS:     signalTS,
		}
		id, fresh := o.registry.Register(fi)
		if !fresh {
			// 同一强平决策已提交过：至多一次
			continue
		}

		er := o.executor.Execute(ctx, []execution.Item{{IntentID: id, Intent: fi}}, corr, cum)
		o.recordExecution(corr, []execution.Item{{IntentID: id, Intent: fi}}, er, res)
		cum += er.Rejections()
		touched++
	}

	o.manager.CompleteFlatten(touched, cum, aborted)
	res.FlattenAborted = aborted
}

// recordExecution 落档一个批次的执行事件并推进注册表终态。
func (o *Orchestrator) recordExecution(corr string, items []execution.Item, er execution.Result, res *TickResult) {
	settled := make(map[string]struct{}, len(items))
	for _, e := range er.Events {
		o.record(corr, e, res)
		switch ev := e.(type) {
		case domain.OrderExecutedEvent:
			o.registry.MarkCompleted(ev.IntentID)
			settled[ev.IntentID] = struct{}{}
			res.Executed++
		case domain.OrderRejectedEvent:
			o.registry.MarkFailed(ev.IntentID)
			settled[ev.IntentID] = struct{}{}
			res.Rejected++
		}
	}
	// 因拒单超限被跳过、从未提交的开仓项也收敛到终态
	for _, it := range items {
		if _, ok := settled[it.IntentID]; !ok {
			o.registry.MarkFailed(it.IntentID)
			res.Rejected++
		}
	}
}

func (o *Orchestrator) recordDecision(corr, intentID, result string, reasons []string, res *TickResult) {
	o.record(corr, domain.ConfirmDecisionEvent{
		IntentID:  intentID,
		Result:    result,
		Level:     domain.ConfirmAuto.String(),
		Reasons:   reasons,
		Timestamp: o.now(),
	}, res)
}

// record 事件落档：先持久化再进结果集。落盘失败只计数与告警——
// tick 主循环不允许被审计 IO 打断，但失败必须可见。
func (o *Orchestrator) record(corr string, e domain.Event, res *TickResult) {
	if o.sink != nil {
		if err := o.sink.Append(domain.NewAuditRecord(corr, o.now(), e)); err != nil {
			res.AuditFailures++
			orchLog.Errorf("❌ 审计落盘失败: kind=%s err=%v", e.Kind(), err)
		}
	}
	res.Events = append(res.Events, e)
}

func (o *Orchestrator) drainRisk(corr string, res *TickResult) {
	for _, e := range o.manager.DrainEvents() {
		if _, ok := e.(domain.KillSwitchFiredEvent); ok {
			metrics.KillSwitchFires.Add(1)
		}
		o.record(corr, e, res)
	}
}

// mirrorBreakerRecords 把断路器新增的迁移记录镜像进审计流。
// 断路器自身只记内部台账；对外的事件形状在这里统一。
func (o *Orchestrator) mirrorBreakerRecords(corr string, res *TickResult) {
	for _, r := range o.breaker.Records() {
		if r.Seq <= o.breakerSeq {
			continue
		}
		o.breakerSeq = r.Seq
		if r.To == risk.BreakerTriggered {
			metrics.BreakerTrips.Add(1)
		}
		o.record(corr, domain.BreakerTransitionEvent{
			From: string(r.From), To: string(r.To),
			Reason: r.Reason, Detail: r.Detail, Timestamp: o.now(),
		}, res)
	}
}

func midPrice(b domain.BookTop) decimal.Decimal {
	if !b.IsValid() {
		return decimal.Zero
	}
	return b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
}

func strategyClass(s string) confirm.StrategyClass {
	switch confirm.StrategyClass(s) {
	case confirm.ClassHighFreq:
		return confirm.ClassHighFreq
	case confirm.ClassExperimental:
		return confirm.ClassExperimental
	default:
		return confirm.ClassStandard
	}
}
