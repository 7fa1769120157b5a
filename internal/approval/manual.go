package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qtrade/riskcore/internal/ports"
)

var approvalLog = logrus.WithField("component", "approval")

// ManualApprover 进程内人工审批：每个 intent 挂一个待决 future，
// 由控制面（或测试）调用 Resolve 给出结论，或由调用方 ctx 超时兜底。
// 等待期间不持有任何风控/断路器锁；每个 intent 恰好产生一个终态。
type ManualApprover struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
}

type pendingApproval struct {
	req ports.ApprovalRequest
	ch  chan ports.ApprovalOutcome // 容量 1：Resolve 不阻塞
}

// NewManualApprover 创建人工审批器。
func NewManualApprover() *ManualApprover {
	return &ManualApprover{pending: make(map[string]*pendingApproval)}
}

// RequestApproval 挂起等待人工结论，ctx 到期即返回超时错误。
func (a *ManualApprover) RequestApproval(ctx context.Context, req ports.ApprovalRequest) (ports.ApprovalOutcome, error) {
	a.mu.Lock()
	if _, exists := a.pending[req.IntentID]; exists {
		a.mu.Unlock()
		return ports.ApprovalOutcome{}, fmt.Errorf("intent %s 已有待决审批", req.IntentID)
	}
	p := &pendingApproval{req: req, ch: make(chan ports.ApprovalOutcome, 1)}
	a.pending[req.IntentID] = p
	a.mu.Unlock()

	approvalLog.Infof("⏳ 等待人工审批: intent=%s symbol=%s qty=%d notional=%s",
		req.IntentID, req.Symbol, req.Qty, req.Notional)

	defer func() {
		a.mu.Lock()
		delete(a.pending, req.IntentID)
		a.mu.Unlock()
	}()

	select {
	case out := <-p.ch:
		return out, nil
	case <-ctx.Done():
		return ports.ApprovalOutcome{}, fmt.Errorf("审批超时: intent=%s: %w", req.IntentID, ctx.Err())
	}
}

// Resolve 给出审批结论。intent 不存在（已超时/已决）返回错误。
func (a *ManualApprover) Resolve(intentID string, approved bool, operator, comment string) error {
	a.mu.Lock()
	p, ok := a.pending[intentID]
	if ok {
		delete(a.pending, intentID)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("无待决审批: intent=%s", intentID)
	}
	p.ch <- ports.ApprovalOutcome{Approved: approved, Operator: operator, Comment: comment}
	approvalLog.Infof("🖋️ 审批已决: intent=%s approved=%v operator=%s", intentID, approved, operator)
	return nil
}

// Pending 当前全部待决请求（按 intent id 排序）。
func (a *ManualApprover) Pending() []ports.ApprovalRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ports.ApprovalRequest, 0, len(a.pending))
	for _, p := range a.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntentID < out[j].IntentID })
	return out
}
