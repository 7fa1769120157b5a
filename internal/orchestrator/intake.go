package orchestrator

import (
	"sync"

	"github.com/qtrade/riskcore/pkg/sigchan"
)

// Intake 意图进线队列：控制面等外部入口 Submit，tick 循环 Drain。
// 幂等性不在这里做——重复递交由注册表在准入时收敛。
type Intake struct {
	mu      sync.Mutex
	pending []IntentRequest
	notify  *sigchan.Chan
}

// NewIntake 创建进线队列。
func NewIntake() *Intake {
	return &Intake{notify: sigchan.New(1)}
}

// Submit 递交一笔意图（非阻塞），并向 tick 循环发通知信号。
func (q *Intake) Submit(req IntentRequest) {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.mu.Unlock()
	q.notify.Emit()
}

// Notify 有新意图进线的信号 channel（tick 循环 select 用）。
func (q *Intake) Notify() <-chan struct{} {
	return q.notify.C()
}

// Drain 取走全部待处理意图（FIFO）。
func (q *Intake) Drain() []IntentRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Len 当前排队数量。
func (q *Intake) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
