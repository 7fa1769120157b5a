package ports

import (
	"context"
	"time"

	"github.com/qtrade/riskcore/internal/domain"
)

// Small capability interfaces shared across layers (risk/confirm/execution/orchestrator).

// BrokerOrder 提交给柜台的订单（已定身份、已过闸口）。
type BrokerOrder struct {
	ClientOrderID string
	IntentID      string
	Symbol        string
	Side          domain.Side
	Offset        domain.Offset
	Qty           int64
	Price         string // 十进制字符串；空串表示对价/市价
	Algo          domain.Algo
}

// ExecutionRecord 单笔订单的提交结果。拒单是数据，不是异常：
// 整批提交不允许被单笔失败整体吞掉。
type ExecutionRecord struct {
	ClientOrderID string
	Accepted      bool
	RejectReason  string
}

// BrokerTransport 柜台执行端口（唯一允许产生外部副作用的组件）。
// 约定：每次调用归属于给定 correlation id；每个 intent 每 tick 至多提交一次。
type BrokerTransport interface {
	Execute(ctx context.Context, orders []BrokerOrder, correlationID string) ([]ExecutionRecord, error)
	DrainEvents() []domain.Event
}

// ApprovalRequest 硬确认外部审批请求。
type ApprovalRequest struct {
	IntentID string
	Symbol   string
	Side     domain.Side
	Offset   domain.Offset
	Qty      int64
	Notional string // 十进制字符串
	Reasons  []string
	Deadline time.Time
}

// ApprovalOutcome 审批结论。
type ApprovalOutcome struct {
	Approved bool
	Operator string
	Comment  string
}

// Approver 外部审批端口。实现必须在 ctx 截止前返回；
// 超时/取消由调用方（确认闸口）兜底为恰好一个终态决策。
type Approver interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalOutcome, error)
}

// AuditSink 持久化审计落点。Append 返回前必须完成强制刷盘：
// 崩溃不允许悄悄丢失一条已确认的决策。
type AuditSink interface {
	Append(rec domain.AuditRecord) error
	Close() error
}
