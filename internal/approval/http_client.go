package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"

	"github.com/qtrade/riskcore/internal/ports"
)

// HTTPApprover 对接外部审批服务的 Approver 实现。
// 协议：POST {base}/v1/approvals，body 为请求字段，同步返回结论；
// 审批系统自身的排队/推送由服务端处理，这里只做有界等待。
type HTTPApprover struct {
	client *resty.Client
}

type approvalPayload struct {
	IntentID string   `json:"intent_id"`
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Offset   string   `json:"offset"`
	Qty      int64    `json:"qty"`
	Notional string   `json:"notional"`
	Reasons  []string `json:"reasons"`
	Deadline string   `json:"deadline"`
}

type approvalReply struct {
	Approved bool   `json:"approved"`
	Operator string `json:"operator"`
	Comment  string `json:"comment"`
}

// NewHTTPApprover 创建 HTTP 审批客户端。token 非空时带 Bearer 认证。
// 不做 resty 级重试：审批是幂等问题敏感操作，超时由上层断路器语义兜底。
func NewHTTPApprover(baseURL, token string) *HTTPApprover {
	base := strings.TrimSuffix(baseURL, "/")
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(0) // 截止时间完全由请求 ctx 控制
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPApprover{client: client}
}

// RequestApproval 同步请求外部审批，ctx 截止即返回错误。
func (a *HTTPApprover) RequestApproval(ctx context.Context, req ports.ApprovalRequest) (ports.ApprovalOutcome, error) {
	var reply approvalReply
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(approvalPayload{
			IntentID: req.IntentID,
			Symbol:   req.Symbol,
			Side:     string(req.Side),
			Offset:   string(req.Offset),
			Qty:      req.Qty,
			Notional: req.Notional,
			Reasons:  req.Reasons,
			Deadline: req.Deadline.Format(time.RFC3339),
		}).
		SetResult(&reply).
		Post("/v1/approvals")
	if err != nil {
		return ports.ApprovalOutcome{}, pkgerrors.Wrap(err, "approval request")
	}
	if resp.StatusCode() != 200 {
		return ports.ApprovalOutcome{}, fmt.Errorf("approval service status %d: %s",
			resp.StatusCode(), resp.String())
	}
	return ports.ApprovalOutcome{
		Approved: reply.Approved,
		Operator: reply.Operator,
		Comment:  reply.Comment,
	}, nil
}
