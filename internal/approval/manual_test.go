package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/ports"
)

func testRequest(id string) ports.ApprovalRequest {
	return ports.ApprovalRequest{
		IntentID: id,
		Symbol:   "IF2609",
		Side:     domain.SideBuy,
		Offset:   domain.OffsetOpen,
		Qty:      10,
		Notional: "12000000",
		Deadline: time.Now().Add(30 * time.Second),
	}
}

func TestManualApproverResolve(t *testing.T) {
	a := NewManualApprover()

	type result struct {
		out ports.ApprovalOutcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := a.RequestApproval(context.Background(), testRequest("aaaa111122223333"))
		done <- result{out, err}
	}()

	// 等待请求挂起
	require.Eventually(t, func() bool {
		return len(a.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Resolve("aaaa111122223333", true, "ops_chen", "反核后放行"))

	r := <-done
	require.NoError(t, r.err)
	require.True(t, r.out.Approved)
	require.Equal(t, "ops_chen", r.out.Operator)
	require.Empty(t, a.Pending())
}

func TestManualApproverTimeout(t *testing.T) {
	a := NewManualApprover()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.RequestApproval(ctx, testRequest("bbbb111122223333"))
	require.Error(t, err)
	require.Empty(t, a.Pending(), "超时后不允许残留待决项")

	// 超时后再 Resolve 必须报错，不会产生第二个终态
	require.Error(t, a.Resolve("bbbb111122223333", true, "ops_chen", ""))
}

func TestManualApproverResolveUnknown(t *testing.T) {
	a := NewManualApprover()
	require.Error(t, a.Resolve("ffff111122223333", false, "ops_chen", ""))
}
