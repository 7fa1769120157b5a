package domain

// ConfirmLevel 确认级别，有序：AUTO < SOFT < HARD。
type ConfirmLevel int

const (
	ConfirmAuto ConfirmLevel = iota // 自动放行
	ConfirmSoft                     // 软确认：同步二次校验
	ConfirmHard                     // 硬确认：等待外部审批
)

func (l ConfirmLevel) String() string {
	switch l {
	case ConfirmAuto:
		return "AUTO"
	case ConfirmSoft:
		return "SOFT_CONFIRM"
	case ConfirmHard:
		return "HARD_CONFIRM"
	default:
		return "UNKNOWN"
	}
}

// Escalate 升一级（封顶 HARD）。
func (l ConfirmLevel) Escalate() ConfirmLevel {
	if l >= ConfirmHard {
		return ConfirmHard
	}
	return l + 1
}

// ConfirmResult 确认结果
type ConfirmResult string

const (
	ConfirmApproved           ConfirmResult = "APPROVED"
	ConfirmRejected           ConfirmResult = "REJECTED"
	ConfirmPending            ConfirmResult = "PENDING"
	ConfirmTimeoutAutoApprove ConfirmResult = "TIMEOUT_AUTO_APPROVED"
)

// ReasonCode 机器可读的拦截原因。拦截交易的路径禁止静默 no-op，
// 必须同时给出 code 与人类可读说明。
type ReasonCode string

const (
	ReasonRiskLocked      ReasonCode = "RISK_LOCKED"
	ReasonRiskCooldown    ReasonCode = "RISK_COOLDOWN"
	ReasonMarginCeiling   ReasonCode = "MARGIN_CEILING"
	ReasonBreakerOpen     ReasonCode = "BREAKER_OPEN"
	ReasonApprovalTimeout ReasonCode = "APPROVAL_TIMEOUT"
	ReasonApprovalDenied  ReasonCode = "APPROVAL_DENIED"
	ReasonCheckFailed     ReasonCode = "SECONDARY_CHECK_FAILED"
	ReasonDuplicateIntent ReasonCode = "DUPLICATE_INTENT"
)

// ConfirmationDecision 确认闸口产出的最终决策（不可变，写入审计）。
type ConfirmationDecision struct {
	Result  ConfirmResult
	Level   ConfirmLevel // 实际应用的级别（含升级后）
	Code    ReasonCode   // Result != APPROVED 时必填
	Reasons []string     // 决策依据（人类可读，含每一步升级原因）
}

// Approved 是否放行（APPROVED 或超时自动放行）。
func (d ConfirmationDecision) Approved() bool {
	return d.Result == ConfirmApproved || d.Result == ConfirmTimeoutAutoApprove
}
