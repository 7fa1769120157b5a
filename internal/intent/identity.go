package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/qtrade/riskcore/internal/domain"
)

// IntentID 幂等键：对经济字段的有序拼接取 SHA-256，截取前 16 个十六进制字符。
//
// 参与哈希的字段（固定顺序，'|' 分隔）：
//   strategy_id | decision_hash | symbol | side | offset | target_qty | signal_ts
//
// 不变量：经济字段相同 => id 相同；任一经济字段变化 => id 不同。
// 元数据（algo/urgency/限价/过期时间/父意图）刻意不参与——重试改限价
// 不产生新身份，改数量/方向则必然产生新身份。
func IntentID(i *domain.OrderIntent) string {
	payload := strings.Join([]string{
		i.StrategyID,
		i.DecisionHash,
		i.Symbol,
		string(i.Side),
		string(i.Offset),
		strconv.FormatInt(i.TargetQty, 10),
		strconv.FormatInt(i.SignalTS, 10),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

const (
	maxSliceIndex = 9999
	maxRetryCount = 99
)

// ClientOrderID 柜台客户端订单号：{intent_id}_{slice:04d}_{retry:02d}。
// Parse(Format(x)) == x 严格成立。
type ClientOrderID struct {
	IntentID   string
	SliceIndex int // 拆单序号 [0, 9999]
	RetryCount int // 重试次数 [0, 99]
}

// FormatClientOrderID 生成客户端订单号，越界值直接失败（校验错误不进管道）。
func FormatClientOrderID(intentID string, sliceIndex, retryCount int) (string, error) {
	if len(intentID) != 16 {
		return "", fmt.Errorf("intentID 长度必须为 16, got %d", len(intentID))
	}
	if sliceIndex < 0 || sliceIndex > maxSliceIndex {
		return "", fmt.Errorf("sliceIndex 越界 [0,%d]: %d", maxSliceIndex, sliceIndex)
	}
	if retryCount < 0 || retryCount > maxRetryCount {
		return "", fmt.Errorf("retryCount 越界 [0,%d]: %d", maxRetryCount, retryCount)
	}
	return fmt.Sprintf("%s_%04d_%02d", intentID, sliceIndex, retryCount), nil
}

// ParseClientOrderID FormatClientOrderID 的严格逆运算：
// 只接受 Format 能产出的字符串（纯数字定宽段，无符号、无空白）。
func ParseClientOrderID(s string) (ClientOrderID, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return ClientOrderID{}, fmt.Errorf("clientOrderID 格式非法: %q", s)
	}
	if len(parts[0]) != 16 || len(parts[1]) != 4 || len(parts[2]) != 2 {
		return ClientOrderID{}, fmt.Errorf("clientOrderID 段长非法: %q", s)
	}
	// Atoi 接受 "+1"/"-001" 这类 Format 绝不会产出的写法，先逐字符卡死
	if !allDigits(parts[1]) {
		return ClientOrderID{}, fmt.Errorf("sliceIndex 解析失败: %q", parts[1])
	}
	if !allDigits(parts[2]) {
		return ClientOrderID{}, fmt.Errorf("retryCount 解析失败: %q", parts[2])
	}
	slice, _ := strconv.Atoi(parts[1])
	retry, _ := strconv.Atoi(parts[2])
	return ClientOrderID{IntentID: parts[0], SliceIndex: slice, RetryCount: retry}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
