package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/qtrade/riskcore/internal/domain"
)

// Family 回放比较的事件族。
type Family string

const (
	FamilyAll      Family = "all"
	FamilyDecision Family = "decision" // decision.* （确认闸口决策）
	FamilyGuardian Family = "guardian" // risk.* （风控/断路器）
)

// VerifyResult 回放比较结果。不匹配以数据形式报告，绝不抛出。
type VerifyResult struct {
	IsMatch            bool   `json:"is_match"`
	Length             int    `json:"length"` // 过滤后参与比较的记录数（取两者较大值）
	FirstMismatchIndex int    `json:"first_mismatch_index"` // 匹配时为 -1
	MismatchA          string `json:"mismatch_a,omitempty"` // 首个不一致的规范化载荷
	MismatchB          string `json:"mismatch_b,omitempty"`
	CanonicalHashA     string `json:"canonical_hash_a"`
	CanonicalHashB     string `json:"canonical_hash_b"`
}

// Verify 比较两段事件序列。
//
// 比较前做两步归一化：(1) 按事件族过滤；(2) 递归剥除所有「时间戳样」
// 字段与 correlation id——两次独立运行的挂钟时间与关联号必然不同，
// 不构成语义差异。记录顺序是语义的一部分：重排即不匹配。
func Verify(a, b []domain.AuditRecord, family Family) VerifyResult {
	ca := canonicalize(a, family)
	cb := canonicalize(b, family)

	res := VerifyResult{
		FirstMismatchIndex: -1,
		CanonicalHashA:     sequenceHash(ca),
		CanonicalHashB:     sequenceHash(cb),
	}

	n := len(ca)
	if len(cb) > n {
		n = len(cb)
	}
	res.Length = n

	for i := 0; i < n; i++ {
		var la, lb string
		if i < len(ca) {
			la = ca[i]
		}
		if i < len(cb) {
			lb = cb[i]
		}
		if la != lb {
			res.FirstMismatchIndex = i
			res.MismatchA = la
			res.MismatchB = lb
			return res
		}
	}
	res.IsMatch = true
	return res
}

// canonicalize 过滤 + 剥除易变字段 + 规范化序列化（map 键序由
// encoding/json 固定为字典序，序列化结果确定）。
func canonicalize(recs []domain.AuditRecord, family Family) []string {
	var out []string
	for _, r := range recs {
		if !inFamily(r.Type, family) {
			continue
		}
		m := map[string]any{
			"type": string(r.Type),
			"data": toMap(r.Data),
		}
		stripVolatile(m)
		b, err := json.Marshal(m)
		if err != nil {
			// 规范化失败按原样字符串参与比较，差异仍会暴露
			out = append(out, "unmarshalable:"+string(r.Type))
			continue
		}
		out = append(out, string(b))
	}
	return out
}

func inFamily(k domain.EventKind, f Family) bool {
	switch f {
	case FamilyDecision:
		return strings.HasPrefix(string(k), "decision.")
	case FamilyGuardian:
		return strings.HasPrefix(string(k), "risk.")
	default:
		return true
	}
}

// toMap 任意事件载荷转 map（经一次 JSON 往返）。
func toMap(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// stripVolatile 递归剥除时间戳样字段与关联号。
func stripVolatile(v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if volatileKey(k) {
				delete(val, k)
				continue
			}
			stripVolatile(inner)
		}
	case []any:
		for _, inner := range val {
			stripVolatile(inner)
		}
	}
}

// volatileKey 判定「时间戳样」键名：ts / time / timestamp 及
// *_ts / *_at / *_time 后缀，另加 correlation_id。
func volatileKey(k string) bool {
	lk := strings.ToLower(k)
	switch lk {
	case "ts", "time", "timestamp", "correlation_id":
		return true
	}
	return strings.HasSuffix(lk, "_ts") ||
		strings.HasSuffix(lk, "_at") ||
		strings.HasSuffix(lk, "_time") ||
		strings.HasSuffix(lk, "timestamp")
}

func sequenceHash(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
