package domain

import (
	"time"
)

// AuditRecord 审计记录（追加后不可变）。
// 每条记录自描述：{ts, correlation_id, type, data}，data 为对应事件结构体。
// schema 版本化由外围持久层负责，这里只定义记录形状。
type AuditRecord struct {
	Timestamp     time.Time `json:"ts"`
	CorrelationID string    `json:"correlation_id"`
	Type          EventKind `json:"type"`
	Data          Event     `json:"data"`
}

// NewAuditRecord 由事件构造审计记录。
func NewAuditRecord(correlationID string, ts time.Time, e Event) AuditRecord {
	return AuditRecord{
		Timestamp:     ts,
		CorrelationID: correlationID,
		Type:          e.Kind(),
		Data:          e,
	}
}
