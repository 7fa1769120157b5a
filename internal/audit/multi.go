package audit

import (
	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/ports"
)

// MultiSink 审计扇出：主落点保证持久化，tap 是尽力而为的跟随视图
// （WS 广播、滚动镜像）。Append 的成败只看主落点。
type MultiSink struct {
	primary ports.AuditSink
	taps    []func(domain.AuditRecord)
}

// NewMultiSink 创建扇出落点。
func NewMultiSink(primary ports.AuditSink, taps ...func(domain.AuditRecord)) *MultiSink {
	return &MultiSink{primary: primary, taps: taps}
}

func (m *MultiSink) Append(rec domain.AuditRecord) error {
	if err := m.primary.Append(rec); err != nil {
		return err
	}
	for _, tap := range m.taps {
		tap(rec)
	}
	return nil
}

func (m *MultiSink) Close() error {
	return m.primary.Close()
}
