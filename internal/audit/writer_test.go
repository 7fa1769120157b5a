package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/qtrade/riskcore/internal/domain"
)

func TestFileWriterAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}

	now := time.Now()
	recs := []domain.AuditRecord{
		domain.NewAuditRecord("corr-1", now, domain.SnapshotHashEvent{
			Hash: "abc123", Timestamp: now,
		}),
		domain.NewAuditRecord("corr-1", now, domain.ModeChangedEvent{
			From: "NORMAL", To: "COOLDOWN", Reason: "daily_loss_limit", Timestamp: now,
		}),
		domain.NewAuditRecord("corr-2", now, domain.OrderExecutedEvent{
			IntentID: "deadbeefdeadbeef", ClientOrderID: "deadbeefdeadbeef_0000_00",
			Symbol: "IF2609", Offset: domain.OffsetClose, Qty: 3, Timestamp: now,
		}),
	}
	for _, r := range recs {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("ReadAll returned %d records, want %d", len(got), len(recs))
	}
	for i, r := range got {
		if r.Type != recs[i].Type {
			t.Fatalf("record %d type = %s, want %s", i, r.Type, recs[i].Type)
		}
		if r.CorrelationID != recs[i].CorrelationID {
			t.Fatalf("record %d correlation_id = %s, want %s", i, r.CorrelationID, recs[i].CorrelationID)
		}
		if r.Data.Kind() != recs[i].Type {
			t.Fatalf("record %d payload kind = %s, want %s", i, r.Data.Kind(), recs[i].Type)
		}
		if !r.Timestamp.Equal(recs[i].Timestamp) {
			t.Fatalf("record %d ts = %s, want %s", i, r.Timestamp, recs[i].Timestamp)
		}
	}
}

func TestFileWriterAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	w1, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := w1.Append(domain.NewAuditRecord("c1", time.Now(), domain.DataQualityEvent{
		Symbol: "IF2609", Problem: "missing book", Timestamp: time.Now(),
	})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = w1.Close()

	w2, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w2.Append(domain.NewAuditRecord("c2", time.Now(), domain.DataQualityEvent{
		Symbol: "IC2609", Problem: "missing book", Timestamp: time.Now(),
	})); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	_ = w2.Close()

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", len(got))
	}
	if got[0].CorrelationID != "c1" || got[1].CorrelationID != "c2" {
		t.Fatalf("records out of order: %s, %s", got[0].CorrelationID, got[1].CorrelationID)
	}
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	defer sink.Close()

	now := time.Now()
	if err := sink.Append(domain.NewAuditRecord("tick-1", now, domain.SnapshotHashEvent{
		Hash: "h1", Timestamp: now,
	})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Append(domain.NewAuditRecord("tick-2", now, domain.SnapshotHashEvent{
		Hash: "h2", Timestamp: now,
	})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Append(domain.NewAuditRecord("tick-2", now, domain.OrderRejectedEvent{
		IntentID: "cafecafecafecafe", Symbol: "IF2609", Offset: domain.OffsetOpen,
		Reason: "price limit", Timestamp: now,
	})); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all, err := sink.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("All returned %d records, want 3", len(all))
	}

	byCorr, err := sink.ByCorrelation("tick-2")
	if err != nil {
		t.Fatalf("ByCorrelation: %v", err)
	}
	if len(byCorr) != 2 {
		t.Fatalf("ByCorrelation returned %d records, want 2", len(byCorr))
	}
	if byCorr[0].Type != domain.EventKindSnapshotHash || byCorr[1].Type != domain.EventKindOrderRejected {
		t.Fatalf("ByCorrelation order wrong: %s, %s", byCorr[0].Type, byCorr[1].Type)
	}

	byType, err := sink.ByType(domain.EventKindSnapshotHash)
	if err != nil {
		t.Fatalf("ByType: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("ByType returned %d records, want 2", len(byType))
	}
}
