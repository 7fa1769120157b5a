package audit

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/qtrade/riskcore/internal/domain"
)

// SQLiteSink 基于 SQLite 的审计落点。
// synchronous=FULL 使每次提交落盘后才返回，满足 Append 的强制刷盘约定；
// 表只插不改，记录形状与 JSONL 落盘一致。
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink 打开（必要时创建并建表）审计库。
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "mkdir audit db dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open sqlite")
	}
	// SQLite：单连接更稳定
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=FULL`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			ts             TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			type           TEXT NOT NULL,
			data           TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_corr ON audit_records(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_records(type)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return pkgerrors.Wrapf(err, "migrate: %s", q)
		}
	}
	return nil
}

// Append 插入一条记录，提交即持久。
func (s *SQLiteSink) Append(rec domain.AuditRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal audit data")
	}
	_, err = s.db.Exec(
		`INSERT INTO audit_records (ts, correlation_id, type, data) VALUES (?, ?, ?, ?)`,
		rec.Timestamp.Format(time.RFC3339Nano), rec.CorrelationID, string(rec.Type), string(data),
	)
	return pkgerrors.Wrap(err, "insert audit record")
}

// ByCorrelation 按关联号读回记录（插入序）。
func (s *SQLiteSink) ByCorrelation(correlationID string) ([]domain.AuditRecord, error) {
	return s.query(
		`SELECT ts, correlation_id, type, data FROM audit_records WHERE correlation_id = ? ORDER BY id`,
		correlationID)
}

// ByType 按事件类型读回记录（插入序）。
func (s *SQLiteSink) ByType(kind domain.EventKind) ([]domain.AuditRecord, error) {
	return s.query(
		`SELECT ts, correlation_id, type, data FROM audit_records WHERE type = ? ORDER BY id`,
		string(kind))
}

// All 全量读回（插入序，回放校验输入）。
func (s *SQLiteSink) All() ([]domain.AuditRecord, error) {
	return s.query(`SELECT ts, correlation_id, type, data FROM audit_records ORDER BY id`)
}

func (s *SQLiteSink) query(q string, args ...any) ([]domain.AuditRecord, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "query audit records")
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var ts, corr, typ, data string
		if err := rows.Scan(&ts, &corr, &typ, &data); err != nil {
			return nil, pkgerrors.Wrap(err, "scan audit record")
		}
		t, _ := time.Parse(time.RFC3339Nano, ts)
		out = append(out, domain.AuditRecord{
			Timestamp:     t,
			CorrelationID: corr,
			Type:          domain.EventKind(typ),
			Data:          rawEvent{kind: domain.EventKind(typ), raw: json.RawMessage(data)},
		})
	}
	return out, pkgerrors.Wrap(rows.Err(), "iterate audit records")
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
