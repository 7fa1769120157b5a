package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/qtrade/riskcore/internal/domain"
)

var auditLog = logrus.WithField("component", "audit_writer")

// FileWriter 追加式审计落盘：一行一条自描述 JSON 记录。
//
// Append 返回前完成 flush + fsync——进程在 Append 返回后任意时刻崩溃，
// 这条已确认的决策都不会丢。记录一经写入永不改写。
type FileWriter struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// NewFileWriter 打开（必要时创建）审计文件，总是以追加模式。
func NewFileWriter(path string) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "mkdir audit dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open audit file")
	}
	return &FileWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// Append 追加一条记录并强制刷盘。
func (w *FileWriter) Append(rec domain.AuditRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal audit record")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(append(b, '\n')); err != nil {
		return pkgerrors.Wrap(err, "write audit record")
	}
	if err := w.w.Flush(); err != nil {
		return pkgerrors.Wrap(err, "flush audit record")
	}
	if err := w.f.Sync(); err != nil {
		return pkgerrors.Wrap(err, "fsync audit file")
	}
	return nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// RotatingWriter 带滚动的审计落盘（lumberjack）。
// 写穿透（无用户态缓冲）但不逐条 fsync：适合跟随性镜像/排障副本；
// 主审计链路用 FileWriter 或 SQLiteSink。
type RotatingWriter struct {
	mu sync.Mutex
	lj *lumberjack.Logger
}

// NewRotatingWriter 创建滚动审计文件（maxSizeMB 单文件上限，maxBackups 保留数）。
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) *RotatingWriter {
	if maxSizeMB <= 0 {
		maxSizeMB = 128
	}
	if maxBackups <= 0 {
		maxBackups = 10
	}
	return &RotatingWriter{lj: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}}
}

func (w *RotatingWriter) Append(rec domain.AuditRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal audit record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.lj.Write(append(b, '\n'))
	return pkgerrors.Wrap(err, "write audit record")
}

func (w *RotatingWriter) Close() error {
	return w.lj.Close()
}

// ReadAll 读回一个审计文件的全部记录（回放校验输入）。
func ReadAll(path string) ([]domain.AuditRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open audit file")
	}
	defer f.Close()

	var out []domain.AuditRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawRecord
		if err := json.Unmarshal(line, &raw); err != nil {
			auditLog.Warnf("⚠️ 跳过无法解析的审计行: %v", err)
			continue
		}
		out = append(out, raw.toRecord())
	}
	return out, pkgerrors.Wrap(sc.Err(), "scan audit file")
}

// rawRecord 读回时 data 保持原始 JSON（回放比较不需要还原具体事件类型）。
type rawRecord struct {
	Timestamp     string           `json:"ts"`
	CorrelationID string           `json:"correlation_id"`
	Type          domain.EventKind `json:"type"`
	Data          json.RawMessage  `json:"data"`
}

func (r rawRecord) toRecord() domain.AuditRecord {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		auditLog.Warnf("⚠️ 审计行时间戳无法解析: %q", r.Timestamp)
	}
	return domain.AuditRecord{
		Timestamp:     ts,
		CorrelationID: r.CorrelationID,
		Type:          r.Type,
		Data:          rawEvent{kind: r.Type, raw: r.Data},
	}
}

// rawEvent 未解码事件载荷（只用于回放比较与透传）。
type rawEvent struct {
	kind domain.EventKind
	raw  json.RawMessage
}

func (e rawEvent) Kind() domain.EventKind       { return e.kind }
func (e rawEvent) MarshalJSON() ([]byte, error) { return e.raw, nil }
