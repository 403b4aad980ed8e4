package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// memoryLimit 是文件流水在内存中保留的最大条数。
const memoryLimit = 512

// ActivityRecord 表示一次工具调用的流水。
type ActivityRecord struct {
	ID         int64     `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Tool       string    `json:"tool"`
	Arguments  string    `json:"arguments"`
	Output     string    `json:"output"`
	Success    bool      `json:"success"`
	TxHash     string    `json:"tx_hash,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActivityLedger 抽象工具调用流水的持久化接口。
type ActivityLedger interface {
	Record(ctx context.Context, record *ActivityRecord) error
	ListLatest(ctx context.Context, limit int) ([]ActivityRecord, error)
	Close() error
}

// MemoryActivityLedger 使用本地 JSON Lines 文件记录流水，方便迭代开发。
type MemoryActivityLedger struct {
	mu       sync.RWMutex
	dataFile string
	records  []ActivityRecord
	nextID   int64
}

// NewMemoryActivityLedger 创建文件流水，并从已有文件恢复最近的记录。
func NewMemoryActivityLedger(dataDir string) (*MemoryActivityLedger, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	ledger := &MemoryActivityLedger{dataFile: filepath.Join(dataDir, "activity.log")}
	if err := ledger.loadFromDisk(); err != nil {
		return nil, err
	}
	return ledger, nil
}

// Record 以追加写的方式记录一次调用，并分配自增 ID。
func (m *MemoryActivityLedger) Record(_ context.Context, record *ActivityRecord) error {
	if record == nil {
		return fmt.Errorf("流水记录不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	m.nextID++
	record.ID = m.nextID

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化流水记录失败: %w", err)
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开流水文件失败: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入流水文件失败: %w", err)
	}

	m.records = append([]ActivityRecord{*record}, m.records...)
	if len(m.records) > memoryLimit {
		m.records = m.records[:memoryLimit]
	}
	return nil
}

// ListLatest 返回最近的流水，按时间倒序排列。
func (m *MemoryActivityLedger) ListLatest(_ context.Context, limit int) ([]ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]ActivityRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 对文件流水无操作。
func (m *MemoryActivityLedger) Close() error { return nil }

func (m *MemoryActivityLedger) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取流水文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []ActivityRecord
	for scanner.Scan() {
		var record ActivityRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]ActivityRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析流水文件失败: %w", err)
	}

	if len(restored) > memoryLimit {
		restored = restored[:memoryLimit]
	}
	m.records = restored
	return nil
}

// SQLActivityLedger 使用 MySQL 存储流水。
type SQLActivityLedger struct {
	db *sql.DB
}

// NewSQLActivityLedger 创建连接池并执行迁移。
func NewSQLActivityLedger(ctx context.Context, cfg Config) (*SQLActivityLedger, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLActivityLedger{db: db}, nil
}

const insertActivitySQL = `INSERT INTO tool_activity
    (thread_id, tool, arguments, output, success, tx_hash, duration_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const listActivitySQL = `SELECT id, thread_id, tool, arguments, output, success, tx_hash, duration_ms, created_at
    FROM tool_activity ORDER BY id DESC LIMIT ?`

// Record 将流水写入 MySQL。
func (s *SQLActivityLedger) Record(ctx context.Context, record *ActivityRecord) error {
	if record == nil {
		return fmt.Errorf("流水记录不能为空")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, insertActivitySQL,
		record.ThreadID,
		record.Tool,
		record.Arguments,
		record.Output,
		record.Success,
		record.TxHash,
		record.DurationMS,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// ListLatest 查询最近的若干条流水。
func (s *SQLActivityLedger) ListLatest(ctx context.Context, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, listActivitySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	defer rows.Close()

	var records []ActivityRecord
	for rows.Next() {
		var record ActivityRecord
		if err := rows.Scan(&record.ID, &record.ThreadID, &record.Tool, &record.Arguments, &record.Output,
			&record.Success, &record.TxHash, &record.DurationMS, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析流水失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历流水失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLActivityLedger) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ ActivityLedger = (*MemoryActivityLedger)(nil)
	_ ActivityLedger = (*SQLActivityLedger)(nil)
)
