package decisionlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

// RunRecord 一次决策运行的完整留痕：提示词、逐轮对话与最终决策，
// 供 Web 端排查每根 K 线上模型到底看到了什么、说了什么。
type RunRecord struct {
	TraceID         string  `json:"trace_id"`
	Timestamp       int64   `json:"ts"`
	Symbol          string  `json:"symbol"`
	Model           string  `json:"model"`
	PriceTimestamp  int64   `json:"price_timestamp"`
	Action          string  `json:"action,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	Confidence      int     `json:"confidence,omitempty"`
	Explanation     string  `json:"explanation,omitempty"`
	PriceAtDecision float64 `json:"price_at_decision,omitempty"`
	TurnsUsed       int     `json:"turns_used"`
	Skipped         bool    `json:"skipped"`
	SystemPrompt    string  `json:"system_prompt,omitempty"`
	UserPrompt      string  `json:"user_prompt,omitempty"`
	FinalText       string  `json:"final_text,omitempty"`
	TranscriptJSON  string  `json:"transcript_json,omitempty"`
	Error           string  `json:"error,omitempty"`
	CreatedAt       int64   `json:"created_at"`
}

// Query 筛选运行记录。零值字段不参与过滤。
type Query struct {
	Symbol string
	Action string
	Limit  int
	Offset int
}

type runModel struct {
	ID              int64   `gorm:"column:id;primaryKey"`
	TraceID         string  `gorm:"column:trace_id;uniqueIndex"`
	Timestamp       int64   `gorm:"column:ts;index"`
	Symbol          string  `gorm:"column:symbol;index"`
	Model           string  `gorm:"column:model"`
	PriceTimestamp  int64   `gorm:"column:price_timestamp;index"`
	Action          string  `gorm:"column:action;index"`
	Amount          float64 `gorm:"column:amount"`
	Confidence      int     `gorm:"column:confidence"`
	Explanation     string  `gorm:"column:explanation"`
	PriceAtDecision float64 `gorm:"column:price_at_decision"`
	TurnsUsed       int     `gorm:"column:turns_used"`
	Skipped         int     `gorm:"column:skipped"`
	SystemPrompt    string  `gorm:"column:system_prompt"`
	UserPrompt      string  `gorm:"column:user_prompt"`
	FinalText       string  `gorm:"column:final_text"`
	TranscriptJSON  string  `gorm:"column:transcript_json;type:TEXT"`
	Error           string  `gorm:"column:error"`
	CreatedAtUnix   int64   `gorm:"column:created_at"`
}

func (runModel) TableName() string { return "decision_runs" }

// Store 将运行记录持久化到 SQLite。
type Store struct {
	db *gorm.DB
}

// New 打开（必要时创建）位于 path 的数据库。
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// DriverName 指向 modernc 的纯 Go 驱动，免 cgo
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep lock contention low while the web server reads
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert 写入一条运行记录，TraceID 为空时自动生成。返回最终 TraceID。
func (s *Store) Insert(ctx context.Context, rec RunRecord) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("decision log store not initialized")
	}
	traceID := strings.TrimSpace(rec.TraceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ts := rec.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	model := runModel{
		TraceID:         traceID,
		Timestamp:       ts,
		Symbol:          strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Model:           rec.Model,
		PriceTimestamp:  rec.PriceTimestamp,
		Action:          strings.ToLower(strings.TrimSpace(rec.Action)),
		Amount:          rec.Amount,
		Confidence:      rec.Confidence,
		Explanation:     rec.Explanation,
		PriceAtDecision: rec.PriceAtDecision,
		TurnsUsed:       rec.TurnsUsed,
		Skipped:         boolToInt(rec.Skipped),
		SystemPrompt:    rec.SystemPrompt,
		UserPrompt:      rec.UserPrompt,
		FinalText:       rec.FinalText,
		TranscriptJSON:  rec.TranscriptJSON,
		Error:           rec.Error,
		CreatedAtUnix:   time.Now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return "", err
	}
	return traceID, nil
}

// Get 按 TraceID 取单条记录。
func (s *Store) Get(ctx context.Context, traceID string) (RunRecord, error) {
	var rec RunRecord
	if s == nil || s.db == nil {
		return rec, fmt.Errorf("decision log store not initialized")
	}
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return rec, fmt.Errorf("trace_id cannot be empty")
	}
	var model runModel
	if err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).First(&model).Error; err != nil {
		return rec, err
	}
	return modelToRecord(model), nil
}

// List 返回最新的运行记录，支持 symbol/action 过滤与分页。
func (s *Store) List(ctx context.Context, q Query) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("decision log store not initialized")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var models []runModel
	if err := s.filtered(ctx, q).
		Order("ts DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(models))
	for _, m := range models {
		out = append(out, modelToRecord(m))
	}
	return out, nil
}

// Count 统计满足筛选条件的记录数。
func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("decision log store not initialized")
	}
	var total int64
	if err := s.filtered(ctx, q).Count(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// Symbols 返回日志中出现过的 symbol 列表，供前端下拉过滤。
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("decision log store not initialized")
	}
	var out []string
	err := s.db.WithContext(ctx).Model(&runModel{}).
		Distinct("symbol").
		Order("symbol ASC").
		Pluck("symbol", &out).Error
	return out, err
}

func (s *Store) filtered(ctx context.Context, q Query) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&runModel{})
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	if action := strings.ToLower(strings.TrimSpace(q.Action)); action != "" {
		query = query.Where("action = ?", action)
	}
	return query
}

func modelToRecord(m runModel) RunRecord {
	return RunRecord{
		TraceID:         m.TraceID,
		Timestamp:       m.Timestamp,
		Symbol:          m.Symbol,
		Model:           m.Model,
		PriceTimestamp:  m.PriceTimestamp,
		Action:          m.Action,
		Amount:          m.Amount,
		Confidence:      m.Confidence,
		Explanation:     m.Explanation,
		PriceAtDecision: m.PriceAtDecision,
		TurnsUsed:       m.TurnsUsed,
		Skipped:         m.Skipped != 0,
		SystemPrompt:    m.SystemPrompt,
		UserPrompt:      m.UserPrompt,
		FinalText:       m.FinalText,
		TranscriptJSON:  m.TranscriptJSON,
		Error:           m.Error,
		CreatedAt:       m.CreatedAtUnix,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
