package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// ErrMissingSourceURL 快照缺少 raw_refs.source_url
var ErrMissingSourceURL = errors.New("快照缺少 source_url, 无法去重写入")

// SnapshotStore 报告快照的本地SQLite存储,以来源URL去重
type SnapshotStore struct {
	db   *sql.DB
	path string

	// sqlite 单写者,批量并发时串行化写操作
	writeMu sync.Mutex
	now     func() time.Time
}

// NewSnapshotStore 打开或创建数据库并初始化表结构
func NewSnapshotStore(dbPath string) (*SnapshotStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	store := &SnapshotStore{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return store, nil
}

func (s *SnapshotStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analyst_reports (
		report_id TEXT PRIMARY KEY,
		source_url TEXT UNIQUE NOT NULL,
		pdf_url TEXT,
		stock_code TEXT NOT NULL,
		stock_name TEXT,
		source TEXT NOT NULL,
		published_date TEXT NOT NULL,
		opinion TEXT,
		target_price REAL,
		trust_score REAL DEFAULT 0,
		analyst_name TEXT,
		analyst_firm TEXT,
		structured_data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_stock ON analyst_reports(stock_code, published_date);
	CREATE INDEX IF NOT EXISTS idx_reports_source ON analyst_reports(source);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record 存储中的一行
type Record struct {
	ReportID      string
	SourceURL     string
	StockCode     string
	StockName     string
	Source        string
	PublishedDate string // YYYY-MM-DD
	Opinion       models.Opinion
	TargetPrice   *float64
	TrustScore    float64
	AnalystName   string
	AnalystFirm   string
	Snapshot      models.Snapshot
	UpdatedAt     time.Time
}

// Metadata 把存储行还原成报告元数据,供共识计算和评分使用
func (r Record) Metadata() models.ReportMetadata {
	meta := models.ReportMetadata{
		ReportID:    r.ReportID,
		StockCode:   r.StockCode,
		StockName:   r.StockName,
		AnalystName: r.AnalystName,
		Firm:        r.AnalystFirm,
		SourceURL:   r.SourceURL,
		PDFURL:      r.Snapshot.RawRefs.PDFURL,
		Opinion:     r.Opinion,
		Source:      r.Source,
		CrawledAt:   r.UpdatedAt,
	}
	if d, err := time.ParseInLocation("2006-01-02", r.PublishedDate, kst); err == nil {
		meta.PublishedDate = &d
	}
	if r.TargetPrice != nil {
		v := int64(*r.TargetPrice)
		meta.TargetPrice = &v
	}
	return meta
}

var kst = time.FixedZone("KST", 9*3600)

// UpsertSnapshot 按来源URL插入或更新快照,返回报告ID
func (s *SnapshotStore) UpsertSnapshot(ctx context.Context, snap models.Snapshot) (string, error) {
	sourceURL := strings.TrimSpace(snap.RawRefs.SourceURL)
	if sourceURL == "" {
		return "", ErrMissingSourceURL
	}

	data, err := snap.ToJSON()
	if err != nil {
		return "", fmt.Errorf("序列化快照失败: %w", err)
	}

	reportID := snap.RawRefs.ReportID
	if reportID == "" {
		reportID = models.ReportID(sourceURL, snap.StockCode)
	}

	var name, firm string
	if snap.AnalystInfo != nil {
		name, firm = snap.AnalystInfo.Name, snap.AnalystInfo.Firm
	}
	// rating_text 的 "Strong Buy" 等文字可以反查回意见
	opinion := models.NormalizeOpinion(snap.Recommendation.RatingText)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyst_reports (
			report_id, source_url, pdf_url, stock_code, stock_name, source, published_date,
			opinion, target_price, trust_score, analyst_name, analyst_firm, structured_data,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_url) DO UPDATE SET
			pdf_url = EXCLUDED.pdf_url,
			stock_code = EXCLUDED.stock_code,
			stock_name = EXCLUDED.stock_name,
			source = EXCLUDED.source,
			published_date = EXCLUDED.published_date,
			opinion = EXCLUDED.opinion,
			target_price = EXCLUDED.target_price,
			trust_score = EXCLUDED.trust_score,
			analyst_name = EXCLUDED.analyst_name,
			analyst_firm = EXCLUDED.analyst_firm,
			structured_data = EXCLUDED.structured_data,
			updated_at = EXCLUDED.updated_at
	`, reportID, sourceURL, nullString(snap.RawRefs.PDFURL), snap.StockCode, nullString(snap.StockName),
		snap.Source, snap.AsOf, string(opinion), snap.PriceTarget.Mean, snap.Confidence.SourceQuality,
		nullString(name), nullString(firm), string(data), now, now)
	if err != nil {
		return "", fmt.Errorf("写入快照失败: %w", err)
	}

	// 冲突更新时保留原来的 report_id
	var stored string
	if err := s.db.QueryRowContext(ctx,
		"SELECT report_id FROM analyst_reports WHERE source_url = ?", sourceURL).Scan(&stored); err != nil {
		return "", fmt.Errorf("读取报告ID失败: %w", err)
	}
	return stored, nil
}

// HasSourceURL 该来源URL是否已经入库
func (s *SnapshotStore) HasSourceURL(ctx context.Context, sourceURL string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM analyst_reports WHERE source_url = ? LIMIT 1", sourceURL).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询来源URL失败: %w", err)
	}
	return true, nil
}

const selectColumns = `
	SELECT report_id, source_url, stock_code, COALESCE(stock_name, ''), source, published_date,
		COALESCE(opinion, ''), target_price, trust_score, COALESCE(analyst_name, ''),
		COALESCE(analyst_firm, ''), structured_data, updated_at
	FROM analyst_reports`

// FetchLatest 某只股票最新的若干条快照,source 为空时不过滤来源
func (s *SnapshotStore) FetchLatest(ctx context.Context, stockCode, source string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	query := selectColumns + " WHERE stock_code = ?"
	args := []interface{}{stockCode}
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	query += " ORDER BY published_date DESC, updated_at DESC LIMIT ?"
	args = append(args, limit)

	return s.query(ctx, query, args...)
}

// FetchSince 某只股票最近 days 天内发布的全部快照,按发布日期升序
func (s *SnapshotStore) FetchSince(ctx context.Context, stockCode string, days int) ([]Record, error) {
	cutoff := s.now().In(kst).AddDate(0, 0, -days).Format("2006-01-02")
	return s.query(ctx, selectColumns+`
		WHERE stock_code = ? AND published_date >= ?
		ORDER BY published_date ASC, updated_at ASC`, stockCode, cutoff)
}

// Count 总行数
func (s *SnapshotStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyst_reports").Scan(&n); err != nil {
		return 0, fmt.Errorf("统计快照失败: %w", err)
	}
	return n, nil
}

func (s *SnapshotStore) query(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询快照失败: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			opinion string
			target  sql.NullFloat64
			data    string
		)
		if err := rows.Scan(&r.ReportID, &r.SourceURL, &r.StockCode, &r.StockName, &r.Source,
			&r.PublishedDate, &opinion, &target, &r.TrustScore, &r.AnalystName, &r.AnalystFirm,
			&data, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("读取快照行失败: %w", err)
		}
		r.Opinion = models.Opinion(opinion)
		if target.Valid {
			v := target.Float64
			r.TargetPrice = &v
		}
		if err := json.Unmarshal([]byte(data), &r.Snapshot); err != nil {
			return nil, fmt.Errorf("解析快照JSON失败 [%s]: %w", r.SourceURL, err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历快照失败: %w", err)
	}
	return records, nil
}

// Path 数据库文件路径
func (s *SnapshotStore) Path() string {
	return s.path
}

// Close 关闭数据库连接
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
