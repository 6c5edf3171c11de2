package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
)

func newTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	store, err := NewSnapshotStore(filepath.Join(t.TempDir(), "db", "reports.db"))
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	store.now = func() time.Time { return time.Date(2024, 3, 20, 3, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { store.Close() })
	return store
}

func snapshot(url, asof, rating string, target float64) models.Snapshot {
	snap := models.Snapshot{
		Version:        models.SnapshotVersion,
		AsOf:           asof,
		StockCode:      "005930",
		StockName:      "삼성전자",
		Source:         "naver",
		Recommendation: models.Recommendation{RatingText: rating, AnalystCount: 1},
		PriceTarget:    models.PriceTarget{Currency: "KRW", HorizonMonths: 12},
		Confidence:     models.SnapshotConfidence{SourceQuality: 0.75, CoverageScore: 0.05},
		RawRefs:        models.RawRefs{SourceURL: url, ReportID: "rid-" + url},
		AnalystInfo:    &models.AnalystInfo{Name: "홍길동", Firm: "KB증권"},
	}
	if target > 0 {
		snap.PriceTarget.Mean = &target
	}
	return snap
}

func TestUpsertSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertSnapshot(ctx, snapshot("https://a/1", "2024-03-18", "Buy", 90000))
	if err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if id != "rid-https://a/1" {
		t.Errorf("报告ID不正确: %s", id)
	}

	// 同一URL再次写入: 更新而不是新增,报告ID保持不变
	updated := snapshot("https://a/1", "2024-03-18", "Strong Buy", 95000)
	updated.RawRefs.ReportID = "other"
	id2, err := store.UpsertSnapshot(ctx, updated)
	if err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	if id2 != id {
		t.Errorf("冲突更新应保留原ID, 实际 %s", id2)
	}

	n, _ := store.Count(ctx)
	if n != 1 {
		t.Errorf("应只有1行, 实际 %d", n)
	}

	records, err := store.FetchLatest(ctx, "005930", "", 5)
	if err != nil || len(records) != 1 {
		t.Fatalf("查询失败: %v, %d", err, len(records))
	}
	r := records[0]
	if r.Opinion != models.OpinionStrongBuy || r.TargetPrice == nil || *r.TargetPrice != 95000 {
		t.Errorf("更新后的字段不正确: %+v", r)
	}
	if r.Snapshot.Recommendation.RatingText != "Strong Buy" || r.AnalystFirm != "KB증권" {
		t.Errorf("快照JSON未更新: %+v", r.Snapshot)
	}
}

func TestUpsertSnapshot_MissingURL(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpsertSnapshot(context.Background(), snapshot("  ", "2024-03-18", "Buy", 0))
	if !errors.Is(err, ErrMissingSourceURL) {
		t.Errorf("期望 ErrMissingSourceURL, 实际 %v", err)
	}
}

func TestHasSourceURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if ok, err := store.HasSourceURL(ctx, "https://a/1"); err != nil || ok {
		t.Errorf("空库不应命中: %v %v", ok, err)
	}
	store.UpsertSnapshot(ctx, snapshot("https://a/1", "2024-03-18", "Buy", 0))
	if ok, err := store.HasSourceURL(ctx, "https://a/1"); err != nil || !ok {
		t.Errorf("写入后应命中: %v %v", ok, err)
	}
}

func TestFetchLatest_FilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.UpsertSnapshot(ctx, snapshot("https://a/1", "2024-03-01", "Buy", 80000))
	store.UpsertSnapshot(ctx, snapshot("https://a/2", "2024-03-15", "Hold", 85000))
	other := snapshot("https://b/1", "2024-03-19", "Sell", 0)
	other.Source = "hankyung"
	store.UpsertSnapshot(ctx, other)

	all, err := store.FetchLatest(ctx, "005930", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].SourceURL != "https://b/1" || all[1].SourceURL != "https://a/2" {
		t.Errorf("应按发布日期倒序并限制条数: %+v", all)
	}
	if all[0].TargetPrice != nil {
		t.Error("没有目标价时应为 nil")
	}

	naver, _ := store.FetchLatest(ctx, "005930", "naver", 10)
	if len(naver) != 2 {
		t.Errorf("来源过滤后应有2条, 实际 %d", len(naver))
	}
}

func TestFetchSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.UpsertSnapshot(ctx, snapshot("https://a/old", "2024-01-10", "Buy", 70000))
	store.UpsertSnapshot(ctx, snapshot("https://a/2", "2024-03-18", "Hold", 85000))
	store.UpsertSnapshot(ctx, snapshot("https://a/1", "2024-03-10", "Buy", 90000))

	records, err := store.FetchSince(ctx, "005930", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("30天内应有2条, 实际 %d", len(records))
	}
	if records[0].PublishedDate != "2024-03-10" {
		t.Errorf("应按发布日期升序: %s", records[0].PublishedDate)
	}

	meta := records[0].Metadata()
	if meta.PublishedDate == nil || meta.PublishedDate.Day() != 10 {
		t.Errorf("发布日期还原失败: %v", meta.PublishedDate)
	}
	if meta.TargetPrice == nil || *meta.TargetPrice != 90000 || meta.Opinion != models.OpinionBuy {
		t.Errorf("元数据还原失败: %+v", meta)
	}
	if meta.AnalystName != "홍길동" || meta.Source != "naver" {
		t.Errorf("分析师/来源还原失败: %+v", meta)
	}
}
