package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/crawlers"
	"github.com/RecoveryAshes/AnalystCrawl/internal/extractors"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/risk"
	"github.com/RecoveryAshes/AnalystCrawl/internal/scoring"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
	"github.com/rs/zerolog"
)

const reportPage = `<html><head><title>삼성전자 리포트</title></head><body>
<h1>삼성전자 4분기 실적 리뷰</h1>
<span class="date">2024.03.15</span>
<div class="analyst">홍길동 / 삼성증권</div>
<p>종목코드 (005930) 투자의견: 매수 목표가: 95,000원</p>
<div class="content">메모리 반도체 업황 회복이 예상보다 빠르게 진행되고 있습니다. 서버 수요 증가와 재고 정상화로 인해 하반기 실적 개선이 기대되며, 고대역폭 메모리 출하 확대가 수익성 개선을 이끌 전망입니다. 목표주가를 상향합니다.</div>
</body></html>`

const emptyPage = `<html><body></body></html>`

var healthyMetrics = risk.Metrics{SuccessRate: 1, AvgDelay: 5 * time.Second}

type fakeTarget struct {
	pages       map[string]string
	fetchErr    map[string]error
	onFetch     func(f *fakeTarget, rawURL string)
	discovered  []models.ReportLink
	discoverErr error
	disallowed  map[string]bool
	preTestOK   bool
	preTestMsg  string

	metrics risk.Metrics
	health  crawlers.HealthMetrics

	fetched    []string
	penalties  []string
	recoveries []risk.RecoveryProtocol
	extractor  *extractors.MultiStrategyExtractor
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		pages:     make(map[string]string),
		fetchErr:  make(map[string]error),
		preTestOK: true,
		metrics:   healthyMetrics,
		health:    crawlers.HealthMetrics{Status: crawlers.HealthHealthy, RecommendedDelay: 3 * time.Second},
		extractor: extractors.NewMultiStrategyExtractor(extractors.FieldSelectors{}),
	}
}

func (f *fakeTarget) Name() string   { return "naver" }
func (f *fakeTarget) Domain() string { return "finance.naver.com" }
func (f *fakeTarget) Source() string { return "naver" }
func (f *fakeTarget) ListURLs() []string {
	return []string{"https://finance.naver.com/research/company_list.naver"}
}

func (f *fakeTarget) Fetch(ctx context.Context, rawURL string) (*crawlers.Page, error) {
	f.fetched = append(f.fetched, rawURL)
	if f.onFetch != nil {
		f.onFetch(f, rawURL)
	}
	if err, ok := f.fetchErr[rawURL]; ok {
		return nil, err
	}
	html, ok := f.pages[rawURL]
	if !ok {
		return nil, crawlers.ErrExhausted
	}
	return &crawlers.Page{URL: rawURL, StatusCode: 200, HTML: html}, nil
}

func (f *fakeTarget) Extract(page *crawlers.Page) extractors.Report {
	return f.extractor.Extract(page.HTML, page.URL)
}

func (f *fakeTarget) Discover(ctx context.Context, limit int) ([]models.ReportLink, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	if limit > 0 && len(f.discovered) > limit {
		return f.discovered[:limit], nil
	}
	return f.discovered, nil
}

func (f *fakeTarget) PreTest(ctx context.Context, rawURL string, n int) (bool, string) {
	return f.preTestOK, f.preTestMsg
}

func (f *fakeTarget) Allowed(ctx context.Context, rawURL string) bool { return !f.disallowed[rawURL] }
func (f *fakeTarget) RiskMetrics() risk.Metrics                       { return f.metrics }
func (f *fakeTarget) Health() crawlers.HealthMetrics                  { return f.health }
func (f *fakeTarget) Penalize(reason string)                          { f.penalties = append(f.penalties, reason) }
func (f *fakeTarget) ApplyRecovery(p risk.RecoveryProtocol) {
	f.recoveries = append(f.recoveries, p)
}

type memoryStore struct {
	known map[string]bool
	snaps []models.Snapshot
}

func newMemoryStore() *memoryStore { return &memoryStore{known: make(map[string]bool)} }

func (m *memoryStore) HasSourceURL(ctx context.Context, sourceURL string) (bool, error) {
	return m.known[sourceURL], nil
}

func (m *memoryStore) UpsertSnapshot(ctx context.Context, snap models.Snapshot) (string, error) {
	m.known[snap.RawRefs.SourceURL] = true
	m.snaps = append(m.snaps, snap)
	return snap.RawRefs.ReportID, nil
}

type prefixProcessor struct{}

func (prefixProcessor) Summarize(ctx context.Context, content string) (string, error) {
	return "요약: " + string([]rune(content)[:10]), nil
}

type scarceResources struct{ checks int }

func (s *scarceResources) CheckResourceAvailability() (bool, string) {
	s.checks++
	return false, "内存不足(当前100MB)"
}

func quietLogger(t *testing.T) {
	t.Helper()
	saved := utils.Logger
	utils.Logger = utils.Logger.Level(zerolog.Disabled)
	t.Cleanup(func() { utils.Logger = saved })
}

func newTestPipeline(target *fakeTarget, opts PipelineOptions, deps PipelineDeps) (*Pipeline, *[]time.Duration) {
	if opts.MaxInlineWait == 0 {
		opts.MaxInlineWait = 10 * time.Minute
	}
	p := NewPipeline(target, opts, deps)
	slept := &[]time.Duration{}
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return p, slept
}

func links(urls ...string) []models.ReportLink {
	out := make([]models.ReportLink, 0, len(urls))
	for _, u := range urls {
		out = append(out, models.ReportLink{URL: u})
	}
	return out
}

func TestPipeline_ProcessesDiscoveredReports(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1", "https://a/2")
	target.pages["https://a/1"] = reportPage
	target.pages["https://a/2"] = reportPage
	store := newMemoryStore()

	p, _ := newTestPipeline(target, PipelineOptions{ParseFeedbackThreshold: 0.3}, PipelineDeps{
		Store:     store,
		Scorer:    scoring.NewScorer(),
		Processor: prefixProcessor{},
	})
	summary := p.Run(context.Background(), nil)

	if summary.Status != models.RunStatusCompleted {
		t.Fatalf("期望 completed, 实际 %s (%s)", summary.Status, summary.StopReason)
	}
	st := summary.Stats
	if st.Discovered != 2 || st.Fetched != 2 || st.Parsed != 2 || st.Stored != 2 || st.NewItems != 2 {
		t.Errorf("统计不正确: %+v", st)
	}
	if len(summary.Scores) != 2 {
		t.Errorf("应有2个评分, 实际 %d", len(summary.Scores))
	}
	if summary.Line() != "2 new items, health=healthy" {
		t.Errorf("摘要不正确: %s", summary.Line())
	}

	meta := summary.Reports[0]
	if meta.StockCode != "005930" || meta.Opinion != models.OpinionBuy || meta.Firm != "삼성증권" {
		t.Errorf("元数据不正确: %+v", meta)
	}
	if !strings.HasPrefix(meta.Summary, "요약: ") {
		t.Errorf("正文处理钩子未生效: %q", meta.Summary)
	}
	if len(store.snaps) != 2 || store.snaps[0].Source != "naver" {
		t.Errorf("快照未写入: %+v", store.snaps)
	}
	if len(target.penalties) != 0 {
		t.Errorf("解析正常时不应惩罚: %v", target.penalties)
	}
	if summary.ParseSuccessRate != 1 {
		t.Errorf("解析成功率应为1, 实际 %v", summary.ParseSuccessRate)
	}
}

func TestPipeline_SkipsKnownAndDisallowed(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/known", "https://a/private", "https://a/new")
	target.pages["https://a/new"] = reportPage
	target.disallowed = map[string]bool{"https://a/private": true}
	store := newMemoryStore()
	store.known["https://a/known"] = true

	p, _ := newTestPipeline(target, PipelineOptions{RespectRobots: true}, PipelineDeps{Store: store})
	summary := p.Run(context.Background(), nil)

	if summary.Stats.Skipped != 2 || summary.Stats.NewItems != 1 {
		t.Errorf("统计不正确: %+v", summary.Stats)
	}
	if len(target.fetched) != 1 || target.fetched[0] != "https://a/new" {
		t.Errorf("只应抓取新报告: %v", target.fetched)
	}
}

func TestPipeline_PreTestBlocked(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.preTestOK = false
	target.preTestMsg = "차단 감지: HTTP 403 (1/3)"
	target.metrics = risk.Metrics{SuccessRate: 0, BlockedDetected: true}
	target.health = crawlers.HealthMetrics{Status: crawlers.HealthCritical}

	p, _ := newTestPipeline(target, PipelineOptions{}, PipelineDeps{})
	summary := p.Run(context.Background(), nil)

	if summary.Status != models.RunStatusAborted || summary.StopReason != target.preTestMsg {
		t.Errorf("预检失败应中止: %s %s", summary.Status, summary.StopReason)
	}
	if summary.Line() != "0 new items, health=blocked" {
		t.Errorf("摘要不正确: %s", summary.Line())
	}
	if len(target.fetched) != 0 {
		t.Error("预检失败后不应抓取")
	}
}

func TestPipeline_SkipPretest(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.preTestOK = false
	target.discovered = links("https://a/1")
	target.pages["https://a/1"] = reportPage

	p, _ := newTestPipeline(target, PipelineOptions{SkipPretest: true}, PipelineDeps{})
	if summary := p.Run(context.Background(), nil); summary.Stats.NewItems != 1 {
		t.Errorf("跳过预检后应正常抓取: %+v", summary.Stats)
	}
}

func TestPipeline_EmergencyStopOnBlock(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1", "https://a/2")
	target.pages["https://a/2"] = reportPage
	target.onFetch = func(f *fakeTarget, rawURL string) {
		f.metrics = risk.Metrics{SuccessRate: 0.2, ConsecutiveErrors: 3, BlockedDetected: true, AvgDelay: 5 * time.Second}
		f.health = crawlers.HealthMetrics{Status: crawlers.HealthCritical}
	}

	p, _ := newTestPipeline(target, PipelineOptions{}, PipelineDeps{})
	summary := p.Run(context.Background(), nil)

	if summary.Status != models.RunStatusStopped {
		t.Fatalf("期望 stopped, 实际 %s", summary.Status)
	}
	if summary.Line() != "0 new items, health=blocked" {
		t.Errorf("摘要不正确: %s", summary.Line())
	}
	if len(target.fetched) != 1 {
		t.Errorf("紧急停止后不应继续抓取: %v", target.fetched)
	}
	if summary.Stats.Failed != 1 || summary.Failures[0].ErrorType != "exhausted" {
		t.Errorf("失败记录不正确: %+v", summary.Failures)
	}
	if summary.RiskLevel != string(risk.LevelHigh) {
		t.Errorf("风险等级应为 HIGH, 实际 %s", summary.RiskLevel)
	}
}

func TestPipeline_HardRecoveryStopsWithoutApplying(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1", "https://a/2")
	target.onFetch = func(f *fakeTarget, rawURL string) {
		f.metrics = risk.Metrics{SuccessRate: 0.5, ConsecutiveErrors: 10, AvgDelay: 5 * time.Second}
	}

	p, slept := newTestPipeline(target, PipelineOptions{}, PipelineDeps{})
	summary := p.Run(context.Background(), nil)

	if summary.Status != models.RunStatusStopped || !strings.Contains(summary.StopReason, "hard_recovery") {
		t.Fatalf("连续10次失败应停止: %s %q", summary.Status, summary.StopReason)
	}
	if len(target.recoveries) != 0 || len(*slept) != 0 {
		t.Errorf("需要人工确认的协议不应自动执行或等待: %+v %v", target.recoveries, *slept)
	}
	if len(target.fetched) != 1 {
		t.Errorf("停止后不应继续抓取: %v", target.fetched)
	}
}

func TestPipeline_SoftRecoveryWaitsInline(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1", "https://a/2")
	target.pages["https://a/2"] = reportPage
	target.onFetch = func(f *fakeTarget, rawURL string) {
		if rawURL == "https://a/1" {
			f.metrics = risk.Metrics{SuccessRate: 0.9, ConsecutiveErrors: 3, AvgDelay: 5 * time.Second}
		} else {
			f.metrics = healthyMetrics
		}
	}

	p, slept := newTestPipeline(target, PipelineOptions{}, PipelineDeps{})
	summary := p.Run(context.Background(), nil)

	if summary.Status != models.RunStatusCompleted || summary.Stats.NewItems != 1 {
		t.Fatalf("软恢复后应继续: %s %+v", summary.Status, summary.Stats)
	}
	if len(target.recoveries) != 1 || target.recoveries[0].Level != risk.RecoverySoft {
		t.Errorf("应执行一次软恢复: %+v", target.recoveries)
	}
	if len(*slept) != 1 || (*slept)[0] != 300*time.Second {
		t.Errorf("应等待5分钟: %v", *slept)
	}
}

func TestPipeline_MediumRecoveryExceedsInlineWait(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1", "https://a/2")
	target.onFetch = func(f *fakeTarget, rawURL string) {
		f.metrics = risk.Metrics{SuccessRate: 0.5, ConsecutiveErrors: 6, AvgDelay: 5 * time.Second}
	}

	p, slept := newTestPipeline(target, PipelineOptions{MaxInlineWait: 10 * time.Minute}, PipelineDeps{})
	summary := p.Run(context.Background(), nil)

	if summary.Status != models.RunStatusStopped {
		t.Fatalf("期望 stopped, 实际 %s", summary.Status)
	}
	if len(target.recoveries) != 1 || target.recoveries[0].Level != risk.RecoveryMedium {
		t.Errorf("应执行中度恢复: %+v", target.recoveries)
	}
	if len(*slept) != 0 {
		t.Errorf("超过上限时不应内联等待: %v", *slept)
	}
	if len(target.fetched) != 1 {
		t.Errorf("停止后不应继续抓取: %v", target.fetched)
	}
}

func TestPipeline_StopAndWaitAndReduceSpeed(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1", "https://a/2")
	target.pages["https://a/1"] = reportPage
	target.pages["https://a/2"] = reportPage
	target.onFetch = func(f *fakeTarget, rawURL string) {
		if rawURL == "https://a/1" {
			// HIGH: 成功率 < 0.7
			f.metrics = risk.Metrics{SuccessRate: 0.6, AvgDelay: 5 * time.Second}
			f.health = crawlers.HealthMetrics{Status: crawlers.HealthCritical, RecommendedDelay: 60 * time.Second}
		} else {
			// MEDIUM: 成功率 < 0.9
			f.metrics = risk.Metrics{SuccessRate: 0.8, AvgDelay: 5 * time.Second}
		}
	}

	p, slept := newTestPipeline(target, PipelineOptions{}, PipelineDeps{})
	summary := p.Run(context.Background(), nil)

	if summary.Stats.NewItems != 2 {
		t.Fatalf("两条都应处理: %+v", summary.Stats)
	}
	if len(*slept) != 1 || (*slept)[0] != 60*time.Second {
		t.Errorf("HIGH 应按健康建议延迟等待: %v", *slept)
	}
	if len(target.penalties) != 1 || !strings.Contains(target.penalties[0], "MEDIUM") {
		t.Errorf("MEDIUM 应减速: %v", target.penalties)
	}
}

func TestPipeline_ParseFailurePenalizes(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1")
	target.pages["https://a/1"] = emptyPage

	p, _ := newTestPipeline(target, PipelineOptions{ParseFeedbackThreshold: 0.3}, PipelineDeps{})
	summary := p.Run(context.Background(), nil)

	if len(target.penalties) != 1 {
		t.Errorf("解析失败应反馈给节奏控制: %v", target.penalties)
	}
	if summary.Stats.Failed != 1 || summary.Failures[0].ErrorType != "extract" {
		t.Errorf("失败记录不正确: %+v", summary.Failures)
	}
	if len(summary.Recommendations) == 0 {
		t.Error("应给出结构变化建议")
	}
}

func TestPipeline_GivenURLs(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discoverErr = errors.New("不应调用")
	target.pages["https://a/1"] = reportPage

	p, _ := newTestPipeline(target, PipelineOptions{MaxReports: 1}, PipelineDeps{})
	summary := p.Run(context.Background(), []string{"https://a/1", "https://a/2"})

	if summary.Stats.Discovered != 1 || len(target.fetched) != 1 {
		t.Errorf("应直接使用给定地址并受上限约束: %+v %v", summary.Stats, target.fetched)
	}
}

func TestPipeline_DiscoverFailure(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discoverErr = crawlers.ErrExhausted

	p, _ := newTestPipeline(target, PipelineOptions{}, PipelineDeps{})
	summary := p.Run(context.Background(), nil)

	if summary.Status != models.RunStatusAborted || summary.Stats.Failed != 1 {
		t.Errorf("发现失败应中止: %s %+v", summary.Status, summary.Stats)
	}
}

func TestPipeline_ResourceGuard(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1")
	target.pages["https://a/1"] = reportPage
	res := &scarceResources{}

	p, slept := newTestPipeline(target, PipelineOptions{ResourceMaxWaits: 2, ResourceCheckInterval: time.Second}, PipelineDeps{Resources: res})
	summary := p.Run(context.Background(), nil)

	if summary.Status != models.RunStatusStopped || !strings.Contains(summary.StopReason, "内存不足") {
		t.Errorf("资源不足应停止: %s %s", summary.Status, summary.StopReason)
	}
	if res.checks != 3 || len(*slept) != 2 {
		t.Errorf("应检查3次等待2次: checks=%d slept=%v", res.checks, *slept)
	}
	if len(target.fetched) != 0 {
		t.Error("资源不足时不应抓取")
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	quietLogger(t)
	target := newFakeTarget()
	target.discovered = links("https://a/1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := newTestPipeline(target, PipelineOptions{SkipPretest: true}, PipelineDeps{})
	summary := p.Run(ctx, nil)

	if summary.Status != models.RunStatusCancelled {
		t.Errorf("期望 cancelled, 实际 %s", summary.Status)
	}
}
