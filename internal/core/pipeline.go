package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/crawlers"
	"github.com/RecoveryAshes/AnalystCrawl/internal/extractors"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/normalize"
	"github.com/RecoveryAshes/AnalystCrawl/internal/risk"
	"github.com/RecoveryAshes/AnalystCrawl/internal/scoring"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// TextProcessor 报告正文的外部处理钩子 (摘要等),实现不在本项目内
type TextProcessor interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// SnapshotSink 快照去重与写入
type SnapshotSink interface {
	HasSourceURL(ctx context.Context, sourceURL string) (bool, error)
	UpsertSnapshot(ctx context.Context, snap models.Snapshot) (string, error)
}

// ResourceGuard 本机资源检查
type ResourceGuard interface {
	CheckResourceAvailability() (bool, string)
}

// PipelineOptions 单站点运行参数
type PipelineOptions struct {
	MaxReports             int
	PretestRequests        int
	SkipPretest            bool
	RespectRobots          bool
	MaxInlineWait          time.Duration
	ParseFeedbackThreshold float64
	ResourceCheckInterval  time.Duration
	ResourceMaxWaits       int
	ShowProgress           bool
}

// PipelineOptionsFromConfig 从应用配置构造运行参数
func PipelineOptionsFromConfig(cfg *Config) PipelineOptions {
	return PipelineOptions{
		MaxReports:             cfg.Crawl.MaxReports,
		PretestRequests:        cfg.Crawl.PretestRequests,
		SkipPretest:            cfg.Crawl.SkipPretest,
		RespectRobots:          cfg.Crawl.RespectRobots,
		MaxInlineWait:          cfg.Crawl.MaxInlineWait,
		ParseFeedbackThreshold: cfg.Crawl.ParseFeedbackThreshold,
		ResourceCheckInterval:  cfg.Resource.CheckInterval,
		ResourceMaxWaits:       cfg.Resource.MaxWaits,
	}
}

// PipelineDeps 可选依赖,为空的依赖对应的步骤被跳过
type PipelineDeps struct {
	Store     SnapshotSink
	Scorer    *scoring.Scorer
	Resources ResourceGuard
	Processor TextProcessor
}

// Pipeline 单站点的抓取流水线
//
// 预检 → 发现 → 逐条 (资源检查 → 去重 → 抓取 → 抽取 → 结构反馈 → 标准化 → 存储 → 评分)
// 每条处理完都做一次风险评估,由评估结果决定继续、减速、等待或停止。
type Pipeline struct {
	target    Target
	opts      PipelineOptions
	deps      PipelineDeps
	risk      *risk.Manager
	structure *extractors.StructureMonitor
	log       zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewPipeline 创建流水线
func NewPipeline(target Target, opts PipelineOptions, deps PipelineDeps) *Pipeline {
	if opts.PretestRequests <= 0 {
		opts.PretestRequests = 3
	}
	return &Pipeline{
		target:    target,
		opts:      opts,
		deps:      deps,
		risk:      risk.NewManager(),
		structure: extractors.NewStructureMonitor(0),
		log:       utils.Site(target.Domain()),
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Structure 解析结构监控,运行结束后可查询方法使用情况
func (p *Pipeline) Structure() *extractors.StructureMonitor { return p.structure }

// Risk 风险评估历史
func (p *Pipeline) Risk() *risk.Manager { return p.risk }

// runState 一次运行中的可变状态
type runState struct {
	summary *models.RunSummary
	blocked bool
}

func (s *runState) stop(status models.RunStatus, reason string) {
	s.summary.Status = status
	s.summary.StopReason = reason
}

func (s *runState) fail(rawURL, errType string, err error) {
	s.summary.Stats.Failed++
	s.summary.Failures = append(s.summary.Failures, models.FailedItem{
		URL:       rawURL,
		ErrorType: errType,
		ErrorMsg:  err.Error(),
	})
}

// Run 执行一次运行。urls 非空时直接处理这些详情页,否则从列表页发现
// 运行中的失败都体现在返回的摘要里,不作为 error 返回
func (p *Pipeline) Run(ctx context.Context, urls []string) *models.RunSummary {
	st := &runState{summary: &models.RunSummary{
		RunID:     models.NewRunID(),
		Site:      p.target.Name(),
		Domain:    p.target.Domain(),
		Status:    models.RunStatusCompleted,
		StartedAt: p.now(),
	}}
	defer p.finish(st)

	p.log.Info().Str("run_id", st.summary.RunID).Msg("🚀 开始抓取")

	if !p.preflight(ctx, st, urls) {
		return st.summary
	}

	links, ok := p.links(ctx, st, urls)
	if !ok {
		return st.summary
	}
	st.summary.Stats.Discovered = len(links)
	if len(links) == 0 {
		p.log.Info().Msg("没有发现报告链接")
		return st.summary
	}

	var bar *progressbar.ProgressBar
	if p.opts.ShowProgress {
		bar = utils.NewProgressBar(len(links), p.target.Name())
		defer bar.Finish()
	}

	for _, link := range links {
		if ctx.Err() != nil {
			st.stop(models.RunStatusCancelled, ctx.Err().Error())
			break
		}
		if !p.processLink(ctx, st, link) {
			break
		}
		if bar != nil {
			bar.Add(1)
		}
		if !p.assessRisk(ctx, st) {
			break
		}
	}
	return st.summary
}

// preflight robots 与预检,失败时结束运行
func (p *Pipeline) preflight(ctx context.Context, st *runState, urls []string) bool {
	pretestURL := ""
	if lists := p.target.ListURLs(); len(lists) > 0 {
		pretestURL = lists[0]
	} else if len(urls) > 0 {
		pretestURL = urls[0]
	}
	if pretestURL == "" {
		st.stop(models.RunStatusAborted, "没有可用的列表页或详情页地址")
		return false
	}

	if p.opts.RespectRobots && !p.target.Allowed(ctx, pretestURL) {
		st.stop(models.RunStatusAborted, "robots.txt 不允许抓取 "+pretestURL)
		p.log.Warn().Str("url", pretestURL).Msg("robots.txt 禁止抓取")
		return false
	}

	if p.opts.SkipPretest {
		return true
	}
	passed, msg := p.target.PreTest(ctx, pretestURL, p.opts.PretestRequests)
	if !passed {
		st.blocked = p.target.RiskMetrics().BlockedDetected
		st.stop(models.RunStatusAborted, msg)
		p.log.Error().Str("url", pretestURL).Msg(msg)
		return false
	}
	p.log.Info().Msg(msg)
	return true
}

// links 给定地址优先,否则从列表页发现
func (p *Pipeline) links(ctx context.Context, st *runState, urls []string) ([]models.ReportLink, bool) {
	if len(urls) > 0 {
		links := make([]models.ReportLink, 0, len(urls))
		for _, u := range urls {
			links = append(links, models.ReportLink{URL: u})
		}
		if p.opts.MaxReports > 0 && len(links) > p.opts.MaxReports {
			links = links[:p.opts.MaxReports]
		}
		return links, true
	}

	links, err := p.target.Discover(ctx, p.opts.MaxReports)
	if err != nil && len(links) == 0 {
		if ctx.Err() != nil {
			st.stop(models.RunStatusCancelled, ctx.Err().Error())
			return nil, false
		}
		st.blocked = p.target.RiskMetrics().BlockedDetected
		st.fail("", "discover", err)
		st.stop(models.RunStatusAborted, "报告列表发现失败")
		p.log.Error().Err(err).Msg("报告列表发现失败")
		return nil, false
	}
	p.log.Info().Int("count", len(links)).Msg("🔍 发现报告链接")
	return links, true
}

// processLink 处理单个报告,返回 false 表示运行应结束
func (p *Pipeline) processLink(ctx context.Context, st *runState, link models.ReportLink) bool {
	stats := &st.summary.Stats

	if ok, reason := p.waitForResources(ctx); !ok {
		st.stop(models.RunStatusStopped, reason)
		return false
	}

	if p.opts.RespectRobots && !p.target.Allowed(ctx, link.URL) {
		stats.Skipped++
		p.log.Debug().Str("url", link.URL).Msg("robots.txt 禁止,跳过")
		return true
	}

	if p.deps.Store != nil {
		exists, err := p.deps.Store.HasSourceURL(ctx, link.URL)
		if err != nil {
			p.log.Warn().Err(err).Str("url", link.URL).Msg("查询已存在报告失败")
		} else if exists {
			stats.Skipped++
			p.log.Debug().Str("url", link.URL).Msg("报告已存在,跳过")
			return true
		}
	}

	page, err := p.target.Fetch(ctx, link.URL)
	if err != nil {
		if ctx.Err() != nil {
			st.stop(models.RunStatusCancelled, ctx.Err().Error())
			return false
		}
		errType := "transport"
		if errors.Is(err, crawlers.ErrExhausted) {
			errType = "exhausted"
		}
		st.fail(link.URL, errType, err)
		return true
	}
	stats.Fetched++

	report := p.target.Extract(page)
	parse := p.structure.Observe(link.URL, report)
	if parse.SuccessRate < p.opts.ParseFeedbackThreshold {
		p.target.Penalize(fmt.Sprintf("解析成功率 %.0f%%", parse.SuccessRate*100))
	}
	if parse.SuccessRate == 0 {
		st.fail(link.URL, "extract", errors.New("所有字段抽取失败"))
		return true
	}
	stats.Parsed++

	meta := normalize.BuildMetadata(normalize.FromReport(report), link, p.target.Source(), p.now())
	if p.deps.Processor != nil && meta.Content != "" {
		if s, err := p.deps.Processor.Summarize(ctx, meta.Content); err != nil {
			p.log.Warn().Err(err).Str("url", link.URL).Msg("正文处理失败")
		} else {
			meta.Summary = s
		}
	}
	st.summary.Reports = append(st.summary.Reports, meta)
	stats.NewItems++

	p.store(ctx, st, meta)

	if p.deps.Scorer != nil && normalize.ValidStockCode(meta.StockCode) {
		if score, err := p.deps.Scorer.ScoreReport(meta); err == nil {
			st.summary.Scores = append(st.summary.Scores, score)
		}
	}

	p.log.Info().
		Str("title", meta.Title).
		Str("stock", meta.StockCode).
		Str("opinion", string(meta.Opinion)).
		Float64("parse_rate", parse.SuccessRate).
		Msg("📄 报告处理完成")
	return true
}

func (p *Pipeline) store(ctx context.Context, st *runState, meta models.ReportMetadata) {
	if p.deps.Store == nil {
		return
	}
	snap, err := normalize.ToSnapshot(meta)
	if err != nil {
		p.log.Debug().Err(err).Str("url", meta.SourceURL).Msg("无法生成快照,不入库")
		return
	}
	if _, err := p.deps.Store.UpsertSnapshot(ctx, snap); err != nil {
		st.fail(meta.SourceURL, "store", err)
		return
	}
	st.summary.Stats.Stored++
}

// waitForResources 资源不足时按间隔等待,超过次数后放弃
func (p *Pipeline) waitForResources(ctx context.Context) (bool, string) {
	if p.deps.Resources == nil {
		return true, ""
	}
	interval := p.opts.ResourceCheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	for waits := 0; ; waits++ {
		ok, reason := p.deps.Resources.CheckResourceAvailability()
		if ok {
			return true, ""
		}
		if waits >= p.opts.ResourceMaxWaits {
			return false, "系统资源不足: " + reason
		}
		p.log.Warn().Str("reason", reason).Dur("wait", interval).Msg("⏸️ 系统资源紧张,暂缓抓取")
		if err := p.sleep(ctx, interval); err != nil {
			return false, err.Error()
		}
	}
}

// assessRisk 评估风险并执行自动动作,返回 false 表示运行应结束
func (p *Pipeline) assessRisk(ctx context.Context, st *runState) bool {
	a := p.risk.Assess(p.target.RiskMetrics())
	st.summary.RiskLevel = string(a.Level)

	if protocol, ok := risk.ProtocolForAction(a.AutoAction); ok {
		if protocol.Stops() {
			st.blocked = st.blocked || a.Metrics.BlockedDetected
			st.stop(models.RunStatusStopped, fmt.Sprintf("%s: %s", a.AutoAction, protocol.Name))
			p.log.Error().
				Str("action", string(a.AutoAction)).
				Int("consecutive_errors", a.Metrics.ConsecutiveErrors).
				Strs("actions", protocol.Actions).
				Msg("🛑 风险过高,停止抓取,需要人工确认后再恢复")
			return false
		}

		p.target.ApplyRecovery(protocol)
		if protocol.WaitTime > p.opts.MaxInlineWait {
			st.stop(models.RunStatusStopped, fmt.Sprintf("%s: 需要等待 %s", protocol.Name, protocol.WaitTime))
			p.log.Warn().Dur("wait", protocol.WaitTime).Msg("恢复等待超过上限,结束本次运行")
			return false
		}
		p.log.Warn().Dur("wait", protocol.WaitTime).Str("protocol", protocol.Name).Msg("⏳ 恢复等待")
		if err := p.sleep(ctx, protocol.WaitTime); err != nil {
			st.stop(models.RunStatusCancelled, err.Error())
			return false
		}
		return true
	}

	switch a.AutoAction {
	case risk.ActionStopAndWait:
		wait := p.target.Health().RecommendedDelay
		p.log.Warn().Dur("wait", wait).Msg("⏸️ 风险等级高,暂停后继续")
		if err := p.sleep(ctx, wait); err != nil {
			st.stop(models.RunStatusCancelled, err.Error())
			return false
		}

	case risk.ActionReduceSpeed:
		p.target.Penalize("风险等级 " + string(a.Level))
	}
	return true
}

func (p *Pipeline) finish(st *runState) {
	s := st.summary
	s.FinishedAt = p.now()
	s.Duration = s.FinishedAt.Sub(s.StartedAt).Seconds()

	health := p.target.Health()
	s.HealthStatus = string(health.Status)
	if st.blocked {
		s.HealthStatus = string(crawlers.HealthBlocked)
	}
	if s.RiskLevel == "" {
		s.RiskLevel = string(risk.ClassifyLevel(p.target.RiskMetrics()))
	}
	s.ParseSuccessRate = p.structure.AverageSuccessRate()
	s.Recommendations = p.structure.Recommendations()

	event := p.log.Info()
	if s.Status != models.RunStatusCompleted {
		event = p.log.Warn().Str("reason", s.StopReason)
	}
	event.
		Str("status", string(s.Status)).
		Int("fetched", s.Stats.Fetched).
		Int("failed", s.Stats.Failed).
		Float64("duration", s.Duration).
		Msg(s.Line())
}

// sleepContext 可被上下文取消的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
