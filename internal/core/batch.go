package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/config"
	"github.com/RecoveryAshes/AnalystCrawl/internal/crawlers"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
	"golang.org/x/sync/errgroup"
)

// SiteJob 一个站点的运行任务, URLs 为空时从列表页发现
type SiteJob struct {
	Site config.SiteDefinition
	URLs []string
}

// TargetFactory 按站点定义创建流水线目标
type TargetFactory func(site config.SiteDefinition) (Target, error)

// profileSaver 运行结束后需要持久化状态的目标
type profileSaver interface {
	SaveProfile() error
}

// BatchRunner 多站点并行运行器,每个站点独占一个目标实例
type BatchRunner struct {
	opts        PipelineOptions
	deps        PipelineDeps
	concurrency int
	factory     TargetFactory
	reporter    *utils.Reporter
}

// BatchSummary 批量运行摘要
type BatchSummary struct {
	TotalSites    int
	Completed     int
	Stopped       int
	Aborted       int
	NewItems      int
	Stored        int
	TotalDuration float64
	Results       []*models.RunSummary
}

// NewBatchRunner 创建批量运行器
// 参数:
//   - factory: 站点目标工厂,通常是 SiteCrawlerFactory 的返回值
//   - reporter: 为空时不写JSON报告
func NewBatchRunner(opts PipelineOptions, deps PipelineDeps, concurrency int, factory TargetFactory, reporter *utils.Reporter) *BatchRunner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchRunner{
		opts:        opts,
		deps:        deps,
		concurrency: concurrency,
		factory:     factory,
		reporter:    reporter,
	}
}

// SiteCrawlerFactory 使用全局节奏配置和命令行头部创建 SiteCrawler
func SiteCrawlerFactory(pacing crawlers.PacingConfig, cliHeaders []string, profiles *crawlers.ProfileStore) TargetFactory {
	return func(site config.SiteDefinition) (Target, error) {
		return NewSiteCrawler(site, pacing, cliHeaders, profiles)
	}
}

// Run 并行运行所有任务,单个站点失败不影响其他站点
func (br *BatchRunner) Run(ctx context.Context, jobs []SiteJob) *BatchSummary {
	utils.Infof("🚀 开始批量抓取: %d个站点 (并发 %d)", len(jobs), br.concurrency)

	summary := &BatchSummary{
		TotalSites: len(jobs),
		Results:    make([]*models.RunSummary, len(jobs)),
	}
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(br.concurrency)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			summary.Results[i] = br.runSite(gctx, job)
			return nil
		})
	}
	g.Wait()

	for _, r := range summary.Results {
		switch r.Status {
		case models.RunStatusCompleted:
			summary.Completed++
		case models.RunStatusAborted:
			summary.Aborted++
		default:
			summary.Stopped++
		}
		summary.NewItems += r.Stats.NewItems
		summary.Stored += r.Stats.Stored
	}
	summary.TotalDuration = time.Since(startTime).Seconds()

	br.printSummary(summary)
	return summary
}

// runSite 运行单个站点,无论成功与否都写出运行报告
func (br *BatchRunner) runSite(ctx context.Context, job SiteJob) *models.RunSummary {
	var result *models.RunSummary

	target, err := br.factory(job.Site)
	if err != nil {
		utils.Errorf("❌ 创建站点抓取器失败 [%s]: %v", job.Site.Name, err)
		now := time.Now()
		result = &models.RunSummary{
			RunID:        models.NewRunID(),
			Site:         job.Site.Name,
			Domain:       job.Site.Domain,
			Status:       models.RunStatusAborted,
			StartedAt:    now,
			FinishedAt:   now,
			HealthStatus: string(crawlers.HealthUnknown),
			StopReason:   fmt.Sprintf("创建抓取器失败: %v", err),
		}
	} else {
		result = NewPipeline(target, br.opts, br.deps).Run(ctx, job.URLs)

		if saver, ok := target.(profileSaver); ok {
			if err := saver.SaveProfile(); err != nil {
				utils.Warnf("%v", err)
			}
		}
	}

	if br.reporter != nil {
		if path, err := br.reporter.GenerateReport(result); err != nil {
			utils.Warnf("生成报告失败 [%s]: %v", job.Site.Domain, err)
		} else {
			utils.Debugf("报告已保存: %s", path)
		}
	}
	return result
}

// printSummary 打印批量运行摘要
func (br *BatchRunner) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量抓取摘要")
	utils.Info("==================================================")
	utils.Infof("站点数: %d", summary.TotalSites)
	utils.Infof("✅ 完成: %d", summary.Completed)
	utils.Infof("🛑 停止: %d", summary.Stopped)
	utils.Infof("❌ 中止: %d", summary.Aborted)
	utils.Infof("📄 新报告: %d (入库 %d)", summary.NewItems, summary.Stored)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	for _, r := range summary.Results {
		if r.Status == models.RunStatusCompleted {
			utils.Infof("  - %s: %s", r.Site, r.Line())
		} else {
			utils.Warnf("  - %s: %s (%s: %s)", r.Site, r.Line(), r.Status, r.StopReason)
		}
	}
}

// JobsForURLs 把URL按所属站点分组成任务,无法匹配站点的URL单独返回
func JobsForURLs(sites []config.SiteDefinition, urls []string) ([]SiteJob, []string) {
	var jobs []SiteJob
	index := make(map[string]int)
	var unmatched []string

	for _, u := range urls {
		site, ok := config.FindSiteForURL(sites, u)
		if !ok {
			unmatched = append(unmatched, u)
			continue
		}
		i, exists := index[site.Name]
		if !exists {
			i = len(jobs)
			index[site.Name] = i
			jobs = append(jobs, SiteJob{Site: *site})
		}
		jobs[i].URLs = append(jobs[i].URLs, u)
	}
	return jobs, unmatched
}
