package core

import (
	"context"
	"fmt"

	"github.com/RecoveryAshes/AnalystCrawl/internal/config"
	"github.com/RecoveryAshes/AnalystCrawl/internal/crawlers"
	"github.com/RecoveryAshes/AnalystCrawl/internal/extractors"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/risk"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
)

// Capability 站点的抓取与抽取能力
type Capability interface {
	Fetch(ctx context.Context, rawURL string) (*crawlers.Page, error)
	Extract(page *crawlers.Page) extractors.Report
}

// PacingController 节奏与恢复控制
type PacingController interface {
	RiskMetrics() risk.Metrics
	Health() crawlers.HealthMetrics
	ApplyRecovery(p risk.RecoveryProtocol)
	Penalize(reason string)
}

// Target 流水线驱动的单个站点
type Target interface {
	Capability
	PacingController

	Name() string
	Domain() string
	Source() string
	ListURLs() []string
	Discover(ctx context.Context, limit int) ([]models.ReportLink, error)
	PreTest(ctx context.Context, rawURL string, n int) (bool, string)
	Allowed(ctx context.Context, rawURL string) bool
}

// SiteCrawler 由站点定义组装出的抓取器
// 站点之间的差异全部来自 SiteDefinition,不需要为每个站点单独实现
type SiteCrawler struct {
	site      config.SiteDefinition
	fetcher   *crawlers.AdaptiveFetcher
	lister    *crawlers.ListCrawler
	extractor *extractors.MultiStrategyExtractor
	robots    *crawlers.RobotsGate
	headers   *HeaderManager
	profiles  *crawlers.ProfileStore
}

// NewSiteCrawler 创建站点抓取器
// 参数:
//   - site: 站点定义
//   - pacing: 全局节奏配置,站点的 pacing 段覆盖其中的字段
//   - cliHeaders: 命令行 -H 传入的头部
//   - profiles: 节奏状态存储,为空时不加载也不保存
func NewSiteCrawler(site config.SiteDefinition, pacing crawlers.PacingConfig, cliHeaders []string, profiles *crawlers.ProfileStore) (*SiteCrawler, error) {
	headers, err := NewHeaderManager(site.Headers, cliHeaders)
	if err != nil {
		return nil, fmt.Errorf("站点 %s 请求头无效: %w", site.Name, err)
	}

	cfg := site.Pacing.Apply(pacing)
	profile := crawlers.NewSiteProfileFromConfig(site.Domain, cfg)
	if len(site.UserAgents) > 0 {
		profile.SetIdentityPool(site.UserAgents)
	}
	if profiles != nil {
		profiles.Load(profile)
	}

	fetcher := crawlers.NewAdaptiveFetcher(profile, crawlers.FetcherOptions{
		Headers:            headers,
		BlockWindow:        cfg.BlockWindow,
		HealthWindow:       cfg.HealthWindow,
		MaxRequestsPerMin:  cfg.MaxRequestsPerMin,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})

	sc := &SiteCrawler{
		site:      site,
		fetcher:   fetcher,
		extractor: extractors.NewMultiStrategyExtractor(site.Selectors),
		robots:    crawlers.NewRobotsGate(nil, profile.IdentityPool[0]),
		headers:   headers,
		profiles:  profiles,
	}

	if site.List.RowSelector != "" {
		lister, err := crawlers.NewListCrawler(fetcher, site.List)
		if err != nil {
			return nil, fmt.Errorf("站点 %s 列表规则无效: %w", site.Name, err)
		}
		sc.lister = lister
	}
	return sc, nil
}

// Name 站点名
func (sc *SiteCrawler) Name() string { return sc.site.Name }

// Domain 站点域名
func (sc *SiteCrawler) Domain() string { return sc.site.Domain }

// Source 快照中的来源标识
func (sc *SiteCrawler) Source() string { return sc.site.Source }

// ListURLs 列表页地址
func (sc *SiteCrawler) ListURLs() []string { return sc.site.ListURLs }

// Fetcher 底层抓取器
func (sc *SiteCrawler) Fetcher() *crawlers.AdaptiveFetcher { return sc.fetcher }

// Fetch 自适应抓取
func (sc *SiteCrawler) Fetch(ctx context.Context, rawURL string) (*crawlers.Page, error) {
	return sc.fetcher.Fetch(ctx, rawURL)
}

// Extract 按站点选择器抽取字段
func (sc *SiteCrawler) Extract(page *crawlers.Page) extractors.Report {
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	return sc.extractor.Extract(page.HTML, pageURL)
}

// Discover 依次抓取各列表页,跨列表页去重, limit<=0 表示不限
func (sc *SiteCrawler) Discover(ctx context.Context, limit int) ([]models.ReportLink, error) {
	if sc.lister == nil {
		return nil, fmt.Errorf("站点 %s 未定义列表规则", sc.site.Name)
	}

	var links []models.ReportLink
	seen := make(map[string]bool)
	var lastErr error
	for _, listURL := range sc.site.ListURLs {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(links)
			if remaining <= 0 {
				break
			}
		}

		found, err := sc.lister.Discover(ctx, listURL, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return links, ctx.Err()
			}
			utils.Warnf("列表页抓取失败 [%s]: %v", listURL, err)
			lastErr = err
			continue
		}
		for _, link := range found {
			if seen[link.URL] {
				continue
			}
			seen[link.URL] = true
			links = append(links, link)
		}
	}

	if len(links) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return links, nil
}

// PreTest 长时间运行前的快速预检
func (sc *SiteCrawler) PreTest(ctx context.Context, rawURL string, n int) (bool, string) {
	return sc.fetcher.PreTest(ctx, rawURL, n)
}

// Allowed robots.txt 是否允许
func (sc *SiteCrawler) Allowed(ctx context.Context, rawURL string) bool {
	return sc.robots.Allowed(ctx, rawURL)
}

// RiskMetrics 风险评估指标
func (sc *SiteCrawler) RiskMetrics() risk.Metrics { return sc.fetcher.RiskMetrics() }

// Health 健康指标
func (sc *SiteCrawler) Health() crawlers.HealthMetrics { return sc.fetcher.Health() }

// ApplyRecovery 执行恢复协议
func (sc *SiteCrawler) ApplyRecovery(p risk.RecoveryProtocol) { sc.fetcher.ApplyRecovery(p) }

// Penalize 内容层面的失败反馈
func (sc *SiteCrawler) Penalize(reason string) { sc.fetcher.Penalize(reason) }

// Status 抓取器状态快照
func (sc *SiteCrawler) Status() crawlers.Status { return sc.fetcher.GetStatus() }

// SafeHeaders 脱敏后的请求头,用于展示
func (sc *SiteCrawler) SafeHeaders() map[string]string { return sc.headers.GetSafeHeaders() }

// SaveProfile 持久化节奏状态
func (sc *SiteCrawler) SaveProfile() error {
	if sc.profiles == nil {
		return nil
	}
	if err := sc.profiles.Save(sc.fetcher.Profile()); err != nil {
		return fmt.Errorf("保存站点节奏状态失败 [%s]: %w", sc.site.Domain, err)
	}
	return nil
}
