package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RecoveryAshes/AnalystCrawl/internal/config"
	"github.com/RecoveryAshes/AnalystCrawl/internal/core"
	"github.com/RecoveryAshes/AnalystCrawl/internal/crawlers"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/normalize"
	"github.com/RecoveryAshes/AnalystCrawl/internal/scoring"
	"github.com/RecoveryAshes/AnalystCrawl/internal/storage"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string // 自定义HTTP请求头
	validateConfig bool     // 验证配置文件

	// 抓取参数
	siteName    string
	allSites    bool
	urlFile     string
	maxReports  int
	skipPretest bool
	outputDir   string

	// 预检参数
	pretestURL      string
	pretestRequests int

	// 共识参数
	stockCode     string
	consensusDays int

	// 报告查询参数
	reportSource string
	reportLimit  int

	purgeProfile bool
)

// appConfig 在 PersistentPreRunE 中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "analystcrawl",
	Short: "韩国券商研报自适应抓取工具",
	Long: `AnalystCrawl - 韩国券商研报自适应抓取工具

按站点定义抓取 네이버 금융、한경 컨센서스、38커뮤니케이션 等研报页面,支持:
  • 按站点自适应调节请求节奏
  • 软封禁检测与健康度监控
  • 多策略字段提取 (CSS / 文本模式 / 正文)
  • 风险评估与恢复协议
  • 标准化快照入库与共识评分

使用示例:
  # 抓取单个站点
  analystcrawl crawl --site naver

  # 抓取全部启用站点,每站最多10篇
  analystcrawl crawl --all --max-reports 10

  # 抓取指定详情页
  analystcrawl crawl --url-file urls.txt -H "Cookie: NID=xxx"

  # 验证配置文件
  analystcrawl --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 命令行参数覆盖配置文件
		cfg.MergeCLIFlags(maxReports, skipPretest, logLevel)
		if outputDir != "" {
			cfg.Output.BaseDir = outputDir
		}

		if err := utils.InitLogger(cfg.ToLogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}

		appConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateConfig {
			return runValidateConfig()
		}
		return cmd.Help()
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "抓取研报",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateCrawlFlags(siteName, allSites, urlFile, maxReports); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sites, err := loadSites()
		if err != nil {
			return err
		}
		jobs, err := buildJobs(sites)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return fmt.Errorf("没有可抓取的站点")
		}

		deps := core.PipelineDeps{Scorer: scoring.NewScorer()}
		if appConfig.Storage.Enabled {
			store, err := storage.NewSnapshotStore(appConfig.Storage.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			deps.Store = store
		}

		monitor := crawlers.NewResourceMonitor(appConfig.Resource)
		monitor.StartMonitoring(appConfig.Resource.CheckInterval)
		defer monitor.StopMonitoring()
		deps.Resources = monitor

		opts := core.PipelineOptionsFromConfig(appConfig)
		opts.ShowProgress = appConfig.Crawl.Concurrency == 1 || len(jobs) == 1

		var reporter *utils.Reporter
		if appConfig.Output.WriteReports {
			reporter = utils.NewReporter(appConfig.Output.BaseDir)
		}

		profiles := crawlers.NewProfileStore(appConfig.Crawl.ProfileFile)
		runner := core.NewBatchRunner(opts, deps, appConfig.Crawl.Concurrency,
			core.SiteCrawlerFactory(appConfig.Pacing, headers, profiles), reporter)

		utils.Infof("🚀 开始抓取 %d 个站点", len(jobs))
		summary := runner.Run(ctx, jobs)

		if ctx.Err() != nil {
			utils.Warn("收到中断信号,已保存站点配置后退出")
		}
		if summary.Aborted == summary.TotalSites {
			return fmt.Errorf("全部站点均未能完成抓取")
		}

		utils.Info("✨ 抓取任务完成!")
		return nil
	},
}

var pretestCmd = &cobra.Command{
	Use:   "pretest",
	Short: "对站点做快速预检,判断当前是否可抓取",
	RunE: func(cmd *cobra.Command, args []string) error {
		if siteName == "" {
			return fmt.Errorf("必须指定 --site")
		}
		if pretestRequests < 1 || pretestRequests > 10 {
			return fmt.Errorf("预检请求数必须在1-10之间,当前值: %d", pretestRequests)
		}
		if pretestURL != "" {
			if err := ValidateURL(pretestURL); err != nil {
				return fmt.Errorf("无效的预检地址: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sites, err := loadSites()
		if err != nil {
			return err
		}
		site, ok := config.FindSite(sites, siteName)
		if !ok {
			return fmt.Errorf("未找到站点: %s", siteName)
		}

		profiles := crawlers.NewProfileStore(appConfig.Crawl.ProfileFile)
		sc, err := core.NewSiteCrawler(*site, appConfig.Pacing, headers, profiles)
		if err != nil {
			return err
		}

		target := pretestURL
		if target == "" {
			if len(site.ListURLs) == 0 {
				return fmt.Errorf("站点 [%s] 未配置列表页,请使用 --url 指定预检地址", site.Name)
			}
			target = site.ListURLs[0]
		}

		passed, reason := sc.PreTest(ctx, target, pretestRequests)
		if err := sc.SaveProfile(); err != nil {
			utils.Warnf("保存站点配置失败: %v", err)
		}

		status := sc.Status()
		fmt.Printf("站点: %s (%s)\n", site.Name, site.Domain)
		fmt.Printf("健康状态: %s\n", status.Health)
		fmt.Printf("当前延迟: %.2f秒\n", status.CurrentDelay.Seconds())
		if !passed {
			fmt.Printf("❌ 预检失败: %s\n", reason)
			return fmt.Errorf("预检失败: %s", reason)
		}
		fmt.Println("✅ 预检通过")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示已保存的站点节奏状态和入库统计",
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles := crawlers.NewProfileStore(appConfig.Crawl.ProfileFile)
		all, err := profiles.All()
		if err != nil {
			return fmt.Errorf("读取站点配置失败: %w", err)
		}

		fmt.Println("==================================================")
		fmt.Printf("📁 站点配置: %s\n", profiles.Path())
		fmt.Println("==================================================")
		if len(all) == 0 {
			fmt.Println("  (暂无记录)")
		}
		for _, p := range all {
			fmt.Printf("  %-24s 延迟 %.2fs / 基础 %.2fs  成功率 %.0f%%  连续失败 %d\n",
				p.Domain, p.CurrentDelay, p.BaseDelay, p.SuccessRate*100, p.ConsecutiveFailures)
		}

		if appConfig.Storage.Enabled {
			store, err := storage.NewSnapshotStore(appConfig.Storage.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("🗄️  已入库报告: %d (%s)\n", n, store.Path())
		}
		return nil
	},
}

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "根据已入库的报告计算个股共识",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConsensusFlags(stockCode, consensusDays); err != nil {
			return err
		}
		if !appConfig.Storage.Enabled {
			return fmt.Errorf("存储未启用 (storage.enabled=false)")
		}

		store, err := storage.NewSnapshotStore(appConfig.Storage.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.FetchSince(cmd.Context(), stockCode, consensusDays)
		if err != nil {
			return err
		}
		reports := make([]models.ReportMetadata, 0, len(records))
		for _, r := range records {
			reports = append(reports, r.Metadata())
		}

		snap, err := normalize.Consensus(stockCode, reports)
		if errors.Is(err, normalize.ErrNoReports) {
			fmt.Printf("最近%d天没有 %s 的报告\n", consensusDays, stockCode)
			return nil
		}
		if err != nil {
			return err
		}

		scorer := scoring.NewScorer()
		scorer.ScoreReports(reports)

		out := struct {
			Snapshot models.Snapshot   `json:"snapshot"`
			Score    scoring.Consensus `json:"score"`
		}{snap, scorer.StockConsensusScore(stockCode, consensusDays)}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "列出某只股票最新入库的报告",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateReportsFlags(stockCode, reportLimit); err != nil {
			return err
		}
		if !appConfig.Storage.Enabled {
			return fmt.Errorf("存储未启用 (storage.enabled=false)")
		}

		store, err := storage.NewSnapshotStore(appConfig.Storage.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.FetchLatest(cmd.Context(), stockCode, reportSource, reportLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("没有 %s 的报告\n", stockCode)
			return nil
		}
		for _, r := range records {
			target := "-"
			if r.TargetPrice != nil {
				target = fmt.Sprintf("%.0f원", *r.TargetPrice)
			}
			fmt.Printf("%s  %-8s %-10s %-12s %-10s %s\n",
				r.PublishedDate, r.Source, r.Opinion, target, r.AnalystFirm, r.SourceURL)
		}
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "管理已保存的站点节奏状态",
}

var profileResetCmd = &cobra.Command{
	Use:   "reset <domain>",
	Short: "把某个域名的当前延迟恢复为基础延迟,--purge 时删除整条记录",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles := crawlers.NewProfileStore(appConfig.Crawl.ProfileFile)

		var (
			done bool
			err  error
		)
		if purgeProfile {
			done, err = profiles.Remove(args[0])
		} else {
			done, err = profiles.Reset(args[0])
		}
		if err != nil {
			return err
		}
		if !done {
			fmt.Printf("未找到记录: %s\n", args[0])
			return nil
		}
		if purgeProfile {
			fmt.Printf("✅ 已删除: %s (下次运行使用默认值)\n", args[0])
		} else {
			fmt.Printf("✅ 已重置: %s\n", args[0])
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("AnalystCrawl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// loadSites 加载站点定义,文件不存在时生成模板
func loadSites() ([]config.SiteDefinition, error) {
	loader := config.NewSiteConfigLoader(appConfig.Crawl.SitesFile)
	if err := loader.EnsureConfigExists(); err != nil {
		return nil, err
	}
	sites, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("加载站点定义失败: %w", err)
	}
	return sites, nil
}

// buildJobs 根据 --site / --all / --url-file 生成任务
func buildJobs(sites []config.SiteDefinition) ([]core.SiteJob, error) {
	if urlFile != "" {
		urls, err := utils.ReadURLsFromFile(urlFile)
		if err != nil {
			return nil, err
		}
		jobs, unmatched := core.JobsForURLs(sites, urls)
		for _, u := range unmatched {
			utils.Warnf("⚠️ 没有匹配的站点定义,已跳过: %s", u)
		}
		return jobs, nil
	}

	if allSites {
		enabled := config.EnabledSites(sites)
		jobs := make([]core.SiteJob, 0, len(enabled))
		for _, s := range enabled {
			jobs = append(jobs, core.SiteJob{Site: s})
		}
		return jobs, nil
	}

	site, ok := config.FindSite(sites, siteName)
	if !ok {
		return nil, fmt.Errorf("未找到站点: %s", siteName)
	}
	return []core.SiteJob{{Site: *site}}, nil
}

// runValidateConfig 校验配置、站点定义,并显示每个站点的有效头部
func runValidateConfig() error {
	utils.Info("🔍 验证配置...")
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	sites, err := loadSites()
	if err != nil {
		return err
	}

	profiles := crawlers.NewProfileStore(appConfig.Crawl.ProfileFile)
	for _, site := range sites {
		sc, err := core.NewSiteCrawler(site, appConfig.Pacing, headers, profiles)
		if err != nil {
			return fmt.Errorf("站点 [%s] 验证失败: %w", site.Name, err)
		}
		safeHeaders := sc.SafeHeaders()
		state := "启用"
		if site.Disabled {
			state = "禁用"
		}
		utils.Infof("站点 [%s] %s (%s), 有效HTTP头部 %d 个:", site.Name, site.Domain, state, len(safeHeaders))
		for name, value := range safeHeaders {
			utils.Infof("  %s: %s", name, value)
		}
	}

	utils.Infof("✅ 配置验证通过! 共 %d 个站点", len(sites))
	return nil
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "输出目录 (覆盖 output.base_dir)")

	// 抓取参数
	crawlCmd.Flags().StringVarP(&siteName, "site", "s", "", "站点名称或域名")
	crawlCmd.Flags().BoolVar(&allSites, "all", false, "抓取全部启用的站点")
	crawlCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含详情页URL列表的文件路径")
	crawlCmd.Flags().IntVarP(&maxReports, "max-reports", "n", 0, "每个站点最多处理的报告数 (0 使用配置值)")
	crawlCmd.Flags().BoolVar(&skipPretest, "skip-pretest", false, "跳过运行前预检")

	// 预检参数
	pretestCmd.Flags().StringVarP(&siteName, "site", "s", "", "站点名称或域名")
	pretestCmd.Flags().StringVarP(&pretestURL, "url", "u", "", "预检地址 (默认第一个列表页)")
	pretestCmd.Flags().IntVar(&pretestRequests, "requests", 3, "预检请求数 (1-10)")

	// 共识参数
	consensusCmd.Flags().StringVar(&stockCode, "stock", "", "6位股票代码")
	consensusCmd.Flags().IntVar(&consensusDays, "days", 30, "统计最近多少天的报告")

	// 报告查询参数
	reportsCmd.Flags().StringVar(&stockCode, "stock", "", "6位股票代码")
	reportsCmd.Flags().StringVar(&reportSource, "source", "", "来源 (naver|hankyung|38com),为空时不过滤")
	reportsCmd.Flags().IntVarP(&reportLimit, "limit", "n", 10, "最多显示条数")

	profileResetCmd.Flags().BoolVar(&purgeProfile, "purge", false, "删除整条记录")
	profileCmd.AddCommand(profileResetCmd)
	rootCmd.AddCommand(crawlCmd, pretestCmd, statusCmd, reportsCmd, consensusCmd, profileCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
