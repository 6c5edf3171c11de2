package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 运行报告生成器
// 输出目录结构: <outputDir>/<domain>/reports/
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// ReportsDir 站点报告目录
func (r *Reporter) ReportsDir(domain string) string {
	return filepath.Join(r.outputDir, domain, "reports")
}

// GenerateReport 生成单站点运行报告,返回报告目录
func (r *Reporter) GenerateReport(summary *models.RunSummary) (string, error) {
	if summary.Domain == "" {
		return "", fmt.Errorf("运行结果缺少域名,无法生成报告")
	}

	reportsDir := r.ReportsDir(summary.Domain)
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	// 保存主报告
	if err := r.saveJSONReport(reportsDir, "run_report.json", summary); err != nil {
		return "", err
	}

	reports := summary.Reports
	if reports == nil {
		reports = []models.ReportMetadata{}
	}
	if err := r.saveJSONReport(reportsDir, "reports.json", reports); err != nil {
		return "", err
	}

	failures := summary.Failures
	if failures == nil {
		failures = []models.FailedItem{}
	}
	if err := r.saveJSONReport(reportsDir, "failed_items.json", failures); err != nil {
		return "", err
	}

	Infof("✅ 报告已生成: %s (%s)", reportsDir, summary.Line())
	return reportsDir, nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	path := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
