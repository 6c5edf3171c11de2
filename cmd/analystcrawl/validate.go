package main

import (
	"fmt"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/normalize"
)

// ValidateURL 验证URL格式
func ValidateURL(urlStr string) error {
	return models.ValidateURL(urlStr)
}

// ValidateCrawlFlags 验证 crawl 命令的标志
// --site / --all / --url-file 三者必须且只能指定一个
func ValidateCrawlFlags(site string, all bool, urlFile string, maxReports int) error {
	selected := 0
	if site != "" {
		selected++
	}
	if all {
		selected++
	}
	if urlFile != "" {
		selected++
	}
	if selected == 0 {
		return fmt.Errorf("必须指定 --site、--all 或 --url-file 之一")
	}
	if selected > 1 {
		return fmt.Errorf("--site、--all 和 --url-file 不能同时使用")
	}

	if maxReports < 0 || maxReports > 500 {
		return fmt.Errorf("最大报告数必须在0-500之间,当前值: %d", maxReports)
	}
	return nil
}

// ValidateConsensusFlags 验证 consensus 命令的标志
func ValidateConsensusFlags(stockCode string, days int) error {
	if !normalize.ValidStockCode(stockCode) {
		return fmt.Errorf("股票代码必须是6位数字,当前值: %q", stockCode)
	}
	if days < 1 || days > 365 {
		return fmt.Errorf("统计天数必须在1-365之间,当前值: %d", days)
	}
	return nil
}

// ValidateReportsFlags 验证 reports 命令的标志
func ValidateReportsFlags(stockCode string, limit int) error {
	if !normalize.ValidStockCode(stockCode) {
		return fmt.Errorf("股票代码必须是6位数字,当前值: %q", stockCode)
	}
	if limit < 1 || limit > 100 {
		return fmt.Errorf("显示条数必须在1-100之间,当前值: %d", limit)
	}
	return nil
}
