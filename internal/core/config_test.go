package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "# 空配置\n"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Pacing.BaseDelay != 3*time.Second || cfg.Pacing.MaxDelay != 10*time.Second {
		t.Errorf("默认延迟不正确: %+v", cfg.Pacing)
	}
	if len(cfg.Pacing.BlockStatusCodes) != 3 {
		t.Errorf("默认封禁状态码不正确: %v", cfg.Pacing.BlockStatusCodes)
	}
	if cfg.Crawl.MaxInlineWait != 10*time.Minute {
		t.Errorf("默认内联等待不正确: %v", cfg.Crawl.MaxInlineWait)
	}
	if cfg.Logging.Level != "info" || !cfg.Storage.Enabled {
		t.Errorf("默认值不正确: %+v", cfg)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
crawl:
  max_reports: 5
pacing:
  base_delay: 5s
  max_delay: 30s
  block_status_codes: [403, 429]
`)
	t.Setenv("ANALYSTCRAWL_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Crawl.MaxReports != 5 {
		t.Errorf("期望 max_reports=5, 实际=%d", cfg.Crawl.MaxReports)
	}
	if cfg.Pacing.BaseDelay != 5*time.Second || cfg.Pacing.MaxDelay != 30*time.Second {
		t.Errorf("延迟配置未生效: %+v", cfg.Pacing)
	}
	if len(cfg.Pacing.BlockStatusCodes) != 2 {
		t.Errorf("状态码配置未生效: %v", cfg.Pacing.BlockStatusCodes)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("环境变量未覆盖日志级别: %s", cfg.Logging.Level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"最大延迟小于最小延迟", "pacing:\n  min_delay: 5s\n  max_delay: 2s\n"},
		{"未知日志级别", "logging:\n  level: verbose\n"},
		{"衰减率越界", "pacing:\n  delay_reduction_rate: 1.5\n"},
		{"YAML语法错误", "crawl: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			var cfgErr *models.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("期望 ConfigError, 实际=%v", err)
			}
		})
	}
}

func TestConfig_MergeCLIFlags(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	cfg.MergeCLIFlags(0, false, "")
	if cfg.Crawl.MaxReports != 20 || cfg.Crawl.SkipPretest {
		t.Error("零值参数不应覆盖配置")
	}

	cfg.MergeCLIFlags(3, true, "warn")
	if cfg.Crawl.MaxReports != 3 || !cfg.Crawl.SkipPretest || cfg.Logging.Level != "warn" {
		t.Errorf("命令行参数未生效: %+v", cfg.Crawl)
	}

	logCfg := cfg.ToLogConfig()
	if logCfg.Level != "warn" || logCfg.MaxSize != 10 {
		t.Errorf("日志配置转换不正确: %+v", logCfg)
	}
}
