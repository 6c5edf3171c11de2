package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/crawlers"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀,例如 ANALYSTCRAWL_CRAWL_MAX_REPORTS
const EnvPrefix = "ANALYSTCRAWL"

// Config 应用程序配置
type Config struct {
	Logging  LoggingConfig                  `mapstructure:"logging"`
	Crawl    CrawlConfig                    `mapstructure:"crawl"`
	Pacing   crawlers.PacingConfig          `mapstructure:"pacing"`
	Resource crawlers.ResourceMonitorConfig `mapstructure:"resource"`
	Storage  StorageConfig                  `mapstructure:"storage"`
	Output   OutputConfig                   `mapstructure:"output"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	LogDir   string         `mapstructure:"log_dir" validate:"required"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size" validate:"min=1"`
	MaxBackups int  `mapstructure:"max_backups" validate:"gte=0"`
	MaxAge     int  `mapstructure:"max_age" validate:"gte=0"`
	Compress   bool `mapstructure:"compress"`
}

// CrawlConfig 抓取流程配置
type CrawlConfig struct {
	SitesFile              string        `mapstructure:"sites_file" validate:"required"`
	ProfileFile            string        `mapstructure:"profile_file" validate:"required"`
	MaxReports             int           `mapstructure:"max_reports" validate:"gte=0"` // 0 表示不限
	PretestRequests        int           `mapstructure:"pretest_requests" validate:"min=1,max=10"`
	SkipPretest            bool          `mapstructure:"skip_pretest"`
	RespectRobots          bool          `mapstructure:"respect_robots"`
	MaxInlineWait          time.Duration `mapstructure:"max_inline_wait" validate:"gte=0"` // 超过该时长的恢复等待改为停止本次运行
	ParseFeedbackThreshold float64       `mapstructure:"parse_feedback_threshold" validate:"gte=0,lte=1"`
	Concurrency            int           `mapstructure:"concurrency" validate:"min=1,max=8"` // 并行站点数
}

// StorageConfig 快照存储配置
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path" validate:"required_if=Enabled true"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir      string `mapstructure:"base_dir" validate:"required"`
	WriteReports bool   `mapstructure:"write_reports"`
}

// LoadConfig 加载配置文件
// 查找顺序: 指定路径 → ./configs → . → ~/.analystcrawl,文件不存在时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".analystcrawl"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
		utils.Debugf("未找到配置文件,使用默认配置")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{
			FilePath: v.ConfigFileUsed(),
			Cause:    fmt.Errorf("配置绑定失败: %w", err),
		}
	}

	if err := config.Validate(); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: err}
	}

	return &config, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 抓取配置默认值
	v.SetDefault("crawl.sites_file", "configs/sites.yaml")
	v.SetDefault("crawl.profile_file", "data/site_profiles.json")
	v.SetDefault("crawl.max_reports", 20)
	v.SetDefault("crawl.pretest_requests", 3)
	v.SetDefault("crawl.skip_pretest", false)
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.max_inline_wait", "10m")
	v.SetDefault("crawl.parse_feedback_threshold", 0.3)
	v.SetDefault("crawl.concurrency", 3)

	// 节奏控制默认值
	pacing := crawlers.DefaultPacingConfig()
	v.SetDefault("pacing.base_delay", pacing.BaseDelay.String())
	v.SetDefault("pacing.min_delay", pacing.MinDelay.String())
	v.SetDefault("pacing.max_delay", pacing.MaxDelay.String())
	v.SetDefault("pacing.timeout", pacing.RequestTimeout.String())
	v.SetDefault("pacing.max_retries", pacing.MaxRetries)
	v.SetDefault("pacing.delay_multiplier", pacing.DelayMultiplier)
	v.SetDefault("pacing.delay_reduction_rate", pacing.DelayReductionRate)
	v.SetDefault("pacing.block_fail_rate", pacing.BlockFailRate)
	v.SetDefault("pacing.block_status_codes", pacing.BlockStatusCodes)
	v.SetDefault("pacing.block_response_time", pacing.BlockResponseTime.String())
	v.SetDefault("pacing.block_window", pacing.BlockWindow)
	v.SetDefault("pacing.health_window", pacing.HealthWindow)
	v.SetDefault("pacing.max_requests_per_minute", pacing.MaxRequestsPerMin)
	v.SetDefault("pacing.insecure_skip_verify", false)

	// 资源守卫默认值
	v.SetDefault("resource.safety_threshold_mb", 300)
	v.SetDefault("resource.cpu_load_threshold", 90)
	v.SetDefault("resource.check_interval", "10s")
	v.SetDefault("resource.max_waits", 6)

	// 存储与输出默认值
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "data/analyst_reports.db")
	v.SetDefault("output.base_dir", "output")
	v.SetDefault("output.write_reports", true)
}

// ToLogConfig 转换为日志系统配置
func (c *Config) ToLogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// MergeCLIFlags 合并命令行参数到配置,命令行优先
func (c *Config) MergeCLIFlags(maxReports int, skipPretest bool, logLevel string) {
	if maxReports > 0 {
		c.Crawl.MaxReports = maxReports
	}
	if skipPretest {
		c.Crawl.SkipPretest = true
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
}
