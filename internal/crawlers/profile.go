package crawlers

import (
	"math"
	"time"
)

// DefaultUserAgents 默认身份池: 主流桌面浏览器
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// PacingConfig 节奏控制配置 (config.yaml 的 pacing 段)
type PacingConfig struct {
	BaseDelay          time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MinDelay           time.Duration `mapstructure:"min_delay" validate:"gt=0"`
	MaxDelay           time.Duration `mapstructure:"max_delay" validate:"gtefield=MinDelay"`
	RequestTimeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"min=1,max=10"`
	DelayMultiplier    float64       `mapstructure:"delay_multiplier" validate:"gt=1"`
	DelayReductionRate float64       `mapstructure:"delay_reduction_rate" validate:"gt=0,lt=1"`
	BlockFailRate      float64       `mapstructure:"block_fail_rate" validate:"gt=0,lte=1"`
	BlockStatusCodes   []int         `mapstructure:"block_status_codes" validate:"dive,min=100,max=599"`
	BlockResponseTime  time.Duration `mapstructure:"block_response_time" validate:"gt=0"`
	BlockWindow        int           `mapstructure:"block_window" validate:"min=10"`
	HealthWindow       int           `mapstructure:"health_window" validate:"min=10"`
	MaxRequestsPerMin  float64       `mapstructure:"max_requests_per_minute" validate:"gte=0"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// DefaultPacingConfig 默认节奏参数
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		BaseDelay:          3 * time.Second,
		MinDelay:           1 * time.Second,
		MaxDelay:           10 * time.Second,
		RequestTimeout:     10 * time.Second,
		MaxRetries:         3,
		DelayMultiplier:    1.5,
		DelayReductionRate: 0.9,
		BlockFailRate:      0.3,
		BlockStatusCodes:   []int{403, 429, 503},
		BlockResponseTime:  30 * time.Second,
		BlockWindow:        20,
		HealthWindow:       100,
		MaxRequestsPerMin:  20,
	}
}

// SiteProfile 单个站点的节奏状态与阈值
// 不并发安全: 每个站点由唯一一个抓取器持有
type SiteProfile struct {
	Domain string

	BaseDelay          time.Duration
	MinDelay           time.Duration
	MaxDelay           time.Duration
	CurrentDelay       time.Duration
	DelayMultiplier    float64
	DelayReductionRate float64

	ConsecutiveFailures int
	SuccessRate         float64
	AvgResponseTime     time.Duration

	RequestTimeout time.Duration
	MaxRetries     int

	BlockThresholdFailRate     float64
	BlockThresholdStatusCodes  map[int]bool
	BlockThresholdResponseTime time.Duration

	IdentityPool   []string
	IdentityCursor int
}

// NewSiteProfile 使用默认参数创建站点配置
func NewSiteProfile(domain string) *SiteProfile {
	return NewSiteProfileFromConfig(domain, DefaultPacingConfig())
}

// NewSiteProfileFromConfig 按节奏配置创建站点配置
func NewSiteProfileFromConfig(domain string, cfg PacingConfig) *SiteProfile {
	codes := make(map[int]bool, len(cfg.BlockStatusCodes))
	for _, c := range cfg.BlockStatusCodes {
		codes[c] = true
	}

	pool := make([]string, len(DefaultUserAgents))
	copy(pool, DefaultUserAgents)

	p := &SiteProfile{
		Domain:                     domain,
		BaseDelay:                  cfg.BaseDelay,
		MinDelay:                   cfg.MinDelay,
		MaxDelay:                   cfg.MaxDelay,
		CurrentDelay:               cfg.BaseDelay,
		DelayMultiplier:            cfg.DelayMultiplier,
		DelayReductionRate:         cfg.DelayReductionRate,
		SuccessRate:                1.0,
		RequestTimeout:             cfg.RequestTimeout,
		MaxRetries:                 cfg.MaxRetries,
		BlockThresholdFailRate:     cfg.BlockFailRate,
		BlockThresholdStatusCodes:  codes,
		BlockThresholdResponseTime: cfg.BlockResponseTime,
		IdentityPool:               pool,
	}
	p.CurrentDelay = p.clamp(p.CurrentDelay)
	return p
}

// SetIdentityPool 替换身份池,空列表保持默认
func (p *SiteProfile) SetIdentityPool(agents []string) {
	if len(agents) == 0 {
		return
	}
	p.IdentityPool = append([]string(nil), agents...)
	p.IdentityCursor = 0
}

// NextIdentity 轮询返回下一个 User-Agent
func (p *SiteProfile) NextIdentity() string {
	if len(p.IdentityPool) == 0 {
		return ""
	}
	ua := p.IdentityPool[p.IdentityCursor%len(p.IdentityPool)]
	p.IdentityCursor = (p.IdentityCursor + 1) % len(p.IdentityPool)
	return ua
}

// AdjustDelay 乘性调整当前延迟
// 成功: max(min, cur*reduction), 连续失败清零
// 失败: min(max, cur*multiplier), 连续失败+1
func (p *SiteProfile) AdjustDelay(success bool) {
	if success {
		p.CurrentDelay = p.clamp(scale(p.CurrentDelay, p.DelayReductionRate))
		p.ConsecutiveFailures = 0
		return
	}
	p.CurrentDelay = p.clamp(scale(p.CurrentDelay, p.DelayMultiplier))
	p.ConsecutiveFailures++
}

// ScaleDelay 按倍数放大当前延迟 (恢复协议使用),结果仍受上下限约束
func (p *SiteProfile) ScaleDelay(factor float64) {
	if factor <= 0 {
		return
	}
	p.CurrentDelay = p.clamp(scale(p.CurrentDelay, factor))
}

// Reset 恢复基础延迟并清空失败计数
func (p *SiteProfile) Reset() {
	p.CurrentDelay = p.clamp(p.BaseDelay)
	p.ConsecutiveFailures = 0
	p.SuccessRate = 1.0
}

// IsBlockStatus 状态码是否属于封禁集合
func (p *SiteProfile) IsBlockStatus(code int) bool {
	return p.BlockThresholdStatusCodes[code]
}

func (p *SiteProfile) clamp(d time.Duration) time.Duration {
	if d < p.MinDelay {
		return p.MinDelay
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(math.Round(float64(d) * factor))
}

// ProfileSummary 持久化的站点配置子集,时间单位为秒
type ProfileSummary struct {
	Domain              string  `json:"domain"`
	BaseDelay           float64 `json:"base_delay"`
	CurrentDelay        float64 `json:"current_delay"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseTime     float64 `json:"avg_response_time"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// ToSummary 导出持久化摘要
func (p *SiteProfile) ToSummary() ProfileSummary {
	return ProfileSummary{
		Domain:              p.Domain,
		BaseDelay:           p.BaseDelay.Seconds(),
		CurrentDelay:        p.CurrentDelay.Seconds(),
		SuccessRate:         p.SuccessRate,
		AvgResponseTime:     p.AvgResponseTime.Seconds(),
		ConsecutiveFailures: p.ConsecutiveFailures,
	}
}

// ApplySummary 从持久化摘要恢复状态,当前延迟仍被限制在上下限之间
func (p *SiteProfile) ApplySummary(s ProfileSummary) {
	if s.BaseDelay > 0 {
		p.BaseDelay = seconds(s.BaseDelay)
	}
	if s.CurrentDelay > 0 {
		p.CurrentDelay = p.clamp(seconds(s.CurrentDelay))
	}
	if s.SuccessRate >= 0 && s.SuccessRate <= 1 {
		p.SuccessRate = s.SuccessRate
	}
	if s.AvgResponseTime >= 0 {
		p.AvgResponseTime = seconds(s.AvgResponseTime)
	}
	if s.ConsecutiveFailures >= 0 {
		p.ConsecutiveFailures = s.ConsecutiveFailures
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
