package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/crawlers"
	"github.com/RecoveryAshes/AnalystCrawl/internal/extractors"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
	"github.com/andybalholm/cascadia"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSitesFile 默认站点定义文件路径
	DefaultSitesFile = "configs/sites.yaml"

	// MaxConfigFileSize 配置文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024
)

//go:embed sites_template.yaml
var defaultSitesTemplate string

// PacingOverride 站点级节奏覆盖,单位秒,0 表示沿用全局配置
type PacingOverride struct {
	BaseDelay         float64 `yaml:"base_delay" validate:"gte=0"`
	MinDelay          float64 `yaml:"min_delay" validate:"gte=0"`
	MaxDelay          float64 `yaml:"max_delay" validate:"gte=0"`
	MaxRetries        int     `yaml:"max_retries" validate:"gte=0,lte=10"`
	MaxRequestsPerMin float64 `yaml:"max_requests_per_minute" validate:"gte=0"`
}

// Apply 把覆盖值叠加到全局节奏配置上
func (o PacingOverride) Apply(base crawlers.PacingConfig) crawlers.PacingConfig {
	out := base
	out.BlockStatusCodes = append([]int(nil), base.BlockStatusCodes...)
	if o.BaseDelay > 0 {
		out.BaseDelay = secondsToDuration(o.BaseDelay)
	}
	if o.MinDelay > 0 {
		out.MinDelay = secondsToDuration(o.MinDelay)
	}
	if o.MaxDelay > 0 {
		out.MaxDelay = secondsToDuration(o.MaxDelay)
	}
	if o.MaxRetries > 0 {
		out.MaxRetries = o.MaxRetries
	}
	if o.MaxRequestsPerMin > 0 {
		out.MaxRequestsPerMin = o.MaxRequestsPerMin
	}
	return out
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SiteDefinition 一个研报站点的抓取定义
type SiteDefinition struct {
	Name       string                    `yaml:"name" validate:"required"`
	Domain     string                    `yaml:"domain" validate:"required,hostname_rfc1123"`
	Source     string                    `yaml:"source" validate:"required"`
	ListURLs   []string                  `yaml:"list_urls" validate:"dive,url"`
	List       crawlers.ListRules        `yaml:"list"`
	Selectors  extractors.FieldSelectors `yaml:"selectors"`
	Headers    map[string]string         `yaml:"headers"`
	UserAgents []string                  `yaml:"user_agents"`
	Pacing     PacingOverride            `yaml:"pacing"`
	Disabled   bool                      `yaml:"disabled"`
}

// SiteFile 站点定义文件的顶层结构
type SiteFile struct {
	Sites []SiteDefinition `yaml:"sites" validate:"dive"`
}

// Validate 校验单个站点定义: 字段约束、CSS选择器、链接正则、头部和UA
func (d *SiteDefinition) Validate() error {
	if err := validator.New().Struct(d); err != nil {
		return fmt.Errorf("站点 [%s] 定义无效: %w", d.Name, err)
	}

	selectors := map[string]string{
		"list.row_selector":        d.List.RowSelector,
		"list.link_selector":       d.List.LinkSelector,
		"list.stock_name_selector": d.List.StockNameSelector,
		"list.pdf_selector":        d.List.PDFSelector,
	}
	for field, sel := range d.Selectors.All() {
		selectors["selectors."+field] = sel
	}
	for field, sel := range selectors {
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			return &models.ValidationError{
				Field:      field,
				Reason:     fmt.Sprintf("站点 [%s] 的CSS选择器无效: %q (%v)", d.Name, sel, err),
				Suggestion: "检查选择器语法",
			}
		}
	}

	if d.List.LinkPattern != "" {
		if _, err := regexp.Compile(d.List.LinkPattern); err != nil {
			return &models.ValidationError{
				Field:  "list.link_pattern",
				Reason: fmt.Sprintf("站点 [%s] 的链接正则无效: %v", d.Name, err),
			}
		}
	}

	hv := utils.NewHeaderValidator()
	for name, value := range d.Headers {
		if err := hv.ValidateHeader(name, value); err != nil {
			return fmt.Errorf("站点 [%s]: %w", d.Name, err)
		}
	}
	for _, ua := range d.UserAgents {
		if err := hv.ValidateUserAgent(ua); err != nil {
			return fmt.Errorf("站点 [%s]: %w", d.Name, err)
		}
	}

	if d.Pacing.MinDelay > 0 && d.Pacing.MaxDelay > 0 && d.Pacing.MaxDelay < d.Pacing.MinDelay {
		return &models.ValidationError{
			Field:  "pacing.max_delay",
			Reason: fmt.Sprintf("站点 [%s] 的最大延迟小于最小延迟", d.Name),
		}
	}
	return nil
}

// SiteConfigLoader 站点定义文件加载器
type SiteConfigLoader struct {
	configPath string
}

// NewSiteConfigLoader 创建加载器,路径为空时使用默认路径
func NewSiteConfigLoader(configPath string) *SiteConfigLoader {
	if configPath == "" {
		configPath = DefaultSitesFile
	}
	return &SiteConfigLoader{configPath: configPath}
}

// Path 站点定义文件路径
func (l *SiteConfigLoader) Path() string { return l.configPath }

// EnsureConfigExists 确保配置文件存在,如不存在则写出内置模板
func (l *SiteConfigLoader) EnsureConfigExists() error {
	if _, err := os.Stat(l.configPath); os.IsNotExist(err) {
		dir := filepath.Dir(l.configPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
		}
		if err := os.WriteFile(l.configPath, []byte(defaultSitesTemplate), 0644); err != nil {
			return fmt.Errorf("无法生成配置文件 [%s]: %w", l.configPath, err)
		}
		utils.Infof("已生成站点定义模板: %s", l.configPath)
	}
	return nil
}

// ValidateFileSize 验证配置文件大小是否在限制内
func (l *SiteConfigLoader) ValidateFileSize() error {
	info, err := os.Stat(l.configPath)
	if err != nil {
		return fmt.Errorf("无法读取配置文件信息 [%s]: %w", l.configPath, err)
	}
	if info.Size() > MaxConfigFileSize {
		return &models.ConfigError{
			FilePath: l.configPath,
			Cause: fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)",
				info.Size(), MaxConfigFileSize),
		}
	}
	return nil
}

// Load 加载并校验全部站点定义
// 执行流程:
//  1. 确保配置文件存在 (不存在则写出模板)
//  2. 验证文件大小
//  3. 严格模式解析YAML (未知字段报错)
//  4. 逐个校验站点,名称不能重复
func (l *SiteConfigLoader) Load() ([]SiteDefinition, error) {
	if err := l.EnsureConfigExists(); err != nil {
		return nil, err
	}
	if err := l.ValidateFileSize(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.configPath)
	if err != nil {
		return nil, &models.ConfigError{FilePath: l.configPath, Cause: err}
	}
	defer f.Close()

	var file SiteFile
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, &models.ConfigError{
			FilePath: l.configPath,
			Cause:    fmt.Errorf("解析站点定义失败: %w", err),
		}
	}

	seen := make(map[string]bool, len(file.Sites))
	for i := range file.Sites {
		site := &file.Sites[i]
		site.Domain = strings.ToLower(site.Domain)
		if err := site.Validate(); err != nil {
			return nil, &models.ConfigError{FilePath: l.configPath, Cause: err}
		}
		if seen[site.Name] {
			return nil, &models.ConfigError{
				FilePath: l.configPath,
				Cause:    fmt.Errorf("站点名称重复: %s", site.Name),
			}
		}
		seen[site.Name] = true
	}

	return file.Sites, nil
}

// FindSite 按名称或域名查找站点
func FindSite(sites []SiteDefinition, key string) (*SiteDefinition, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for i := range sites {
		if strings.ToLower(sites[i].Name) == key || sites[i].Domain == key {
			return &sites[i], true
		}
	}
	return nil, false
}

// FindSiteForURL 按URL主机名查找站点
func FindSiteForURL(sites []SiteDefinition, rawURL string) (*SiteDefinition, bool) {
	domain := models.DomainOf(rawURL)
	if domain == "" {
		return nil, false
	}
	return FindSite(sites, domain)
}

// EnabledSites 过滤掉 disabled 的站点
func EnabledSites(sites []SiteDefinition) []SiteDefinition {
	out := make([]SiteDefinition, 0, len(sites))
	for _, s := range sites {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}
