package core

import (
	"net/http"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
)

// HeaderManager 管理单个站点的HTTP请求头部
// 实现 HeaderProvider 接口
//
// 合并优先级: 默认 < 站点定义 < 命令行。
// User-Agent 不在这里管理,由 SiteProfile 的轮换池逐次设置。
type HeaderManager struct {
	// defaults 韩国浏览器风格的默认头部
	defaults http.Header

	// site 站点定义文件中的头部
	site http.Header

	// cli 从命令行参数解析的头部
	cli http.Header

	validator *utils.HeaderValidator
	redactor  *utils.HeaderRedactor

	// merged 校验通过后的合并结果
	merged http.Header
}

// NewHeaderManager 创建头部管理器,并立即校验三层头部
// 参数:
//   - siteHeaders: 站点定义中的 headers 段
//   - cliHeaders: 命令行 -H 传入的 "Name: Value" 列表
func NewHeaderManager(siteHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults:  getDefaultHeaders(),
		site:      make(http.Header),
		cli:       make(http.Header),
		validator: utils.NewHeaderValidator(),
		redactor:  utils.NewHeaderRedactor(),
	}

	for name, value := range siteHeaders {
		hm.site.Set(name, value)
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	if err := hm.Validate(); err != nil {
		return nil, err
	}
	hm.merged = hm.GetMergedHeaders()

	if len(hm.site)+len(hm.cli) > 0 {
		utils.Debugf("自定义请求头: %v", hm.redactor.RedactToString(hm.merged))
	}
	return hm, nil
}

// getDefaultHeaders 返回系统默认头部
func getDefaultHeaders() http.Header {
	return http.Header{
		"Accept":                    []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language":           []string{"ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"},
		"Accept-Encoding":           []string{"gzip, deflate, br"},
		"Upgrade-Insecure-Requests": []string{"1"},
	}
}

// Validate 验证所有头部的合法性
// 验证顺序: 默认 → 站点 → 命令行
func (hm *HeaderManager) Validate() error {
	if err := hm.validator.Validate(hm.defaults); err != nil {
		utils.Errorf("默认头部验证失败: %v", err)
		return err
	}

	if err := hm.validator.Validate(hm.site); err != nil {
		utils.Errorf("站点头部验证失败: %v", err)
		return err
	}

	if err := hm.validator.Validate(hm.cli); err != nil {
		utils.Errorf("命令行头部验证失败: %v", err)
		return err
	}

	return nil
}

// GetMergedHeaders 按优先级合并头部 (default < site < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)

	for name, values := range hm.defaults {
		result[name] = values
	}
	for name, values := range hm.site {
		result[name] = values
	}
	for name, values := range hm.cli {
		result[name] = values
	}

	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
// 每次返回副本,调用方可以放心修改
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	return hm.merged.Clone(), nil
}
