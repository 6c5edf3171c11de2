package utils

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
)

// MaxHeaderValueLength 头部值最大长度 (8KB)
const MaxHeaderValueLength = 8192

var (
	// ForbiddenHeaders 由HTTP客户端或抓取器自身管理的头部
	// User-Agent 走身份轮换池, Referer 由抓取器按访问顺序串联
	ForbiddenHeaders = []string{
		"Host",
		"Content-Length",
		"Transfer-Encoding",
		"Connection",
		"User-Agent",
		"Referer",
	}

	// SupportedEncodings 响应解压支持的编码
	SupportedEncodings = []string{"gzip", "deflate", "br", "identity"}
)

// HeaderValidator 校验HTTP头部 (RFC 7230) 和身份池中的 User-Agent
type HeaderValidator struct {
	nameRegex        *regexp.Regexp
	valueRegex       *regexp.Regexp
	maxValueLength   int
	forbiddenHeaders map[string]bool
	encodings        map[string]bool
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	forbidden := make(map[string]bool, len(ForbiddenHeaders))
	for _, h := range ForbiddenHeaders {
		forbidden[strings.ToLower(h)] = true
	}
	encodings := make(map[string]bool, len(SupportedEncodings))
	for _, e := range SupportedEncodings {
		encodings[e] = true
	}

	return &HeaderValidator{
		nameRegex:        regexp.MustCompile(`^[A-Za-z0-9-]+$`),
		valueRegex:       regexp.MustCompile(`^[\x20-\x7E\t]*$`),
		maxValueLength:   MaxHeaderValueLength,
		forbiddenHeaders: forbidden,
		encodings:        encodings,
	}
}

// ValidateName 验证头部名称
func (hv *HeaderValidator) ValidateName(name string) error {
	if name == "" {
		return &models.ValidationError{
			Field:  "name",
			Reason: "头部名称不能为空",
		}
	}

	if !hv.nameRegex.MatchString(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称包含非法字符 (仅允许字母、数字和连字符)",
			Suggestion: "使用字母、数字和连字符 (如 'Accept-Language')",
		}
	}

	return nil
}

// ValidateValue 验证头部值
func (hv *HeaderValidator) ValidateValue(name, value string) error {
	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", hv.maxValueLength),
		}
	}

	if !hv.valueRegex.MatchString(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含非法字符 (仅允许可打印ASCII字符)",
			Suggestion: "移除控制字符和非ASCII字符",
		}
	}

	if strings.EqualFold(name, "Accept-Encoding") {
		return hv.validateEncodings(value)
	}

	return nil
}

// validateEncodings 只允许能够解压的编码,否则响应体无法解析
func (hv *HeaderValidator) validateEncodings(value string) error {
	for _, part := range strings.Split(value, ",") {
		enc := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if enc == "" || enc == "*" {
			continue
		}
		if !hv.encodings[strings.ToLower(enc)] {
			return &models.ValidationError{
				Field:      "value",
				HeaderName: "Accept-Encoding",
				Reason:     fmt.Sprintf("不支持的内容编码: %s", enc),
				Suggestion: "仅使用 " + strings.Join(SupportedEncodings, ", "),
			}
		}
	}
	return nil
}

// ValidateHeader 验证自定义头部 (名称 + 值)
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if hv.IsForbidden(name) {
		suggestion := fmt.Sprintf("移除 '%s' 头部配置", name)
		if strings.EqualFold(name, "User-Agent") {
			suggestion = "在站点配置的 user_agents 列表中设置"
		}
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "此头部由抓取器自动管理,不允许自定义",
			Suggestion: suggestion,
		}
	}

	if err := hv.ValidateName(name); err != nil {
		return err
	}

	return hv.ValidateValue(name, value)
}

// ValidateUserAgent 验证身份池中的单个 User-Agent
func (hv *HeaderValidator) ValidateUserAgent(ua string) error {
	if strings.TrimSpace(ua) == "" {
		return &models.ValidationError{
			Field:      "user_agents",
			HeaderName: "User-Agent",
			Reason:     "User-Agent 不能为空",
		}
	}
	return hv.ValidateValue("User-Agent", ua)
}

// IsForbidden 检查头部是否被禁止
func (hv *HeaderValidator) IsForbidden(name string) bool {
	return hv.forbiddenHeaders[strings.ToLower(name)]
}

// Validate 验证http.Header中的所有头部,返回第一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	for name, values := range headers {
		for _, value := range values {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}
