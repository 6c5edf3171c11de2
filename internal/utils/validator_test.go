package utils

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
)

func TestHeaderValidator_ValidateName(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headerName  string
		expectError bool
	}{
		{"合法名称-字母", "Accept", false},
		{"合法名称-数字", "X-Request-ID-123", false},
		{"合法名称-连字符", "Accept-Language", false},
		{"非法名称-空格", "Accept Language", true},
		{"非法名称-下划线", "Accept_Language", true},
		{"非法名称-特殊字符", "Accept@Language", true},
		{"非法名称-空字符串", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateName(tt.headerName)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_ValidateValue(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headerName  string
		headerValue string
		expectError bool
	}{
		{"合法值-ASCII", "Accept", "text/html", false},
		{"合法值-空字符串", "X-Empty", "", false},
		{"合法值-最大长度", "X-Long", strings.Repeat("a", MaxHeaderValueLength), false},
		{"非法值-超长", "X-TooLong", strings.Repeat("a", MaxHeaderValueLength+1), true},
		{"非法值-控制字符", "X-Bad", "value\x00with\x01null", true},
		{"非法值-韩文", "X-Name", "한국어", true},
		{"合法编码", "Accept-Encoding", "gzip, deflate, br", false},
		{"合法编码-带权重", "Accept-Encoding", "gzip;q=1.0, identity;q=0.5, *;q=0", false},
		{"不支持的编码", "Accept-Encoding", "gzip, zstd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateValue(tt.headerName, tt.headerValue)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_ValidateHeader(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headerName  string
		headerValue string
		expectError bool
	}{
		{"合法头部", "Accept-Language", "ko-KR,ko;q=0.9", false},
		{"禁止头部-Host", "Host", "finance.naver.com", true},
		{"禁止头部-Content-Length", "Content-Length", "123", true},
		{"禁止头部-不区分大小写", "host", "finance.naver.com", true},
		{"禁止头部-User-Agent", "User-Agent", "Mozilla/5.0", true},
		{"禁止头部-Referer", "Referer", "https://finance.naver.com/", true},
		{"非法名称", "Accept Language", "value", true},
		{"非法值", "X-Custom", "value\x00bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateHeader(tt.headerName, tt.headerValue)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_UserAgentSuggestion(t *testing.T) {
	validator := NewHeaderValidator()

	err := validator.ValidateHeader("User-Agent", "Mozilla/5.0")
	var vErr *models.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("期望 ValidationError, 实际 %T", err)
	}
	if !strings.Contains(vErr.Suggestion, "user_agents") {
		t.Errorf("建议应指向 user_agents 配置, 实际=%q", vErr.Suggestion)
	}
}

func TestHeaderValidator_ValidateUserAgent(t *testing.T) {
	validator := NewHeaderValidator()

	if err := validator.ValidateUserAgent(DefaultTestUA); err != nil {
		t.Errorf("正常UA不应报错: %v", err)
	}
	if err := validator.ValidateUserAgent("   "); err == nil {
		t.Error("空白UA应该报错")
	}
	if err := validator.ValidateUserAgent("Mozilla\x7f"); err == nil {
		t.Error("含控制字符的UA应该报错")
	}
}

func TestHeaderValidator_IsForbidden(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name       string
		headerName string
		expected   bool
	}{
		{"Host-禁止", "Host", true},
		{"host-禁止-不区分大小写", "host", true},
		{"Content-Length-禁止", "Content-Length", true},
		{"User-Agent-禁止", "User-Agent", true},
		{"Accept-允许", "Accept", false},
		{"X-Custom-允许", "X-Custom", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := validator.IsForbidden(tt.headerName); result != tt.expected {
				t.Errorf("期望=%v, 实际=%v", tt.expected, result)
			}
		})
	}
}

func TestHeaderValidator_Validate(t *testing.T) {
	validator := NewHeaderValidator()

	t.Run("验证合法的http.Header", func(t *testing.T) {
		headers := http.Header{
			"Accept":          []string{"*/*"},
			"Accept-Language": []string{"ko-KR"},
			"X-Custom":        []string{"value"},
		}
		if err := validator.Validate(headers); err != nil {
			t.Errorf("期望无错误, 实际错误=%v", err)
		}
	})

	t.Run("验证包含禁止头部的http.Header", func(t *testing.T) {
		headers := http.Header{
			"Accept": []string{"*/*"},
			"Host":   []string{"example.com"},
		}
		if err := validator.Validate(headers); err == nil {
			t.Error("期望返回错误, 但无错误")
		}
	})

	t.Run("验证包含非法值的http.Header", func(t *testing.T) {
		headers := http.Header{
			"X-Custom": []string{"value\x00bad"},
		}
		if err := validator.Validate(headers); err == nil {
			t.Error("期望返回错误, 但无错误")
		}
	})
}

// DefaultTestUA 测试用桌面浏览器UA
const DefaultTestUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
