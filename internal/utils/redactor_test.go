package utils

import (
	"net/http"
	"strings"
	"testing"
)

func TestHeaderRedactor_RedactHeaderValue(t *testing.T) {
	redactor := NewHeaderRedactor()

	tests := []struct {
		name     string
		header   string
		value    string
		expected string
	}{
		{"Bearer令牌", "Authorization", "Bearer secret-token-12345", "Bearer ***"},
		{"长密钥保留首尾", "X-API-Key", "api-key-67890", "api-***7890"},
		{"短密钥全部隐藏", "X-Token", "abc", "***"},
		{"Cookie保留键名", "Cookie", "NID=abc123; SID=def456", "NID=***; SID=***"},
		{"会话头部", "X-Session-Id", "s1", "***"},
		{"非敏感头部原样返回", "Accept-Language", "ko-KR,ko;q=0.9", "ko-KR,ko;q=0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactor.RedactHeaderValue(tt.header, tt.value); got != tt.expected {
				t.Errorf("期望=%q, 实际=%q", tt.expected, got)
			}
		})
	}
}

func TestHeaderRedactor_IsSensitiveHeader(t *testing.T) {
	redactor := NewHeaderRedactor()

	sensitive := []string{"Authorization", "X-Auth-Token", "x-api-key", "Cookie", "X-Client-Secret"}
	for _, name := range sensitive {
		if !redactor.IsSensitiveHeader(name) {
			t.Errorf("%s 应该被识别为敏感头部", name)
		}
	}

	plain := []string{"Accept", "Accept-Language", "X-Requested-With"}
	for _, name := range plain {
		if redactor.IsSensitiveHeader(name) {
			t.Errorf("%s 不应该被识别为敏感头部", name)
		}
	}
}

func TestHeaderRedactor_RedactToString(t *testing.T) {
	redactor := NewHeaderRedactor()

	headers := http.Header{
		"X-Custom":      []string{"plain"},
		"Authorization": []string{"Bearer abc"},
		"Accept":        []string{"*/*"},
	}

	got := redactor.RedactToString(headers)
	expected := "Accept: */*, Authorization: Bearer ***, X-Custom: plain"
	if got != expected {
		t.Errorf("期望=%q, 实际=%q", expected, got)
	}
	if strings.Contains(got, "abc") {
		t.Error("输出中不应包含原始令牌")
	}
}

func TestHeaderRedactor_EmptyValues(t *testing.T) {
	redactor := NewHeaderRedactor()

	headers := http.Header{
		"Authorization": []string{},
		"Accept":        []string{"*/*"},
	}
	redacted := redactor.Redact(headers)
	if _, ok := redacted["Authorization"]; ok {
		t.Error("空值头部应该被跳过")
	}
	if len(redacted) != 1 {
		t.Errorf("期望1个头部, 实际%d个", len(redacted))
	}
}
