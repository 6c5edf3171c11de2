package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// reportNamespace 报告ID命名空间,同一URL+标题总是得到同一ID
var reportNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("analystcrawl/report"))

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// DomainOf 返回URL的主机名 (不含端口),解析失败返回空串
func DomainOf(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// NewRunID 生成运行ID
func NewRunID() string {
	return uuid.New().String()
}

// ReportID 由来源URL和标题生成确定性的报告ID
func ReportID(sourceURL, title string) string {
	return uuid.NewSHA1(reportNamespace, []byte(sourceURL+"\n"+title)).String()
}
