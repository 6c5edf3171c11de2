// Package normalize 把抽取结果整理成报告元数据和 KoreaAnalystSnapshot v1 快照
package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/extractors"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
)

// Unknown 缺失字符串字段的占位值
const Unknown = "UNKNOWN"

// Fields 从抽取结果中拆出的字段值,缺失的数值和日期为 nil
type Fields struct {
	Title         string
	PublishedDate *time.Time
	Analyst       string
	StockCode     string
	Opinion       models.Opinion // 未识别时为空
	TargetPrice   *int64
	Content       string

	Methods    map[string]string
	Confidence map[string]float64
}

// FromReport 展开抽取结果
func FromReport(r extractors.Report) Fields {
	f := Fields{
		Title:      orUnknown(r.Title.Success, r.Title.Value),
		Analyst:    orUnknown(r.Analyst.Success, r.Analyst.Value),
		StockCode:  orUnknown(r.Stock.Success, r.Stock.Value),
		Content:    orUnknown(r.Content.Success, r.Content.Value),
		Methods:    r.Methods(),
		Confidence: r.Confidences(),
	}
	if r.Date.Success {
		d := r.Date.Value
		f.PublishedDate = &d
	}
	if r.Opinion.Success {
		f.Opinion = r.Opinion.Value
	}
	if r.TargetPrice.Success {
		v := r.TargetPrice.Value
		f.TargetPrice = &v
	}
	return f
}

func orUnknown(ok bool, v string) string {
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return Unknown
	}
	return v
}

// BuildMetadata 合并列表页提示和详情页字段,列表页提示优先
func BuildMetadata(f Fields, link models.ReportLink, source string, crawledAt time.Time) models.ReportMetadata {
	name, firm := SplitAnalyst(f.Analyst)

	meta := models.ReportMetadata{
		Title:         pick(link.Title, f.Title),
		StockCode:     f.StockCode,
		StockName:     pick(link.StockName, Unknown),
		AnalystName:   name,
		Firm:          pick(link.Firm, firm),
		PublishedDate: f.PublishedDate,
		SourceURL:     link.URL,
		PDFURL:        link.PDFURL,
		Opinion:       f.Opinion,
		TargetPrice:   f.TargetPrice,
		Source:        source,
		Content:       f.Content,
		Confidence:    f.Confidence,
		Methods:       f.Methods,
		CrawledAt:     crawledAt,
	}
	if meta.Content == Unknown {
		meta.Content = ""
	}

	if d, ok := extractors.ParseDate(link.Date); ok {
		meta.PublishedDate = &d
	}
	if op, ok := models.MatchOpinion(link.Opinion); ok {
		meta.Opinion = op
	}
	if meta.Opinion == "" {
		meta.Opinion = models.OpinionHold
	}
	if v := SafeInt(link.TargetPrice); v > 0 {
		meta.TargetPrice = &v
	}

	meta.ReportID = models.ReportID(meta.SourceURL, meta.Title)
	return meta
}

func pick(hint, fallback string) string {
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	return fallback
}

// SplitAnalyst 拆分 "홍길동 / 삼성증권" 形式的分析师信息
func SplitAnalyst(s string) (name, firm string) {
	s = strings.TrimSpace(s)
	if s == "" || s == Unknown {
		return Unknown, Unknown
	}

	sep := "/"
	if !strings.Contains(s, sep) && strings.Contains(s, "·") {
		sep = "·"
	}
	left, right, ok := strings.Cut(s, sep)
	if !ok {
		if isFirm(s) {
			return Unknown, firmToken(s)
		}
		return lastToken(s), Unknown
	}

	name, firm = lastToken(left), firmToken(right)
	if name == "" {
		name = Unknown
	}
	if firm == "" {
		firm = Unknown
	}
	return name, firm
}

func isFirm(s string) bool {
	return strings.Contains(s, "증권") || strings.Contains(s, "투자")
}

// lastToken 去掉 "리서치센터 김철수" 这类前缀,保留最后一个词
func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func firmToken(s string) string {
	fields := strings.Fields(s)
	for _, f := range fields {
		if isFirm(f) {
			return f
		}
	}
	return strings.Join(fields, " ")
}

// SafeInt 去掉千分位和 "원" 后转换为整数,失败返回0
func SafeInt(s string) int64 {
	f := SafeFloat(s)
	if f == nil {
		return 0
	}
	return int64(*f)
}

// SafeFloat 去掉千分位和 "원" 后转换为浮点数,失败返回 nil
func SafeFloat(s string) *float64 {
	cleaned := strings.TrimSpace(strings.NewReplacer(",", "", "원", "").Replace(s))
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
