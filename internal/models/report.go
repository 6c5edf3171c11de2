package models

import (
	"encoding/json"
	"time"
)

// ReportLink 列表页发现的报告链接及行内提示信息
type ReportLink struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Date        string `json:"date,omitempty"` // YYYY.MM.DD
	Firm        string `json:"firm,omitempty"`
	StockName   string `json:"stock_name,omitempty"`
	Opinion     string `json:"opinion,omitempty"`
	TargetPrice string `json:"target_price,omitempty"`
	PDFURL      string `json:"pdf_url,omitempty"`
}

// ReportMetadata 单篇报告的结构化元数据
type ReportMetadata struct {
	ReportID      string             `json:"report_id"`
	Title         string             `json:"title"`
	StockCode     string             `json:"stock_code"`
	StockName     string             `json:"stock_name"`
	AnalystName   string             `json:"analyst_name"`
	Firm          string             `json:"firm"`
	PublishedDate *time.Time         `json:"published_date,omitempty"`
	SourceURL     string             `json:"source_url"`
	PDFURL        string             `json:"pdf_url,omitempty"`
	Opinion       Opinion            `json:"opinion"`
	TargetPrice   *int64             `json:"target_price,omitempty"`
	CurrentPrice  *int64             `json:"current_price,omitempty"`
	Source        string             `json:"source"`
	Content       string             `json:"content,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	Confidence    map[string]float64 `json:"confidence,omitempty"` // 字段 -> 置信度
	Methods       map[string]string  `json:"methods,omitempty"`    // 字段 -> 提取方法
	CrawledAt     time.Time          `json:"crawled_at"`
}

// SnapshotVersion 快照格式版本
const SnapshotVersion = "v1"

// Snapshot 标准化的分析师共识快照 (KoreaAnalystSnapshot v1)
type Snapshot struct {
	Version        string             `json:"version"`
	AsOf           string             `json:"asof"`
	StockCode      string             `json:"stock_code"`
	StockName      string             `json:"stock_name,omitempty"`
	Market         string             `json:"market,omitempty"`
	Source         string             `json:"source"`
	Recommendation Recommendation     `json:"recommendation"`
	PriceTarget    PriceTarget        `json:"price_target"`
	Valuation      Valuation          `json:"valuation"`
	Confidence     SnapshotConfidence `json:"confidence"`
	RawRefs        RawRefs            `json:"raw_refs"`
	AnalystInfo    *AnalystInfo       `json:"analyst_info,omitempty"`
}

// Recommendation 评级分布
type Recommendation struct {
	StrongBuy    int    `json:"strong_buy"`
	Buy          int    `json:"buy"`
	Hold         int    `json:"hold"`
	Sell         int    `json:"sell"`
	StrongSell   int    `json:"strong_sell"`
	RatingText   string `json:"rating_text"`
	AnalystCount int    `json:"analyst_count"`
}

// PriceTarget 目标价统计
type PriceTarget struct {
	Low           *float64 `json:"low"`
	Mean          *float64 `json:"mean"`
	High          *float64 `json:"high"`
	Median        *float64 `json:"median"`
	Currency      string   `json:"currency"`
	HorizonMonths int      `json:"horizon_months"`
}

// Valuation 估值
type Valuation struct {
	FairValue        *float64 `json:"fair_value"`
	PriceToFairValue *float64 `json:"price_to_fair_value"`
}

// SnapshotConfidence 快照置信度
type SnapshotConfidence struct {
	SourceQuality float64 `json:"source_quality"`
	FreshnessDays int     `json:"freshness_days"`
	CoverageScore float64 `json:"coverage_score"`
}

// RawRefs 原始引用
type RawRefs struct {
	SourceURL string `json:"source_url,omitempty"`
	PDFURL    string `json:"pdf_url,omitempty"`
	ReportID  string `json:"report_id,omitempty"`
}

// AnalystInfo 单篇报告的分析师信息
type AnalystInfo struct {
	Name string `json:"name"`
	Firm string `json:"firm"`
}

// ToJSON 序列化为JSON
func (s *Snapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ReportScore 单篇报告评分
type ReportScore struct {
	ReportID     string  `json:"report_id"`
	StockCode    string  `json:"stock_code"`
	OpinionScore float64 `json:"opinion_score"`
	ChangeScore  float64 `json:"change_score"`
	TimeWeight   float64 `json:"time_weight"`
	FinalScore   float64 `json:"final_score"`
}
