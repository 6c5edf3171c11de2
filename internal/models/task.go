package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// RunStatus 运行结束状态
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed" // 正常结束
	RunStatusStopped   RunStatus = "stopped"   // 风险控制主动停止
	RunStatusAborted   RunStatus = "aborted"   // 预检失败
	RunStatusCancelled RunStatus = "cancelled" // 上下文取消
)

// RunStats 单站点运行统计
type RunStats struct {
	Discovered int `json:"discovered"`
	Fetched    int `json:"fetched"`
	Parsed     int `json:"parsed"`
	Stored     int `json:"stored"`
	Skipped    int `json:"skipped"` // 已存在或 robots 禁止
	Failed     int `json:"failed"`
	NewItems   int `json:"new_items"`
}

// RunSummary 单站点运行结果
type RunSummary struct {
	RunID            string           `json:"run_id"`
	Site             string           `json:"site"`
	Domain           string           `json:"domain"`
	Status           RunStatus        `json:"status"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	Duration         float64          `json:"duration"` // 秒
	Stats            RunStats         `json:"stats"`
	HealthStatus     string           `json:"health_status"`
	RiskLevel        string           `json:"risk_level"`
	StopReason       string           `json:"stop_reason,omitempty"`
	ParseSuccessRate float64          `json:"parse_success_rate"`
	Recommendations  []string         `json:"recommendations,omitempty"`
	Reports          []ReportMetadata `json:"reports,omitempty"`
	Scores           []ReportScore    `json:"scores,omitempty"`
	Failures         []FailedItem     `json:"failures,omitempty"`
}

// FailedItem 失败条目
type FailedItem struct {
	URL       string `json:"url"`
	ErrorType string `json:"error_type"` // exhausted, transport, extract, store
	ErrorMsg  string `json:"error_msg"`
}

// Line 单行摘要,例如 "0 new items, health=blocked"
func (s *RunSummary) Line() string {
	return strconv.Itoa(s.Stats.NewItems) + " new items, health=" + s.HealthStatus
}

// ToJSON 序列化为JSON
func (s *RunSummary) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
