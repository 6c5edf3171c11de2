package extractors

import (
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
)

// 方法名
const (
	MethodPreferred = "structure_selector"
	MethodNone      = "none"
	MethodError     = "error"
)

// Result 单个字段的抽取结果
type Result[T any] struct {
	Success    bool    `json:"success"`
	Value      T       `json:"value"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

func found[T any](value T, method string, confidence float64) Result[T] {
	return Result[T]{Success: true, Value: value, Method: method, Confidence: confidence}
}

func missing[T any](msg string) Result[T] {
	return Result[T]{Method: MethodNone, Error: msg}
}

func failed[T any](err error) Result[T] {
	return Result[T]{Method: MethodError, Error: err.Error()}
}

// FieldSelectors 站点定义中的首选选择器,空串表示没有
type FieldSelectors struct {
	Title       string `yaml:"title" json:"title,omitempty"`
	Date        string `yaml:"date" json:"date,omitempty"`
	Analyst     string `yaml:"analyst" json:"analyst,omitempty"`
	Stock       string `yaml:"stock" json:"stock,omitempty"`
	Opinion     string `yaml:"opinion" json:"opinion,omitempty"`
	TargetPrice string `yaml:"target_price" json:"target_price,omitempty"`
	Content     string `yaml:"content" json:"content,omitempty"`
}

// All 字段名 → 选择器,只包含非空项
func (s FieldSelectors) All() map[string]string {
	all := map[string]string{
		"title":        s.Title,
		"date":         s.Date,
		"analyst":      s.Analyst,
		"stock":        s.Stock,
		"opinion":      s.Opinion,
		"target_price": s.TargetPrice,
		"content":      s.Content,
	}
	for k, v := range all {
		if v == "" {
			delete(all, k)
		}
	}
	return all
}

// FieldNames 固定的字段顺序
var FieldNames = []string{"title", "date", "analyst", "stock", "opinion", "target_price", "content"}

// FieldStatus 字段抽取概况,供结构监控使用
type FieldStatus struct {
	Name       string
	Success    bool
	Method     string
	Confidence float64
}

// Report 一个详情页的全部字段结果
type Report struct {
	Title       Result[string]         `json:"title"`
	Date        Result[time.Time]      `json:"date"`
	Analyst     Result[string]         `json:"analyst"`
	Stock       Result[string]         `json:"stock"`
	Opinion     Result[models.Opinion] `json:"opinion"`
	TargetPrice Result[int64]          `json:"target_price"`
	Content     Result[string]         `json:"content"`
}

func status[T any](name string, r Result[T]) FieldStatus {
	return FieldStatus{Name: name, Success: r.Success, Method: r.Method, Confidence: r.Confidence}
}

// Fields 按 FieldNames 顺序返回各字段概况
func (r Report) Fields() []FieldStatus {
	return []FieldStatus{
		status("title", r.Title),
		status("date", r.Date),
		status("analyst", r.Analyst),
		status("stock", r.Stock),
		status("opinion", r.Opinion),
		status("target_price", r.TargetPrice),
		status("content", r.Content),
	}
}

// SuccessRate 成功字段占比
func (r Report) SuccessRate() float64 {
	fields := r.Fields()
	ok := 0
	for _, f := range fields {
		if f.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(fields))
}

// Methods 字段名 → 命中方法
func (r Report) Methods() map[string]string {
	methods := make(map[string]string, len(FieldNames))
	for _, f := range r.Fields() {
		methods[f.Name] = f.Method
	}
	return methods
}

// Confidences 字段名 → 置信度
func (r Report) Confidences() map[string]float64 {
	conf := make(map[string]float64, len(FieldNames))
	for _, f := range r.Fields() {
		conf[f.Name] = f.Confidence
	}
	return conf
}

// errorReport 文档无法解析时每个字段都标记为 error
func errorReport(err error) Report {
	return Report{
		Title:       failed[string](err),
		Date:        failed[time.Time](err),
		Analyst:     failed[string](err),
		Stock:       failed[string](err),
		Opinion:     failed[models.Opinion](err),
		TargetPrice: failed[int64](err),
		Content:     failed[string](err),
	}
}
