package extractors

import (
	"fmt"
	"sort"
)

// DefaultStructureWindow 结构监控保留的页面数
const DefaultStructureWindow = 50

// PageParse 单个页面的解析概况
type PageParse struct {
	URL         string            `json:"url"`
	SuccessRate float64           `json:"success_rate"`
	Success     bool              `json:"success"` // 超过一半字段抽取成功
	Methods     map[string]string `json:"methods"`
}

// StructureMonitor 跟踪最近页面的解析成功率,用来发现站点改版
type StructureMonitor struct {
	window int
	pages  []PageParse

	// 字段 → 方法 → 次数
	methodUsage map[string]map[string]int
	failures    map[string]int
}

// NewStructureMonitor 创建结构监控, window<=0 使用默认值
func NewStructureMonitor(window int) *StructureMonitor {
	if window <= 0 {
		window = DefaultStructureWindow
	}
	return &StructureMonitor{
		window:      window,
		methodUsage: make(map[string]map[string]int),
		failures:    make(map[string]int),
	}
}

// Observe 记录一次抽取结果
func (m *StructureMonitor) Observe(url string, r Report) PageParse {
	rate := r.SuccessRate()
	page := PageParse{
		URL:         url,
		SuccessRate: rate,
		Success:     rate > 0.5,
		Methods:     r.Methods(),
	}

	m.pages = append(m.pages, page)
	if len(m.pages) > m.window {
		m.pages = m.pages[len(m.pages)-m.window:]
	}

	for _, f := range r.Fields() {
		if m.methodUsage[f.Name] == nil {
			m.methodUsage[f.Name] = make(map[string]int)
		}
		m.methodUsage[f.Name][f.Method]++
		if !f.Success {
			m.failures[f.Name]++
		}
	}
	return page
}

// Pages 窗口内页面数
func (m *StructureMonitor) Pages() int {
	return len(m.pages)
}

// AverageSuccessRate 窗口内平均解析成功率,没有样本时为0
func (m *StructureMonitor) AverageSuccessRate() float64 {
	if len(m.pages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range m.pages {
		sum += p.SuccessRate
	}
	return sum / float64(len(m.pages))
}

// MethodUsage 各字段的方法使用次数 (累计,不受窗口限制)
func (m *StructureMonitor) MethodUsage() map[string]map[string]int {
	out := make(map[string]map[string]int, len(m.methodUsage))
	for field, usage := range m.methodUsage {
		inner := make(map[string]int, len(usage))
		for method, n := range usage {
			inner[method] = n
		}
		out[field] = inner
	}
	return out
}

// Recommendations 生成处理建议,没有样本时返回 nil
func (m *StructureMonitor) Recommendations() []string {
	if len(m.pages) == 0 {
		return nil
	}

	var recs []string

	failedPages := 0
	for _, p := range m.pages {
		if !p.Success {
			failedPages++
		}
	}
	if failedPages > 0 {
		recs = append(recs,
			fmt.Sprintf("  - %d개 페이지에서 파싱 실패", failedPages),
			"  - 적응형 파서가 자동으로 대응하지만, 수동 확인 권장",
		)
	}

	fields := make([]string, 0, len(m.failures))
	for field := range m.failures {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		recs = append(recs, fmt.Sprintf("  - '%s' 필드 추출 실패 %d회", field, m.failures[field]))
	}

	if avg := m.AverageSuccessRate(); avg < 0.7 {
		recs = append(recs,
			fmt.Sprintf("⚠️  평균 파싱 성공률이 낮습니다 (%.1f%%)", avg*100),
			"  - 사이트 구조를 다시 분석하고 파서를 업데이트하세요",
		)
	}

	if len(recs) == 0 {
		recs = append(recs, "✅ 구조 변경이 감지되었지만 파싱은 정상 작동 중입니다.")
	}
	return recs
}
