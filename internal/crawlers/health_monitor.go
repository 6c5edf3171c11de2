package crawlers

import (
	"strconv"
	"time"
)

// HealthStatus 站点健康状态
type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthBlocked  HealthStatus = "blocked"
)

// 健康判定阈值
const (
	healthySuccessRate   = 0.7
	healthyMaxAvgLatency = 10 * time.Second
	criticalSuccessRate  = 0.5
	degradedSuccessRate  = 0.8
	criticalHourlyErrors = 20
	degradedHourlyErrors = 10
)

var recommendedDelays = map[HealthStatus]time.Duration{
	HealthBlocked:  300 * time.Second,
	HealthCritical: 60 * time.Second,
	HealthDegraded: 10 * time.Second,
	HealthHealthy:  3 * time.Second,
	HealthUnknown:  3 * time.Second,
}

// HealthMetrics 健康指标快照
type HealthMetrics struct {
	Status            HealthStatus   `json:"status"`
	RecommendedDelay  time.Duration  `json:"recommended_delay"`
	SuccessRate       float64        `json:"success_rate"`
	AvgResponseTime   time.Duration  `json:"avg_response_time"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
	ErrorsLastHour    int            `json:"errors_last_hour"`
	TotalRequests     int            `json:"total_requests"`
	TotalSuccesses    int            `json:"total_successes"`
	TotalErrors       int            `json:"total_errors"`
	LastSuccess       *time.Time     `json:"last_success,omitempty"`
	ErrorPatterns     map[string]int `json:"error_patterns,omitempty"`
}

// HealthMonitor 长窗口健康统计
type HealthMonitor struct {
	history *ring[RequestRecord]
	now     func() time.Time

	consecutiveErrors int
	totalRequests     int
	totalSuccesses    int
	totalErrors       int
	lastSuccess       time.Time
	errorPatterns     map[string]int
}

// NewHealthMonitor 创建健康监控, window 为长窗口容量 (默认 100)
func NewHealthMonitor(window int) *HealthMonitor {
	if window <= 0 {
		window = 100
	}
	return &HealthMonitor{
		history:       newRing[RequestRecord](window),
		now:           time.Now,
		errorPatterns: make(map[string]int),
	}
}

// Update 记录一次请求结果
func (m *HealthMonitor) Update(rec RequestRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	m.history.push(rec)
	m.totalRequests++

	if rec.Success {
		m.consecutiveErrors = 0
		m.totalSuccesses++
		m.lastSuccess = rec.Timestamp
		return
	}

	m.consecutiveErrors++
	m.totalErrors++
	key := "transport"
	if rec.StatusCode > 0 {
		key = strconv.Itoa(rec.StatusCode)
	}
	m.errorPatterns[key]++
}

// SuccessRate 窗口内成功率,无数据时为 1
func (m *HealthMonitor) SuccessRate() float64 {
	n := m.history.len()
	if n == 0 {
		return 1.0
	}
	ok := 0
	m.history.each(func(r RequestRecord) {
		if r.Success {
			ok++
		}
	})
	return float64(ok) / float64(n)
}

// AvgResponseTime 仅统计成功请求
func (m *HealthMonitor) AvgResponseTime() time.Duration {
	var total time.Duration
	count := 0
	m.history.each(func(r RequestRecord) {
		if r.Success {
			total += r.ResponseTime
			count++
		}
	})
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// ConsecutiveErrors 连续失败次数
func (m *HealthMonitor) ConsecutiveErrors() int {
	return m.consecutiveErrors
}

// ErrorsSince 窗口内指定时间之后的失败数
func (m *HealthMonitor) ErrorsSince(since time.Time) int {
	n := 0
	m.history.each(func(r RequestRecord) {
		if !r.Success && !r.Timestamp.Before(since) {
			n++
		}
	})
	return n
}

// IsHealthy 成功率>=0.7 且 连续失败<5 且 平均耗时<10s
func (m *HealthMonitor) IsHealthy() bool {
	return m.SuccessRate() >= healthySuccessRate &&
		m.consecutiveErrors < maxConsecutiveFailures &&
		m.AvgResponseTime() < healthyMaxAvgLatency
}

// Status 按优先级判定健康状态
func (m *HealthMonitor) Status() HealthStatus {
	if m.history.len() == 0 {
		return HealthUnknown
	}
	if m.consecutiveErrors >= maxConsecutiveFailures {
		return HealthBlocked
	}

	rate := m.SuccessRate()
	hourly := m.ErrorsSince(m.now().Add(-time.Hour))
	switch {
	case rate < criticalSuccessRate || hourly > criticalHourlyErrors:
		return HealthCritical
	case rate < degradedSuccessRate || hourly > degradedHourlyErrors:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// RecommendedDelay 状态对应的延迟下限,调用方仍会叠加自身倍数
func (m *HealthMonitor) RecommendedDelay() time.Duration {
	return recommendedDelays[m.Status()]
}

// ErrorPatterns 按状态码统计的失败次数 ("transport" 为网络错误)
func (m *HealthMonitor) ErrorPatterns() map[string]int {
	out := make(map[string]int, len(m.errorPatterns))
	for k, v := range m.errorPatterns {
		out[k] = v
	}
	return out
}

// Metrics 返回健康指标快照
func (m *HealthMonitor) Metrics() HealthMetrics {
	status := m.Status()
	hm := HealthMetrics{
		Status:            status,
		RecommendedDelay:  recommendedDelays[status],
		SuccessRate:       m.SuccessRate(),
		AvgResponseTime:   m.AvgResponseTime(),
		ConsecutiveErrors: m.consecutiveErrors,
		ErrorsLastHour:    m.ErrorsSince(m.now().Add(-time.Hour)),
		TotalRequests:     m.totalRequests,
		TotalSuccesses:    m.totalSuccesses,
		TotalErrors:       m.totalErrors,
		ErrorPatterns:     m.ErrorPatterns(),
	}
	if !m.lastSuccess.IsZero() {
		ls := m.lastSuccess
		hm.LastSuccess = &ls
	}
	return hm
}
