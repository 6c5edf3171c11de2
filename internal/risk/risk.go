// Package risk 根据抓取指标评估封禁风险并给出自动处置动作
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Level 风险等级
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// AutoAction 自动处置动作
type AutoAction string

const (
	ActionNone           AutoAction = "none"
	ActionReduceSpeed    AutoAction = "reduce_speed"
	ActionStopAndWait    AutoAction = "stop_and_wait"
	ActionSoftRecovery   AutoAction = "soft_recovery"
	ActionMediumRecovery AutoAction = "medium_recovery"
	ActionHardRecovery   AutoAction = "hard_recovery"
	ActionEmergencyStop  AutoAction = "emergency_stop"
)

// historyLimit 评估历史上限
const historyLimit = 100

// Metrics 风险评估输入
type Metrics struct {
	SuccessRate       float64       `json:"success_rate"`
	AvgDelay          time.Duration `json:"avg_delay"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	RequestsPerMinute float64       `json:"requests_per_minute"`
	LastErrorTime     *time.Time    `json:"last_error_time,omitempty"`
	BlockedDetected   bool          `json:"blocked_detected"`
}

// Assessment 风险评估结果
type Assessment struct {
	Level           Level      `json:"level"`
	Metrics         Metrics    `json:"metrics"`
	Recommendations []string   `json:"recommendations"`
	AutoAction      AutoAction `json:"auto_action"`
	AssessedAt      time.Time  `json:"assessed_at"`
}

var recommendations = map[Level][]string{
	LevelHigh: {
		"⚠️ 즉시 크롤링 중지",
		"1-3시간 대기 후 재시도",
		"전체 세션 리셋",
		"관리자 알림 필요",
	},
	LevelMedium: {
		"지연 시간 50% 증가",
		"세션당 요청 50% 감소",
		"User-Agent 로테이션",
		"10분마다 모니터링",
	},
	LevelLow: {
		"현재 상태 유지",
		"1시간마다 모니터링",
	},
}

// Manager 风险管理: 评估 + 保留最近评估历史
type Manager struct {
	mu      sync.Mutex
	history []Assessment
	now     func() time.Time
}

// NewManager 创建风险管理器
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// ClassifyLevel 风险分级
// HIGH: 成功率<0.7 或 平均间隔<2s 或 连续错误>5 或 每分钟请求>20 或 检测到封禁
// MEDIUM: 成功率<0.9 或 平均间隔<3s 或 连续错误>=3 或 每分钟请求>=15
func ClassifyLevel(m Metrics) Level {
	switch {
	case m.BlockedDetected,
		m.SuccessRate < 0.7,
		m.AvgDelay < 2*time.Second,
		m.ConsecutiveErrors > 5,
		m.RequestsPerMinute > 20:
		return LevelHigh
	case m.SuccessRate < 0.9,
		m.AvgDelay < 3*time.Second,
		m.ConsecutiveErrors >= 3,
		m.RequestsPerMinute >= 15:
		return LevelMedium
	default:
		return LevelLow
	}
}

// DecideAction 按优先级决定自动动作: 封禁与连续错误对应的恢复等级优先于风险等级
func DecideAction(level Level, m Metrics) AutoAction {
	switch RecoveryLevelFor(m.ConsecutiveErrors, m.BlockedDetected) {
	case RecoveryEmergency:
		return ActionEmergencyStop
	case RecoveryHard:
		return ActionHardRecovery
	case RecoveryMedium:
		return ActionMediumRecovery
	case RecoverySoft:
		return ActionSoftRecovery
	}

	switch level {
	case LevelHigh:
		return ActionStopAndWait
	case LevelMedium:
		return ActionReduceSpeed
	default:
		return ActionNone
	}
}

// Recommendations 等级对应的建议 (副本)
func Recommendations(level Level) []string {
	return append([]string(nil), recommendations[level]...)
}

// Assess 评估并记录
func (m *Manager) Assess(metrics Metrics) Assessment {
	level := ClassifyLevel(metrics)
	a := Assessment{
		Level:           level,
		Metrics:         metrics,
		Recommendations: Recommendations(level),
		AutoAction:      DecideAction(level, metrics),
		AssessedAt:      m.now(),
	}

	if a.AutoAction != ActionNone {
		log.Warn().
			Str("level", string(level)).
			Str("action", string(a.AutoAction)).
			Float64("success_rate", metrics.SuccessRate).
			Int("consecutive_errors", metrics.ConsecutiveErrors).
			Bool("blocked", metrics.BlockedDetected).
			Msg("风险评估触发自动动作")
	} else {
		log.Debug().Str("level", string(level)).Msg("风险评估")
	}

	m.mu.Lock()
	m.history = append(m.history, a)
	if len(m.history) > historyLimit {
		m.history = append([]Assessment(nil), m.history[len(m.history)-historyLimit:]...)
	}
	m.mu.Unlock()

	return a
}

// History 评估历史副本 (从旧到新)
func (m *Manager) History() []Assessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Assessment(nil), m.history...)
}

// Last 最近一次评估
func (m *Manager) Last() (Assessment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Assessment{}, false
	}
	return m.history[len(m.history)-1], true
}
