package risk

import "time"

// RecoveryLevel 恢复等级
type RecoveryLevel string

const (
	RecoveryNone      RecoveryLevel = "NONE"
	RecoverySoft      RecoveryLevel = "SOFT"
	RecoveryMedium    RecoveryLevel = "MEDIUM"
	RecoveryHard      RecoveryLevel = "HARD"
	RecoveryEmergency RecoveryLevel = "EMERGENCY"
)

// RecoveryProtocol 恢复协议
type RecoveryProtocol struct {
	Level           RecoveryLevel `json:"level"`
	Name            string        `json:"name"`
	DelayMultiplier float64       `json:"delay_multiplier"` // 0 表示完全停止
	WaitTime        time.Duration `json:"wait_time"`
	Actions         []string      `json:"actions"`
	RotateIdentity  bool          `json:"rotate_identity"`
	SpeedFactor     float64       `json:"speed_factor"` // 请求速率系数, 0 表示不变
	RequiresManual  bool          `json:"requires_manual"`
}

// Stops 协议是否要求停止抓取
func (p RecoveryProtocol) Stops() bool {
	return p.RequiresManual || p.DelayMultiplier == 0
}

var protocols = map[RecoveryLevel]RecoveryProtocol{
	RecoverySoft: {
		Level:           RecoverySoft,
		Name:            "Soft Recovery",
		DelayMultiplier: 2.0,
		WaitTime:        300 * time.Second,
		Actions:         []string{"지연 시간 2배 증가", "5분 대기 후 재시도", "성공 시 정상 속도로 복귀"},
	},
	RecoveryMedium: {
		Level:           RecoveryMedium,
		Name:            "Medium Recovery",
		DelayMultiplier: 3.0,
		WaitTime:        1800 * time.Second,
		Actions:         []string{"지연 시간 3배 증가", "30분 대기", "User-Agent 변경", "세션 로테이션", "50% 속도로 재시작"},
		RotateIdentity:  true,
		SpeedFactor:     0.5,
	},
	RecoveryHard: {
		Level:           RecoveryHard,
		Name:            "Hard Recovery",
		DelayMultiplier: 5.0,
		WaitTime:        10800 * time.Second,
		Actions:         []string{"크롤링 완전 중지", "3시간 대기", "전체 시스템 리셋", "안전 모드로 재시작", "관리자 승인 필요"},
		RequiresManual:  true,
	},
	RecoveryEmergency: {
		Level:           RecoveryEmergency,
		Name:            "Emergency Stop",
		DelayMultiplier: 0,
		WaitTime:        86400 * time.Second,
		Actions:         []string{"즉시 모든 크롤링 중지", "24시간 대기", "수동 검증 후에만 재시작"},
		RequiresManual:  true,
	},
}

// RecoveryLevelFor 由连续失败次数和封禁标志决定恢复等级,封禁优先
func RecoveryLevelFor(consecutiveFailures int, blocked bool) RecoveryLevel {
	switch {
	case blocked:
		return RecoveryEmergency
	case consecutiveFailures >= 10:
		return RecoveryHard
	case consecutiveFailures >= 5:
		return RecoveryMedium
	case consecutiveFailures >= 3:
		return RecoverySoft
	default:
		return RecoveryNone
	}
}

// Protocol 返回等级对应的协议, NONE 返回 false
func Protocol(level RecoveryLevel) (RecoveryProtocol, bool) {
	p, ok := protocols[level]
	if !ok {
		return RecoveryProtocol{}, false
	}
	p.Actions = append([]string(nil), p.Actions...)
	return p, true
}

// ProtocolForAction 自动动作对应的恢复协议
func ProtocolForAction(action AutoAction) (RecoveryProtocol, bool) {
	switch action {
	case ActionSoftRecovery:
		return Protocol(RecoverySoft)
	case ActionMediumRecovery:
		return Protocol(RecoveryMedium)
	case ActionHardRecovery:
		return Protocol(RecoveryHard)
	case ActionEmergencyStop:
		return Protocol(RecoveryEmergency)
	default:
		return RecoveryProtocol{}, false
	}
}
