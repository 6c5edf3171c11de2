package crawlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const mb = 1024 * 1024

// ResourceMonitorConfig 资源守卫配置 (config.yaml 的 resource 段)
type ResourceMonitorConfig struct {
	SafetyThresholdMB int           `mapstructure:"safety_threshold_mb" validate:"gte=0"` // 可用内存低于该值时暂停抓取
	CPULoadThreshold  int           `mapstructure:"cpu_load_threshold" validate:"gte=0"`  // >=200 视为禁用CPU检查
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	MaxWaits          int           `mapstructure:"max_waits" validate:"gte=0"` // 资源不足时最多等待次数
}

// ResourceSample 一次资源采样
type ResourceSample struct {
	AvailableMemory uint64
	TotalMemory     uint64
	CPUPercent      float64
	SampledAt       time.Time
}

// MemoryPressure 内存压力等级
func (s ResourceSample) MemoryPressure() string {
	availMB := s.AvailableMemory / mb
	switch {
	case availMB < 200:
		return "emergency"
	case availMB < 300:
		return "critical"
	case availMB < 500:
		return "warning"
	default:
		return "normal"
	}
}

// ResourceMonitor 本机资源守卫: 内存或CPU紧张时让流水线暂缓抓取详情页
type ResourceMonitor struct {
	config ResourceMonitorConfig
	sample func() (ResourceSample, error)

	mu         sync.RWMutex
	last       ResourceSample
	cancelFunc context.CancelFunc
}

// NewResourceMonitor 创建资源守卫并立即采样一次
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	rm := &ResourceMonitor{config: config, sample: sampleSystem}
	rm.Refresh()
	return rm
}

// sampleSystem 使用 gopsutil 读取系统内存与CPU
func sampleSystem() (ResourceSample, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return ResourceSample{}, fmt.Errorf("获取系统内存失败: %w", err)
	}
	s := ResourceSample{
		AvailableMemory: vm.Available,
		TotalMemory:     vm.Total,
		SampledAt:       time.Now(),
	}
	// 100ms 采样窗口,避免阻塞抓取过久
	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		s.CPUPercent = percentages[0]
	}
	return s, nil
}

// Refresh 重新采样,失败时保留上一次结果
func (rm *ResourceMonitor) Refresh() {
	s, err := rm.sample()
	if err != nil {
		log.Warn().Err(err).Msg("资源采样失败,沿用上次结果")
		return
	}
	rm.mu.Lock()
	rm.last = s
	rm.mu.Unlock()
}

// StartMonitoring 后台周期采样 (幂等)
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancelFunc != nil || interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancelFunc = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.Refresh()
			}
		}
	}()
}

// StopMonitoring 停止后台采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancelFunc != nil {
		rm.cancelFunc()
		rm.cancelFunc = nil
	}
}

// Last 最近一次采样
func (rm *ResourceMonitor) Last() ResourceSample {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.last
}

// CheckResourceAvailability 资源是否允许继续抓取
func (rm *ResourceMonitor) CheckResourceAvailability() (bool, string) {
	s := rm.Last()

	if s.TotalMemory > 0 && s.AvailableMemory < uint64(rm.config.SafetyThresholdMB)*mb {
		return false, fmt.Sprintf("内存不足(当前%dMB, 压力等级 %s)", s.AvailableMemory/mb, s.MemoryPressure())
	}

	if rm.config.CPULoadThreshold > 0 && rm.config.CPULoadThreshold < 200 &&
		s.CPUPercent > float64(rm.config.CPULoadThreshold) {
		return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", s.CPUPercent)
	}

	return true, ""
}
