package crawlers

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newStubMonitor(cfg ResourceMonitorConfig, s ResourceSample) *ResourceMonitor {
	rm := &ResourceMonitor{config: cfg, sample: func() (ResourceSample, error) { return s, nil }}
	rm.Refresh()
	return rm
}

func TestCheckResourceAvailability(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ResourceMonitorConfig
		sample ResourceSample
		want   bool
		reason string
	}{
		{
			name:   "资源充足",
			cfg:    ResourceMonitorConfig{SafetyThresholdMB: 256, CPULoadThreshold: 90},
			sample: ResourceSample{AvailableMemory: 4096 * mb, TotalMemory: 8192 * mb, CPUPercent: 20},
			want:   true,
		},
		{
			name:   "内存不足",
			cfg:    ResourceMonitorConfig{SafetyThresholdMB: 256},
			sample: ResourceSample{AvailableMemory: 100 * mb, TotalMemory: 8192 * mb},
			want:   false,
			reason: "压力等级 emergency",
		},
		{
			name:   "CPU过高",
			cfg:    ResourceMonitorConfig{CPULoadThreshold: 80},
			sample: ResourceSample{AvailableMemory: 4096 * mb, TotalMemory: 8192 * mb, CPUPercent: 95},
			want:   false,
		},
		{
			name:   "CPU检查禁用",
			cfg:    ResourceMonitorConfig{CPULoadThreshold: 200},
			sample: ResourceSample{AvailableMemory: 4096 * mb, TotalMemory: 8192 * mb, CPUPercent: 99},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := newStubMonitor(tt.cfg, tt.sample)
			ok, reason := rm.CheckResourceAvailability()
			if ok != tt.want {
				t.Errorf("期望 %v, 实际 %v (%s)", tt.want, ok, reason)
			}
			if !ok && reason == "" {
				t.Error("资源不足时应给出原因")
			}
			if tt.reason != "" && !strings.Contains(reason, tt.reason) {
				t.Errorf("原因应包含 %q, 实际 %q", tt.reason, reason)
			}
		})
	}
}

func TestRefreshKeepsLastSampleOnError(t *testing.T) {
	rm := newStubMonitor(ResourceMonitorConfig{}, ResourceSample{AvailableMemory: 1024 * mb, TotalMemory: 2048 * mb})
	rm.sample = func() (ResourceSample, error) { return ResourceSample{}, errors.New("boom") }
	rm.Refresh()

	if rm.Last().AvailableMemory != 1024*mb {
		t.Error("采样失败时应保留上次结果")
	}
}

func TestMemoryPressure(t *testing.T) {
	tests := []struct {
		availMB uint64
		want    string
	}{
		{100, "emergency"},
		{250, "critical"},
		{400, "warning"},
		{2048, "normal"},
	}
	for _, tt := range tests {
		s := ResourceSample{AvailableMemory: tt.availMB * mb}
		if got := s.MemoryPressure(); got != tt.want {
			t.Errorf("%dMB: 期望 %s, 实际 %s", tt.availMB, tt.want, got)
		}
	}
}

func TestStartStopMonitoring(t *testing.T) {
	rm := newStubMonitor(ResourceMonitorConfig{}, ResourceSample{TotalMemory: 1})
	rm.StartMonitoring(10 * time.Millisecond)
	rm.StartMonitoring(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	rm.StopMonitoring()
	rm.StopMonitoring()
}
