package crawlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// blockKeywords 传输错误中表示封禁的关键字 (小写比较)
var blockKeywords = []string{"forbidden", "blocked", "rate limit", "429"}

const (
	// minSamplesForRate 失败率规则生效所需的最少样本数
	minSamplesForRate = 10
	// maxConsecutiveFailures 连续失败达到该值视为封禁
	maxConsecutiveFailures = 5
)

// ResponseInfo 判定所需的响应信息
type ResponseInfo struct {
	StatusCode int
	Elapsed    time.Duration
}

// BlockDetector 基于规则的封禁判定
type BlockDetector struct {
	profile *SiteProfile
	history *ring[RequestRecord]
}

// NewBlockDetector 创建检测器, window 为短窗口容量 (默认 20)
func NewBlockDetector(profile *SiteProfile, window int) *BlockDetector {
	if window <= 0 {
		window = 20
	}
	return &BlockDetector{
		profile: profile,
		history: newRing[RequestRecord](window),
	}
}

// Detect 按固定顺序判定,首个命中的规则生效
// 1. 状态码属于封禁集合
// 2. 响应耗时超过阈值
// 3. 错误信息包含封禁关键字
// 4. 窗口样本>=10且失败率>=阈值
// 5. 连续失败>=5
//
// 规则4/5基于历史,只用于升级本次失败的尝试;
// 正常耗时的 200 响应说明封禁已解除,不会被历史改判
func (d *BlockDetector) Detect(resp *ResponseInfo, err error) (bool, string) {
	if resp != nil {
		if d.profile.IsBlockStatus(resp.StatusCode) {
			return true, fmt.Sprintf("封禁状态码 %d", resp.StatusCode)
		}
		if resp.Elapsed > d.profile.BlockThresholdResponseTime {
			return true, fmt.Sprintf("响应过慢 %.1fs", resp.Elapsed.Seconds())
		}
	}

	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, kw := range blockKeywords {
			if strings.Contains(msg, kw) {
				return true, fmt.Sprintf("错误信息包含 %q", kw)
			}
		}
	}

	if err == nil && resp != nil && resp.StatusCode == http.StatusOK {
		return false, ""
	}

	if d.history.len() >= minSamplesForRate {
		if rate := d.FailureRate(); rate >= d.profile.BlockThresholdFailRate {
			return true, fmt.Sprintf("失败率过高 %.0f%%", rate*100)
		}
	}

	if d.profile.ConsecutiveFailures >= maxConsecutiveFailures {
		return true, fmt.Sprintf("连续失败 %d 次", d.profile.ConsecutiveFailures)
	}

	return false, ""
}

// Record 记录一次请求尝试
func (d *BlockDetector) Record(success bool, responseTime time.Duration) {
	d.history.push(RequestRecord{
		Success:      success,
		ResponseTime: responseTime,
		Timestamp:    time.Now(),
	})
}

// FailureRate 短窗口失败率
func (d *BlockDetector) FailureRate() float64 {
	n := d.history.len()
	if n == 0 {
		return 0
	}
	failures := 0
	d.history.each(func(r RequestRecord) {
		if !r.Success {
			failures++
		}
	})
	return float64(failures) / float64(n)
}

// Samples 当前窗口样本数
func (d *BlockDetector) Samples() int {
	return d.history.len()
}
