package crawlers

import (
	"math/rand"
	"testing"
	"time"
)

func TestNewSiteProfileDefaults(t *testing.T) {
	p := NewSiteProfile("finance.naver.com")

	if p.BaseDelay != 3*time.Second || p.CurrentDelay != 3*time.Second {
		t.Errorf("默认延迟错误: base=%v current=%v", p.BaseDelay, p.CurrentDelay)
	}
	if p.MinDelay != time.Second || p.MaxDelay != 10*time.Second {
		t.Errorf("默认上下限错误: min=%v max=%v", p.MinDelay, p.MaxDelay)
	}
	if p.MaxRetries != 3 || p.RequestTimeout != 10*time.Second {
		t.Errorf("默认重试/超时错误: %d %v", p.MaxRetries, p.RequestTimeout)
	}
	for _, code := range []int{403, 429, 503} {
		if !p.IsBlockStatus(code) {
			t.Errorf("%d 应属于封禁状态码", code)
		}
	}
	if p.IsBlockStatus(404) {
		t.Error("404 不应属于封禁状态码")
	}
	if len(p.IdentityPool) != 5 || p.SuccessRate != 1.0 {
		t.Errorf("身份池或成功率默认值错误: %d %v", len(p.IdentityPool), p.SuccessRate)
	}
}

func TestAdjustDelayStaysWithinBounds(t *testing.T) {
	p := NewSiteProfile("example.com")
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		p.AdjustDelay(rng.Intn(2) == 0)
		if p.CurrentDelay < p.MinDelay || p.CurrentDelay > p.MaxDelay {
			t.Fatalf("第%d步延迟越界: %v", i, p.CurrentDelay)
		}
	}
}

func TestAdjustDelay(t *testing.T) {
	p := NewSiteProfile("example.com")

	p.AdjustDelay(false)
	if p.CurrentDelay != 4500*time.Millisecond || p.ConsecutiveFailures != 1 {
		t.Errorf("失败后期望 4.5s/1, 实际 %v/%d", p.CurrentDelay, p.ConsecutiveFailures)
	}

	for i := 0; i < 10; i++ {
		p.AdjustDelay(false)
	}
	if p.CurrentDelay != p.MaxDelay {
		t.Errorf("多次失败后应达到上限, 实际 %v", p.CurrentDelay)
	}

	p.AdjustDelay(true)
	if p.CurrentDelay != 9*time.Second || p.ConsecutiveFailures != 0 {
		t.Errorf("成功后期望 9s/0, 实际 %v/%d", p.CurrentDelay, p.ConsecutiveFailures)
	}

	for i := 0; i < 50; i++ {
		p.AdjustDelay(true)
	}
	if p.CurrentDelay != p.MinDelay {
		t.Errorf("多次成功后应达到下限, 实际 %v", p.CurrentDelay)
	}
}

func TestNextIdentityRoundRobin(t *testing.T) {
	p := NewSiteProfile("example.com")
	p.SetIdentityPool([]string{"ua-1", "ua-2", "ua-3"})

	got := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		got = append(got, p.NextIdentity())
	}
	want := []string{"ua-1", "ua-2", "ua-3", "ua-1", "ua-2", "ua-3", "ua-1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("第%d次期望 %s, 实际 %s", i, want[i], got[i])
		}
	}

	p.SetIdentityPool(nil)
	if len(p.IdentityPool) != 3 {
		t.Error("空列表不应替换身份池")
	}
}

func TestResetAndSummary(t *testing.T) {
	p := NewSiteProfile("finance.naver.com")
	p.AdjustDelay(false)
	p.AdjustDelay(false)
	p.SuccessRate = 0.4
	p.AvgResponseTime = 1500 * time.Millisecond

	s := p.ToSummary()
	if s.Domain != "finance.naver.com" || s.CurrentDelay != 6.75 || s.ConsecutiveFailures != 2 || s.AvgResponseTime != 1.5 {
		t.Errorf("摘要不正确: %+v", s)
	}

	restored := NewSiteProfile("finance.naver.com")
	restored.ApplySummary(s)
	if restored.CurrentDelay != p.CurrentDelay || restored.ConsecutiveFailures != 2 || restored.SuccessRate != 0.4 {
		t.Errorf("恢复后状态不一致: %+v", restored.ToSummary())
	}

	p.Reset()
	if p.CurrentDelay != p.BaseDelay || p.ConsecutiveFailures != 0 || p.SuccessRate != 1.0 {
		t.Errorf("Reset 后状态错误: %+v", p.ToSummary())
	}
}

func TestApplySummaryClampsDelay(t *testing.T) {
	p := NewSiteProfile("example.com")
	p.ApplySummary(ProfileSummary{Domain: "example.com", CurrentDelay: 120, SuccessRate: 1})
	if p.CurrentDelay != p.MaxDelay {
		t.Errorf("持久化的延迟应被限制在上限, 实际 %v", p.CurrentDelay)
	}
}

func TestScaleDelay(t *testing.T) {
	p := NewSiteProfile("example.com")
	p.ScaleDelay(2)
	if p.CurrentDelay != 6*time.Second {
		t.Errorf("期望 6s, 实际 %v", p.CurrentDelay)
	}
	p.ScaleDelay(5)
	if p.CurrentDelay != p.MaxDelay {
		t.Errorf("放大后应受上限约束, 实际 %v", p.CurrentDelay)
	}
	p.ScaleDelay(0)
	if p.CurrentDelay != p.MaxDelay {
		t.Error("系数0不应改变延迟")
	}
}
