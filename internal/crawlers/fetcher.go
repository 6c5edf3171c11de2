package crawlers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/risk"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrExhausted 所有重试均失败,调用方应视为"无结果"而非异常
var ErrExhausted = errors.New("重试次数已用尽")

// maxBodySize 单个页面最大读取字节数
const maxBodySize = 10 * 1024 * 1024

// Page 一次成功抓取的页面
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte // 解压后的原始字节
	HTML       string // UTF-8 文本
	Encoding   string
	Elapsed    time.Duration
	Attempt    int
	FetchedAt  time.Time
}

// FetcherOptions 抓取器依赖与参数
type FetcherOptions struct {
	Headers            models.HeaderProvider
	Client             *http.Client // 为空时按 profile 超时创建
	BlockWindow        int
	HealthWindow       int
	MaxRequestsPerMin  float64 // 0 表示不限速
	InsecureSkipVerify bool
}

// Status 抓取器状态快照
type Status struct {
	Domain              string        `json:"domain"`
	SuccessRate         float64       `json:"success_rate"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CurrentDelay        time.Duration `json:"current_delay"`
	TotalRequests       int           `json:"total_requests"`
	IsHealthy           bool          `json:"is_healthy"`
	Health              HealthStatus  `json:"health"`
}

// AdaptiveFetcher 自适应抓取器
// 持有一个站点的 SiteProfile/BlockDetector/HealthMonitor,不能在多个 goroutine 间共享
type AdaptiveFetcher struct {
	profile  *SiteProfile
	detector *BlockDetector
	monitor  *HealthMonitor
	client   *http.Client
	headers  models.HeaderProvider
	limiter  *rate.Limiter
	log      zerolog.Logger

	// baseLimit 配置的请求速率,恢复协议在此基础上缩放
	baseLimit rate.Limit

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
	now    func() time.Time

	referer         string
	totalRequests   int
	lastBlocked     bool
	lastBlockReason string
	lastErrorTime   time.Time
	requestStarts   *ring[time.Time]
}

// NewAdaptiveFetcher 创建抓取器
func NewAdaptiveFetcher(profile *SiteProfile, opts FetcherOptions) *AdaptiveFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: profile.RequestTimeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
			},
		}
	}

	var limiter *rate.Limiter
	var baseLimit rate.Limit
	if opts.MaxRequestsPerMin > 0 {
		baseLimit = rate.Limit(opts.MaxRequestsPerMin / 60.0)
		limiter = rate.NewLimiter(baseLimit, 1)
	}

	window := opts.BlockWindow
	if window <= 0 {
		window = 20
	}

	return &AdaptiveFetcher{
		profile:       profile,
		detector:      NewBlockDetector(profile, window),
		monitor:       NewHealthMonitor(opts.HealthWindow),
		client:        client,
		headers:       opts.Headers,
		limiter:       limiter,
		baseLimit:     baseLimit,
		log:           utils.Site(profile.Domain),
		sleep:         sleepContext,
		jitter:        func() float64 { return 0.8 + rand.Float64()*0.4 },
		now:           time.Now,
		requestStarts: newRing[time.Time](window),
	}
}

// sleepContext 可被上下文取消的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Profile 返回持有的站点配置
func (f *AdaptiveFetcher) Profile() *SiteProfile { return f.profile }

// Monitor 返回健康监控
func (f *AdaptiveFetcher) Monitor() *HealthMonitor { return f.monitor }

// Fetch 按 profile 的最大重试次数抓取
func (f *AdaptiveFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	return f.FetchWithRetries(ctx, rawURL, f.profile.MaxRetries)
}

// FetchWithRetries 带节奏控制、封禁检测和退避的抓取
// 全部尝试失败时返回 ErrExhausted
func (f *AdaptiveFetcher) FetchWithRetries(ctx context.Context, rawURL string, maxRetries int) (*Page, error) {
	if err := models.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if maxRetries < 1 {
		return nil, fmt.Errorf("maxRetries 必须 >= 1, 实际 %d", maxRetries)
	}
	headers, err := f.baseHeaders()
	if err != nil {
		return nil, err
	}

	// 1. 健康熔断: 不健康时额外等待 2 倍延迟
	if !f.monitor.IsHealthy() {
		f.log.Warn().Dur("delay", 2*f.profile.CurrentDelay).Msg("⚠️ 站点状态不健康,额外等待")
		if err := f.sleep(ctx, 2*f.profile.CurrentDelay); err != nil {
			return nil, err
		}
	}

	// 2. 常规间隔 (±20% 抖动)
	if err := f.sleep(ctx, jittered(f.profile.CurrentDelay, f.jitter())); err != nil {
		return nil, err
	}

	// 3. 逐次尝试
	for attempt := 1; attempt <= maxRetries; attempt++ {
		page, elapsed, reqErr := f.attempt(ctx, rawURL, headers)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var info *ResponseInfo
		if page != nil {
			page.Attempt = attempt
			info = &ResponseInfo{StatusCode: page.StatusCode, Elapsed: elapsed}
		}
		blocked, reason := f.detector.Detect(info, reqErr)
		remaining := attempt < maxRetries

		switch {
		case blocked:
			f.recordOutcome(false, elapsed, statusOf(page), reason, true)
			f.log.Warn().
				Str("url", rawURL).
				Int("attempt", attempt).
				Str("reason", reason).
				Dur("delay", f.profile.CurrentDelay).
				Msg("🚫 차단 감지")
			if remaining {
				if err := f.sleep(ctx, backoff(f.profile.CurrentDelay, 2, attempt)); err != nil {
					return nil, err
				}
			}

		case reqErr == nil && page.StatusCode == http.StatusOK:
			f.recordOutcome(true, elapsed, page.StatusCode, "", false)
			f.referer = rawURL
			f.log.Debug().
				Str("url", rawURL).
				Int("attempt", attempt).
				Dur("elapsed", elapsed).
				Msg("✅ 抓取成功")
			return page, nil

		default:
			msg := ""
			if reqErr != nil {
				msg = reqErr.Error()
			} else {
				msg = fmt.Sprintf("HTTP %d", page.StatusCode)
			}
			f.recordOutcome(false, elapsed, statusOf(page), msg, false)
			f.log.Warn().
				Str("url", rawURL).
				Int("attempt", attempt).
				Str("error", msg).
				Msg("❌ 请求失败")
			if remaining {
				if err := f.sleep(ctx, backoff(f.profile.CurrentDelay, 1.5, attempt)); err != nil {
					return nil, err
				}
			}
		}
	}

	f.log.Error().Str("url", rawURL).Int("retries", maxRetries).Msg("重试次数已用尽")
	return nil, ErrExhausted
}

// PreTest 预检: n 次单发探测,不重试不退避,任一探测被判定封禁立即失败
// 成功率 >= 0.7 才算通过
func (f *AdaptiveFetcher) PreTest(ctx context.Context, rawURL string, n int) (bool, string) {
	if err := models.ValidateURL(rawURL); err != nil {
		return false, fmt.Sprintf("URL无效: %v", err)
	}
	if n < 1 {
		n = 3
	}
	headers, err := f.baseHeaders()
	if err != nil {
		return false, fmt.Sprintf("请求头无效: %v", err)
	}

	successes := 0
	var totalLatency time.Duration
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := f.sleep(ctx, f.profile.CurrentDelay); err != nil {
				return false, fmt.Sprintf("预检被取消: %v", err)
			}
		}

		page, elapsed, reqErr := f.attempt(ctx, rawURL, headers)
		if ctx.Err() != nil {
			return false, fmt.Sprintf("预检被取消: %v", ctx.Err())
		}
		var info *ResponseInfo
		if page != nil {
			info = &ResponseInfo{StatusCode: page.StatusCode, Elapsed: elapsed}
		}

		if blocked, reason := f.detector.Detect(info, reqErr); blocked {
			f.recordOutcome(false, elapsed, statusOf(page), reason, true)
			return false, fmt.Sprintf("차단 감지: %s (%d/%d)", reason, i+1, n)
		}

		ok := reqErr == nil && page.StatusCode == http.StatusOK
		if ok {
			successes++
			totalLatency += elapsed
			f.referer = rawURL
		}
		f.recordOutcome(ok, elapsed, statusOf(page), errMessage(page, reqErr), false)
	}

	successRate := float64(successes) / float64(n)
	var avg time.Duration
	if successes > 0 {
		avg = totalLatency / time.Duration(successes)
	}
	msg := fmt.Sprintf("성공률 %.0f%%, 평균 응답 %.2fs", successRate*100, avg.Seconds())
	if successRate < healthySuccessRate {
		return false, "사전 테스트 실패: " + msg
	}
	return true, "사전 테스트 통과: " + msg
}

// GetStatus 返回状态快照
func (f *AdaptiveFetcher) GetStatus() Status {
	return Status{
		Domain:              f.profile.Domain,
		SuccessRate:         f.profile.SuccessRate,
		AvgResponseTime:     f.profile.AvgResponseTime,
		ConsecutiveFailures: f.profile.ConsecutiveFailures,
		CurrentDelay:        f.profile.CurrentDelay,
		TotalRequests:       f.totalRequests,
		IsHealthy:           f.monitor.IsHealthy(),
		Health:              f.monitor.Status(),
	}
}

// Health 健康指标快照
func (f *AdaptiveFetcher) Health() HealthMetrics {
	return f.monitor.Metrics()
}

// Penalize 页面内容层面的失败 (如解析全部落空) 也计入节奏控制,
// 只放大延迟,不写入请求历史
func (f *AdaptiveFetcher) Penalize(reason string) {
	f.profile.AdjustDelay(false)
	f.log.Warn().Str("reason", reason).Dur("delay", f.profile.CurrentDelay).Msg("⏳ 内容异常,放慢节奏")
}

// ApplyRecovery 执行恢复协议中可自动完成的部分
func (f *AdaptiveFetcher) ApplyRecovery(p risk.RecoveryProtocol) {
	f.profile.ScaleDelay(p.DelayMultiplier)
	if p.RotateIdentity {
		f.profile.NextIdentity()
	}
	// 速率始终按配置值计算,没有降速要求的协议恢复原速率
	if f.limiter != nil {
		limit := f.baseLimit
		if p.SpeedFactor > 0 && p.SpeedFactor < 1 {
			limit = f.baseLimit * rate.Limit(p.SpeedFactor)
		}
		f.limiter.SetLimit(limit)
	}
	f.log.Warn().
		Str("protocol", p.Name).
		Float64("multiplier", p.DelayMultiplier).
		Dur("delay", f.profile.CurrentDelay).
		Msg("🛠️ 执行恢复协议")
}

// RiskMetrics 风险评估所需指标
func (f *AdaptiveFetcher) RiskMetrics() risk.Metrics {
	m := risk.Metrics{
		SuccessRate:       f.monitor.SuccessRate(),
		AvgDelay:          f.avgInterval(),
		ConsecutiveErrors: f.monitor.ConsecutiveErrors(),
		RequestsPerMinute: f.requestsPerMinute(),
		BlockedDetected:   f.lastBlocked,
	}
	if !f.lastErrorTime.IsZero() {
		t := f.lastErrorTime
		m.LastErrorTime = &t
	}
	return m
}

// LastBlockReason 最近一次封禁原因
func (f *AdaptiveFetcher) LastBlockReason() string { return f.lastBlockReason }

// attempt 发出一次请求: 轮换身份、设置头部和Referer、解压解码
func (f *AdaptiveFetcher) attempt(ctx context.Context, rawURL string, headers map[string][]string) (*Page, time.Duration, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	for name, values := range headers {
		req.Header[name] = append([]string(nil), values...)
	}
	req.Header.Set("User-Agent", f.profile.NextIdentity())
	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
	}

	start := f.now()
	f.requestStarts.push(start)
	f.totalRequests++

	resp, err := f.client.Do(req)
	elapsed := f.now().Sub(start)
	if err != nil {
		return nil, elapsed, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, elapsed, fmt.Errorf("读取响应失败: %w", err)
	}
	body, err := decompressResponse(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, elapsed, err
	}

	page := &Page{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Elapsed:    elapsed,
		FetchedAt:  start,
	}
	text, encName, decErr := decodeHTML(body, resp.Header.Get("Content-Type"))
	if decErr != nil {
		f.log.Debug().Err(decErr).Msg("解码失败,按原始字节处理")
		text, encName = string(body), "binary"
	}
	page.HTML, page.Encoding = text, encName
	return page, elapsed, nil
}

// recordOutcome 每次尝试都要写入两个历史窗口并更新 profile
func (f *AdaptiveFetcher) recordOutcome(success bool, elapsed time.Duration, status int, msg string, blocked bool) {
	f.profile.AdjustDelay(success)
	f.detector.Record(success, elapsed)
	f.monitor.Update(RequestRecord{
		Success:      success,
		ResponseTime: elapsed,
		Timestamp:    f.now(),
		StatusCode:   status,
		ErrorMsg:     msg,
	})

	f.profile.SuccessRate = f.monitor.SuccessRate()
	f.profile.AvgResponseTime = f.monitor.AvgResponseTime()
	f.lastBlocked = blocked
	if blocked {
		f.lastBlockReason = msg
	}
	if !success {
		f.lastErrorTime = f.now()
	}
}

func (f *AdaptiveFetcher) baseHeaders() (map[string][]string, error) {
	if f.headers == nil {
		return nil, nil
	}
	h, err := f.headers.GetHeaders()
	if err != nil {
		return nil, fmt.Errorf("获取请求头失败: %w", err)
	}
	return h, nil
}

// avgInterval 最近请求起始时间的平均间隔,样本不足时取当前延迟
func (f *AdaptiveFetcher) avgInterval() time.Duration {
	if f.requestStarts.len() < 2 {
		return f.profile.CurrentDelay
	}
	var first, last time.Time
	i := 0
	f.requestStarts.each(func(t time.Time) {
		if i == 0 {
			first = t
		}
		last = t
		i++
	})
	return last.Sub(first) / time.Duration(f.requestStarts.len()-1)
}

func (f *AdaptiveFetcher) requestsPerMinute() float64 {
	since := f.now().Add(-time.Minute)
	n := 0
	f.requestStarts.each(func(t time.Time) {
		if !t.Before(since) {
			n++
		}
	})
	return float64(n)
}

func jittered(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

// backoff current * base^attempt
func backoff(current time.Duration, base float64, attempt int) time.Duration {
	return time.Duration(float64(current) * math.Pow(base, float64(attempt)))
}

func statusOf(p *Page) int {
	if p == nil {
		return 0
	}
	return p.StatusCode
}

func errMessage(p *Page, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case p != nil && p.StatusCode != http.StatusOK:
		return fmt.Sprintf("HTTP %d", p.StatusCode)
	default:
		return ""
	}
}
