// Package crawlers 提供自适应的防封禁抓取核心
//
// # 概述
//
// 每个站点由一个 AdaptiveFetcher 独占持有 SiteProfile、BlockDetector 和 HealthMonitor。
// 每次请求尝试的结果都会回写到两个历史窗口,并驱动延迟的乘性调整:
// 成功时收缩,失败时放大,始终限制在 [MinDelay, MaxDelay] 之间。
//
// # 核心组件
//
// ## SiteProfile
//
// 站点节奏状态: 基础/当前延迟、连续失败次数、封禁阈值和 User-Agent 轮换池。
// 通过 ProfileStore 以域名为键持久化到 JSON 文件,运行结束后批量保存。
//
//	profile := NewSiteProfileFromConfig("finance.naver.com", cfg.Pacing)
//	store.Load(profile)
//	defer store.Save(profile)
//
// ## BlockDetector
//
// 按固定顺序判定软封禁: 封禁状态码、超长响应、错误关键字、短窗口失败率、连续失败。
// 首个命中的规则生效,原因字符串写入 warn 日志 ("차단 감지")。
//
// ## HealthMonitor
//
// 长窗口 (默认100) 的健康统计,输出 unknown/healthy/degraded/critical/blocked
// 以及每个状态建议的最小延迟。
//
// ## AdaptiveFetcher
//
//	fetcher := NewAdaptiveFetcher(profile, FetcherOptions{Headers: headerManager})
//	page, err := fetcher.Fetch(ctx, url)
//	if errors.Is(err, ErrExhausted) {
//	    // 所有重试失败,视为无结果
//	}
//
// 抓取流程:
//   - 站点不健康时先额外等待 2 倍当前延迟
//   - 等待当前延迟 (±20% 抖动)
//   - 每次尝试轮换 User-Agent,串联 Referer
//   - 判定为封禁: 退避 current*2^attempt
//   - 普通失败和传输错误: 退避 current*1.5^attempt
//   - 200 且未封禁: 立即返回
//
// PreTest 在长时间运行前做快速预检,任一探测被判定封禁立即失败。
//
// ## ListCrawler
//
// 基于 colly 的列表页解析,传输层通过 FetcherTransport 复用 AdaptiveFetcher,
// 因此列表页同样受节奏控制。
//
// ## RobotsGate / ResourceMonitor
//
// 运行前的 robots.txt 检查,以及本机内存/CPU紧张时的暂缓抓取。
//
// # 并发
//
// AdaptiveFetcher 与其持有的状态不加锁,不能跨 goroutine 共享。
// 多站点并行时每个站点各自创建一套实例。
package crawlers
