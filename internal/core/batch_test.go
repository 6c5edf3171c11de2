package core

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/RecoveryAshes/AnalystCrawl/internal/config"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
)

type savingTarget struct {
	*fakeTarget
	domain string
	saved  *int
	mu     *sync.Mutex
}

func (s savingTarget) Domain() string { return s.domain }

func (s savingTarget) SaveProfile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.saved++
	return nil
}

func TestBatchRunner_Run(t *testing.T) {
	quietLogger(t)
	outDir := t.TempDir()

	var mu sync.Mutex
	saved := 0
	factory := func(site config.SiteDefinition) (Target, error) {
		if site.Name == "broken" {
			return nil, errors.New("请求头无效")
		}
		target := newFakeTarget()
		target.discovered = links("https://" + site.Domain + "/r/1")
		target.pages["https://"+site.Domain+"/r/1"] = reportPage
		return savingTarget{fakeTarget: target, domain: site.Domain, saved: &saved, mu: &mu}, nil
	}

	jobs := []SiteJob{
		{Site: config.SiteDefinition{Name: "naver", Domain: "finance.naver.com"}},
		{Site: config.SiteDefinition{Name: "hankyung", Domain: "markets.hankyung.com"}},
		{Site: config.SiteDefinition{Name: "broken", Domain: "broken.example.com"}},
	}

	runner := NewBatchRunner(PipelineOptions{}, PipelineDeps{}, 2, factory, utils.NewReporter(outDir))
	summary := runner.Run(context.Background(), jobs)

	if summary.TotalSites != 3 || summary.Completed != 2 || summary.Aborted != 1 {
		t.Errorf("统计不正确: %+v", summary)
	}
	if summary.NewItems != 2 {
		t.Errorf("应有2篇新报告, 实际 %d", summary.NewItems)
	}
	if summary.Results[2].Site != "broken" || summary.Results[2].Status != models.RunStatusAborted {
		t.Errorf("结果应按任务顺序排列: %+v", summary.Results[2])
	}
	if saved != 2 {
		t.Errorf("每个站点运行后都应保存节奏状态, 实际 %d", saved)
	}

	for _, domain := range []string{"finance.naver.com", "markets.hankyung.com", "broken.example.com"} {
		if _, err := os.Stat(filepath.Join(outDir, domain, "reports", "run_report.json")); err != nil {
			t.Errorf("缺少运行报告 [%s]: %v", domain, err)
		}
	}
}

func TestBatchRunner_AbortedSiteStillReported(t *testing.T) {
	quietLogger(t)
	outDir := t.TempDir()

	factory := func(site config.SiteDefinition) (Target, error) {
		return nil, errors.New("请求头无效")
	}
	jobs := []SiteJob{{Site: config.SiteDefinition{Name: "broken", Domain: "broken.example.com"}}}

	summary := NewBatchRunner(PipelineOptions{}, PipelineDeps{}, 1, factory, utils.NewReporter(outDir)).
		Run(context.Background(), jobs)
	if summary.Aborted != 1 {
		t.Fatalf("应有1个中止站点: %+v", summary)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "broken.example.com", "reports", "run_report.json"))
	if err != nil {
		t.Fatalf("中止的站点也应写出运行报告: %v", err)
	}
	var report models.RunSummary
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("运行报告无法解析: %v", err)
	}
	if report.Status != models.RunStatusAborted || report.StopReason == "" {
		t.Errorf("报告应记录中止状态和原因: status=%s reason=%q", report.Status, report.StopReason)
	}
	for _, name := range []string{"reports.json", "failed_items.json"} {
		if _, err := os.Stat(filepath.Join(outDir, "broken.example.com", "reports", name)); err != nil {
			t.Errorf("缺少 %s: %v", name, err)
		}
	}
}

func TestJobsForURLs(t *testing.T) {
	sites := []config.SiteDefinition{
		{Name: "naver", Domain: "finance.naver.com"},
		{Name: "38com", Domain: "www.38.co.kr"},
	}
	jobs, unmatched := JobsForURLs(sites, []string{
		"https://finance.naver.com/research/company_read.naver?nid=1",
		"https://www.38.co.kr/html/news/?o=v&no=1",
		"https://finance.naver.com/research/company_read.naver?nid=2",
		"https://unknown.example.com/a",
	})

	if len(jobs) != 2 {
		t.Fatalf("应有2个任务, 实际 %d", len(jobs))
	}
	if jobs[0].Site.Name != "naver" || len(jobs[0].URLs) != 2 {
		t.Errorf("naver 任务不正确: %+v", jobs[0])
	}
	if len(unmatched) != 1 || unmatched[0] != "https://unknown.example.com/a" {
		t.Errorf("未匹配URL不正确: %v", unmatched)
	}
}
