package crawlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	"github.com/gocolly/colly/v2"
)

// ListRules 列表页解析规则 (sites.yaml 的 list 段)
type ListRules struct {
	RowSelector       string `yaml:"row_selector" validate:"required"`
	LinkSelector      string `yaml:"link_selector" validate:"required"`
	MinCells          int    `yaml:"min_cells" validate:"gte=0"`
	LinkPattern       string `yaml:"link_pattern,omitempty"`
	StockNameSelector string `yaml:"stock_name_selector,omitempty"`
	PDFSelector       string `yaml:"pdf_selector,omitempty"`
}

var (
	listDatePattern  = regexp.MustCompile(`\d{4}\.\d{2}\.\d{2}`)
	listPricePattern = regexp.MustCompile(`^[\d,]{4,}\s*원$`)
	firmMarkers      = []string{"증권", "투자", "자산"}
)

// ListCrawler 从列表页发现报告链接
type ListCrawler struct {
	fetcher *AdaptiveFetcher
	rules   ListRules
	pattern *regexp.Regexp
}

// NewListCrawler 创建列表爬取器
func NewListCrawler(fetcher *AdaptiveFetcher, rules ListRules) (*ListCrawler, error) {
	lc := &ListCrawler{fetcher: fetcher, rules: rules}
	if rules.MinCells <= 0 {
		lc.rules.MinCells = 4
	}
	if rules.LinkPattern != "" {
		re, err := regexp.Compile(rules.LinkPattern)
		if err != nil {
			return nil, fmt.Errorf("link_pattern 无效: %w", err)
		}
		lc.pattern = re
	}
	return lc, nil
}

// Discover 抓取列表页并返回去重后的报告链接, limit<=0 表示不限
func (lc *ListCrawler) Discover(ctx context.Context, listURL string, limit int) ([]models.ReportLink, error) {
	c := colly.NewCollector(colly.StdlibContext(ctx))
	c.WithTransport(&FetcherTransport{Fetcher: lc.fetcher})

	links := make([]models.ReportLink, 0)
	seen := make(map[string]bool)

	c.OnHTML(lc.rules.RowSelector, func(e *colly.HTMLElement) {
		if limit > 0 && len(links) >= limit {
			return
		}
		link, ok := lc.parseRow(e)
		if !ok || seen[link.URL] {
			return
		}
		seen[link.URL] = true
		links = append(links, link)
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = err
	})

	if err := c.Visit(listURL); err != nil && visitErr == nil {
		visitErr = err
	}
	c.Wait()

	if visitErr != nil {
		return links, fmt.Errorf("列表页抓取失败 %s: %w", listURL, visitErr)
	}
	return links, nil
}

// parseRow 解析一行: 单元格数足够且包含报告链接
func (lc *ListCrawler) parseRow(e *colly.HTMLElement) (models.ReportLink, bool) {
	cells := e.DOM.Find("td")
	if cells.Length() < lc.rules.MinCells {
		return models.ReportLink{}, false
	}

	anchor := e.DOM.Find(lc.rules.LinkSelector).First()
	href, ok := anchor.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return models.ReportLink{}, false
	}
	abs := e.Request.AbsoluteURL(href)
	if abs == "" || (lc.pattern != nil && !lc.pattern.MatchString(abs)) {
		return models.ReportLink{}, false
	}

	link := models.ReportLink{
		URL:   abs,
		Title: cleanText(anchor.Text()),
	}
	if lc.rules.StockNameSelector != "" {
		link.StockName = cleanText(e.DOM.Find(lc.rules.StockNameSelector).First().Text())
	}

	cells.Each(func(_ int, cell *goquery.Selection) {
		text := cleanText(cell.Text())
		if text == "" || text == link.Title {
			return
		}
		switch {
		case link.Date == "" && listDatePattern.MatchString(text):
			link.Date = listDatePattern.FindString(text)
		case link.Firm == "" && containsAny(text, firmMarkers):
			link.Firm = text
		case link.TargetPrice == "" && listPricePattern.MatchString(text):
			link.TargetPrice = text
		case link.Opinion == "" && len([]rune(text)) <= 20:
			if _, ok := models.MatchOpinion(text); ok {
				link.Opinion = text
			}
		}
	})

	link.PDFURL = lc.findPDF(e)
	return link, true
}

func (lc *ListCrawler) findPDF(e *colly.HTMLElement) string {
	sel := lc.rules.PDFSelector
	if sel == "" {
		sel = "a[href]"
	}
	pdf := ""
	e.DOM.Find(sel).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if lc.rules.PDFSelector != "" || strings.Contains(strings.ToLower(href), "pdf") ||
			strings.Contains(strings.ToLower(a.Text()), "pdf") {
			pdf = e.Request.AbsoluteURL(href)
			return false
		}
		return true
	})
	return pdf
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
