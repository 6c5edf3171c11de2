package extractors

import (
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
	readability "github.com/go-shiori/go-readability"
)

var (
	titleSelectors   = []string{"h1", "h2", ".title", ".subject", "#title", "title", ".report-title", ".article-title"}
	dateSelectors    = []string{".date", ".published", "time", ".datetime", "#date"}
	analystSelectors = []string{".analyst", ".author", ".writer", ".analyst-info"}
	contentSelectors = []string{".content", ".article", ".body", "#content", "main", "article"}

	// 抽取正文前剔除的噪声元素
	noiseSelector = "script, style, nav, header, footer"

	analystPattern = regexp.MustCompile(`[가-힣\s]+/\s*[가-힣\s]+증권`)
	stockPattern   = regexp.MustCompile(`\b\d{6}\b`)

	targetPatterns = []struct {
		re         *regexp.Regexp
		method     string
		confidence float64
	}{
		{regexp.MustCompile(`목표가[:\s]*([\d,]+)\s*원?`), "pattern_search", 0.9},
		{regexp.MustCompile(`목표[가]?\s*([\d,]+)\s*원?`), "pattern_search2", 0.7},
	}

	defaultBaseURL = &url.URL{Scheme: "http", Host: "localhost"}
)

const minContentLength = 100

// 属性命中的置信度,首选选择器始终高于通用选择器
const (
	preferredAttrConfidence = 0.97
	commonAttrConfidence    = 0.95
)

// tier 一级抽取策略
type tier struct {
	method     string
	selector   string
	confidence float64
}

func tiers(preferred string, common []string, preferredConf, commonConf float64) []tier {
	out := make([]tier, 0, len(common)+1)
	if preferred != "" {
		out = append(out, tier{MethodPreferred, preferred, preferredConf})
	}
	for _, sel := range common {
		out = append(out, tier{sel, sel, commonConf})
	}
	return out
}

// scan 按层级顺序遍历匹配元素,accept 返回 true 时停止
func scan(doc *goquery.Document, ts []tier, accept func(t tier, s *goquery.Selection) bool) {
	for _, t := range ts {
		done := false
		doc.Find(t.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			done = accept(t, s)
			return !done
		})
		if done {
			return
		}
	}
}

// eachText 依次把 sel 的每个匹配元素文本交给 accept,直到接受为止
func eachText(doc *goquery.Document, sel string, accept func(text string) bool) bool {
	done := false
	doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		done = accept(s.Text())
		return !done
	})
	return done
}

// MultiStrategyExtractor 多策略字段抽取器
//
// 每个字段按 首选选择器 → 通用选择器 → 全文模式 的顺序尝试,
// 第一个满足条件的结果胜出。抽取失败不返回 error,而是 Success=false。
type MultiStrategyExtractor struct {
	selectors FieldSelectors
}

// NewMultiStrategyExtractor 创建抽取器,selectors 可以为空
func NewMultiStrategyExtractor(selectors FieldSelectors) *MultiStrategyExtractor {
	return &MultiStrategyExtractor{selectors: selectors}
}

// Extract 从HTML文本抽取全部字段
func (e *MultiStrategyExtractor) Extract(rawHTML, pageURL string) Report {
	return e.ExtractFrom(strings.NewReader(rawHTML), pageURL)
}

// ExtractFrom 从 reader 读取HTML并抽取,读取或解析失败时所有字段的方法为 "error"
func (e *MultiStrategyExtractor) ExtractFrom(r io.Reader, pageURL string) Report {
	raw, err := io.ReadAll(r)
	if err != nil {
		return errorReport(err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return errorReport(err)
	}

	text := doc.Text()
	return Report{
		Title:       e.title(doc),
		Date:        e.date(doc, text),
		Analyst:     e.analyst(doc, text),
		Stock:       e.stock(doc, text),
		Opinion:     e.opinion(doc, text),
		TargetPrice: e.targetPrice(doc, text),
		Content:     e.content(doc, string(raw), pageURL),
	}
}

func (e *MultiStrategyExtractor) title(doc *goquery.Document) Result[string] {
	var res Result[string]
	scan(doc, tiers(e.selectors.Title, titleSelectors, 0.9, 0.7), func(t tier, s *goquery.Selection) bool {
		text := cleanText(s.Text())
		if n := runeLen(text); n > 5 && n < 200 {
			res = found(text, t.method, t.confidence)
			return true
		}
		return false
	})
	if res.Success {
		return res
	}

	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if og = cleanText(og); og != "" {
			return found(og, "meta_og_title", 0.8)
		}
	}

	if text := cleanText(doc.Find("title").First().Text()); runeLen(text) > 5 {
		return found(text, "title_tag", 0.6)
	}

	return missing[string]("제목을 찾을 수 없습니다.")
}

func (e *MultiStrategyExtractor) date(doc *goquery.Document, text string) Result[time.Time] {
	var res Result[time.Time]
	scan(doc, tiers(e.selectors.Date, dateSelectors, 0.9, 0.85), func(t tier, s *goquery.Selection) bool {
		attrConf := commonAttrConfidence
		if t.method == MethodPreferred {
			attrConf = preferredAttrConfidence
		}
		for _, attr := range []string{"datetime", "data-date"} {
			if v, ok := s.Attr(attr); ok {
				if d, ok := ParseDate(v); ok {
					res = found(d, t.method+"_attr", attrConf)
					return true
				}
			}
		}
		if d, ok := ParseDate(cleanText(s.Text())); ok {
			res = found(d, t.method, t.confidence)
			return true
		}
		return false
	})
	if res.Success {
		return res
	}

	if d, ok := ParseDate(text); ok {
		return found(d, "text_search", 0.5)
	}
	return missing[time.Time]("날짜를 찾을 수 없습니다.")
}

func (e *MultiStrategyExtractor) analyst(doc *goquery.Document, text string) Result[string] {
	var res Result[string]
	scan(doc, tiers(e.selectors.Analyst, analystSelectors, 0.9, 0.7), func(t tier, s *goquery.Selection) bool {
		v := cleanText(s.Text())
		// 形如 "홍길동 / 삼성증권"
		if (strings.Contains(v, "증권") || strings.Contains(v, "/")) && runeLen(v) < 150 {
			res = found(v, t.method, t.confidence)
			return true
		}
		return false
	})
	if res.Success {
		return res
	}

	if m := cleanText(analystPattern.FindString(text)); m != "" {
		return found(m, "text_search", 0.6)
	}
	return missing[string]("애널리스트 정보를 찾을 수 없습니다.")
}

func (e *MultiStrategyExtractor) stock(doc *goquery.Document, text string) Result[string] {
	if sel := e.selectors.Stock; sel != "" {
		var code string
		eachText(doc, sel, func(v string) bool {
			code = stockPattern.FindString(v)
			return code != ""
		})
		if code != "" {
			return found(code, MethodPreferred, 0.9)
		}
	}

	if code := mostFrequent(stockPattern.FindAllString(text, -1)); code != "" {
		return found(code, "code_search", 0.7)
	}
	return missing[string]("종목 코드를 찾을 수 없습니다.")
}

// mostFrequent 出现次数最多的值,次数相同取先出现的
func mostFrequent(values []string) string {
	counts := make(map[string]int, len(values))
	best, bestCount := "", 0
	for _, v := range values {
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

func (e *MultiStrategyExtractor) opinion(doc *goquery.Document, text string) Result[models.Opinion] {
	if sel := e.selectors.Opinion; sel != "" {
		var op models.Opinion
		matched := eachText(doc, sel, func(v string) bool {
			var ok bool
			op, ok = models.MatchOpinion(v)
			return ok
		})
		if matched {
			return found(op, MethodPreferred, 0.9)
		}
	}

	if op, ok := models.MatchOpinion(text); ok {
		return found(op, "keyword_search", 0.8)
	}
	return missing[models.Opinion]("투자의견을 찾을 수 없습니다.")
}

func (e *MultiStrategyExtractor) targetPrice(doc *goquery.Document, text string) Result[int64] {
	if sel := e.selectors.TargetPrice; sel != "" {
		var price int64
		matched := eachText(doc, sel, func(v string) bool {
			var ok bool
			price, ok = ParseAmount(v)
			return ok
		})
		if matched {
			return found(price, MethodPreferred, 0.95)
		}
	}

	// 每个模式只看第一处匹配
	for _, p := range targetPatterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			if v, ok := parsePositive(m[1]); ok {
				return found(v, p.method, p.confidence)
			}
		}
	}
	return missing[int64]("목표가를 찾을 수 없습니다.")
}

func (e *MultiStrategyExtractor) content(doc *goquery.Document, rawHTML, pageURL string) Result[string] {
	var res Result[string]
	scan(doc, tiers(e.selectors.Content, contentSelectors, 0.9, 0.7), func(t tier, s *goquery.Selection) bool {
		if text := stripNoise(s); runeLen(text) > minContentLength {
			res = found(text, t.method, t.confidence)
			return true
		}
		return false
	})
	if res.Success {
		return res
	}

	if text := readableText(rawHTML, pageURL); runeLen(text) > minContentLength {
		return found(text, "readability", 0.55)
	}

	if body := doc.Find("body").First(); body.Length() > 0 {
		if text := stripNoise(body); runeLen(text) > minContentLength {
			return found(text, "body_tag", 0.5)
		}
	}
	return missing[string]("본문을 찾을 수 없습니다.")
}

// stripNoise 在副本上删除噪声元素后按行拼接文本
func stripNoise(s *goquery.Selection) string {
	clone := s.Clone()
	clone.Find(noiseSelector).Remove()
	return joinedText(clone, "\n")
}

// readableText 使用 readability 提取主体内容
func readableText(rawHTML, pageURL string) string {
	base := defaultBaseURL
	if parsed, err := url.Parse(pageURL); err == nil && parsed.Host != "" {
		base = parsed
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), base)
	if err != nil || article.Content == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return ""
	}
	return joinedText(doc.Selection, "\n")
}
