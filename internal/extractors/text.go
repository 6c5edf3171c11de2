package extractors

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// KST 韩国标准时间,报告日期均按此时区解析
var KST = time.FixedZone("KST", 9*60*60)

var (
	datePattern   = regexp.MustCompile(`(20\d{2})[./-](\d{1,2})[./-](\d{1,2})`)
	amountPattern = regexp.MustCompile(`\d[\d,]*`)
)

// cleanText 合并连续空白
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// joinedText 逐个文本节点去首尾空白后用 sep 连接
func joinedText(s *goquery.Selection, sep string) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, sep)
}

// ParseDate 解析 RFC3339 或文本中第一个 YYYY.MM.DD 形式的日期
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(KST), true
	}

	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, KST)
	// 拒绝 2024.13.45 这类被 time.Date 自动进位的日期
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// ParseAmount 取文本中第一个数字串作为金额,去掉千分位
func ParseAmount(s string) (int64, bool) {
	m := amountPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	return parsePositive(m)
}

func parsePositive(digits string) (int64, bool) {
	v, err := strconv.ParseInt(strings.ReplaceAll(digits, ",", ""), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
