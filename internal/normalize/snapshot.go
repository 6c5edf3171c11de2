package normalize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/extractors"
	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
)

const (
	// Currency 快照币种
	Currency = "KRW"
	// HorizonMonths 目标价期限
	HorizonMonths = 12
	// FullCoverageAnalysts 覆盖度达到 1 所需的分析师人数
	FullCoverageAnalysts = 20

	defaultSourceQuality = 0.75
)

// SourceQuality 各来源的基础可信度
var SourceQuality = map[string]float64{
	"38com":    0.80,
	"hankyung": 0.85,
	"naver":    0.75,
}

// ErrNoReports 共识计算没有输入
var ErrNoReports = errors.New("没有可用于共识计算的报告")

var stockCodePattern = regexp.MustCompile(`^\d{6}$`)

// ValidStockCode 6位数字代码
func ValidStockCode(code string) bool {
	return stockCodePattern.MatchString(code)
}

func qualityOf(source string) float64 {
	if q, ok := SourceQuality[source]; ok {
		return q
	}
	return defaultSourceQuality
}

func asOf(meta models.ReportMetadata) time.Time {
	if meta.PublishedDate != nil {
		return meta.PublishedDate.In(extractors.KST)
	}
	return meta.CrawledAt.In(extractors.KST)
}

func freshnessDays(published, crawled time.Time) int {
	if crawled.IsZero() || crawled.Before(published) {
		return 0
	}
	return int(crawled.Sub(published).Hours() / 24)
}

func ptr(v float64) *float64 { return &v }

// ToSnapshot 单篇报告 → KoreaAnalystSnapshot v1
func ToSnapshot(meta models.ReportMetadata) (models.Snapshot, error) {
	if !ValidStockCode(meta.StockCode) {
		return models.Snapshot{}, fmt.Errorf("잘못된 종목 코드: %q", meta.StockCode)
	}

	date := asOf(meta)
	opinion := meta.Opinion
	if opinion == "" {
		opinion = models.OpinionHold
	}

	snap := models.Snapshot{
		Version:   models.SnapshotVersion,
		AsOf:      date.Format("2006-01-02"),
		StockCode: meta.StockCode,
		Source:    meta.Source,
		Recommendation: models.Recommendation{
			RatingText:   opinion.Label(),
			AnalystCount: 1,
		},
		PriceTarget: models.PriceTarget{Currency: Currency, HorizonMonths: HorizonMonths},
		Confidence: models.SnapshotConfidence{
			SourceQuality: qualityOf(meta.Source),
			FreshnessDays: freshnessDays(date, meta.CrawledAt),
			CoverageScore: 1.0 / FullCoverageAnalysts,
		},
		RawRefs: models.RawRefs{
			SourceURL: meta.SourceURL,
			PDFURL:    meta.PDFURL,
			ReportID:  meta.ReportID,
		},
	}
	if meta.StockName != Unknown {
		snap.StockName = meta.StockName
	}
	countOpinion(&snap.Recommendation, opinion)

	if meta.TargetPrice != nil && *meta.TargetPrice > 0 {
		target := float64(*meta.TargetPrice)
		snap.PriceTarget.Low = ptr(target)
		snap.PriceTarget.Mean = ptr(target)
		snap.PriceTarget.High = ptr(target)
		snap.PriceTarget.Median = ptr(target)
		snap.Valuation.FairValue = ptr(target)
		if meta.CurrentPrice != nil && *meta.CurrentPrice > 0 {
			snap.Valuation.PriceToFairValue = ptr(float64(*meta.CurrentPrice) / target)
		}
	}

	if meta.AnalystName != Unknown || meta.Firm != Unknown {
		snap.AnalystInfo = &models.AnalystInfo{Name: meta.AnalystName, Firm: meta.Firm}
	}
	return snap, nil
}

func countOpinion(r *models.Recommendation, op models.Opinion) {
	switch op {
	case models.OpinionStrongBuy:
		r.StrongBuy++
	case models.OpinionBuy:
		r.Buy++
	case models.OpinionSell:
		r.Sell++
	case models.OpinionStrongSell:
		r.StrongSell++
	default:
		r.Hold++
	}
}

// ConsensusRating 加权得分 → 评级文字
// 得分 = (2*强买 + 买 - 卖 - 2*强卖) / 人数
func ConsensusRating(r models.Recommendation) (float64, string) {
	n := r.StrongBuy + r.Buy + r.Hold + r.Sell + r.StrongSell
	if n == 0 {
		return 0, models.OpinionHold.Label()
	}
	score := float64(2*r.StrongBuy+r.Buy-r.Sell-2*r.StrongSell) / float64(n)

	var op models.Opinion
	switch {
	case score >= 1.2:
		op = models.OpinionStrongBuy
	case score >= 0.4:
		op = models.OpinionBuy
	case score > -0.4:
		op = models.OpinionHold
	case score > -1.2:
		op = models.OpinionSell
	default:
		op = models.OpinionStrongSell
	}
	return score, op.Label()
}

// Consensus 同一股票的多篇报告 → 共识快照
func Consensus(stockCode string, reports []models.ReportMetadata) (models.Snapshot, error) {
	if !ValidStockCode(stockCode) {
		return models.Snapshot{}, fmt.Errorf("잘못된 종목 코드: %q", stockCode)
	}
	if len(reports) == 0 {
		return models.Snapshot{}, ErrNoReports
	}

	var rec models.Recommendation
	var targets []float64
	var latest models.ReportMetadata
	var latestDate time.Time
	for i, r := range reports {
		op := r.Opinion
		if op == "" {
			op = models.OpinionHold
		}
		countOpinion(&rec, op)
		if r.TargetPrice != nil && *r.TargetPrice > 0 {
			targets = append(targets, float64(*r.TargetPrice))
		}
		if d := asOf(r); i == 0 || d.After(latestDate) {
			latest, latestDate = r, d
		}
	}
	rec.AnalystCount = len(reports)
	_, rec.RatingText = ConsensusRating(rec)

	snap := models.Snapshot{
		Version:        models.SnapshotVersion,
		AsOf:           latestDate.Format("2006-01-02"),
		StockCode:      stockCode,
		Source:         latest.Source,
		Recommendation: rec,
		PriceTarget:    models.PriceTarget{Currency: Currency, HorizonMonths: HorizonMonths},
		Confidence: models.SnapshotConfidence{
			SourceQuality: qualityOf(latest.Source),
			FreshnessDays: freshnessDays(latestDate, latest.CrawledAt),
			CoverageScore: math.Min(1, float64(rec.AnalystCount)/FullCoverageAnalysts),
		},
		RawRefs: models.RawRefs{SourceURL: latest.SourceURL, PDFURL: latest.PDFURL, ReportID: latest.ReportID},
	}
	if latest.StockName != Unknown {
		snap.StockName = latest.StockName
	}

	if len(targets) > 0 {
		sort.Float64s(targets)
		var sum float64
		for _, t := range targets {
			sum += t
		}
		snap.PriceTarget.Low = ptr(targets[0])
		snap.PriceTarget.High = ptr(targets[len(targets)-1])
		snap.PriceTarget.Mean = ptr(sum / float64(len(targets)))
		snap.PriceTarget.Median = ptr(targets[len(targets)/2])
		snap.Valuation.FairValue = ptr(*snap.PriceTarget.Mean)
	}
	return snap, nil
}
