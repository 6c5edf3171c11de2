// Package scoring 把单篇分析师报告转换为可比较的交易信号分数
package scoring

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/RecoveryAshes/AnalystCrawl/internal/models"
)

const (
	// 意见基础分
	buyScore  = 2.0
	sellScore = -2.0

	// 目标价相对上一篇报告的变化
	targetUp   = 1.0
	targetDown = -1.0

	recentDays   = 7
	recentWeight = 1.5
	normalWeight = 1.0

	// historyDays 每只股票保留的历史天数
	historyDays = 30
)

// ErrNoDate 报告缺少发布日期,无法计算时间权重
var ErrNoDate = errors.New("报告缺少发布日期")

type entry struct {
	date    time.Time
	target  *int64
	opinion models.Opinion
}

// Consensus 某只股票最近N天的评分汇总
type Consensus struct {
	StockCode    string  `json:"stock_code"`
	TotalScore   float64 `json:"total_score"`
	AverageScore float64 `json:"average_score"`
	ReportCount  int     `json:"report_count"`
	BuyCount     int     `json:"buy_count"`
	HoldCount    int     `json:"hold_count"`
	SellCount    int     `json:"sell_count"`
	Upgrades     int     `json:"recent_upgrades"`
	Downgrades   int     `json:"recent_downgrades"`
}

// Scorer 报告评分器,按股票保存最近30天的意见与目标价历史
//
// 最终分 = (意见分 + 目标价变化分) × 时间权重
type Scorer struct {
	mu      sync.Mutex
	history map[string][]entry
	now     func() time.Time
}

// NewScorer 创建评分器
func NewScorer() *Scorer {
	return &Scorer{
		history: make(map[string][]entry),
		now:     time.Now,
	}
}

// SetClock 替换时钟 (测试用)
func (s *Scorer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ScoreReport 为单篇报告评分,并把它加入该股票的历史
func (s *Scorer) ScoreReport(meta models.ReportMetadata) (models.ReportScore, error) {
	if meta.PublishedDate == nil {
		return models.ReportScore{}, ErrNoDate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	published := *meta.PublishedDate

	base := opinionScore(meta.Opinion)
	change := targetChange(meta.TargetPrice, s.history[meta.StockCode])
	weight := timeWeight(now.Sub(published))

	s.history[meta.StockCode] = append(s.history[meta.StockCode], entry{
		date:    published,
		target:  meta.TargetPrice,
		opinion: meta.Opinion,
	})
	s.prune(meta.StockCode, now)

	return models.ReportScore{
		ReportID:     meta.ReportID,
		StockCode:    meta.StockCode,
		OpinionScore: base,
		ChangeScore:  change,
		TimeWeight:   weight,
		FinalScore:   (base + change) * weight,
	}, nil
}

// ScoreReports 按股票分组、按发布日期升序评分,使同一批次中较早的报告成为较晚报告的比较基准
// 缺少日期的报告被跳过
func (s *Scorer) ScoreReports(reports []models.ReportMetadata) []models.ReportScore {
	dated := make([]models.ReportMetadata, 0, len(reports))
	for _, r := range reports {
		if r.PublishedDate != nil {
			dated = append(dated, r)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		if dated[i].StockCode != dated[j].StockCode {
			return dated[i].StockCode < dated[j].StockCode
		}
		return dated[i].PublishedDate.Before(*dated[j].PublishedDate)
	})

	scores := make([]models.ReportScore, 0, len(dated))
	for _, r := range dated {
		score, err := s.ScoreReport(r)
		if err != nil {
			continue
		}
		scores = append(scores, score)
	}
	return scores
}

// StockConsensusScore 最近 days 天内该股票的意见分合计与目标价上调/下调次数
func (s *Scorer) StockConsensusScore(code string, days int) Consensus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := Consensus{StockCode: code}
	cutoff := s.now().AddDate(0, 0, -days)

	var recent []entry
	for _, e := range s.history[code] {
		if !e.date.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	if len(recent) == 0 {
		return result
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].date.Before(recent[j].date) })

	var previous *int64
	for _, e := range recent {
		result.TotalScore += opinionScore(e.opinion)
		switch e.opinion.Simple() {
		case "buy":
			result.BuyCount++
		case "sell":
			result.SellCount++
		default:
			result.HoldCount++
		}

		if previous != nil && e.target != nil {
			if *e.target > *previous {
				result.Upgrades++
			} else if *e.target < *previous {
				result.Downgrades++
			}
		}
		previous = e.target
	}

	result.ReportCount = len(recent)
	result.AverageScore = result.TotalScore / float64(len(recent))
	return result
}

// History 该股票当前保留的历史条数
func (s *Scorer) History(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[code])
}

func (s *Scorer) prune(code string, now time.Time) {
	cutoff := now.AddDate(0, 0, -historyDays)
	kept := s.history[code][:0]
	for _, e := range s.history[code] {
		if !e.date.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	s.history[code] = kept
}

func opinionScore(op models.Opinion) float64 {
	switch op.Simple() {
	case "buy":
		return buyScore
	case "sell":
		return sellScore
	default:
		return 0
	}
}

// targetChange 与最近一篇带目标价的历史报告比较
func targetChange(current *int64, previous []entry) float64 {
	if current == nil || *current <= 0 || len(previous) == 0 {
		return 0
	}

	var latest *entry
	for i := range previous {
		e := &previous[i]
		if e.target == nil {
			continue
		}
		if latest == nil || e.date.After(latest.date) {
			latest = e
		}
	}
	if latest == nil {
		return 0
	}

	switch {
	case *current > *latest.target:
		return targetUp
	case *current < *latest.target:
		return targetDown
	default:
		return 0
	}
}

func timeWeight(age time.Duration) float64 {
	if int(age.Hours()/24) <= recentDays {
		return recentWeight
	}
	return normalWeight
}
