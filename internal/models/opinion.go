package models

import "strings"

// Opinion 标准化后的投资意见
type Opinion string

const (
	OpinionStrongBuy  Opinion = "STRONG_BUY"
	OpinionBuy        Opinion = "BUY"
	OpinionHold       Opinion = "HOLD"
	OpinionSell       Opinion = "SELL"
	OpinionStrongSell Opinion = "STRONG_SELL"
)

// 关键字按检查顺序排列: 强烈意见必须先于普通意见,
// 否则 "강력 매수" 会先命中 "매수"
var opinionKeywords = []struct {
	opinion  Opinion
	keywords []string
}{
	{OpinionStrongBuy, []string{"매수(강력)", "적극 매수", "적극매수", "강력 매수", "강력매수", "strongbuy", "strong buy"}},
	{OpinionStrongSell, []string{"매도(강력)", "강력 매도", "강력매도", "strongsell", "strong sell"}},
	{OpinionBuy, []string{"매수", "buy", "비중확대", "outperform", "overweight"}},
	{OpinionSell, []string{"매도", "sell", "비중축소", "underperform", "underweight"}},
	{OpinionHold, []string{"중립", "보유", "시장수익률", "hold", "neutral", "marketperform", "market perform"}},
}

// MatchOpinion 在文本中查找投资意见关键字,未命中返回 false
func MatchOpinion(text string) (Opinion, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, group := range opinionKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.opinion, true
			}
		}
	}
	return "", false
}

// NormalizeOpinion 将任意意见文本映射到五档意见,无法识别时为 HOLD
func NormalizeOpinion(text string) Opinion {
	if op, ok := MatchOpinion(text); ok {
		return op
	}
	return OpinionHold
}

// Simple 三档意见 (buy/hold/sell),评分使用
func (o Opinion) Simple() string {
	switch o {
	case OpinionStrongBuy, OpinionBuy:
		return "buy"
	case OpinionStrongSell, OpinionSell:
		return "sell"
	default:
		return "hold"
	}
}

// Label 快照中使用的评级文本
func (o Opinion) Label() string {
	switch o {
	case OpinionStrongBuy:
		return "Strong Buy"
	case OpinionBuy:
		return "Buy"
	case OpinionSell:
		return "Sell"
	case OpinionStrongSell:
		return "Strong Sell"
	default:
		return "Hold"
	}
}

// Weight 共识评分权重: 2/1/0/-1/-2
func (o Opinion) Weight() int {
	switch o {
	case OpinionStrongBuy:
		return 2
	case OpinionBuy:
		return 1
	case OpinionSell:
		return -1
	case OpinionStrongSell:
		return -2
	default:
		return 0
	}
}
