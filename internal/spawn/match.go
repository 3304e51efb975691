package spawn

import (
	"strings"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// ParentQuestionFiller replaces {parent_question} in question templates.
const ParentQuestionFiller = "the previous event"

// Matches reports whether cond fires for a market resolved with question and
// winning outcome. Market resolution patterns are case-insensitive substrings;
// an empty pattern matches anything.
func Matches(cond domain.TriggerCondition, question, outcome string) bool {
	switch c := cond.(type) {
	case domain.MarketResolutionTrigger:
		return containsFold(question, c.MarketPattern) && containsFold(outcome, c.OutcomePattern)
	case domain.TimeDelayTrigger:
		return true
	case domain.CustomLogicTrigger:
		return false
	default:
		return false
	}
}

func containsFold(s, pattern string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(pattern))
}

// isImmediate reports whether cond bypasses the pending queue.
func isImmediate(cond domain.TriggerCondition) bool {
	td, ok := cond.(domain.TimeDelayTrigger)
	return ok && td.DelaySeconds == 0
}

// FillTemplate substitutes, in order, {parent_market_id}, {outcome} and
// {parent_question}.
func FillTemplate(tpl, parentMarketID, outcome string) string {
	s := strings.ReplaceAll(tpl, "{parent_market_id}", parentMarketID)
	s = strings.ReplaceAll(s, "{outcome}", outcome)
	return strings.ReplaceAll(s, "{parent_question}", ParentQuestionFiller)
}

// NewCreationRequest builds the request for a child of parentMarketID.
func NewCreationRequest(parentMarketID, outcome string, tpl domain.SpawnTemplate, now time.Time, stake domain.Amount) domain.MarketCreationRequest {
	return domain.MarketCreationRequest{
		ParentMarketID: parentMarketID,
		Question:       FillTemplate(tpl.QuestionTemplate, parentMarketID, outcome),
		Outcomes:       append([]string(nil), tpl.Outcomes...),
		ExpiryTime:     now.Add(tpl.ExpiryOffset()),
		SeedLiquidity:  stake.MulRatioFloor(tpl.SeedLiquidityRatio),
	}
}
