package spawn

import "github.com/alanyoungcy/cascademarket/internal/domain"

const day = 24 * 60 * 60

// DefaultRules returns the rules installed on initialization when the
// configuration supplies none.
func DefaultRules() []domain.SpawnRule {
	return []domain.SpawnRule{
		{
			RuleID: "political_consequences",
			TriggerCondition: domain.Trigger{Condition: domain.MarketResolutionTrigger{
				MarketPattern: "election",
			}},
			SpawnTemplate: domain.SpawnTemplate{
				QuestionTemplate: "What will be the economic impact of {outcome}?",
				Outcomes: []string{
					"Significant positive impact",
					"Moderate positive impact",
					"No significant impact",
					"Moderate negative impact",
					"Significant negative impact",
				},
				ExpiryOffsetSeconds: 30 * day,
				SeedLiquidityRatio:  0.1,
			},
			Active: true,
		},
		{
			RuleID: "sports_aftermath",
			TriggerCondition: domain.Trigger{Condition: domain.MarketResolutionTrigger{
				MarketPattern: "championship",
			}},
			SpawnTemplate: domain.SpawnTemplate{
				QuestionTemplate: "How will {outcome} affect team performance next season?",
				Outcomes: []string{
					"Significantly better",
					"Slightly better",
					"No change",
					"Slightly worse",
					"Significantly worse",
				},
				ExpiryOffsetSeconds: 90 * day,
				SeedLiquidityRatio:  0.05,
			},
			Active: true,
		},
	}
}
