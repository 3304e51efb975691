package market

import "github.com/alanyoungcy/cascademarket/internal/domain"

// Odds returns one row per outcome in outcome order.
//
// With nothing staked every outcome reports odds 1.0. An outcome with no
// stake against a nonzero total reports the sentinel 0.0. Otherwise odds are
// total_staked / outcome_total.
func Odds(m domain.MarketState) []domain.OutcomeOdds {
	rows := make([]domain.OutcomeOdds, 0, len(m.Outcomes))
	for _, o := range m.Outcomes {
		staked := m.OutcomeTotal(o)
		row := domain.OutcomeOdds{Outcome: o, TotalStaked: staked}
		switch {
		case m.TotalStaked.IsZero():
			row.Odds = 1.0
		case staked.IsZero():
			row.Odds = 0.0
		default:
			row.Probability = staked.Ratio(m.TotalStaked)
			row.Odds = m.TotalStaked.Ratio(staked)
		}
		rows = append(rows, row)
	}
	return rows
}

// BetsBy returns the bets placed by bettor, grouped by outcome in outcome
// order and by placement order within an outcome.
func BetsBy(m domain.MarketState, bettor domain.InstanceID) []domain.PlacedBet {
	var out []domain.PlacedBet
	for _, o := range m.Outcomes {
		for _, b := range m.Bets[o] {
			if b.Bettor == bettor {
				out = append(out, domain.PlacedBet{Outcome: o, Bet: b})
			}
		}
	}
	return out
}

// Info returns the registry view of a market hosted on instance.
func Info(m domain.MarketState, instance domain.InstanceID) domain.MarketInfo {
	return domain.MarketInfo{
		MarketID:       m.MarketID,
		Instance:       instance,
		Question:       m.Question,
		Outcomes:       append([]string(nil), m.Outcomes...),
		ExpiryTime:     m.ExpiryTime,
		ParentMarketID: m.ParentMarketID,
		ChildMarkets:   []string{},
		CreatedAt:      m.CreatedAt,
		Creator:        m.Creator,
	}
}
