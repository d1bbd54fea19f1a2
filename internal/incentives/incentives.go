// Package incentives ranks market makers by trading volume and quote
// activity, exposed read-only for the operator leaderboard.
package incentives

import (
	"sort"

	"fenrir-perp/internal/common"
	"github.com/shopspring/decimal"
)

var pointsPerThousandVolume = decimal.NewFromInt(10)

// FillRecord is one matched AcceptedMatch attributed to an MM.
type FillRecord struct {
	MMAgent      common.AgentId
	NotionalUSDC common.Price
}

// QuoteRecord is one Quote an MM submitted, matched or not.
type QuoteRecord struct {
	MMAgent common.AgentId
}

// Stats is a market maker's leaderboard row.
type Stats struct {
	AgentID      common.AgentId
	TotalVolume  common.Price
	TotalQuotes  int64
	FilledQuotes int64
	TotalPoints  common.Price
	Rank         int
}

func (s Stats) FillRate() float64 {
	if s.TotalQuotes == 0 {
		return 0
	}
	return float64(s.FilledQuotes) / float64(s.TotalQuotes)
}

// Leaderboard aggregates fills and quotes into ranked Stats: 10 points per
// $1k of matched volume plus 1 point per quote submitted, sorted by points
// descending with 1-based rank.
func Leaderboard(fills []FillRecord, quotes []QuoteRecord) []Stats {
	byAgent := make(map[common.AgentId]*Stats)

	get := func(agent common.AgentId) *Stats {
		s, ok := byAgent[agent]
		if !ok {
			s = &Stats{AgentID: agent, TotalVolume: common.Zero, TotalPoints: common.Zero}
			byAgent[agent] = s
		}
		return s
	}

	for _, f := range fills {
		s := get(f.MMAgent)
		s.TotalVolume = s.TotalVolume.Add(f.NotionalUSDC)
		s.FilledQuotes++
		s.TotalPoints = s.TotalPoints.Add(f.NotionalUSDC.Div(decimal.NewFromInt(1000)).Mul(pointsPerThousandVolume))
	}

	for _, q := range quotes {
		s := get(q.MMAgent)
		s.TotalQuotes++
		s.TotalPoints = s.TotalPoints.Add(common.One)
	}

	result := make([]Stats, 0, len(byAgent))
	for _, s := range byAgent {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TotalPoints.GreaterThan(result[j].TotalPoints)
	})
	for i := range result {
		result[i].Rank = i + 1
	}
	return result
}
