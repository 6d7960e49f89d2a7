package backtest

import (
	"sort"

	"marlin/internal/market/state"
)

// Perp funding settles every 8 hours on the venues we replay.
const fundingIntervalMillis = 8 * 60 * 60 * 1000

// HistoricalFundingFeed replays settled funding rates causally: At(now)
// only ever surfaces the newest rate settled at or before now.
type HistoricalFundingFeed struct {
	rates []FundingRate
}

func NewHistoricalFundingFeed(rates []FundingRate) *HistoricalFundingFeed {
	sorted := append([]FundingRate(nil), rates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	return &HistoricalFundingFeed{rates: sorted}
}

// At implements FundingFeed.
func (f *HistoricalFundingFeed) At(now int64) state.Funding {
	idx := sort.Search(len(f.rates), func(i int) bool { return f.rates[i].Time > now })
	if idx == 0 {
		return state.Funding{}
	}
	last := f.rates[idx-1]
	return state.Funding{
		Rate:     last.Rate,
		NextTime: last.Time + fundingIntervalMillis,
	}
}
