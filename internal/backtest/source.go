package backtest

import "context"

// FetchRequest describes one remote candle request.
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms, 0 means unbounded
	Limit    int
}

// CandleSource abstracts an exchange or data vendor candle feed.
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Candle, error)
	Name() string
}

// FundingRate is one settled perp funding observation.
type FundingRate struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"`
	Rate   float64 `json:"rate"`
}

// FundingSource is the optional perp-funding capability of a source.
type FundingSource interface {
	FundingHistory(ctx context.Context, symbol string, start, end int64, limit int) ([]FundingRate, error)
}
