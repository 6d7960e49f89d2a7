package market

import "context"

// CandleEvent is one kline update from a live stream. Final marks a
// closed candle; partial updates carry the in-progress bar.
type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
	Final    bool
}

type OpenInterestPoint struct {
	Symbol               string  `json:"symbol"`
	SumOpenInterest      float64 `json:"sumOpenInterest"`
	SumOpenInterestValue float64 `json:"sumOpenInterestValue"`
	Timestamp            int64   `json:"timestamp"`
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source is the live exchange surface the decision loop depends on.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, symbols, intervals []string, opts SubscribeOptions) (<-chan CandleEvent, error)

	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	GetOpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error)

	Stats() SourceStats

	Close() error
}
