package backtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// BinanceSource pulls USDT-perp candles from the Binance futures REST
// API (/fapi/v1/klines) and funding history from /fapi/v1/fundingRate.
type BinanceSource struct {
	baseURL string
	client  *http.Client
}

func NewBinanceSource(base string) *BinanceSource {
	if base == "" {
		base = "https://fapi.binance.com"
	}
	return &BinanceSource{
		baseURL: base,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval required")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1500 {
		limit = 1000
	}
	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("interval", req.Interval)
	q.Set("limit", strconv.Itoa(limit))
	if req.Start > 0 {
		q.Set("startTime", strconv.FormatInt(req.Start, 10))
	}
	if req.End > 0 {
		q.Set("endTime", strconv.FormatInt(req.End, 10))
	}
	body, err := b.get(ctx, "/fapi/v1/klines", q)
	if err != nil {
		return nil, err
	}
	// Klines arrive as positional arrays:
	// [openTime, open, high, low, close, volume, closeTime, quoteVol, trades, ...]
	rows := gjson.ParseBytes(body).Array()
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		cols := row.Array()
		if len(cols) < 9 {
			continue
		}
		out = append(out, Candle{
			OpenTime:  cols[0].Int(),
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
			Volume:    cols[5].Float(),
			CloseTime: cols[6].Int(),
			Trades:    cols[8].Int(),
		})
	}
	return out, nil
}

// FundingHistory returns settled funding rates ascending by time.
func (b *BinanceSource) FundingHistory(ctx context.Context, symbol string, start, end int64, limit int) ([]FundingRate, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(limit))
	if start > 0 {
		q.Set("startTime", strconv.FormatInt(start, 10))
	}
	if end > 0 {
		q.Set("endTime", strconv.FormatInt(end, 10))
	}
	body, err := b.get(ctx, "/fapi/v1/fundingRate", q)
	if err != nil {
		return nil, err
	}
	rows := gjson.ParseBytes(body).Array()
	out := make([]FundingRate, 0, len(rows))
	for _, row := range rows {
		out = append(out, FundingRate{
			Symbol: row.Get("symbol").String(),
			Time:   row.Get("fundingTime").Int(),
			Rate:   row.Get("fundingRate").Float(),
		})
	}
	return out, nil
}

func (b *BinanceSource) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("binance status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
