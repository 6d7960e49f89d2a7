package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"marlin/internal/strategy"
)

// runRecord is the persisted shape of a Run. Config, stats and metrics
// are stored as JSON blobs so the schema survives field additions.
type runRecord struct {
	ID            string `gorm:"primaryKey"`
	Symbol        string `gorm:"index"`
	Profile       string
	Status        string `gorm:"index"`
	StartTS       int64
	EndTS         int64
	ExecutionTF   string
	InitialEquity float64
	FinalEquity   float64
	Profit        float64
	ReturnPct     float64
	WinRate       float64
	MaxDrawdown   float64
	Trades        int
	Message       string
	ConfigJSON    []byte
	StatsJSON     []byte
	MetricsJSON   []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func (runRecord) TableName() string { return "backtest_runs" }

type tradeRecord struct {
	ID           string `gorm:"primaryKey"`
	RunID        string `gorm:"index"`
	Symbol       string
	Strategy     string
	Direction    string
	EntryTime    int64
	ExitTime     int64
	EntryPrice   float64
	ExitPrice    float64
	Quantity     float64
	PnL          float64
	Fees         float64
	ReturnPct    float64
	MFE          float64
	MAE          float64
	BarsHeld     int
	ExitReason   string
	Score        float64
	VerdictsJSON []byte
	EntryEquity  float64
	RiskAmount   float64
}

func (tradeRecord) TableName() string { return "backtest_trades" }

type equityRecord struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"index:idx_equity_run_time"`
	TS     int64  `gorm:"index:idx_equity_run_time"`
	Equity float64
}

func (equityRecord) TableName() string { return "backtest_equity" }

// RunStore persists runs, trades and equity curves in a single sqlite
// file under the data root.
type RunStore struct {
	db   *gorm.DB
	path string
}

func NewRunStore(root string) (*RunStore, error) {
	if root == "" {
		return nil, fmt.Errorf("run store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runRecord{}, &tradeRecord{}, &equityRecord{}); err != nil {
		return nil, err
	}
	return &RunStore{db: db, path: path}, nil
}

func (s *RunStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun writes the initial run row.
func (s *RunStore) InsertRun(ctx context.Context, run Run) error {
	rec, err := toRunRecord(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// UpdateRunSummary stores the terminal status plus headline stats and
// full metrics.
func (s *RunStore) UpdateRunSummary(ctx context.Context, id, status string, stats RunStats, metrics Metrics, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	updates := map[string]any{
		"status":       status,
		"final_equity": stats.FinalEquity,
		"profit":       stats.Profit,
		"return_pct":   stats.ReturnPct,
		"win_rate":     stats.WinRate,
		"max_drawdown": stats.MaxDrawdownPct,
		"trades":       stats.Trades,
		"stats_json":   statsJSON,
		"metrics_json": metricsJSON,
		"message":      message,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		now := time.Now()
		updates["completed_at"] = &now
	}
	return s.db.WithContext(ctx).Model(&runRecord{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateRunStatus updates status and message only.
func (s *RunStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	updates := map[string]any{"status": status, "message": message}
	if status == RunStatusDone || status == RunStatusFailed {
		now := time.Now()
		updates["completed_at"] = &now
	}
	return s.db.WithContext(ctx).Model(&runRecord{}).Where("id = ?", id).Updates(updates).Error
}

// SaveTrades batch-inserts the closed trades of a run.
func (s *RunStore) SaveTrades(ctx context.Context, runID string, trades []Trade) error {
	if len(trades) == 0 {
		return nil
	}
	recs := make([]tradeRecord, 0, len(trades))
	for _, t := range trades {
		verdicts, err := json.Marshal(t.Verdicts)
		if err != nil {
			return err
		}
		recs = append(recs, tradeRecord{
			ID:           t.ID,
			RunID:        runID,
			Symbol:       t.Symbol,
			Strategy:     t.Strategy,
			Direction:    string(t.Direction),
			EntryTime:    t.EntryTime,
			ExitTime:     t.ExitTime,
			EntryPrice:   t.EntryPrice,
			ExitPrice:    t.ExitPrice,
			Quantity:     t.Quantity,
			PnL:          t.PnL,
			Fees:         t.Fees,
			ReturnPct:    t.ReturnPct,
			MFE:          t.MFE,
			MAE:          t.MAE,
			BarsHeld:     t.BarsHeld,
			ExitReason:   string(t.ExitReason),
			Score:        t.Score,
			VerdictsJSON: verdicts,
			EntryEquity:  t.EntryEquity,
			RiskAmount:   t.RiskAmount,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(recs, 200).Error
}

// SaveCurve batch-inserts the equity curve of a run.
func (s *RunStore) SaveCurve(ctx context.Context, runID string, curve []EquityPoint) error {
	if len(curve) == 0 {
		return nil
	}
	recs := make([]equityRecord, 0, len(curve))
	for _, p := range curve {
		recs = append(recs, equityRecord{RunID: runID, TS: p.Time, Equity: p.Equity})
	}
	return s.db.WithContext(ctx).CreateInBatches(recs, 500).Error
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var recs []runRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(recs))
	for _, rec := range recs {
		run, err := fromRunRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (Run, error) {
	var rec runRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return Run{}, err
	}
	return fromRunRecord(rec)
}

// ListTrades returns a run's trades in entry order.
func (s *RunStore) ListTrades(ctx context.Context, runID string, limit int) ([]Trade, error) {
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	var recs []tradeRecord
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("entry_time ASC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(recs))
	for _, rec := range recs {
		t := Trade{
			ID:          rec.ID,
			Symbol:      rec.Symbol,
			Strategy:    rec.Strategy,
			Direction:   parseDirection(rec.Direction),
			EntryTime:   rec.EntryTime,
			ExitTime:    rec.ExitTime,
			EntryPrice:  rec.EntryPrice,
			ExitPrice:   rec.ExitPrice,
			Quantity:    rec.Quantity,
			PnL:         rec.PnL,
			Fees:        rec.Fees,
			ReturnPct:   rec.ReturnPct,
			MFE:         rec.MFE,
			MAE:         rec.MAE,
			BarsHeld:    rec.BarsHeld,
			ExitReason:  ExitReason(rec.ExitReason),
			Score:       rec.Score,
			EntryEquity: rec.EntryEquity,
			RiskAmount:  rec.RiskAmount,
		}
		if len(rec.VerdictsJSON) > 0 {
			if err := json.Unmarshal(rec.VerdictsJSON, &t.Verdicts); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// ListCurve returns a run's equity curve ascending.
func (s *RunStore) ListCurve(ctx context.Context, runID string, limit int) ([]EquityPoint, error) {
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	var recs []equityRecord
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("ts ASC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]EquityPoint, 0, len(recs))
	for _, rec := range recs {
		out = append(out, EquityPoint{Time: rec.TS, Equity: rec.Equity})
	}
	return out, nil
}

func parseDirection(s string) strategy.Direction {
	if s == string(strategy.Short) {
		return strategy.Short
	}
	return strategy.Long
}

func toRunRecord(run Run) (runRecord, error) {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return runRecord{}, err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return runRecord{}, err
	}
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return runRecord{}, err
	}
	rec := runRecord{
		ID:            run.ID,
		Symbol:        run.Symbol,
		Profile:       run.Profile,
		Status:        run.Status,
		StartTS:       run.StartTS,
		EndTS:         run.EndTS,
		ExecutionTF:   run.ExecutionTimeframe,
		InitialEquity: run.InitialEquity,
		FinalEquity:   run.FinalEquity,
		Profit:        run.Profit,
		ReturnPct:     run.ReturnPct,
		WinRate:       run.WinRate,
		MaxDrawdown:   run.MaxDrawdownPct,
		Trades:        run.Trades,
		Message:       run.Message,
		ConfigJSON:    cfgJSON,
		StatsJSON:     statsJSON,
		MetricsJSON:   metricsJSON,
	}
	if !run.CompletedAt.IsZero() {
		t := run.CompletedAt
		rec.CompletedAt = &t
	}
	return rec, nil
}

func fromRunRecord(rec runRecord) (Run, error) {
	run := Run{
		ID:                 rec.ID,
		Symbol:             rec.Symbol,
		Profile:            rec.Profile,
		Status:             rec.Status,
		StartTS:            rec.StartTS,
		EndTS:              rec.EndTS,
		ExecutionTimeframe: rec.ExecutionTF,
		InitialEquity:      rec.InitialEquity,
		FinalEquity:        rec.FinalEquity,
		Profit:             rec.Profit,
		ReturnPct:          rec.ReturnPct,
		WinRate:            rec.WinRate,
		MaxDrawdownPct:     rec.MaxDrawdown,
		Trades:             rec.Trades,
		Message:            rec.Message,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
	if rec.CompletedAt != nil {
		run.CompletedAt = *rec.CompletedAt
	}
	if len(rec.ConfigJSON) > 0 {
		if err := json.Unmarshal(rec.ConfigJSON, &run.Config); err != nil {
			return Run{}, err
		}
	}
	if len(rec.StatsJSON) > 0 {
		if err := json.Unmarshal(rec.StatsJSON, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	if len(rec.MetricsJSON) > 0 {
		if err := json.Unmarshal(rec.MetricsJSON, &run.Metrics); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}
