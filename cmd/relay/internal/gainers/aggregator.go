// Package gainers ranks symbols by intraday percentage move. It prefers the
// live snapshot source and silently falls back to computing from the last
// trading day's grouped aggregates when the snapshot is unavailable or empty.
package gainers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/cache"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/polygon"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/refstore"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/models"
)

// ErrSnapshotUnavailable marks a failed or empty snapshot strategy; the
// aggregator recovers by switching to the grouped strategy.
var ErrSnapshotUnavailable = errors.New("gainers: snapshot unavailable")

// SnapshotSource is the intraday snapshot slice of the market API.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]json.RawMessage, error)
}

// ReferenceSource looks up slow-changing per-symbol metadata.
type ReferenceSource interface {
	TickerDetails(ctx context.Context, symbol string) (*models.Reference, error)
}

// DayWalker resolves the most recent date with grouped data.
type DayWalker interface {
	FindLastTradingDay(ctx context.Context, maxBack int) models.TradingDayResult
	Today() string
}

type Aggregator struct {
	snapshots SnapshotSource
	walker    DayWalker
	logger    *zap.Logger

	refs     ReferenceSource // nil disables enrichment
	refCache *cache.TTL[string, *models.Reference]
	refStore refstore.Store // optional shared tier, may be nil

	maxResults    int
	maxWalkBack   int
	enrichWorkers int
	enrichTTL     time.Duration
}

type Options struct {
	MaxResults    int
	MaxWalkBack   int
	EnrichWorkers int
	EnrichTTL     time.Duration
}

func NewAggregator(
	snapshots SnapshotSource,
	walker DayWalker,
	refs ReferenceSource,
	refCache *cache.TTL[string, *models.Reference],
	refStore refstore.Store,
	opts Options,
	logger *zap.Logger,
) *Aggregator {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 200
	}
	if opts.MaxWalkBack <= 0 {
		opts.MaxWalkBack = 5
	}
	if opts.EnrichWorkers <= 0 {
		opts.EnrichWorkers = 6
	}
	if opts.EnrichTTL <= 0 {
		opts.EnrichTTL = 24 * time.Hour
	}
	return &Aggregator{
		snapshots:     snapshots,
		walker:        walker,
		refs:          refs,
		refCache:      refCache,
		refStore:      refStore,
		maxResults:    opts.MaxResults,
		maxWalkBack:   opts.MaxWalkBack,
		enrichWorkers: opts.EnrichWorkers,
		enrichTTL:     opts.EnrichTTL,
		logger:        logger,
	}
}

// ComputeGainers returns up to limit rows sorted by descending percentage
// move. The two strategies run strictly in order: the grouped fallback only
// starts once the snapshot strategy has failed or produced nothing. Both
// failing surfaces an error; an empty market day does not.
func (a *Aggregator) ComputeGainers(ctx context.Context, limit int) (*models.GainersResponse, error) {
	limit = a.clampLimit(limit)

	resp, err := a.fromSnapshot(ctx, limit)
	if err == nil {
		a.enrich(ctx, resp.Results)
		return resp, nil
	}
	if !errors.Is(err, ErrSnapshotUnavailable) {
		return nil, err
	}
	a.logger.Info("Snapshot strategy unavailable, falling back to grouped aggregates", zap.Error(err))

	resp, err = a.fromGrouped(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("both gainer strategies failed: %w", err)
	}
	a.enrich(ctx, resp.Results)
	return resp, nil
}

func (a *Aggregator) fromSnapshot(ctx context.Context, limit int) (*models.GainersResponse, error) {
	entries, err := a.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}

	date := a.walker.Today()
	rows := make([]models.GainerRow, 0, len(entries))
	for _, raw := range entries {
		st, ok := polygon.Normalize(raw)
		if !ok || st.Ticker == "" {
			continue
		}
		// A percentage move needs both sides of the comparison. Zero-change
		// symbols stay in: only incomputable rows are excluded.
		if st.LastPrice == nil || st.PrevClose == nil || *st.PrevClose <= 0 {
			continue
		}
		open, last := *st.PrevClose, *st.LastPrice
		if !isNumeric(open) || !isNumeric(last) {
			continue
		}
		rows = append(rows, models.GainerRow{
			Ticker:    st.Ticker,
			Open:      open,
			Close:     last,
			Change:    round4(last - open),
			PctChange: round2((last - open) / open * 100),
			Volume:    st.Volume,
			Date:      date,
			Source:    models.SourceSnapshot,
		})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", ErrSnapshotUnavailable)
	}

	sortAndTruncate(&rows, limit)
	return &models.GainersResponse{Date: date, Source: models.SourceSnapshot, Results: rows}, nil
}

func (a *Aggregator) fromGrouped(ctx context.Context, limit int) (*models.GainersResponse, error) {
	day := a.walker.FindLastTradingDay(ctx, a.maxWalkBack)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([]models.GainerRow, 0, len(day.Bars))
	for _, bar := range day.Bars {
		if bar.Open <= 0 || !isNumeric(bar.Open) || !isNumeric(bar.Close) {
			continue
		}
		rows = append(rows, models.GainerRow{
			Ticker:    bar.Ticker,
			Open:      bar.Open,
			Close:     bar.Close,
			Change:    round4(bar.Close - bar.Open),
			PctChange: round2((bar.Close - bar.Open) / bar.Open * 100),
			Volume:    bar.Volume,
			Date:      day.Date,
			Source:    models.SourceGrouped,
		})
	}

	sortAndTruncate(&rows, limit)
	return &models.GainersResponse{Date: day.Date, Source: models.SourceGrouped, Results: rows}, nil
}

func (a *Aggregator) clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > a.maxResults {
		return a.maxResults
	}
	return limit
}

// sortAndTruncate orders rows by descending pctChange. The sort is stable:
// equal moves keep their source order rather than breaking ties on a
// secondary key.
func sortAndTruncate(rows *[]models.GainerRow, limit int) {
	sort.SliceStable(*rows, func(i, j int) bool {
		return (*rows)[i].PctChange > (*rows)[j].PctChange
	})
	if len(*rows) > limit {
		*rows = (*rows)[:limit]
	}
}

func isNumeric(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
