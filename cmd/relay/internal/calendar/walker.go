// Package calendar resolves the most recent date with published market-wide
// aggregate data by probing backward from "today" in the exchange's time zone.
package calendar

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/models"
)

const dateLayout = "2006-01-02"

// GroupedFetcher is the slice of the market API the walker needs.
type GroupedFetcher interface {
	GroupedDaily(ctx context.Context, date string) ([]models.GroupedBar, error)
}

type Walker struct {
	fetcher GroupedFetcher
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
}

// NewWalker builds a walker pinned to the exchange's local calendar. Dates are
// always computed in America/New_York so a host running in UTC does not probe
// tomorrow shortly after midnight.
func NewWalker(fetcher GroupedFetcher, logger *zap.Logger) *Walker {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// The tzdata bundle is a build-time concern; UTC keeps us running.
		logger.Warn("Failed to load exchange time zone, falling back to UTC", zap.Error(err))
		loc = time.UTC
	}
	return &Walker{fetcher: fetcher, loc: loc, logger: logger, now: time.Now}
}

// SetClock overrides the time source for tests.
func (w *Walker) SetClock(now func() time.Time) { w.now = now }

// Today returns the current date in the exchange's local calendar.
func (w *Walker) Today() string {
	return w.now().In(w.loc).Format(dateLayout)
}

// FindLastTradingDay probes grouped aggregates starting at today and stepping
// back one calendar day at a time, up to maxBack attempts. It returns the
// first date with data. If every probe is empty (or fails), it returns
// yesterday's date with no bars; callers treat that as "no data available",
// not as an error.
func (w *Walker) FindLastTradingDay(ctx context.Context, maxBack int) models.TradingDayResult {
	today := w.now().In(w.loc)
	fallback := models.TradingDayResult{Date: today.AddDate(0, 0, -1).Format(dateLayout)}

	for i := 0; i < maxBack; i++ {
		if err := ctx.Err(); err != nil {
			w.logger.Debug("Trading day walk canceled", zap.Error(err))
			return fallback
		}
		candidate := today.AddDate(0, 0, -i).Format(dateLayout)

		bars, err := w.fetcher.GroupedDaily(ctx, candidate)
		if err != nil {
			w.logger.Warn("Grouped aggregates probe failed",
				zap.String("date", candidate), zap.Error(err))
			continue
		}
		if len(bars) > 0 {
			w.logger.Debug("Found trading day",
				zap.String("date", candidate), zap.Int("bars", len(bars)))
			return models.TradingDayResult{Date: candidate, Bars: bars}
		}
	}

	w.logger.Warn("No trading day with data within walk-back horizon",
		zap.Int("max_back", maxBack), zap.String("fallback_date", fallback.Date))
	return fallback
}
