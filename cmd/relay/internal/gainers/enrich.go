package gainers

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/models"
)

// enrich fills in sector and market cap for each row, in place. Lookups go
// through the in-process TTL cache, then the shared store if configured, and
// only then upstream. In-flight upstream calls are capped at enrichWorkers to
// respect upstream rate limits. One symbol failing leaves that row bare and
// the rest untouched.
func (a *Aggregator) enrich(ctx context.Context, rows []models.GainerRow) {
	if a.refs == nil || len(rows) == 0 {
		return
	}

	sem := make(chan struct{}, a.enrichWorkers)
	var wg sync.WaitGroup

	for i := range rows {
		wg.Add(1)
		go func(row *models.GainerRow) {
			defer wg.Done()

			ref, err := a.lookupReference(ctx, row.Ticker, sem)
			if err != nil {
				a.logger.Debug("Enrichment lookup failed",
					zap.String("ticker", row.Ticker), zap.Error(err))
				return
			}
			row.Sector = ref.Sector
			row.MarketCap = ref.MarketCap
		}(&rows[i])
	}
	wg.Wait()
}

func (a *Aggregator) lookupReference(ctx context.Context, symbol string, sem chan struct{}) (*models.Reference, error) {
	if ref, ok := a.refCache.Get(symbol); ok {
		return ref, nil
	}

	if a.refStore != nil {
		if ref, err := a.refStore.Get(ctx, symbol); err == nil {
			a.refCache.Set(symbol, ref, a.enrichTTL)
			return ref, nil
		}
	}

	// Only the upstream call counts against the concurrency bound; cache
	// hits above return without touching the semaphore.
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	ref, err := a.refs.TickerDetails(ctx, symbol)
	if err != nil {
		return nil, err
	}

	a.refCache.Set(symbol, ref, a.enrichTTL)
	if a.refStore != nil {
		if err := a.refStore.Set(ctx, symbol, ref); err != nil {
			a.logger.Debug("Reference store write failed",
				zap.String("ticker", symbol), zap.Error(err))
		}
	}
	return ref, nil
}
