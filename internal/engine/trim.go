package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/batch"
	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/metrics"
)

// DefaultMinPricesToKeep is the floor below which a (book, store) price
// history is never trimmed.
const DefaultMinPricesToKeep = 10

// TrimConfig sizes the trim sweep.
type TrimConfig struct {
	MinPricesToKeep int
	BatchSize       int
}

// TrimEngine compacts price histories by deleting rows that repeat the
// value of the newer row preceding them.
type TrimEngine struct {
	catalog bookprice.CatalogStore
	prices  bookprice.PriceStore
	cache   bookprice.KeyRemover
	cfg     TrimConfig
	logger  *zap.Logger
}

// NewTrimEngine constructs a TrimEngine.
func NewTrimEngine(
	catalog bookprice.CatalogStore,
	prices bookprice.PriceStore,
	cache bookprice.KeyRemover,
	cfg TrimConfig,
	logger *zap.Logger,
) *TrimEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinPricesToKeep <= 0 {
		cfg.MinPricesToKeep = DefaultMinPricesToKeep
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = batch.DefaultSize
	}
	return &TrimEngine{
		catalog: catalog,
		prices:  prices,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
	}
}

// Compact walks a price history from newest to oldest and returns the ids
// of rows that merely repeat the price of the row kept before them. The
// newest row of every run survives, and deletion stops once only floor
// rows would remain, so histories at or below the floor are untouched.
func Compact(prices []bookprice.BookPrice, floor int) []int64 {
	if len(prices) <= floor {
		return nil
	}
	var deletable []int64
	last := prices[0].Price
	for _, p := range prices[1:] {
		if p.Price == last && len(prices)-len(deletable) > floor {
			deletable = append(deletable, p.ID)
			continue
		}
		last = p.Price
	}
	return deletable
}

// TrimAll sweeps every (book, store) pairing in the catalog and deletes
// redundant history rows, invalidating the pair caches it touched.
func (e *TrimEngine) TrimAll(ctx context.Context) error {
	return batch.Process(ctx, e.cfg.BatchSize, e.catalog.ListBookIDs,
		func(ctx context.Context, ids []int64) error {
			return e.trimBatch(ctx, ids)
		})
}

func (e *TrimEngine) trimBatch(ctx context.Context, bookIDs []int64) error {
	listings, err := e.catalog.StoresForBooks(ctx, bookIDs)
	if err != nil {
		return fmt.Errorf("resolve store listings: %w", err)
	}
	for bookID, stores := range listings {
		for _, listing := range stores {
			if err := e.trimPair(ctx, bookID, listing.Store.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *TrimEngine) trimPair(ctx context.Context, bookID, storeID int64) error {
	history, err := e.prices.PricesForBookAndStore(ctx, bookID, storeID)
	if err != nil {
		return fmt.Errorf("load prices for book %d store %d: %w", bookID, storeID, err)
	}
	deletable := Compact(history, e.cfg.MinPricesToKeep)
	if len(deletable) == 0 {
		return nil
	}
	if err := e.prices.DeletePrices(ctx, deletable); err != nil {
		return fmt.Errorf("delete prices for book %d store %d: %w", bookID, storeID, err)
	}
	metrics.AddPricesTrimmed(len(deletable))
	if err := e.cache.RemoveKeysForBookAndStore(ctx, bookID, storeID); err != nil {
		e.logger.Warn("cache invalidation failed",
			zap.Int64("book_id", bookID),
			zap.Int64("store_id", storeID),
			zap.Error(err),
		)
	}
	e.logger.Debug("price history trimmed",
		zap.Int64("book_id", bookID),
		zap.Int64("store_id", storeID),
		zap.Int("deleted", len(deletable)),
	)
	return nil
}
