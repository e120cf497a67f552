package job

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/bookprice"
)

// DefaultFailureThreshold is how many consecutive not-found failures mark a
// listing as dead.
const DefaultFailureThreshold = 3

// CleanupJob removes listings that keep answering 404: when a (book, store)
// pair accumulates enough PAGE_NOT_FOUND failures since its last successful
// price, the book is treated as no longer sold there and the pair's
// listing, price history and failure log are dropped.
type CleanupJob struct {
	catalog   bookprice.CatalogStore
	prices    bookprice.PriceStore
	cache     bookprice.KeyRemover
	threshold int
	logger    *zap.Logger
}

// NewCleanupJob builds a CleanupJob. A non-positive threshold falls back to
// the default.
func NewCleanupJob(
	catalog bookprice.CatalogStore,
	prices bookprice.PriceStore,
	cache bookprice.KeyRemover,
	threshold int,
	logger *zap.Logger,
) *CleanupJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &CleanupJob{
		catalog:   catalog,
		prices:    prices,
		cache:     cache,
		threshold: threshold,
		logger:    logger,
	}
}

// Name implements Job.
func (*CleanupJob) Name() string { return NameCleanupFailed }

// Run drops every pair past the failure threshold.
func (j *CleanupJob) Run(ctx context.Context, _ bookprice.JobRun) error {
	pairs, err := j.prices.FailedPairs(ctx, bookprice.ReasonPageNotFound, j.threshold)
	if err != nil {
		return fmt.Errorf("find failed pairs: %w", err)
	}
	for _, pair := range pairs {
		if err := j.removePair(ctx, pair); err != nil {
			return err
		}
	}
	return nil
}

func (j *CleanupJob) removePair(ctx context.Context, pair bookprice.BookStorePair) error {
	history, err := j.prices.PricesForBookAndStore(ctx, pair.BookID, pair.BookStoreID)
	if err != nil {
		return fmt.Errorf("load prices for book %d store %d: %w", pair.BookID, pair.BookStoreID, err)
	}
	if len(history) > 0 {
		ids := make([]int64, 0, len(history))
		for _, p := range history {
			ids = append(ids, p.ID)
		}
		if err := j.prices.DeletePrices(ctx, ids); err != nil {
			return fmt.Errorf("delete prices: %w", err)
		}
	}
	if err := j.prices.DeleteFailedUpdates(ctx, pair.BookID, pair.BookStoreID); err != nil {
		return fmt.Errorf("delete failure log: %w", err)
	}
	if err := j.catalog.DeleteStoreListing(ctx, pair.BookID, pair.BookStoreID); err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	if err := j.cache.RemoveKeysForBookAndStore(ctx, pair.BookID, pair.BookStoreID); err != nil {
		j.logger.Warn("cache invalidation failed",
			zap.Int64("book_id", pair.BookID),
			zap.Int64("store_id", pair.BookStoreID),
			zap.Error(err),
		)
	}
	if err := j.cache.RemoveKeysForBook(ctx, pair.BookID); err != nil {
		j.logger.Warn("cache invalidation failed",
			zap.Int64("book_id", pair.BookID),
			zap.Error(err),
		)
	}
	j.logger.Info("dead listing removed",
		zap.Int64("book_id", pair.BookID),
		zap.Int64("store_id", pair.BookStoreID),
	)
	return nil
}
