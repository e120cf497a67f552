// Package engine orchestrates the batched price update and the history
// trimming over the data-access, scraper and cache collaborators.
package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/batch"
	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/dispatch"
	"github.com/bookprices/crawler/internal/events"
	"github.com/bookprices/crawler/internal/metrics"
	"github.com/bookprices/crawler/internal/scraper"
)

// UpdateConfig sizes the worker pool and the book id pagination.
type UpdateConfig struct {
	Threads           int
	MinItemsPerThread int
	BatchSize         int
}

// UpdateEngine runs batch fetch -> dispatch -> scrape -> aggregate ->
// persist -> cache invalidation for book prices.
type UpdateEngine struct {
	catalog  bookprice.CatalogStore
	prices   bookprice.PriceStore
	scrapers *scraper.Registry
	cache    bookprice.KeyRemover
	events   *events.Manager
	clock    bookprice.Clock
	cfg      UpdateConfig
	logger   *zap.Logger
}

// NewUpdateEngine constructs an UpdateEngine.
func NewUpdateEngine(
	catalog bookprice.CatalogStore,
	prices bookprice.PriceStore,
	scrapers *scraper.Registry,
	cache bookprice.KeyRemover,
	eventManager *events.Manager,
	clock bookprice.Clock,
	cfg UpdateConfig,
	logger *zap.Logger,
) *UpdateEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = bookprice.SystemClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = batch.DefaultSize
	}
	return &UpdateEngine{
		catalog:  catalog,
		prices:   prices,
		scrapers: scrapers,
		cache:    cache,
		events:   eventManager,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// workUnit is one (book, store) scrape.
type workUnit struct {
	book  bookprice.Book
	store bookprice.BookStore
	url   string
}

// UpdateAllPrices refreshes prices for the whole catalog, paging book ids
// in bounded batches.
func (e *UpdateEngine) UpdateAllPrices(ctx context.Context) error {
	return batch.Process(ctx, e.cfg.BatchSize, e.catalog.ListBookIDs,
		func(ctx context.Context, ids []int64) error {
			return e.UpdatePrices(ctx, ids)
		})
}

// UpdatePrices scrapes current prices for the given books at every store
// they are listed at. Individual scrape failures become failure log rows;
// only structural failures (store or source unreachable) fail the batch.
func (e *UpdateEngine) UpdatePrices(ctx context.Context, bookIDs []int64) error {
	if len(bookIDs) == 0 {
		return nil
	}
	books, err := e.catalog.BooksByIDs(ctx, bookIDs)
	if err != nil {
		return fmt.Errorf("resolve books: %w", err)
	}
	ids := make([]int64, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	listings, err := e.catalog.StoresForBooks(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve store listings: %w", err)
	}

	var units []workUnit
	for _, book := range books {
		for _, listing := range listings[book.ID] {
			units = append(units, workUnit{
				book:  book,
				store: listing.Store,
				url:   fullURL(listing.Store.URL, listing.RelativeURL),
			})
		}
	}
	if len(units) == 0 {
		return nil
	}

	var (
		newPrices dispatch.List[bookprice.BookPrice]
		failures  dispatch.List[bookprice.FailedPriceUpdate]
	)
	dispatch.Run(ctx, dispatch.Config{
		Threads:           e.cfg.Threads,
		MinItemsPerThread: e.cfg.MinItemsPerThread,
	}, units, func(ctx context.Context, unit workUnit) {
		e.scrapeUnit(ctx, unit, &newPrices, &failures)
	})

	if err := e.persist(ctx, &newPrices, &failures); err != nil {
		return err
	}

	if err := e.events.Trigger(bookprice.EventBookPricesUpdated, ids); err != nil {
		return fmt.Errorf("prices updated event: %w", err)
	}
	return nil
}

// scrapeUnit runs inside the worker pool. Every failure is caught here and
// turned into data; nothing propagates to abort the pool.
func (e *UpdateEngine) scrapeUnit(
	ctx context.Context,
	unit workUnit,
	newPrices *dispatch.List[bookprice.BookPrice],
	failures *dispatch.List[bookprice.FailedPriceUpdate],
) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	s := e.scrapers.ForStore(unit.store)
	price, err := s.GetPrice(ctx, unit.url, unit.store)
	if err != nil {
		reason := scraper.ReasonOf(err)
		metrics.ObserveScrape(unit.store.Name, false)
		metrics.ObserveScrapeFailure(string(reason))
		e.logger.Warn("price scrape failed",
			zap.Int64("book_id", unit.book.ID),
			zap.String("store", unit.store.Name),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		failures.Append(bookprice.FailedPriceUpdate{
			BookID:      unit.book.ID,
			BookStoreID: unit.store.ID,
			Reason:      reason,
			Created:     e.clock.Now(),
		})
		return
	}

	metrics.ObserveScrape(unit.store.Name, true)
	newPrices.Append(bookprice.BookPrice{
		BookID:      unit.book.ID,
		BookStoreID: unit.store.ID,
		Price:       price,
		Created:     e.clock.Now(),
	})
}

// persist writes the aggregated results after the pool barrier, then
// invalidates the derived-view caches per updated pair and clears the
// result buffers.
func (e *UpdateEngine) persist(
	ctx context.Context,
	newPrices *dispatch.List[bookprice.BookPrice],
	failures *dispatch.List[bookprice.FailedPriceUpdate],
) error {
	prices := newPrices.Items()
	fails := failures.Items()

	if len(prices) > 0 {
		if err := e.prices.CreatePrices(ctx, prices); err != nil {
			return fmt.Errorf("create prices: %w", err)
		}
		metrics.AddPricesCreated(len(prices))
	}
	if len(fails) > 0 {
		if err := e.prices.CreateFailedUpdates(ctx, fails); err != nil {
			return fmt.Errorf("create failed updates: %w", err)
		}
	}

	seenBooks := make(map[int64]bool, len(prices))
	for _, p := range prices {
		if err := e.cache.RemoveKeysForBookAndStore(ctx, p.BookID, p.BookStoreID); err != nil {
			e.logger.Warn("cache invalidation failed",
				zap.Int64("book_id", p.BookID),
				zap.Int64("store_id", p.BookStoreID),
				zap.Error(err),
			)
		}
		if !seenBooks[p.BookID] {
			seenBooks[p.BookID] = true
			if err := e.cache.RemoveKeysForBook(ctx, p.BookID); err != nil {
				e.logger.Warn("cache invalidation failed",
					zap.Int64("book_id", p.BookID),
					zap.Error(err),
				)
			}
		}
	}
	if len(prices) > 0 {
		if err := e.cache.RemoveKeyForAuthors(ctx); err != nil {
			e.logger.Warn("authors cache invalidation failed", zap.Error(err))
		}
	}

	e.logger.Info("price batch persisted",
		zap.Int("prices", len(prices)),
		zap.Int("failures", len(fails)),
	)
	newPrices.Reset()
	failures.Reset()
	return nil
}

func fullURL(base, rel string) string {
	if rel == "" {
		return base
	}
	if strings.HasPrefix(rel, "http://") || strings.HasPrefix(rel, "https://") {
		return rel
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}
