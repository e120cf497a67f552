package job

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/batch"
	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/dispatch"
	"github.com/bookprices/crawler/internal/events"
	"github.com/bookprices/crawler/internal/scraper"
)

// SearchConfig sizes the bookstore search fan-out.
type SearchConfig struct {
	Threads           int
	MinItemsPerThread int
	BatchSize         int
}

// SearchJob looks for books at stores that don't list them yet. A match
// becomes a store listing, which the next price update then picks up.
type SearchJob struct {
	catalog  bookprice.CatalogStore
	scrapers *scraper.Registry
	events   *events.Manager
	cfg      SearchConfig
	logger   *zap.Logger
}

// NewSearchJob builds a SearchJob.
func NewSearchJob(
	catalog bookprice.CatalogStore,
	scrapers *scraper.Registry,
	eventManager *events.Manager,
	cfg SearchConfig,
	logger *zap.Logger,
) *SearchJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = batch.DefaultSize
	}
	return &SearchJob{
		catalog:  catalog,
		scrapers: scrapers,
		events:   eventManager,
		cfg:      cfg,
		logger:   logger,
	}
}

// Name implements Job.
func (*SearchJob) Name() string { return NameSearchBookstores }

// Run searches every searchable store for books it doesn't list yet and
// records the matches, then announces completion so image downloads can
// follow on.
func (j *SearchJob) Run(ctx context.Context, _ bookprice.JobRun) error {
	stores, err := j.catalog.ListBookStores(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	for _, store := range stores {
		if store.SearchURL == "" {
			continue
		}
		if err := j.searchStore(ctx, store); err != nil {
			return fmt.Errorf("search store %s: %w", store.Name, err)
		}
	}
	if err := j.events.Trigger(bookprice.EventBookstoreSearchCompleted, nil); err != nil {
		return fmt.Errorf("search completed event: %w", err)
	}
	return nil
}

func (j *SearchJob) searchStore(ctx context.Context, store bookprice.BookStore) error {
	s := j.scrapers.ForStore(store)
	// Keyset paging: every listing created below shrinks the missing-store
	// result set, so an offset cursor would skip over unsearched books.
	return batch.ProcessKeyset(ctx, j.cfg.BatchSize,
		func(ctx context.Context, afterID int64, limit int) ([]bookprice.Book, error) {
			return j.catalog.BooksMissingStore(ctx, store.ID, afterID, limit)
		},
		func(b bookprice.Book) int64 { return b.ID },
		func(ctx context.Context, books []bookprice.Book) error {
			var matches dispatch.List[bookprice.BookStoreBook]
			dispatch.Run(ctx, dispatch.Config{
				Threads:           j.cfg.Threads,
				MinItemsPerThread: j.cfg.MinItemsPerThread,
			}, books, func(ctx context.Context, book bookprice.Book) {
				j.searchBook(ctx, s, store, book, &matches)
			})
			for _, listing := range matches.Items() {
				if err := j.catalog.CreateStoreListing(ctx, listing); err != nil {
					return fmt.Errorf("create listing: %w", err)
				}
			}
			matches.Reset()
			return nil
		})
}

// searchBook runs inside the worker pool; misses and scrape errors are
// logged and skipped, never fatal.
func (j *SearchJob) searchBook(
	ctx context.Context,
	s scraper.Scraper,
	store bookprice.BookStore,
	book bookprice.Book,
	matches *dispatch.List[bookprice.BookStoreBook],
) {
	match, err := s.FindBook(ctx, book, store)
	if err != nil {
		j.logger.Warn("book search failed",
			zap.Int64("book_id", book.ID),
			zap.String("store", store.Name),
			zap.Error(err),
		)
		return
	}
	if match == nil {
		return
	}
	j.logger.Info("book found at store",
		zap.Int64("book_id", book.ID),
		zap.String("store", store.Name),
		zap.String("url", match.URL),
	)
	matches.Append(bookprice.BookStoreBook{
		BookID:      book.ID,
		BookStoreID: store.ID,
		RelativeURL: relativeURL(store.URL, match.URL),
	})
}

// relativeURL strips the store's base URL so listings survive a store
// domain change. Off-site match URLs are kept absolute.
func relativeURL(base, matched string) string {
	base = strings.TrimRight(base, "/")
	if base != "" && strings.HasPrefix(matched, base) {
		rel := strings.TrimPrefix(matched, base)
		if rel == "" {
			rel = "/"
		}
		return rel
	}
	return matched
}
