package job

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/batch"
	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/scraper"
)

// ImageJob downloads cover images for books that have none, scraping the
// image URL from any store listing whose store has an image selector.
type ImageJob struct {
	catalog  bookprice.CatalogStore
	images   bookprice.ImageStore
	scrapers *scraper.Registry
	cfg      SearchConfig
	logger   *zap.Logger
}

// NewImageJob builds an ImageJob.
func NewImageJob(
	catalog bookprice.CatalogStore,
	images bookprice.ImageStore,
	scrapers *scraper.Registry,
	cfg SearchConfig,
	logger *zap.Logger,
) *ImageJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = batch.DefaultSize
	}
	return &ImageJob{
		catalog:  catalog,
		images:   images,
		scrapers: scrapers,
		cfg:      cfg,
		logger:   logger,
	}
}

// Name implements Job.
func (*ImageJob) Name() string { return NameDownloadImages }

// Run pages books without a cover and fills in what it can. A book with no
// usable listing is skipped, not failed; it gets retried on the next run.
func (j *ImageJob) Run(ctx context.Context, _ bookprice.JobRun) error {
	// Keyset paging: SetBookImage removes books from the missing-image
	// result set mid-job, which an offset cursor would skip over.
	return batch.ProcessKeyset(ctx, j.cfg.BatchSize, j.catalog.BooksMissingImage,
		func(b bookprice.Book) int64 { return b.ID },
		func(ctx context.Context, books []bookprice.Book) error {
			ids := make([]int64, 0, len(books))
			for _, b := range books {
				ids = append(ids, b.ID)
			}
			listings, err := j.catalog.StoresForBooks(ctx, ids)
			if err != nil {
				return fmt.Errorf("resolve store listings: %w", err)
			}
			for _, book := range books {
				j.downloadCover(ctx, book, listings[book.ID])
			}
			return nil
		})
}

func (j *ImageJob) downloadCover(ctx context.Context, book bookprice.Book, listings []bookprice.StoreListing) {
	for _, listing := range listings {
		store := listing.Store
		if store.ImageSelector == "" {
			continue
		}
		pageURL := joinStoreURL(store.URL, listing.RelativeURL)
		imageURL, err := j.scrapers.ForStore(store).FindImageURL(ctx, pageURL, store)
		if err != nil || imageURL == "" {
			if err != nil {
				j.logger.Warn("image scrape failed",
					zap.Int64("book_id", book.ID),
					zap.String("store", store.Name),
					zap.Error(err),
				)
			}
			continue
		}
		filename, err := j.images.Download(ctx, book.ID, imageURL)
		if err != nil {
			j.logger.Warn("image download failed",
				zap.Int64("book_id", book.ID),
				zap.String("url", imageURL),
				zap.Error(err),
			)
			continue
		}
		if err := j.catalog.SetBookImage(ctx, book.ID, filename); err != nil {
			j.logger.Warn("set book image failed",
				zap.Int64("book_id", book.ID),
				zap.Error(err),
			)
			continue
		}
		j.logger.Info("cover image stored",
			zap.Int64("book_id", book.ID),
			zap.String("file", filename),
		)
		return
	}
}

func joinStoreURL(base, rel string) string {
	if rel == "" {
		return base
	}
	if strings.HasPrefix(rel, "http://") || strings.HasPrefix(rel, "https://") {
		return rel
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}
