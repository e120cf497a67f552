package bookprice

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by all persistence implementations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict indicates a stale-version status update; another
	// runner instance already owns the run.
	ErrVersionConflict = errors.New("job run version conflict")
)

// CatalogStore is the data-access collaborator for books, stores and their
// associations.
type CatalogStore interface {
	BooksByIDs(ctx context.Context, ids []int64) ([]Book, error)
	ListBookIDs(ctx context.Context, offset, limit int) ([]int64, error)
	ListBookStores(ctx context.Context) ([]BookStore, error)
	// StoresForBooks resolves the listings for each book in one fan-out query.
	StoresForBooks(ctx context.Context, bookIDs []int64) (map[int64][]StoreListing, error)
	// BooksMissingStore pages books that have no listing at the given
	// store, by ascending book id greater than afterID. Keyset pagination:
	// the search job removes books from this result set as it creates
	// listings, which an advancing offset would skip over.
	BooksMissingStore(ctx context.Context, storeID, afterID int64, limit int) ([]Book, error)
	// BooksMissingImage pages books without a cover, by ascending book id
	// greater than afterID, for the same reason.
	BooksMissingImage(ctx context.Context, afterID int64, limit int) ([]Book, error)
	CreateStoreListing(ctx context.Context, listing BookStoreBook) error
	DeleteStoreListing(ctx context.Context, bookID, storeID int64) error
	SetBookImage(ctx context.Context, bookID int64, imageURL string) error
}

// PriceStore is the data-access collaborator for price history and the
// failure log. Prices are append-only: create and bulk delete only.
type PriceStore interface {
	CreatePrices(ctx context.Context, prices []BookPrice) error
	// PricesForBookAndStore returns history ordered newest first.
	PricesForBookAndStore(ctx context.Context, bookID, storeID int64) ([]BookPrice, error)
	DeletePrices(ctx context.Context, ids []int64) error
	CreateFailedUpdates(ctx context.Context, fails []FailedPriceUpdate) error
	// FailedPairs returns pairs that accumulated at least minCount failures
	// with the given reason since their last successful price.
	FailedPairs(ctx context.Context, reason FailedReason, minCount int) ([]BookStorePair, error)
	DeleteFailedUpdates(ctx context.Context, bookID, storeID int64) error
}

// KeyRemover invalidates cached derived views. Best effort: failures are
// logged by callers and never fail a job.
type KeyRemover interface {
	RemoveKeysForBook(ctx context.Context, bookID int64) error
	RemoveKeysForBookAndStore(ctx context.Context, bookID, storeID int64) error
	RemoveKeyForAuthors(ctx context.Context) error
}

// ImageStore downloads a remote cover image and returns the stored filename.
// File management is behind this interface; the engine only triggers it.
type ImageStore interface {
	Download(ctx context.Context, bookID int64, imageURL string) (string, error)
}

// RunSource is what the runner polls: the single highest-priority pending
// run, plus the compare-and-set status transition.
type RunSource interface {
	NextPendingRun(ctx context.Context) (*JobRun, error)
	UpdateRunStatus(ctx context.Context, update RunStatusUpdate) error
}

// RunCreator enqueues new runs; used by the scheduler and event listeners.
type RunCreator interface {
	CreateRun(ctx context.Context, run JobRun) error
	ListJobs(ctx context.Context) ([]JobDefinition, error)
}

// JobRunStore is the full persistence surface behind the job-run API.
type JobRunStore interface {
	RunSource
	RunCreator
	GetRun(ctx context.Context, id string) (JobRun, error)
	ListRuns(ctx context.Context, status JobRunStatus, limit int) ([]JobRun, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// SystemClock is the real Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
