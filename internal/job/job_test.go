package job

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/scraper"
)

// fakeScraper answers from fixed fields and records the books it searched.
type fakeScraper struct {
	mu       sync.Mutex
	match    *scraper.Match
	matchErr error
	imageURL string
	imageErr error
	price    float64
	priceErr error
	searched []int64
}

func (f *fakeScraper) FindBook(_ context.Context, book bookprice.Book, _ bookprice.BookStore) (*scraper.Match, error) {
	f.mu.Lock()
	f.searched = append(f.searched, book.ID)
	f.mu.Unlock()
	return f.match, f.matchErr
}

func (f *fakeScraper) GetPrice(context.Context, string, bookprice.BookStore) (float64, error) {
	return f.price, f.priceErr
}

func (f *fakeScraper) FindImageURL(context.Context, string, bookprice.BookStore) (string, error) {
	return f.imageURL, f.imageErr
}

// recordingKeyRemover records invalidation calls.
type recordingKeyRemover struct {
	mu    sync.Mutex
	books []int64
	pairs [][2]int64
}

func (r *recordingKeyRemover) RemoveKeysForBook(_ context.Context, bookID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books = append(r.books, bookID)
	return nil
}

func (r *recordingKeyRemover) RemoveKeysForBookAndStore(_ context.Context, bookID, storeID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = append(r.pairs, [2]int64{bookID, storeID})
	return nil
}

func (r *recordingKeyRemover) RemoveKeyForAuthors(context.Context) error { return nil }

func newFakeRegistry(t *testing.T, id string, s scraper.Scraper) *scraper.Registry {
	t.Helper()
	reg, err := scraper.NewRegistry(scraper.NewCollyFetcher(scraper.CollyConfig{}), nil)
	require.NoError(t, err)
	reg.Register(id, s)
	return reg
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	update := NewUpdateJob(nil)
	trim := NewTrimJob(nil)
	r := NewRegistry(update, trim)

	got, ok := r.Get(NameUpdatePrices)
	require.True(t, ok)
	require.Same(t, Job(update), got)

	_, ok = r.Get("unknown")
	require.False(t, ok)

	require.Equal(t, []string{NameTrimPrices, NameUpdatePrices}, r.Names())
}

func TestRelativeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, matched, want string
	}{
		{"http://shop.example", "http://shop.example/book/42", "/book/42"},
		{"http://shop.example/", "http://shop.example/book/42", "/book/42"},
		{"http://shop.example", "http://shop.example", "/"},
		{"http://shop.example", "http://other.example/book/42", "http://other.example/book/42"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, relativeURL(tt.base, tt.matched), tt.matched)
	}
}
