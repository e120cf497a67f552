package scraper

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/bookprices/crawler/internal/bookprice"
)

func newTestScraper(t *testing.T) (*siteScraper, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	fetcher := NewCollyFetcher(CollyConfig{UserAgent: "bookprices-test", Transport: transport})
	cache, err := newRegexpCache(16)
	require.NoError(t, err)
	return newSiteScraper(fetcher, cache), transport
}

func TestExtractPrice(t *testing.T) {
	t.Parallel()

	const tableHTML = `<html><body><table><tr>
		<td>Paperback</td><td>229 kr.</td>
	</tr></table></body></html>`

	cache, err := newRegexpCache(16)
	require.NoError(t, err)
	s := newSiteScraper(nil, cache)

	tests := []struct {
		name       string
		html       string
		store      bookprice.BookStore
		want       float64
		wantReason bookprice.FailedReason
	}{
		{
			name:  "selector plus regex",
			html:  tableHTML,
			store: bookprice.BookStore{ID: 1, PriceSelector: "td:nth-child(2)", PriceFormat: `\d+`},
			want:  229.0,
		},
		{
			name:  "comma decimal separator",
			html:  `<html><body><span class="price">54,95</span></body></html>`,
			store: bookprice.BookStore{ID: 2, PriceSelector: "span.price"},
			want:  54.95,
		},
		{
			name:  "regex with decimals",
			html:  `<html><body><div id="p">Pris: 123,45 DKK</div></body></html>`,
			store: bookprice.BookStore{ID: 3, PriceSelector: "#p", PriceFormat: `\d+,\d+`},
			want:  123.45,
		},
		{
			name:       "selector matches nothing",
			html:       tableHTML,
			store:      bookprice.BookStore{ID: 4, PriceSelector: "span.missing"},
			wantReason: bookprice.ReasonPriceSelectError,
		},
		{
			name:       "regex finds nothing",
			html:       `<html><body><span class="price">sold out</span></body></html>`,
			store:      bookprice.BookStore{ID: 5, PriceSelector: "span.price", PriceFormat: `\d+`},
			wantReason: bookprice.ReasonInvalidPriceFormat,
		},
		{
			name:       "text not a number",
			html:       `<html><body><span class="price">sold out</span></body></html>`,
			store:      bookprice.BookStore{ID: 6, PriceSelector: "span.price"},
			wantReason: bookprice.ReasonInvalidPriceFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.extractPrice([]byte(tt.html), tt.store)
			if tt.wantReason != "" {
				require.Error(t, err)
				require.Equal(t, tt.wantReason, ReasonOf(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestGetPriceStatusFaults(t *testing.T) {
	t.Parallel()

	s, transport := newTestScraper(t)
	store := bookprice.BookStore{ID: 1, Name: "WebShop", PriceSelector: "span.price"}

	transport.RegisterResponder(
		http.MethodGet,
		"http://shop.example/book/1",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"),
	)
	_, err := s.GetPrice(context.Background(), "http://shop.example/book/1", store)
	require.Error(t, err)
	require.Equal(t, bookprice.ReasonPageNotFound, ReasonOf(err))

	transport.RegisterResponder(
		http.MethodGet,
		"http://shop.example/book/2",
		httpmock.NewErrorResponder(errors.New("connection refused")),
	)
	_, err = s.GetPrice(context.Background(), "http://shop.example/book/2", store)
	require.Error(t, err)
	require.Equal(t, bookprice.ReasonConnectionError, ReasonOf(err))
}

func TestGetPriceFromPage(t *testing.T) {
	t.Parallel()

	s, transport := newTestScraper(t)
	store := bookprice.BookStore{
		ID:            7,
		Name:          "WebShop",
		PriceSelector: "span.price",
		PriceFormat:   `\d+,?\d*`,
	}
	transport.RegisterResponder(
		http.MethodGet,
		"http://shop.example/book/3",
		httpmock.NewStringResponder(
			http.StatusOK,
			`<html><body><span class="price">199,50 kr.</span></body></html>`,
		),
	)

	price, err := s.GetPrice(context.Background(), "http://shop.example/book/3", store)
	require.NoError(t, err)
	require.Equal(t, 199.50, price)
}

func TestFindBookRedirectIsMatch(t *testing.T) {
	t.Parallel()

	s, transport := newTestScraper(t)
	book := bookprice.Book{ID: 1, ISBN: "9780306406157"}
	store := bookprice.BookStore{
		ID:        1,
		Name:      "RedirectShop",
		URL:       "http://shop.example",
		SearchURL: "http://shop.example/search?q=%s",
	}

	transport.RegisterResponder(
		http.MethodGet,
		"http://shop.example/search?q=9780306406157",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusMovedPermanently, "")
			resp.Header.Set("Location", "http://shop.example/book/das-kapital")
			resp.Request = req
			return resp, nil
		},
	)
	transport.RegisterResponder(
		http.MethodGet,
		"http://shop.example/book/das-kapital",
		httpmock.NewStringResponder(http.StatusOK, "<html><body>detail</body></html>"),
	)

	match, err := s.FindBook(context.Background(), book, store)
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, "http://shop.example/book/das-kapital", match.URL)
}

func TestFindBookNoRedirectNoSelectorIsMiss(t *testing.T) {
	t.Parallel()

	s, transport := newTestScraper(t)
	book := bookprice.Book{ID: 1, ISBN: "9780306406157"}
	store := bookprice.BookStore{
		ID:        1,
		Name:      "RedirectShop",
		URL:       "http://shop.example",
		SearchURL: "http://shop.example/search?q=%s",
	}
	transport.RegisterResponder(
		http.MethodGet,
		"http://shop.example/search?q=9780306406157",
		httpmock.NewStringResponder(http.StatusOK, "<html><body>0 results</body></html>"),
	)

	match, err := s.FindBook(context.Background(), book, store)
	require.NoError(t, err)
	require.Nil(t, match)
}

func TestFindBookSelectorWithISBNValidation(t *testing.T) {
	t.Parallel()

	s, transport := newTestScraper(t)
	book := bookprice.Book{ID: 1, ISBN: "9780306406157"}
	store := bookprice.BookStore{
		ID:                   2,
		Name:                 "SelectorShop",
		URL:                  "http://books.example",
		SearchURL:            "http://books.example/find?isbn=%s",
		SearchResultSelector: "div.results a.title",
		ISBNSelector:         "span#isbn",
	}

	transport.RegisterResponder(
		http.MethodGet,
		"http://books.example/find?isbn=9780306406157",
		httpmock.NewStringResponder(http.StatusOK,
			`<html><body><div class="results"><a class="title" href="/book/42">A Book</a></div></body></html>`),
	)
	transport.RegisterResponder(
		http.MethodGet,
		"http://books.example/book/42",
		httpmock.NewStringResponder(http.StatusOK,
			`<html><body><span id="isbn">978-0-306-40615-7</span></body></html>`),
	)

	match, err := s.FindBook(context.Background(), book, store)
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, "http://books.example/book/42", match.URL)
}

func TestFindBookRejectsListingWithoutISBN(t *testing.T) {
	t.Parallel()

	s, transport := newTestScraper(t)
	book := bookprice.Book{ID: 1, ISBN: "9780306406157"}
	store := bookprice.BookStore{
		ID:                   2,
		Name:                 "SelectorShop",
		URL:                  "http://books.example",
		SearchURL:            "http://books.example/find?isbn=%s",
		SearchResultSelector: "div.results a.title",
		ISBNSelector:         "span#isbn",
	}

	// The store answers 200 with a "closest matches" page whose first hit is
	// a different book.
	transport.RegisterResponder(
		http.MethodGet,
		"http://books.example/find?isbn=9780306406157",
		httpmock.NewStringResponder(http.StatusOK,
			`<html><body><div class="results"><a class="title" href="/book/99">Other Book</a></div></body></html>`),
	)
	transport.RegisterResponder(
		http.MethodGet,
		"http://books.example/book/99",
		httpmock.NewStringResponder(http.StatusOK,
			`<html><body><span id="isbn">9781861972712</span></body></html>`),
	)

	match, err := s.FindBook(context.Background(), book, store)
	require.NoError(t, err)
	require.Nil(t, match)
}

func TestFindBookNon2xxSearchIsMiss(t *testing.T) {
	t.Parallel()

	s, transport := newTestScraper(t)
	book := bookprice.Book{ID: 1, ISBN: "9780306406157"}
	store := bookprice.BookStore{
		ID:        3,
		Name:      "BrokenShop",
		URL:       "http://broken.example",
		SearchURL: "http://broken.example/search/%s",
	}
	transport.RegisterResponder(
		http.MethodGet,
		"http://broken.example/search/9780306406157",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""),
	)

	match, err := s.FindBook(context.Background(), book, store)
	require.NoError(t, err)
	require.Nil(t, match)
}

func TestFindImageURL(t *testing.T) {
	t.Parallel()

	s, transport := newTestScraper(t)
	store := bookprice.BookStore{
		ID:            4,
		Name:          "ImageShop",
		URL:           "http://img.example",
		ImageSelector: "img.cover",
	}
	transport.RegisterResponder(
		http.MethodGet,
		"http://img.example/book/7",
		httpmock.NewStringResponder(http.StatusOK,
			`<html><body><img class="cover" src="/covers/7.jpg"/></body></html>`),
	)

	url, err := s.FindImageURL(context.Background(), "http://img.example/book/7", store)
	require.NoError(t, err)
	require.Equal(t, "http://img.example/covers/7.jpg", url)
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "229", want: 229},
		{in: "54,95", want: 54.95},
		{in: "54.95", want: 54.95},
		{in: " 199,50 ", want: 199.5},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parsePrice(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestRegistrySelection(t *testing.T) {
	t.Parallel()

	staticFetcher := NewCollyFetcher(CollyConfig{})
	reg, err := NewRegistry(staticFetcher, nil)
	require.NoError(t, err)

	// With headless disabled, dynamic stores fall back to the static variant.
	staticStore := bookprice.BookStore{ID: 1}
	dynamicStore := bookprice.BookStore{ID: 2, HasDynamicContent: true}
	require.Same(t, reg.ForStore(staticStore), reg.ForStore(dynamicStore))

	fake := &fakeScraper{}
	reg.Register("custom", fake)
	customStore := bookprice.BookStore{ID: 3, ScraperID: "custom"}
	require.Same(t, Scraper(fake), reg.ForStore(customStore))
}

type fakeScraper struct{}

func (*fakeScraper) FindBook(context.Context, bookprice.Book, bookprice.BookStore) (*Match, error) {
	return nil, nil
}

func (*fakeScraper) GetPrice(context.Context, string, bookprice.BookStore) (float64, error) {
	return 0, nil
}

func (*fakeScraper) FindImageURL(context.Context, string, bookprice.BookStore) (string, error) {
	return "", nil
}
