// Package scraper extracts structured data (prices, search matches, cover
// images) from bookstore web pages. Two variants exist: static (plain HTTP
// GET plus CSS/regex extraction) and dynamic (browser-rendered before
// extraction), selected per store.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bookprices/crawler/internal/bookprice"
)

// Match is a validated search hit: the detail page URL a book was found at.
type Match struct {
	URL string
}

// Scraper is the per-store capability contract. FindBook returns nil for
// "no result" instead of an error; only transport failures raise. GetPrice
// distinguishes transport, selector, and format failures via Fault reasons.
type Scraper interface {
	FindBook(ctx context.Context, book bookprice.Book, store bookprice.BookStore) (*Match, error)
	GetPrice(ctx context.Context, pageURL string, store bookprice.BookStore) (float64, error)
	FindImageURL(ctx context.Context, pageURL string, store bookprice.BookStore) (string, error)
}

// siteScraper implements Scraper on top of a PageFetcher. The static and
// dynamic variants differ only in how pages are fetched.
type siteScraper struct {
	fetch   PageFetcher
	regexps *regexpCache
}

func newSiteScraper(fetch PageFetcher, regexps *regexpCache) *siteScraper {
	return &siteScraper{fetch: fetch, regexps: regexps}
}

// FindBook formats the store's search URL with the book's ISBN and resolves
// it to a detail page match, or nil when the store has no exact listing.
func (s *siteScraper) FindBook(
	ctx context.Context,
	book bookprice.Book,
	store bookprice.BookStore,
) (*Match, error) {
	if store.SearchURL == "" {
		return nil, nil
	}
	isbn := bookprice.NormalizeISBN(book.ISBN)
	searchURL := formatSearchURL(store.SearchURL, isbn)

	page, err := s.fetch.Fetch(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", store.Name, err)
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return nil, nil
	}

	if store.SearchResultSelector == "" {
		// Stores without a result selector redirect search straight to the
		// detail page when exactly one title matches.
		if page.URL != "" && page.URL != searchURL {
			return &Match{URL: page.URL}, nil
		}
		return nil, nil
	}

	candidate, err := extractCandidateURL(page, store.SearchResultSelector, store.URL)
	if err != nil || candidate == "" {
		return nil, nil
	}
	return s.validateMatch(ctx, candidate, isbn, store)
}

// validateMatch guards against stores whose "no exact match" listing page
// still answers 200: the detail page must carry the ISBN, either in its URL
// or in the store's ISBN element.
func (s *siteScraper) validateMatch(
	ctx context.Context,
	candidate, isbn string,
	store bookprice.BookStore,
) (*Match, error) {
	if strings.Contains(candidate, isbn) {
		return &Match{URL: candidate}, nil
	}
	page, err := s.fetch.Fetch(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("validate match %s: %w", store.Name, err)
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return nil, nil
	}
	if strings.Contains(page.URL, isbn) {
		return &Match{URL: page.URL}, nil
	}
	if store.ISBNSelector != "" {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
		if err != nil {
			return nil, nil
		}
		text := bookprice.NormalizeISBN(strings.TrimSpace(doc.Find(store.ISBNSelector).First().Text()))
		if strings.Contains(text, isbn) {
			return &Match{URL: page.URL}, nil
		}
	}
	return nil, nil
}

// GetPrice fetches the page and extracts the price via the store's selector
// and optional format regex.
func (s *siteScraper) GetPrice(
	ctx context.Context,
	pageURL string,
	store bookprice.BookStore,
) (float64, error) {
	page, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return 0, err
	}
	return s.extractPrice(page.Body, store)
}

// FindImageURL extracts the cover image URL from a store page, resolved
// against the store's base URL.
func (s *siteScraper) FindImageURL(
	ctx context.Context,
	pageURL string,
	store bookprice.BookStore,
) (string, error) {
	if store.ImageSelector == "" {
		return "", nil
	}
	page, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", faultf(bookprice.ReasonPriceSelectError, "parse page %s: %w", pageURL, err)
	}
	src, ok := doc.Find(store.ImageSelector).First().Attr("src")
	if !ok {
		return "", nil
	}
	return absoluteURL(store.URL, src), nil
}

func (s *siteScraper) fetchDocument(ctx context.Context, pageURL string) (Page, error) {
	page, err := s.fetch.Fetch(ctx, pageURL)
	if err != nil {
		return Page{}, &Fault{Reason: bookprice.ReasonConnectionError, Err: err}
	}
	if page.StatusCode == http.StatusNotFound {
		return Page{}, faultf(bookprice.ReasonPageNotFound, "page not found: %s", pageURL)
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return Page{}, faultf(bookprice.ReasonConnectionError, "status %d from %s", page.StatusCode, pageURL)
	}
	return page, nil
}

// extractPrice isolates the numeric price from the document body. The
// failure taxonomy is deliberate: a missing selector match, a regex that
// finds nothing, and unparseable text are three different reasons.
func (s *siteScraper) extractPrice(body []byte, store bookprice.BookStore) (float64, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, faultf(bookprice.ReasonPriceSelectError, "parse page for %s: %w", store.Name, err)
	}
	sel := doc.Find(store.PriceSelector)
	if sel.Length() == 0 {
		return 0, faultf(bookprice.ReasonPriceSelectError, "selector %q matched nothing", store.PriceSelector)
	}
	text := strings.TrimSpace(sel.First().Text())

	raw := text
	if store.PriceFormat != "" {
		re, err := s.regexps.get(store.ID, store.PriceFormat)
		if err != nil {
			return 0, faultf(bookprice.ReasonInvalidPriceFormat, "price format for %s: %w", store.Name, err)
		}
		raw = re.FindString(text)
		if raw == "" {
			return 0, faultf(bookprice.ReasonInvalidPriceFormat, "price format %q found nothing in %q", store.PriceFormat, text)
		}
	}
	price, err := parsePrice(raw)
	if err != nil {
		return 0, faultf(bookprice.ReasonInvalidPriceFormat, "parse price %q: %w", raw, err)
	}
	return price, nil
}

func formatSearchURL(template, isbn string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, isbn)
	}
	return template + isbn
}

func extractCandidateURL(page Page, selector, baseURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", fmt.Errorf("parse search results: %w", err)
	}
	node := doc.Find(selector).First()
	href, ok := node.Attr("href")
	if !ok || href == "" {
		return "", nil
	}
	return absoluteURL(baseURL, href), nil
}

func absoluteURL(baseURL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
