package scraper

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bookprices/crawler/internal/bookprice"
)

// Scraper ids resolvable through a store's scraper_id column.
const (
	StaticScraperID  = "static"
	DynamicScraperID = "dynamic"
)

const regexpCacheSize = 256

// Registry resolves the scraper variant for a store. Selection is a pure
// function of the store record: an explicit scraper_id wins, otherwise
// has_dynamic_content picks between the two variants.
type Registry struct {
	static   Scraper
	dynamic  Scraper
	byID     map[string]Scraper
	fallback Scraper
}

// NewRegistry builds a Registry from the two page fetchers. The dynamic
// fetcher may be nil (headless disabled); affected stores then fall back to
// the static variant.
func NewRegistry(static PageFetcher, dynamic PageFetcher) (*Registry, error) {
	cache, err := newRegexpCache(regexpCacheSize)
	if err != nil {
		return nil, err
	}
	staticScraper := newSiteScraper(static, cache)
	r := &Registry{
		static:   staticScraper,
		dynamic:  staticScraper,
		fallback: staticScraper,
	}
	if dynamic != nil {
		r.dynamic = newSiteScraper(dynamic, cache)
	}
	r.byID = map[string]Scraper{
		StaticScraperID:  r.static,
		DynamicScraperID: r.dynamic,
	}
	return r, nil
}

// Register adds or replaces a scraper under an explicit id.
func (r *Registry) Register(id string, s Scraper) {
	r.byID[id] = s
}

// ForStore returns the scraper variant for the store.
func (r *Registry) ForStore(store bookprice.BookStore) Scraper {
	if store.ScraperID != "" {
		if s, ok := r.byID[store.ScraperID]; ok {
			return s
		}
	}
	if store.HasDynamicContent {
		return r.dynamic
	}
	return r.static
}

// regexpCache memoizes compiled price-format regexps per store. Store
// configurations are operator-edited data, so the key includes the pattern
// to pick up edits without restart.
type regexpCache struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

func newRegexpCache(size int) (*regexpCache, error) {
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("build regexp cache: %w", err)
	}
	return &regexpCache{cache: cache}, nil
}

func (c *regexpCache) get(storeID int64, pattern string) (*regexp.Regexp, error) {
	key := fmt.Sprintf("%d:%s", storeID, pattern)
	if re, ok := c.cache.Get(key); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	c.cache.Add(key, re)
	return re, nil
}
