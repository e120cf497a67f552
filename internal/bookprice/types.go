// Package bookprice defines the core types and collaborator interfaces for
// the book price tracking engine: the catalog entities, price history rows,
// the scrape failure taxonomy, and the job/job-run scheduling model.
package bookprice

import (
	"time"
)

// Book is a tracked title. Identity is the ISBN; image URL and format may be
// filled in later by import merges or the image download job.
type Book struct {
	ID       int64     `json:"id"`
	ISBN     string    `json:"isbn"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Format   string    `json:"format,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	Created  time.Time `json:"created"`
}

// BookStore describes one online store and how to scrape it. Selectors and
// the price format regex are operator-editable data, not code.
type BookStore struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	URL                  string `json:"url"`
	SearchURL            string `json:"search_url,omitempty"`
	SearchResultSelector string `json:"search_result_selector,omitempty"`
	PriceSelector        string `json:"price_selector,omitempty"`
	ImageSelector        string `json:"image_selector,omitempty"`
	ISBNSelector         string `json:"isbn_selector,omitempty"`
	PriceFormat          string `json:"price_format,omitempty"`
	HasDynamicContent    bool   `json:"has_dynamic_content"`
	ColorHex             string `json:"color_hex,omitempty"`
	ScraperID            string `json:"scraper_id,omitempty"`
}

// BookStoreBook records that a book is sold at a store, at the given path
// relative to the store's base URL. Its existence implies at least one
// successful prior search match.
type BookStoreBook struct {
	BookID      int64  `json:"book_id"`
	BookStoreID int64  `json:"bookstore_id"`
	RelativeURL string `json:"relative_url"`
}

// BookPrice is one observed price point. Rows are append-only; history is
// never mutated, only deleted in bulk by id set.
type BookPrice struct {
	ID          int64     `json:"id"`
	BookID      int64     `json:"book_id"`
	BookStoreID int64     `json:"bookstore_id"`
	Price       float64   `json:"price"`
	Created     time.Time `json:"created"`
}

// FailedReason classifies why a price scrape failed.
type FailedReason string

// Failure reasons recorded in the failure log. The cleanup job reasons about
// these to decide when a book has stopped being sold at a store.
const (
	ReasonConnectionError    FailedReason = "CONNECTION_ERROR"
	ReasonPageNotFound       FailedReason = "PAGE_NOT_FOUND"
	ReasonInvalidPriceFormat FailedReason = "INVALID_PRICE_FORMAT"
	ReasonPriceSelectError   FailedReason = "PRICE_SELECT_ERROR"
)

// FailedPriceUpdate is one append-only failure log row.
type FailedPriceUpdate struct {
	ID          int64        `json:"id"`
	BookID      int64        `json:"book_id"`
	BookStoreID int64        `json:"bookstore_id"`
	Reason      FailedReason `json:"reason"`
	Created     time.Time    `json:"created"`
}

// StoreListing pairs a store with the relative URL a book is listed under.
type StoreListing struct {
	Store       BookStore `json:"store"`
	RelativeURL string    `json:"relative_url"`
}

// BookStorePair identifies one (book, store) combination.
type BookStorePair struct {
	BookID      int64 `json:"book_id"`
	BookStoreID int64 `json:"bookstore_id"`
}
