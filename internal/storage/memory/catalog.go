// Package memory provides in-memory store implementations. They back the
// package tests and the standalone demo mode, and mirror the semantics of
// the postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bookprices/crawler/internal/bookprice"
)

// CatalogStore is an in-memory bookprice.CatalogStore.
type CatalogStore struct {
	mu       sync.RWMutex
	books    map[int64]bookprice.Book
	stores   map[int64]bookprice.BookStore
	listings []bookprice.BookStoreBook
	nextBook int64
}

// NewCatalogStore builds an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		books:  make(map[int64]bookprice.Book),
		stores: make(map[int64]bookprice.BookStore),
	}
}

// AddBook inserts a book, assigning an id if unset, and returns it.
func (s *CatalogStore) AddBook(book bookprice.Book) bookprice.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	if book.ID == 0 {
		s.nextBook++
		book.ID = s.nextBook
	} else if book.ID > s.nextBook {
		s.nextBook = book.ID
	}
	s.books[book.ID] = book
	return book
}

// AddStore inserts a store.
func (s *CatalogStore) AddStore(store bookprice.BookStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[store.ID] = store
}

// BooksByIDs returns the books that exist among the given ids, ordered by id.
func (s *CatalogStore) BooksByIDs(_ context.Context, ids []int64) ([]bookprice.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var books []bookprice.Book
	for _, id := range ids {
		if b, ok := s.books[id]; ok {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

// ListBookIDs pages all book ids in ascending order.
func (s *CatalogStore) ListBookIDs(_ context.Context, offset, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.books))
	for id := range s.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return page(ids, offset, limit), nil
}

// ListBookStores returns all stores ordered by id.
func (s *CatalogStore) ListBookStores(_ context.Context) ([]bookprice.BookStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stores := make([]bookprice.BookStore, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, st)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].ID < stores[j].ID })
	return stores, nil
}

// StoresForBooks resolves the listings for each given book.
func (s *CatalogStore) StoresForBooks(_ context.Context, bookIDs []int64) (map[int64][]bookprice.StoreListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[int64]bool, len(bookIDs))
	for _, id := range bookIDs {
		wanted[id] = true
	}
	out := make(map[int64][]bookprice.StoreListing)
	for _, l := range s.listings {
		if !wanted[l.BookID] {
			continue
		}
		store, ok := s.stores[l.BookStoreID]
		if !ok {
			continue
		}
		out[l.BookID] = append(out[l.BookID], bookprice.StoreListing{
			Store:       store,
			RelativeURL: l.RelativeURL,
		})
	}
	return out, nil
}

// BooksMissingStore pages books without a listing at the given store, by
// ascending id greater than afterID.
func (s *CatalogStore) BooksMissingStore(_ context.Context, storeID, afterID int64, limit int) ([]bookprice.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listed := make(map[int64]bool)
	for _, l := range s.listings {
		if l.BookStoreID == storeID {
			listed[l.BookID] = true
		}
	}
	var books []bookprice.Book
	for _, b := range s.books {
		if b.ID > afterID && !listed[b.ID] {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return keysetPage(books, limit), nil
}

// BooksMissingImage pages books without an image URL, by ascending id
// greater than afterID.
func (s *CatalogStore) BooksMissingImage(_ context.Context, afterID int64, limit int) ([]bookprice.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var books []bookprice.Book
	for _, b := range s.books {
		if b.ID > afterID && b.ImageURL == "" {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return keysetPage(books, limit), nil
}

// CreateStoreListing records that a book is sold at a store.
func (s *CatalogStore) CreateStoreListing(_ context.Context, listing bookprice.BookStoreBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listings {
		if l.BookID == listing.BookID && l.BookStoreID == listing.BookStoreID {
			return nil
		}
	}
	s.listings = append(s.listings, listing)
	return nil
}

// DeleteStoreListing removes the listing for a (book, store) pair.
func (s *CatalogStore) DeleteStoreListing(_ context.Context, bookID, storeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.listings[:0]
	for _, l := range s.listings {
		if l.BookID == bookID && l.BookStoreID == storeID {
			continue
		}
		kept = append(kept, l)
	}
	s.listings = kept
	return nil
}

// SetBookImage stores the image URL on a book.
func (s *CatalogStore) SetBookImage(_ context.Context, bookID int64, imageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[bookID]
	if !ok {
		return bookprice.ErrNotFound
	}
	b.ImageURL = imageURL
	s.books[bookID] = b
	return nil
}

// Book returns a book by id, for test assertions.
func (s *CatalogStore) Book(id int64) (bookprice.Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	return b, ok
}

// Listings returns a copy of all listings, for test assertions.
func (s *CatalogStore) Listings() []bookprice.BookStoreBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bookprice.BookStoreBook, len(s.listings))
	copy(out, s.listings)
	return out
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func keysetPage[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
