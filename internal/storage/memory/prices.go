package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bookprices/crawler/internal/bookprice"
)

// PriceStore is an in-memory bookprice.PriceStore.
type PriceStore struct {
	mu       sync.RWMutex
	prices   []bookprice.BookPrice
	failures []bookprice.FailedPriceUpdate
	nextID   int64
}

// NewPriceStore builds an empty PriceStore.
func NewPriceStore() *PriceStore {
	return &PriceStore{}
}

// CreatePrices appends price rows, assigning ids.
func (s *PriceStore) CreatePrices(_ context.Context, prices []bookprice.BookPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range prices {
		s.nextID++
		p.ID = s.nextID
		s.prices = append(s.prices, p)
	}
	return nil
}

// PricesForBookAndStore returns the pair's history, newest first.
func (s *PriceStore) PricesForBookAndStore(_ context.Context, bookID, storeID int64) ([]bookprice.BookPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bookprice.BookPrice
	for _, p := range s.prices {
		if p.BookID == bookID && p.BookStoreID == storeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// DeletePrices removes the rows with the given ids.
func (s *PriceStore) DeletePrices(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.prices[:0]
	for _, p := range s.prices {
		if !drop[p.ID] {
			kept = append(kept, p)
		}
	}
	s.prices = kept
	return nil
}

// CreateFailedUpdates appends failure log rows.
func (s *PriceStore) CreateFailedUpdates(_ context.Context, fails []bookprice.FailedPriceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fails {
		s.nextID++
		f.ID = s.nextID
		s.failures = append(s.failures, f)
	}
	return nil
}

// FailedPairs returns pairs with at least minCount failures of the given
// reason recorded after the pair's most recent successful price.
func (s *PriceStore) FailedPairs(_ context.Context, reason bookprice.FailedReason, minCount int) ([]bookprice.BookStorePair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lastSuccess := make(map[bookprice.BookStorePair]time.Time)
	for _, p := range s.prices {
		pair := bookprice.BookStorePair{BookID: p.BookID, BookStoreID: p.BookStoreID}
		if p.Created.After(lastSuccess[pair]) {
			lastSuccess[pair] = p.Created
		}
	}
	counts := make(map[bookprice.BookStorePair]int)
	for _, f := range s.failures {
		if f.Reason != reason {
			continue
		}
		pair := bookprice.BookStorePair{BookID: f.BookID, BookStoreID: f.BookStoreID}
		if f.Created.After(lastSuccess[pair]) {
			counts[pair]++
		}
	}
	var out []bookprice.BookStorePair
	for pair, n := range counts {
		if n >= minCount {
			out = append(out, pair)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BookID != out[j].BookID {
			return out[i].BookID < out[j].BookID
		}
		return out[i].BookStoreID < out[j].BookStoreID
	})
	return out, nil
}

// DeleteFailedUpdates removes all failure rows for a (book, store) pair.
func (s *PriceStore) DeleteFailedUpdates(_ context.Context, bookID, storeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.failures[:0]
	for _, f := range s.failures {
		if f.BookID == bookID && f.BookStoreID == storeID {
			continue
		}
		kept = append(kept, f)
	}
	s.failures = kept
	return nil
}

// Prices returns a copy of all price rows, for test assertions.
func (s *PriceStore) Prices() []bookprice.BookPrice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bookprice.BookPrice, len(s.prices))
	copy(out, s.prices)
	return out
}

// Failures returns a copy of all failure rows, for test assertions.
func (s *PriceStore) Failures() []bookprice.FailedPriceUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bookprice.FailedPriceUpdate, len(s.failures))
	copy(out, s.failures)
	return out
}
