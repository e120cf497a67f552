package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/bookprices/crawler/internal/bookprice"
)

// PriceStore is the Postgres bookprice.PriceStore.
type PriceStore struct {
	pool pool
}

// NewPriceStore builds a PriceStore over an existing pool.
func NewPriceStore(p pool) *PriceStore {
	return &PriceStore{pool: p}
}

// CreatePrices bulk-inserts price rows in one statement.
func (s *PriceStore) CreatePrices(ctx context.Context, prices []bookprice.BookPrice) error {
	if len(prices) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO book_prices (book_id, book_store_id, price, created) VALUES `)
	for i, p := range prices {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, p.BookID, p.BookStoreID, p.Price, p.Created)
	}
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert prices: %w", err)
	}
	return nil
}

// PricesForBookAndStore returns the pair's history, newest first.
func (s *PriceStore) PricesForBookAndStore(ctx context.Context, bookID, storeID int64) ([]bookprice.BookPrice, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, book_id, book_store_id, price, created
FROM book_prices
WHERE book_id = $1 AND book_store_id = $2
ORDER BY created DESC, id DESC`, bookID, storeID)
	if err != nil {
		return nil, fmt.Errorf("select prices: %w", err)
	}
	defer rows.Close()

	var prices []bookprice.BookPrice
	for rows.Next() {
		var p bookprice.BookPrice
		if err := rows.Scan(&p.ID, &p.BookID, &p.BookStoreID, &p.Price, &p.Created); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// DeletePrices removes the rows with the given ids.
func (s *PriceStore) DeletePrices(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM book_prices WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete prices: %w", err)
	}
	return nil
}

// CreateFailedUpdates bulk-inserts failure log rows.
func (s *PriceStore) CreateFailedUpdates(ctx context.Context, fails []bookprice.FailedPriceUpdate) error {
	if len(fails) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO failed_price_updates (book_id, book_store_id, reason, created) VALUES `)
	for i, f := range fails {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, f.BookID, f.BookStoreID, string(f.Reason), f.Created)
	}
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert failed updates: %w", err)
	}
	return nil
}

// FailedPairs returns pairs with at least minCount failures of the given
// reason recorded after the pair's most recent successful price. Pairs that
// never had a price count all their failures.
func (s *PriceStore) FailedPairs(ctx context.Context, reason bookprice.FailedReason, minCount int) ([]bookprice.BookStorePair, error) {
	rows, err := s.pool.Query(ctx, `
SELECT f.book_id, f.book_store_id
FROM failed_price_updates f
WHERE f.reason = $1
  AND f.created > COALESCE((
	SELECT MAX(p.created) FROM book_prices p
	WHERE p.book_id = f.book_id AND p.book_store_id = f.book_store_id
  ), '-infinity')
GROUP BY f.book_id, f.book_store_id
HAVING COUNT(*) >= $2
ORDER BY f.book_id, f.book_store_id`, string(reason), minCount)
	if err != nil {
		return nil, fmt.Errorf("select failed pairs: %w", err)
	}
	defer rows.Close()

	var pairs []bookprice.BookStorePair
	for rows.Next() {
		var p bookprice.BookStorePair
		if err := rows.Scan(&p.BookID, &p.BookStoreID); err != nil {
			return nil, fmt.Errorf("scan failed pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// DeleteFailedUpdates removes all failure rows for a (book, store) pair.
func (s *PriceStore) DeleteFailedUpdates(ctx context.Context, bookID, storeID int64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM failed_price_updates WHERE book_id = $1 AND book_store_id = $2`,
		bookID, storeID); err != nil {
		return fmt.Errorf("delete failed updates: %w", err)
	}
	return nil
}
