package postgres

import (
	"context"
	"fmt"

	"github.com/bookprices/crawler/internal/bookprice"
)

const bookColumns = `id, isbn, title, author, COALESCE(format, ''), COALESCE(image_url, ''), created`

const bookColumnsAliased = `b.id, b.isbn, b.title, b.author, COALESCE(b.format, ''), COALESCE(b.image_url, ''), b.created`

const storeColumns = `id, name, url, COALESCE(search_url, ''), COALESCE(search_result_selector, ''),
COALESCE(price_selector, ''), COALESCE(image_selector, ''), COALESCE(isbn_selector, ''),
COALESCE(price_format, ''), has_dynamic_content, COALESCE(color_hex, ''), COALESCE(scraper_id, '')`

const storeColumnsAliased = `bs.id, bs.name, bs.url, COALESCE(bs.search_url, ''), COALESCE(bs.search_result_selector, ''),
COALESCE(bs.price_selector, ''), COALESCE(bs.image_selector, ''), COALESCE(bs.isbn_selector, ''),
COALESCE(bs.price_format, ''), bs.has_dynamic_content, COALESCE(bs.color_hex, ''), COALESCE(bs.scraper_id, '')`

// CatalogStore is the Postgres bookprice.CatalogStore.
type CatalogStore struct {
	pool pool
}

// NewCatalogStore builds a CatalogStore over an existing pool.
func NewCatalogStore(p pool) *CatalogStore {
	return &CatalogStore{pool: p}
}

// BooksByIDs returns the books that exist among the given ids, ordered by id.
func (s *CatalogStore) BooksByIDs(ctx context.Context, ids []int64) ([]bookprice.Book, error) {
	query := fmt.Sprintf(`SELECT %s FROM books WHERE id = ANY($1) ORDER BY id`, bookColumns)
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	defer rows.Close()

	var books []bookprice.Book
	for rows.Next() {
		var b bookprice.Book
		if err := rows.Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Format, &b.ImageURL, &b.Created); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// ListBookIDs pages all book ids in ascending order.
func (s *CatalogStore) ListBookIDs(ctx context.Context, offset, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM books ORDER BY id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("select book ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan book id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListBookStores returns all stores ordered by id.
func (s *CatalogStore) ListBookStores(ctx context.Context) ([]bookprice.BookStore, error) {
	query := fmt.Sprintf(`SELECT %s FROM book_stores ORDER BY id`, storeColumns)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select stores: %w", err)
	}
	defer rows.Close()

	var stores []bookprice.BookStore
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

// StoresForBooks resolves the listings for each given book in one query.
func (s *CatalogStore) StoresForBooks(ctx context.Context, bookIDs []int64) (map[int64][]bookprice.StoreListing, error) {
	query := fmt.Sprintf(`
SELECT bsb.book_id, bsb.relative_url, %s
FROM book_store_books bsb
JOIN book_stores bs ON bs.id = bsb.book_store_id
WHERE bsb.book_id = ANY($1)
ORDER BY bsb.book_id, bs.id`, storeColumnsAliased)
	rows, err := s.pool.Query(ctx, query, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("select listings: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]bookprice.StoreListing)
	for rows.Next() {
		var (
			bookID int64
			rel    string
			st     bookprice.BookStore
		)
		if err := rows.Scan(&bookID, &rel,
			&st.ID, &st.Name, &st.URL, &st.SearchURL, &st.SearchResultSelector,
			&st.PriceSelector, &st.ImageSelector, &st.ISBNSelector,
			&st.PriceFormat, &st.HasDynamicContent, &st.ColorHex, &st.ScraperID,
		); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out[bookID] = append(out[bookID], bookprice.StoreListing{Store: st, RelativeURL: rel})
	}
	return out, rows.Err()
}

// BooksMissingStore pages books with no listing at the given store, keyset
// style: only ids above afterID, so rows the caller turns into listings
// can't shift unseen rows past the cursor.
func (s *CatalogStore) BooksMissingStore(ctx context.Context, storeID, afterID int64, limit int) ([]bookprice.Book, error) {
	query := fmt.Sprintf(`
SELECT %s FROM books b
WHERE b.id > $2 AND NOT EXISTS (
	SELECT 1 FROM book_store_books bsb
	WHERE bsb.book_id = b.id AND bsb.book_store_id = $1
)
ORDER BY b.id LIMIT $3`, bookColumnsAliased)
	return s.queryBooks(ctx, query, storeID, afterID, limit)
}

// BooksMissingImage pages books without an image URL, keyset style.
func (s *CatalogStore) BooksMissingImage(ctx context.Context, afterID int64, limit int) ([]bookprice.Book, error) {
	query := fmt.Sprintf(`
SELECT %s FROM books b
WHERE b.id > $1 AND (b.image_url IS NULL OR b.image_url = '')
ORDER BY b.id LIMIT $2`, bookColumnsAliased)
	return s.queryBooks(ctx, query, afterID, limit)
}

// CreateStoreListing records that a book is sold at a store. Inserting an
// existing pair is a no-op.
func (s *CatalogStore) CreateStoreListing(ctx context.Context, listing bookprice.BookStoreBook) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO book_store_books (book_id, book_store_id, relative_url)
VALUES ($1, $2, $3)
ON CONFLICT (book_id, book_store_id) DO NOTHING`,
		listing.BookID, listing.BookStoreID, listing.RelativeURL)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// DeleteStoreListing removes the listing for a (book, store) pair.
func (s *CatalogStore) DeleteStoreListing(ctx context.Context, bookID, storeID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM book_store_books WHERE book_id = $1 AND book_store_id = $2`,
		bookID, storeID)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	return nil
}

// SetBookImage stores the image URL on a book.
func (s *CatalogStore) SetBookImage(ctx context.Context, bookID int64, imageURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE books SET image_url = $2 WHERE id = $1`, bookID, imageURL)
	if err != nil {
		return fmt.Errorf("update book image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("book %d: %w", bookID, bookprice.ErrNotFound)
	}
	return nil
}

func (s *CatalogStore) queryBooks(ctx context.Context, query string, args ...any) ([]bookprice.Book, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	defer rows.Close()

	var books []bookprice.Book
	for rows.Next() {
		var b bookprice.Book
		if err := rows.Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Format, &b.ImageURL, &b.Created); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStore(row scanner) (bookprice.BookStore, error) {
	var st bookprice.BookStore
	err := row.Scan(
		&st.ID, &st.Name, &st.URL, &st.SearchURL, &st.SearchResultSelector,
		&st.PriceSelector, &st.ImageSelector, &st.ISBNSelector,
		&st.PriceFormat, &st.HasDynamicContent, &st.ColorHex, &st.ScraperID,
	)
	if err != nil {
		return bookprice.BookStore{}, fmt.Errorf("scan store: %w", err)
	}
	return st, nil
}
