// Package rediscache invalidates the Redis keys holding derived views of
// the catalog. The website populates these keys; the crawler only ever
// deletes them after writing fresh data.
package rediscache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Key layout shared with the website.
const (
	keyBook        = "book:%d"
	keyBookDetails = "book:%d:details"
	keyPrices      = "prices:%d:%d"
	keyLatestPrice = "latest_price:%d:%d"
	keyAuthors     = "authors"
)

// KeyRemover deletes cache keys through a Redis client.
type KeyRemover struct {
	client redis.UniversalClient
}

// NewKeyRemover builds a KeyRemover over the client.
func NewKeyRemover(client redis.UniversalClient) *KeyRemover {
	return &KeyRemover{client: client}
}

// RemoveKeysForBook drops the book's cached record and details view.
func (r *KeyRemover) RemoveKeysForBook(ctx context.Context, bookID int64) error {
	return r.del(ctx,
		fmt.Sprintf(keyBook, bookID),
		fmt.Sprintf(keyBookDetails, bookID),
	)
}

// RemoveKeysForBookAndStore drops the pair's price history and latest
// price views.
func (r *KeyRemover) RemoveKeysForBookAndStore(ctx context.Context, bookID, storeID int64) error {
	return r.del(ctx,
		fmt.Sprintf(keyPrices, bookID, storeID),
		fmt.Sprintf(keyLatestPrice, bookID, storeID),
	)
}

// RemoveKeyForAuthors drops the author index view.
func (r *KeyRemover) RemoveKeyForAuthors(ctx context.Context) error {
	return r.del(ctx, keyAuthors)
}

func (r *KeyRemover) del(ctx context.Context, keys ...string) error {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys %v: %w", keys, err)
	}
	return nil
}
