package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sicko7947/world"
)

// SQLBlobStore implements world.BlobStore on the world_blobs table
type SQLBlobStore struct {
	store  *SQLStore
	bucket string
}

var _ world.BlobStore = (*SQLBlobStore)(nil)

// NewSQLBlobStore creates a blob store for bucket
func NewSQLBlobStore(store *SQLStore, bucket string) *SQLBlobStore {
	return &SQLBlobStore{store: store, bucket: bucket}
}

func (b *SQLBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.store.queryRow(ctx, `SELECT data FROM world_blobs WHERE bucket = ? AND blob_key = ?`, b.bucket, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, world.NotFound("blob", key)
		}
		return nil, world.Unavailable("get blob", err)
	}
	return data, nil
}

func (b *SQLBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := b.store.exec(ctx,
		`INSERT INTO world_blobs (bucket, blob_key, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (bucket, blob_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		b.bucket, key, data, time.Now().UnixMilli())
	if err != nil {
		return world.Unavailable("put blob", err)
	}
	return nil
}

func (b *SQLBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.store.query(ctx,
		`SELECT blob_key FROM world_blobs WHERE bucket = ? AND blob_key LIKE ? ESCAPE '\'`,
		b.bucket, escapeLike(prefix)+"%")
	if err != nil {
		return nil, world.Unavailable("list blobs", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, world.Unavailable("list blobs", err)
		}
		// SQLite LIKE folds ASCII case
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, world.Unavailable("list blobs", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
