// Package store provides the backend adapters for the world package.
// The RowStore, LaneTransport and BlobStore interfaces are defined in the
// parent world package (../store_interface.go) to avoid import cycles
// between the world and store packages.
//
// This package contains concrete implementations:
//   - MemoryStore, MemoryLane, MemoryBlobStore: in-process backends for tests
//     and single-instance use
//   - SQLStore, SQLLane, SQLBlobStore: PostgreSQL (pgx) and SQLite backends
//     sharing one schema (schema.sql)
//   - DynamoDBStore, DynamoDBBlobStore: AWS DynamoDB single-table backends
//     following the key design in schema.go
package store

import (
	"sort"

	"github.com/sicko7947/world"
)

// pageWindow sorts rows by id in the page direction, drops rows on the wrong
// side of the cursor and applies the limit
func pageWindow[T any](rows []T, page world.PageQuery, idOf func(T) string) []T {
	sort.Slice(rows, func(i, j int) bool {
		if page.Order == world.SortDesc {
			return idOf(rows[i]) > idOf(rows[j])
		}
		return idOf(rows[i]) < idOf(rows[j])
	})

	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if !page.After(idOf(row)) {
			continue
		}
		out = append(out, row)
		if page.Limit > 0 && len(out) >= page.Limit {
			break
		}
	}
	return out
}
