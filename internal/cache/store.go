// Package cache provides the durable local snapshot store for crewsync.
//
// The cache is the first thing every view reads and the last thing every
// successful fetch writes. It holds opaque snapshot blobs keyed by
// namespace, so the app renders last-known-good data immediately on
// startup and survives offline periods without a schema migration story:
// snapshots are replaced whole, never patched.
//
// Layout:
//   - Key namespaces: profile, employees/<tenant>, tasks/<tenant>,
//     lastSeen/<user>, draft/<user>
//   - Values: JSON-encoded snapshots
//   - Backends: SQLite (WAL, embedded) for the CLI, memory for tests
//
// Tenant scoping is enforced twice: keys carry the tenant id, and the
// typed layer in snapshots.go re-filters rows by company on every read.
package cache

import "context"

// Store is the byte-level layer beneath the typed snapshot API.
//
// Implementations must tolerate concurrent use. Get reports absence via
// the bool rather than an error so callers can distinguish "no snapshot
// yet" from a broken backend.
type Store interface {
	// Get returns the value for key, or ok=false if the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every key. Used when the signed-in identity changes.
	Clear(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
