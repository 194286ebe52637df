// Package store provides persistent storage for harbor-bot using SQLite.
//
// # Architecture
//
// The package is interface-driven, split by consumer:
//
//   - SessionStore: gateway session identity, heartbeat counter, lifecycle events
//   - RateLimitStore: token bucket state per endpoint key
//   - JobStore: the persistent conversion job queue
//
// SQLiteStore implements all interfaces in a single struct. The engine treats
// every call as best-effort: a persistence failure is logged by the caller and
// never aborts a live connection.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore(":memory:") for tests
// that should exercise real SQL.
package store
