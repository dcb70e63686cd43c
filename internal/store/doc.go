// Package store provides persistent storage for highlight annotations using SQLite.
//
// # Architecture
//
// The package defines a single HighlightStore interface with two
// implementations:
//
//   - SQLiteStore: durable storage backed by modernc.org/sqlite
//   - MockStore: in-memory implementation for unit tests
//
// The store exclusively owns the canonical annotation collection. Other
// components (anchor resolution, overlay rendering) operate on copies and
// never write back; all mutation goes through the CRUD entry points here.
//
// # Data Model
//
//   - Annotation: one highlight, keyed by id, scoped by document id, with the
//     captured quoted text, a durable anchor descriptor, a palette color and
//     an optional note
//   - Patch: the mutable subset (note, color) accepted by Update
//
// Re-anchoring is not a mutation: a stored annotation's anchor never changes.
// If the document drifts, the annotation is surfaced as stale, not rewritten.
//
// # Durability
//
// Every mutating call commits synchronously before returning:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA synchronous=FULL;
//
// There is no write-behind caching, so a crash immediately after a
// successful call cannot lose data.
//
// # Error Handling
//
//   - ErrNotFound: Update on an unknown id (Delete is idempotent instead)
//   - validation errors: empty quoted text, unknown color, missing ids
//
// All methods accept context.Context.
//
// # Testing
//
// Use NewMockStore() for unit tests; its FailWith field injects persistence
// failures. Use NewSQLiteStore(":memory:") for integration tests with real
// SQLite, or a t.TempDir() path to test durability across reopen.
package store
