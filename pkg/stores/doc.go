// Package stores provides run history persistence for stackherd.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded schema migrations, and queries over runs, unit results,
// rollbacks, and timeline events.
package stores
