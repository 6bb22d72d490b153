// Package sqlite persists flushed Compact LiDAR scans and decode-failure
// counts. Schema and connection setup live in internal/db; the stores here
// take a plain *sql.DB so tests and tools can share one connection pool.
package sqlite
