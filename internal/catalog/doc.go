// Package catalog records one row per acquisition iteration in PostgreSQL.
//
// Rows are batched and written by a background goroutine so the
// acquisition loop never waits on the database.
package catalog
