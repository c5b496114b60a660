// Package storage is the append-only content store. Each pipeline gets
// its own bucket table, provisioned lazily on the first lifecycle or
// execution event for that pipeline id. Rows are immutable once written;
// this package never updates or deletes content.
package storage
