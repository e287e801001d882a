// Package migrations holds the PostgreSQL schema the ledger store reads and
// writes. Files are applied in name order.
package migrations
