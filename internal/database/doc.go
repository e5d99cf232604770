// Package database opens the PostgreSQL pool used by the order journal.
package database
