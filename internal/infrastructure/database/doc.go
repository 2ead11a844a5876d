// Package database opens the SQLite file that backs the apontamento journal.
//
// Open applies WAL mode and a busy timeout through the go-sqlite3 DSN and
// limits the pool to one connection, matching SQLite's single writer.
// Migrate applies versioned "*.up.sql" files from any fs.FS, so each store
// embeds and owns its schema.
//
// Migrations are additive: new columns must be nullable or carry a default.
package database
