// Package hashcache implements the persistent (file, chunk_hash) relational
// cache described by the hash cache store component: a correctness
// accelerator, never a source of truth, backed by sqlite via sqlx.
package hashcache

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hsp501/sweeper/pkg/chunkhash"
)

const schema = `
CREATE TABLE IF NOT EXISTS file (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	directory TEXT NOT NULL,
	basename TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime REAL NOT NULL,
	UNIQUE(directory, basename)
);

CREATE TABLE IF NOT EXISTS chunk_hash (
	file_id INTEGER NOT NULL,
	serial INTEGER NOT NULL,
	block_size INTEGER NOT NULL,
	hash TEXT NOT NULL,
	PRIMARY KEY (file_id, serial),
	FOREIGN KEY (file_id) REFERENCES file(id) ON DELETE CASCADE
);
`

// Cache is a sqlite-backed hash cache store. It owns a single connection
// pool over one local database file.
type Cache struct {
	db *sqlx.DB
}

// FileRecord mirrors the `file` relation's row shape.
type FileRecord struct {
	ID        int64   `db:"id"`
	Directory string  `db:"directory"`
	Basename  string  `db:"basename"`
	Size      int64   `db:"size"`
	MTime     float64 `db:"mtime"`
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Cache, error) {
	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("hashcache: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("hashcache: create schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// AddFile inserts a new file record and returns its id, or -1 if the
// insert violates the (directory, basename) uniqueness constraint or
// otherwise fails.
func (c *Cache) AddFile(directory, basename string, size int64, mtime float64) int64 {
	res, err := c.db.Exec(
		"INSERT INTO file (directory, basename, size, mtime) VALUES (?, ?, ?, ?)",
		directory, basename, size, mtime,
	)
	if err != nil {
		return -1
	}
	id, err := res.LastInsertId()
	if err != nil {
		return -1
	}
	return id
}

// GetFile looks up a file record by its split (directory, basename) path.
func (c *Cache) GetFile(directory, basename string) (*FileRecord, error) {
	var rec FileRecord
	err := c.db.Get(&rec, "SELECT id, directory, basename, size, mtime FROM file WHERE directory = ? AND basename = ?", directory, basename)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hashcache: get file: %w", err)
	}
	return &rec, nil
}

// GetFileByID looks up a file record by its id.
func (c *Cache) GetFileByID(id int64) (*FileRecord, error) {
	var rec FileRecord
	err := c.db.Get(&rec, "SELECT id, directory, basename, size, mtime FROM file WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hashcache: get file by id: %w", err)
	}
	return &rec, nil
}

// GetFileBySize returns every file record of the given size, ordered by id.
func (c *Cache) GetFileBySize(size int64) ([]FileRecord, error) {
	var recs []FileRecord
	err := c.db.Select(&recs, "SELECT id, directory, basename, size, mtime FROM file WHERE size = ? ORDER BY id, directory, basename", size)
	if err != nil {
		return nil, fmt.Errorf("hashcache: get file by size: %w", err)
	}
	return recs, nil
}

// UpdateFile updates a file record's (size, mtime) in place.
func (c *Cache) UpdateFile(id int64, size int64, mtime float64) bool {
	_, err := c.db.Exec("UPDATE file SET size = ?, mtime = ? WHERE id = ?", size, mtime, id)
	return err == nil
}

// DeleteChunkHashes removes every chunk_hash row for a file.
func (c *Cache) DeleteChunkHashes(fileID int64) bool {
	_, err := c.db.Exec("DELETE FROM chunk_hash WHERE file_id = ?", fileID)
	return err == nil
}

// DeleteFile removes a file record (and, by cascade, its chunk hashes).
func (c *Cache) DeleteFile(id int64) bool {
	_, err := c.db.Exec("DELETE FROM file WHERE id = ?", id)
	return err == nil
}

// GetChunkHashes returns every chunk of a file ordered by serial.
func (c *Cache) GetChunkHashes(fileID int64) ([]chunkhash.Chunk, error) {
	var chunks []chunkhash.Chunk
	err := c.db.Select(&chunks, "SELECT serial, block_size, hash FROM chunk_hash WHERE file_id = ? ORDER BY serial", fileID)
	if err != nil {
		return nil, fmt.Errorf("hashcache: get chunk hashes: %w", err)
	}
	return chunks, nil
}

// AddChunkHashes batch-inserts chunks for a file inside one transaction;
// any single insert failure aborts and rolls back the whole batch.
func (c *Cache) AddChunkHashes(fileID int64, chunks []chunkhash.Chunk) bool {
	tx, err := c.db.Beginx()
	if err != nil {
		return false
	}

	for _, chunk := range chunks {
		if _, err := tx.Exec(
			"INSERT INTO chunk_hash (file_id, serial, block_size, hash) VALUES (?, ?, ?, ?)",
			fileID, chunk.Serial, chunk.BlockSize, chunk.Hash,
		); err != nil {
			tx.Rollback()
			return false
		}
	}

	return tx.Commit() == nil
}

// GetFileDetails is the central lazy-cache routine. It returns (-1, nil)
// when there is no record (the caller must create one), (id, nil) when the
// record exists but is stale or malformed (chunks dropped, record updated
// or deleted in place), or (id, chunks) when the cached chunk set is still
// valid for the given (size, mtime).
func (c *Cache) GetFileDetails(directory, basename string, size int64, mtime float64) (int64, []chunkhash.Chunk, error) {
	rec, err := c.GetFile(directory, basename)
	if err != nil {
		return -1, nil, err
	}
	if rec == nil {
		return -1, nil, nil
	}

	stale := rec.Size != size || rec.MTime != mtime

	var chunks []chunkhash.Chunk
	if !stale {
		chunks, err = c.GetChunkHashes(rec.ID)
		if err != nil {
			return rec.ID, nil, err
		}
		if !chunkhash.IsDenseSerialPrefix(chunks) {
			stale = true
		}
	}

	if stale {
		if c.DeleteChunkHashes(rec.ID) && c.UpdateFile(rec.ID, size, mtime) {
			return rec.ID, nil, nil
		}
		c.DeleteFile(rec.ID)
		return -1, nil, nil
	}

	return rec.ID, chunks, nil
}
