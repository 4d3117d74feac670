// Package store persists documents and chunks in a single-writer,
// many-reader SQLite database, and exposes a stage-1 FTS5 candidate lookup
// used ahead of in-memory BM25 reranking.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/bad33ndj3/mcp-md-index/internal/domain"
)

// ErrDocumentNotFound is returned when a lookup by doc URL finds nothing.
var ErrDocumentNotFound = errors.New("store: document not found")

const schemaVersion = 1

// Store wraps a SQLite connection holding the documents, chunks, and
// chunks_fts tables. A Store opened ReadOnly must never be written to; the
// refresh coordinator opens a second, writable Store against a shadow copy
// of the database file.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// HashContent returns the content-addressing hash used to decide whether an
// upsert needs to rewrite a document's row or may just bump updated_at.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Open opens (creating if absent) the SQLite database at path. When
// readOnly is true the connection is opened with mode=ro and schema
// creation is skipped; the caller is responsible for ensuring the schema
// already exists.
func Open(path string, readOnly bool) (*Store, error) {
	if !readOnly {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
		}
		if err := validateIntegrity(path); err != nil {
			slog.Warn("store_db_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			_ = os.Remove(path)
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
	}

	dsn := path
	if readOnly {
		dsn = path + "?mode=ro&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if !readOnly {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA cache_size = -65536",
			"PRAGMA temp_store = MEMORY",
			"PRAGMA foreign_keys = ON",
		}
		for _, p := range pragmas {
			if _, err := db.Exec(p); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("store: pragma %q: %w", p, err)
			}
		}
	}

	s := &Store{db: db, path: path, readOnly: readOnly}

	if !readOnly {
		if err := s.ensureSchema(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: ensure schema: %w", err)
		}
	}

	return s, nil
}

// validateIntegrity mirrors the corruption check applied before opening a
// writable connection: a missing file is fine (it will be created), but an
// existing file that fails PRAGMA integrity_check is treated as corrupt and
// cleared by the caller. The schema is not checked here; ensureSchema
// creates or migrates it after the connection is opened.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// HasFTSIndex reports whether the chunks_fts virtual table already exists.
func (s *Store) HasFTSIndex() (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='chunks_fts'`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: check fts table: %w", err)
	}
	return count > 0, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_name TEXT NOT NULL,
			source_url TEXT NOT NULL,
			doc_url TEXT NOT NULL UNIQUE,
			title TEXT,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_source_name ON documents(source_name)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			start_pos INTEGER NOT NULL,
			end_pos INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			content,
			content='chunks',
			content_rowid='id',
			tokenize='porter unicode61 remove_diacritics 2'
		)`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
			INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		fmt.Sprintf(`INSERT OR IGNORE INTO schema_version (version) VALUES (%d)`, schemaVersion),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	if err := s.migrateLegacyColumns(); err != nil {
		return err
	}
	// The same idempotent statement also runs in the list above, before the
	// migration; on a database this package created it is a no-op here.
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_documents_source_name ON documents(source_name)`); err != nil {
		return fmt.Errorf("create source_name index: %w", err)
	}
	return nil
}

// migrateLegacyColumns backfills source_name on documents rows that predate
// that column and drops the since-removed fetched_at column, mirroring
// original_source/llmdoc/store.py's _init_schema. A database created fresh by
// this package never hits either branch; this only matters for a store.db
// carried over from the Python implementation.
func (s *Store) migrateLegacyColumns() error {
	rows, err := s.db.Query(`PRAGMA table_info(documents)`)
	if err != nil {
		return fmt.Errorf("table_info: %w", err)
	}
	var hasSourceName, hasFetchedAt bool
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("table_info scan: %w", err)
		}
		switch name {
		case "source_name":
			hasSourceName = true
		case "fetched_at":
			hasFetchedAt = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("table_info rows: %w", err)
	}
	rows.Close()

	if !hasSourceName {
		if _, err := s.db.Exec(`ALTER TABLE documents ADD COLUMN source_name TEXT DEFAULT ''`); err != nil {
			return fmt.Errorf("add source_name column: %w", err)
		}
		if _, err := s.db.Exec(`
			UPDATE documents
			SET source_name = substr(
				replace(replace(source_url, 'https://', ''), 'http://', ''),
				1,
				CASE
					WHEN instr(replace(replace(source_url, 'https://', ''), 'http://', ''), '/') = 0
					THEN length(replace(replace(source_url, 'https://', ''), 'http://', ''))
					ELSE instr(replace(replace(source_url, 'https://', ''), 'http://', ''), '/') - 1
				END
			)
			WHERE source_name = ''`); err != nil {
			return fmt.Errorf("backfill source_name: %w", err)
		}
	}

	if hasFetchedAt {
		if _, err := s.db.Exec(`ALTER TABLE documents DROP COLUMN fetched_at`); err != nil {
			return fmt.Errorf("drop fetched_at column: %w", err)
		}
	}
	return nil
}

// Path returns the filesystem path this Store was opened against.
func (s *Store) Path() string { return s.path }

// Close closes the underlying connection, checkpointing the WAL first when
// the store is writable.
func (s *Store) Close() error {
	if !s.readOnly {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// UpsertDocument inserts doc if its doc_url is new, or updates it in place.
// When the existing row's content hash matches doc.ContentHash, only
// updated_at is bumped and the chunk/FTS rows are left untouched; otherwise
// the row is rewritten and its chunks replaced with newChunks. It returns
// the document's row id and whether the content actually changed.
func (s *Store) UpsertDocument(doc domain.Document, newChunks []domain.Chunk) (id int64, changed bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("store: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	var existingHash string
	err = tx.QueryRow(`SELECT id, content_hash FROM documents WHERE doc_url = ?`, doc.DocURL).Scan(&existingID, &existingHash)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, execErr := tx.Exec(
			`INSERT INTO documents (source_name, source_url, doc_url, title, content, content_hash, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.SourceName, doc.SourceURL, doc.DocURL, doc.Title, doc.Content, doc.ContentHash, doc.UpdatedAt,
		)
		if execErr != nil {
			return 0, false, fmt.Errorf("store: insert document: %w", execErr)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("store: last insert id: %w", err)
		}
		if err := insertChunks(tx, id, newChunks); err != nil {
			return 0, false, err
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("store: commit insert: %w", err)
		}
		return id, true, nil

	case err != nil:
		return 0, false, fmt.Errorf("store: lookup document: %w", err)
	}

	id = existingID
	if existingHash == doc.ContentHash {
		if _, err := tx.Exec(`UPDATE documents SET updated_at = ? WHERE id = ?`, doc.UpdatedAt, id); err != nil {
			return 0, false, fmt.Errorf("store: touch document: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("store: commit touch: %w", err)
		}
		return id, false, nil
	}

	if _, err := tx.Exec(
		`UPDATE documents SET source_name = ?, source_url = ?, title = ?, content = ?, content_hash = ?, updated_at = ?
		 WHERE id = ?`,
		doc.SourceName, doc.SourceURL, doc.Title, doc.Content, doc.ContentHash, doc.UpdatedAt, id,
	); err != nil {
		return 0, false, fmt.Errorf("store: update document: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE doc_id = ?`, id); err != nil {
		return 0, false, fmt.Errorf("store: clear chunks: %w", err)
	}
	if err := insertChunks(tx, id, newChunks); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("store: commit update: %w", err)
	}
	return id, true, nil
}

func insertChunks(tx *sql.Tx, docID int64, chunks []domain.Chunk) error {
	stmt, err := tx.Prepare(`INSERT INTO chunks (doc_id, content, start_pos, end_pos) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(docID, c.Content, c.StartPos, c.EndPos); err != nil {
			return fmt.Errorf("store: insert chunk: %w", err)
		}
	}
	return nil
}

// GetDocumentByURL returns the document with the given doc_url, or
// ErrDocumentNotFound if none exists.
func (s *Store) GetDocumentByURL(docURL string) (domain.Document, error) {
	var d domain.Document
	var title sql.NullString
	err := s.db.QueryRow(
		`SELECT id, source_name, source_url, doc_url, title, content, content_hash, updated_at
		 FROM documents WHERE doc_url = ?`, docURL,
	).Scan(&d.ID, &d.SourceName, &d.SourceURL, &d.DocURL, &title, &d.Content, &d.ContentHash, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("store: get document: %w", err)
	}
	if title.Valid {
		d.Title = &title.String
	}
	return d, nil
}

// GetAllDocuments returns every document currently stored, ordered by id.
func (s *Store) GetAllDocuments() ([]domain.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, source_name, source_url, doc_url, title, content, content_hash, updated_at
		 FROM documents ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		var title sql.NullString
		if err := rows.Scan(&d.ID, &d.SourceName, &d.SourceURL, &d.DocURL, &title, &d.Content, &d.ContentHash, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		if title.Valid {
			d.Title = &title.String
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetChunksByDocID returns all chunks belonging to docID, ordered by
// start_pos.
func (s *Store) GetChunksByDocID(docID int64) ([]domain.Chunk, error) {
	rows, err := s.db.Query(`SELECT id, doc_id, content, start_pos, end_pos FROM chunks WHERE doc_id = ? ORDER BY start_pos`, docID)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.Content, &c.StartPos, &c.EndPos); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkWithDoc is a stored chunk together with the metadata of the document
// it belongs to.
type ChunkWithDoc struct {
	Chunk      domain.Chunk
	DocURL     string
	SourceName string
	SourceURL  string
	Title      *string
}

// GetAllChunks returns every chunk in the store, joined with enough
// document metadata for the in-memory index to build SearchResults without
// a second query per hit.
func (s *Store) GetAllChunks() ([]ChunkWithDoc, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.doc_id, c.content, c.start_pos, c.end_pos,
		        d.doc_url, d.source_name, d.source_url, d.title
		 FROM chunks c JOIN documents d ON d.id = c.doc_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list all chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkWithDoc
	for rows.Next() {
		var cw ChunkWithDoc
		var title sql.NullString
		if err := rows.Scan(&cw.Chunk.ID, &cw.Chunk.DocID, &cw.Chunk.Content, &cw.Chunk.StartPos, &cw.Chunk.EndPos,
			&cw.DocURL, &cw.SourceName, &cw.SourceURL, &title); err != nil {
			return nil, fmt.Errorf("store: scan chunk row: %w", err)
		}
		if title.Valid {
			cw.Title = &title.String
		}
		out = append(out, cw)
	}
	return out, rows.Err()
}

// DeleteStaleDocuments removes every document for sourceName whose doc_url
// is not in validURLs (an empty validURLs deletes all documents for that
// source) and returns the number of rows deleted. Chunks are removed via
// the ON DELETE CASCADE foreign key.
func (s *Store) DeleteStaleDocuments(sourceName string, validURLs []string) (int, error) {
	if len(validURLs) == 0 {
		res, err := s.db.Exec(`DELETE FROM documents WHERE source_name = ?`, sourceName)
		if err != nil {
			return 0, fmt.Errorf("store: delete all for source: %w", err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	placeholders := make([]byte, 0, len(validURLs)*2)
	args := make([]any, 0, len(validURLs)+1)
	args = append(args, sourceName)
	for i, u := range validURLs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, u)
	}

	query := fmt.Sprintf(
		`DELETE FROM documents WHERE source_name = ? AND doc_url NOT IN (%s)`, string(placeholders),
	)
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete stale: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetSourceStats aggregates per-source document counts and last-updated
// timestamps.
func (s *Store) GetSourceStats() ([]domain.SourceStats, error) {
	rows, err := s.db.Query(
		`SELECT source_name, source_url, COUNT(*), MAX(updated_at) FROM documents GROUP BY source_name, source_url`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: source stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.SourceStats
	for rows.Next() {
		var st domain.SourceStats
		var lastUpdated sql.NullTime
		if err := rows.Scan(&st.Name, &st.URL, &st.DocCount, &lastUpdated); err != nil {
			return nil, fmt.Errorf("store: scan source stats: %w", err)
		}
		if lastUpdated.Valid {
			t := lastUpdated.Time
			st.LastUpdated = &t
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// FTSCandidate is one stage-1 hit: a chunk id and the document it belongs to.
type FTSCandidate struct {
	ChunkID int64
	DocID   int64
}

// FTSCandidates runs matchQuery (already tokenized and stopword-filtered by
// the caller) against chunks_fts and returns up to domain.FTSCandidateLimit
// chunk ids ordered by the engine's own BM25 ranking. An empty matchQuery
// returns no candidates rather than matching everything.
func (s *Store) FTSCandidates(matchQuery string) ([]FTSCandidate, error) {
	if matchQuery == "" {
		return nil, nil
	}

	rows, err := s.db.Query(
		`SELECT c.id, c.doc_id FROM chunks_fts f JOIN chunks c ON c.id = f.rowid
		 WHERE f.content MATCH ? ORDER BY bm25(f) LIMIT ?`,
		matchQuery, domain.FTSCandidateLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: fts candidates: %w", err)
	}
	defer rows.Close()

	var out []FTSCandidate
	for rows.Next() {
		var c FTSCandidate
		if err := rows.Scan(&c.ChunkID, &c.DocID); err != nil {
			return nil, fmt.Errorf("store: scan fts candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CopyFile copies the main database file from src to dst, used by the
// refresh coordinator to build a shadow copy before writing to it. The
// -wal and -shm siblings of src are not copied, so pages not yet
// checkpointed into the main file are absent from dst. A missing src is not
// an error; dst is then not created.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", dst, err)
	}
	return nil
}
