package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

const schemaVersion = 1

// SQLiteStore is the durable vector store. Embeddings are stored as JSON
// blobs and searched with a full cosine-similarity scan; at the scale of a
// per-instance memory store this beats maintaining a native ANN index.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	L_info("memory: sqlite store ready", "path", dbPath)
	return &SQLiteStore{db: db}, nil
}

// initSchema creates the memories table, migrating from older versions
// inside a transaction.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		L_warn("memory: failed to enable WAL mode", "error", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		L_warn("memory: failed to set busy timeout", "error", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create memory_meta table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT value FROM memory_meta WHERE key = 'schema_version'").Scan(&currentVersion)
	if err == sql.ErrNoRows {
		currentVersion = 0
	} else if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if currentVersion < schemaVersion {
		if err := migrateSchema(db, currentVersion); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func migrateSchema(db *sql.DB, fromVersion int) error {
	L_info("memory: migrating schema", "from", fromVersion, "to", schemaVersion)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if fromVersion < 1 {
		if _, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS memories (
				id TEXT PRIMARY KEY,
				text TEXT NOT NULL,
				embedding_blob BLOB NOT NULL,
				metadata_json TEXT,
				timestamp REAL NOT NULL
			)
		`); err != nil {
			return fmt.Errorf("create memories table: %w", err)
		}
		if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp)`); err != nil {
			return fmt.Errorf("create idx_memories_timestamp: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO memory_meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, schemaVersion); err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}

	return tx.Commit()
}

// Add persists an entry and returns its generated ID.
func (s *SQLiteStore) Add(ctx context.Context, text string, embedding []float32, metadata map[string]any) (string, error) {
	id := uuid.NewString()

	embBlob, err := json.Marshal(embedding)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}

	var metaJSON any
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		metaJSON = string(raw)
	}

	ts := float64(time.Now().UnixNano()) / 1e9
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, text, embedding_blob, metadata_json, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, id, text, embBlob, metaJSON, ts)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	L_debug("memory: added", "id", id, "text_len", len(text))
	return id, nil
}

// Search scans all rows, scoring by cosine similarity descending.
func (s *SQLiteStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, embedding_blob, metadata_json, timestamp
		FROM memories
	`)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			id, text string
			embBlob  []byte
			metaJSON sql.NullString
			ts       float64
		)
		if err := rows.Scan(&id, &text, &embBlob, &metaJSON, &ts); err != nil {
			continue
		}

		var embedding []float32
		if err := json.Unmarshal(embBlob, &embedding); err != nil {
			L_warn("memory: bad embedding blob, skipping", "id", id)
			continue
		}

		var metadata map[string]any
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &metadata)
		}

		sim := cosineSimilarity(queryEmbedding, embedding)
		results = append(results, Result{
			ID:         id,
			Text:       text,
			Metadata:   metadata,
			Timestamp:  ts,
			Similarity: &sim,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].Similarity > *results[j].Similarity
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes an entry, reporting whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes all entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memories"); err != nil {
		return fmt.Errorf("clear memories: %w", err)
	}
	L_info("memory: store cleared")
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
