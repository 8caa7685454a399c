package capturelog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/dkowalski/relaytap/internal/captypes"
)

// sqliteIndex is a queryable projection over the capture log's JSONL file.
// The JSONL file is the source of truth; this index exists only to answer
// getPairs without a full file scan, and can always be rebuilt from it.
type sqliteIndex struct {
	db *sql.DB
}

func openIndex(path string) (*sqliteIndex, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening capture index %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating capture index schema: %w", err)
	}
	return &sqliteIndex{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id       TEXT PRIMARY KEY,
	seq      INTEGER,
	data     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS responses (
	request_id TEXT PRIMARY KEY,
	data       TEXT NOT NULL
);
`

func (idx *sqliteIndex) insert(entry captypes.LogEntry) error {
	switch entry.Type {
	case captypes.LogEntryRequest:
		if entry.Request == nil {
			return nil
		}
		data, err := json.Marshal(entry.Request)
		if err != nil {
			return err
		}
		var seq int64
		if err := idx.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM requests`).Scan(&seq); err != nil {
			return err
		}
		_, err = idx.db.Exec(
			`INSERT OR REPLACE INTO requests (id, seq, data) VALUES (?, ?, ?)`,
			entry.Request.ID, seq, string(data),
		)
		return err
	case captypes.LogEntryResponse:
		if entry.Response == nil {
			return nil
		}
		data, err := json.Marshal(entry.Response)
		if err != nil {
			return err
		}
		_, err = idx.db.Exec(
			`INSERT OR REPLACE INTO responses (request_id, data) VALUES (?, ?)`,
			entry.Response.RequestID, string(data),
		)
		return err
	}
	return nil
}

// pairs returns every request joined with its response, if any, ordered by
// insertion sequence. A request with no response row yields a nil Response.
func (idx *sqliteIndex) pairs() ([]captypes.Pair, error) {
	rows, err := idx.db.Query(`
		SELECT r.data, resp.data
		FROM requests r
		LEFT JOIN responses resp ON resp.request_id = r.id
		ORDER BY r.seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying capture index: %w", err)
	}
	defer rows.Close()

	var pairs []captypes.Pair
	for rows.Next() {
		var reqJSON string
		var respJSON sql.NullString
		if err := rows.Scan(&reqJSON, &respJSON); err != nil {
			return nil, fmt.Errorf("scanning capture index row: %w", err)
		}
		var pair captypes.Pair
		if err := json.Unmarshal([]byte(reqJSON), &pair.Request); err != nil {
			return nil, fmt.Errorf("decoding indexed request: %w", err)
		}
		if respJSON.Valid {
			var resp captypes.CaptureResponse
			if err := json.Unmarshal([]byte(respJSON.String), &resp); err != nil {
				return nil, fmt.Errorf("decoding indexed response: %w", err)
			}
			pair.Response = &resp
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// rebuild replaces the index contents with a fresh projection of entries,
// used on startup to recover from a missing or stale index.db.
func (idx *sqliteIndex) rebuild(entries []captypes.LogEntry) error {
	if err := idx.truncate(); err != nil {
		return err
	}
	for _, e := range entries {
		if err := idx.insert(e); err != nil {
			return err
		}
	}
	return nil
}

func (idx *sqliteIndex) truncate() error {
	_, err := idx.db.Exec(`DELETE FROM requests; DELETE FROM responses;`)
	return err
}

func (idx *sqliteIndex) close() error {
	return idx.db.Close()
}
