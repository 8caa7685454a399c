// Package capturelog is the durable append-only store of request/response
// LogEntry records: a single line-delimited JSON file plus an optional
// SQLite projection that makes pairing queries fast without becoming the
// source of truth.
package capturelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkowalski/relaytap/internal/captypes"
)

const fileName = "messages.jsonl"

// Log is the capture log for one dataDir. The JSONL file is the source of
// truth; the index, when present, is a disposable projection rebuilt from
// it. Appends are serialised through mu; reads take the same lock briefly
// so a reader never observes a half-written line.
type Log struct {
	mu     sync.Mutex
	dir    string
	path   string
	file   *os.File
	index  *sqliteIndex // nil when the index could not be opened
	logger *slog.Logger
}

// Open creates dir if absent and prepares the log for appends. The backing
// file itself is created lazily on first append, matching clear()'s
// contract that a cleared log re-creates its file on next write.
func Open(dir string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating capture log directory %s: %w", dir, err)
	}

	l := &Log{
		dir:    dir,
		path:   filepath.Join(dir, fileName),
		logger: logger,
	}

	idx, err := openIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		// The index is a disposable acceleration structure; its absence
		// degrades getPairs to a full scan but must not fail startup.
		logger.Warn("capture log index unavailable, falling back to full scans", "error", err)
	} else {
		l.index = idx
		if err := l.reindex(); err != nil {
			logger.Warn("capture log reindex failed", "error", err)
		}
	}

	return l, nil
}

// Close releases the backing file and index handle, if open.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Log) closeLocked() error {
	var err error
	if l.file != nil {
		err = l.file.Close()
		l.file = nil
	}
	if l.index != nil {
		l.index.close()
		l.index = nil
	}
	return err
}

// LogRequest appends a request entry. Write failures are logged and
// otherwise swallowed: per the error-handling policy, a capture-log failure
// must never abort the proxy exchange.
func (l *Log) LogRequest(req captypes.CaptureRequest) {
	l.append(captypes.LogEntry{
		Type:      captypes.LogEntryRequest,
		Timestamp: req.Timestamp,
		Request:   &req,
	})
}

// LogResponse appends a response entry.
func (l *Log) LogResponse(resp captypes.CaptureResponse) {
	l.append(captypes.LogEntry{
		Type:      captypes.LogEntryResponse,
		Timestamp: resp.Timestamp,
		Response:  &resp,
	})
}

func (l *Log) append(entry captypes.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureOpenLocked(); err != nil {
		l.logger.Error("capture log open failed", "error", err)
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("capture log marshal failed", "error", err)
		return
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		l.logger.Error("capture log write failed", "error", err)
		return
	}
	if err := l.file.Sync(); err != nil {
		l.logger.Error("capture log sync failed", "error", err)
	}

	if l.index != nil {
		if err := l.index.insert(entry); err != nil {
			l.logger.Warn("capture log index insert failed", "error", err)
		}
	}
}

func (l *Log) ensureOpenLocked() error {
	if l.file != nil {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening capture log %s: %w", l.path, err)
	}
	l.file = f
	return nil
}

// ReadAll returns every entry in file order. Lines that fail to parse as
// JSON are skipped — tolerated corruption of a trailing partial write.
func (l *Log) ReadAll() []captypes.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.readAllLocked()
	if err != nil {
		l.logger.Warn("capture log read failed", "error", err)
		return nil
	}
	return entries
}

func (l *Log) readAllLocked() ([]captypes.LogEntry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []captypes.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e captypes.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// trailing partial line or other corruption, skip it
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// GetPairs returns every request paired with its matching response, if any,
// in request insertion order. If multiple responses share a request id,
// the last one read wins.
func (l *Log) GetPairs() []captypes.Pair {
	l.mu.Lock()
	index := l.index
	l.mu.Unlock()

	if index != nil {
		pairs, err := index.pairs()
		if err == nil {
			return pairs
		}
		l.logger.Warn("capture log index query failed, falling back to full scan", "error", err)
	}

	entries := l.ReadAll()
	return pairsFromEntries(entries)
}

func pairsFromEntries(entries []captypes.LogEntry) []captypes.Pair {
	order := make([]string, 0, len(entries))
	requests := make(map[string]captypes.CaptureRequest)
	responses := make(map[string]captypes.CaptureResponse)

	for _, e := range entries {
		switch e.Type {
		case captypes.LogEntryRequest:
			if e.Request == nil {
				continue
			}
			if _, seen := requests[e.Request.ID]; !seen {
				order = append(order, e.Request.ID)
			}
			requests[e.Request.ID] = *e.Request
		case captypes.LogEntryResponse:
			if e.Response == nil {
				continue
			}
			responses[e.Response.RequestID] = *e.Response
		}
	}

	pairs := make([]captypes.Pair, 0, len(order))
	for _, id := range order {
		req := requests[id]
		pair := captypes.Pair{Request: req}
		if resp, ok := responses[id]; ok {
			r := resp
			pair.Response = &r
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// Clear closes the backing file, deletes it, and resets in-memory state.
// A subsequent LogRequest/LogResponse re-creates the file.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.closeLocked(); err != nil {
		l.logger.Warn("capture log close during clear failed", "error", err)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing capture log %s: %w", l.path, err)
	}

	idx, err := openIndex(filepath.Join(l.dir, "index.db"))
	if err != nil {
		l.logger.Warn("capture log index reopen after clear failed", "error", err)
		idx = nil
	} else if err := idx.truncate(); err != nil {
		l.logger.Warn("capture log index truncate failed", "error", err)
	}
	l.index = idx

	return nil
}

func (l *Log) reindex() error {
	entries, err := l.readAllLocked()
	if err != nil {
		return err
	}
	return l.index.rebuild(entries)
}
