package capturelog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkowalski/relaytap/internal/capturelog"
	"github.com/dkowalski/relaytap/internal/captypes"
)

func openTestLog(t *testing.T) *capturelog.Log {
	t.Helper()
	dir := t.TempDir()
	l, err := capturelog.Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLog_RequestResponseRoundTrip(t *testing.T) {
	l := openTestLog(t)

	l.LogRequest(captypes.CaptureRequest{ID: "req-1", Timestamp: time.Now().UTC(), Model: "claude-x"})
	reason := "end_turn"
	l.LogResponse(captypes.CaptureResponse{RequestID: "req-1", Timestamp: time.Now().UTC(), StopReason: &reason})

	entries := l.ReadAll()
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Type != captypes.LogEntryRequest || entries[1].Type != captypes.LogEntryResponse {
		t.Fatalf("ordering wrong: %+v", entries)
	}
}

func TestLog_GetPairs(t *testing.T) {
	l := openTestLog(t)

	l.LogRequest(captypes.CaptureRequest{ID: "req-1", Timestamp: time.Now().UTC()})
	l.LogRequest(captypes.CaptureRequest{ID: "req-2", Timestamp: time.Now().UTC()})
	l.LogResponse(captypes.CaptureResponse{RequestID: "req-1"})

	pairs := l.GetPairs()
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs", len(pairs))
	}
	if pairs[0].Request.ID != "req-1" || pairs[0].Response == nil {
		t.Fatalf("pair 0 = %+v", pairs[0])
	}
	if pairs[1].Request.ID != "req-2" || pairs[1].Response != nil {
		t.Fatalf("pair 1 = %+v", pairs[1])
	}
}

func TestLog_GetPairsIdempotent(t *testing.T) {
	l := openTestLog(t)
	l.LogRequest(captypes.CaptureRequest{ID: "req-1"})
	l.LogResponse(captypes.CaptureResponse{RequestID: "req-1"})

	first := l.GetPairs()
	second := l.GetPairs()
	if len(first) != len(second) || first[0].Request.ID != second[0].Request.ID {
		t.Fatalf("pairs changed across calls: %+v vs %+v", first, second)
	}
}

func TestLog_MultipleResponsesLastWins(t *testing.T) {
	l := openTestLog(t)
	l.LogRequest(captypes.CaptureRequest{ID: "req-1"})
	l.LogResponse(captypes.CaptureResponse{RequestID: "req-1", Model: "first"})
	l.LogResponse(captypes.CaptureResponse{RequestID: "req-1", Model: "second"})

	pairs := l.GetPairs()
	if len(pairs) != 1 || pairs[0].Response.Model != "second" {
		t.Fatalf("got %+v", pairs)
	}
}

func TestLog_ReadAllSkipsMalformedTrailingLine(t *testing.T) {
	dir := t.TempDir()
	l, err := capturelog.Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l.LogRequest(captypes.CaptureRequest{ID: "req-1"})
	l.Close()

	f, err := os.OpenFile(filepath.Join(dir, "messages.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open raw file: %v", err)
	}
	if _, err := f.WriteString(`{"type":"request","data":{truncated`); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()

	l2, err := capturelog.Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	entries := l2.ReadAll()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (malformed trailing line should be skipped)", len(entries))
	}
}

func TestLog_ClearThenReadAllEmpty(t *testing.T) {
	l := openTestLog(t)
	l.LogRequest(captypes.CaptureRequest{ID: "req-1"})

	if err := l.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if entries := l.ReadAll(); len(entries) != 0 {
		t.Fatalf("got %d entries after clear", len(entries))
	}

	l.LogRequest(captypes.CaptureRequest{ID: "req-2"})
	if entries := l.ReadAll(); len(entries) != 1 {
		t.Fatalf("log did not re-create file after clear: %d entries", len(entries))
	}
}
