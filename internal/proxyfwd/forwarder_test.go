package proxyfwd

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dkowalski/relaytap/internal/captypes"
)

func TestParseCaptureRequest_WellFormed(t *testing.T) {
	body := []byte(`{"model":"claude-x","stream":true,"max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`)
	req := parseCaptureRequest(body, time.Now().UTC())

	if req.Model != "claude-x" || !req.Stream || req.MaxTokens != 100 {
		t.Fatalf("got %+v", req)
	}
	if req.ID == "" {
		t.Fatal("expected a generated id")
	}
	if len(req.Messages) != 1 || req.Messages[0].Content.Text != "hi" {
		t.Fatalf("got %+v", req.Messages)
	}
}

func TestParseCaptureRequest_UnparseableYieldsUnknownModel(t *testing.T) {
	req := parseCaptureRequest([]byte(`not json at all`), time.Now().UTC())
	if req.Model != "unknown" {
		t.Fatalf("model = %q, want unknown", req.Model)
	}
	if len(req.Messages) != 0 {
		t.Fatalf("messages = %+v, want empty", req.Messages)
	}
}

func TestParseCaptureRequest_EmptyBody(t *testing.T) {
	req := parseCaptureRequest(nil, time.Now().UTC())
	if req.Model != "unknown" {
		t.Fatalf("model = %q", req.Model)
	}
}

func TestParseCaptureResponse_WellFormed(t *testing.T) {
	body := []byte(`{"model":"claude-x","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`)
	resp, err := parseCaptureResponse(body, requestFixture(), time.Now().UTC())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hi" {
		t.Fatalf("got %+v", resp.Content)
	}
	if resp.StopReason == nil || *resp.StopReason != "end_turn" {
		t.Fatalf("stop reason = %v", resp.StopReason)
	}
}

func TestParseCaptureResponse_Unparseable(t *testing.T) {
	_, err := parseCaptureResponse([]byte(`{broken`), requestFixture(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected an error for malformed response JSON")
	}
}

func TestDecompress_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte(`{"hello":"world"}`))
	gw.Close()

	out, err := decompress("gzip", buf.Bytes())
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(out) != `{"hello":"world"}` {
		t.Fatalf("got %s", out)
	}
}

func TestDecompress_Identity(t *testing.T) {
	out, err := decompress("", []byte("raw"))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(out) != "raw" {
		t.Fatalf("got %s", out)
	}
}

func TestDecompress_Unsupported(t *testing.T) {
	if _, err := decompress("x-custom-codec", []byte("x")); err == nil {
		t.Fatal("expected an error for an unsupported codec")
	}
}

func TestReadBoundedBody_WithinLimit(t *testing.T) {
	data, err := readBoundedBody(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %s", data)
	}
}

func TestReadBoundedBody_ExceedsLimit(t *testing.T) {
	_, err := readBoundedBody(strings.NewReader("hello world"), 5)
	if err == nil {
		t.Fatal("expected an error for an oversized body")
	}
}

func TestCopyRequestHeaders_StripsHopByHopAndHost(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Set("Host", "client-facing.example")
	src.Set("Authorization", "Bearer x")

	dst := http.Header{}
	copyRequestHeaders(dst, src)

	if dst.Get("Connection") != "" || dst.Get("Host") != "" {
		t.Fatalf("hop-by-hop/host leaked: %+v", dst)
	}
	if dst.Get("Authorization") != "Bearer x" {
		t.Fatalf("got %+v", dst)
	}
}

func requestFixture() captypes.CaptureRequest {
	return captypes.CaptureRequest{ID: "req-1", Model: "claude-x"}
}
