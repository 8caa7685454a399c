// Package proxyfwd is the reverse-proxy ingress: it forwards every request
// to the fixed upstream host unchanged, tee-ing bytes to the client and to
// an observer so the exchange can be captured without adding latency or
// altering what the client sees.
package proxyfwd

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"

	"github.com/dkowalski/relaytap/internal/captypes"
	"github.com/dkowalski/relaytap/internal/reconstruct"
)

const (
	// maxRequestBody bounds the inbound request body; larger requests are
	// rejected with 413 before an upstream connection opens.
	maxRequestBody = 50 * 1024 * 1024

	upstreamHost = "api.anthropic.com"
	upstreamAddr = "api.anthropic.com:443"

	dialTimeout = 5 * time.Second
	idleTimeout = 600 * time.Second
)

// hopByHopHeaders must not be forwarded across a proxy hop.
var hopByHopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
}

// Observer receives capture records as they are produced. Both methods
// must return quickly and never block the forwarder — the fan-out hub and
// capture log satisfy this by design.
type Observer interface {
	ObserveRequest(captypes.CaptureRequest)
	ObserveResponse(captypes.CaptureResponse)
}

// Forwarder is the ingress HTTP handler.
type Forwarder struct {
	client   *http.Client
	observer Observer
	logger   *slog.Logger
}

// New creates a Forwarder that sends every request to the fixed upstream
// host over TLS. observer is notified of every captured request and, when
// reconstruction succeeds, every captured response.
func New(observer Observer, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			ServerName: upstreamHost,
		},
		IdleConnTimeout: idleTimeout,
	}
	return &Forwarder{
		client:   &http.Client{Transport: transport},
		observer: observer,
		logger:   logger,
	}
}

// ServeHTTP implements http.Handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ingressAt := time.Now().UTC()

	body, err := readBoundedBody(r.Body, maxRequestBody)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	capReq := parseCaptureRequest(body, ingressAt)
	f.observer.ObserveRequest(capReq)

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, "https://"+upstreamAddr+r.URL.RequestURI(), bytes.NewReader(body))
	if err != nil {
		writeUpstreamError(w, http.StatusBadGateway, "building upstream request", err)
		return
	}
	copyRequestHeaders(upstreamReq.Header, r.Header)
	upstreamReq.Host = upstreamHost
	upstreamReq.ContentLength = int64(len(body))

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		f.logger.Error("upstream request failed", "error", err, "path", r.URL.Path)
		writeUpstreamError(w, http.StatusBadGateway, "Proxy request failed", err)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if capReq.Stream {
		f.handleStreaming(w, resp, capReq, ingressAt)
		return
	}
	f.handleNonStreaming(w, resp, capReq, ingressAt)
}

// handleStreaming tees each chunk read from upstream to the client and to
// the reconstructor in the same loop — the slow side naturally governs the
// pace, so back-pressure on the client also back-pressures the upstream
// read. The reconstructor is invoked synchronously and never blocks on I/O.
func (f *Forwarder) handleStreaming(w http.ResponseWriter, resp *http.Response, capReq captypes.CaptureRequest, ingressAt time.Time) {
	flusher, _ := w.(http.Flusher)
	parser := reconstruct.NewSSEParser(capReq.ID, capReq.Model, ingressAt)

	buf := make([]byte, 32*1024)
	var clientErr error
	var upstreamErrored bool
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				clientErr = writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
			parser.Write(buf[:n])
		}
		if clientErr != nil {
			// client disconnected: stop reading upstream and discard any
			// partial reconstruction, per the client-disconnect contract.
			f.logger.Debug("client disconnected mid-stream", "request_id", capReq.ID)
			return
		}
		if readErr != nil {
			if readErr != io.EOF {
				f.logger.Warn("upstream stream read error", "error", readErr, "request_id", capReq.ID)
				upstreamErrored = true
			}
			break
		}
	}

	capResp := parser.Finish(time.Now().UTC(), upstreamErrored)
	f.observer.ObserveResponse(capResp)
}

// handleNonStreaming sends the full upstream body to the client unchanged,
// then independently decompresses and parses a copy for the capture
// record. A decompression or parse failure never affects what the client
// already received.
func (f *Forwarder) handleNonStreaming(w http.ResponseWriter, resp *http.Response, capReq captypes.CaptureRequest, ingressAt time.Time) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Warn("reading upstream response body failed", "error", err, "request_id", capReq.ID)
		return
	}
	if _, err := w.Write(body); err != nil {
		f.logger.Debug("writing response to client failed", "error", err, "request_id", capReq.ID)
	}

	decoded, err := decompress(resp.Header.Get("Content-Encoding"), body)
	if err != nil {
		f.logger.Warn("response body undecompressable, skipping capture", "error", err, "request_id", capReq.ID)
		return
	}

	capResp, err := parseCaptureResponse(decoded, capReq, ingressAt)
	if err != nil {
		f.logger.Warn("response body unparseable, skipping capture", "error", err, "request_id", capReq.ID)
		return
	}
	f.observer.ObserveResponse(capResp)
}

func readBoundedBody(r io.Reader, max int64) ([]byte, error) {
	limited := io.LimitReader(r, max+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("request body exceeds %d bytes", max)
	}
	return data, nil
}

// parseCaptureRequest best-effort parses body as a CaptureRequest. A parse
// failure never fails the exchange: it yields model="unknown" and an empty
// message list, per the ingress contract.
func parseCaptureRequest(body []byte, ingressAt time.Time) captypes.CaptureRequest {
	req := captypes.CaptureRequest{
		ID:        uuid.NewString(),
		Timestamp: ingressAt,
		Model:     "unknown",
		Messages:  []captypes.Message{},
	}
	if len(body) == 0 {
		return req
	}

	var wire struct {
		Model     string             `json:"model"`
		MaxTokens int                `json:"max_tokens"`
		Stream    bool               `json:"stream"`
		System    captypes.System    `json:"system"`
		Messages  []captypes.Message `json:"messages"`
		Tools     []captypes.Tool    `json:"tools"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return req
	}

	req.MaxTokens = wire.MaxTokens
	req.Stream = wire.Stream
	req.System = wire.System
	req.Tools = wire.Tools
	if wire.Messages != nil {
		req.Messages = wire.Messages
	}
	if wire.Model != "" {
		req.Model = wire.Model
	}
	return req
}

// parseCaptureResponse synthesises a CaptureResponse directly from a
// non-streaming upstream JSON body.
func parseCaptureResponse(body []byte, capReq captypes.CaptureRequest, ingressAt time.Time) (captypes.CaptureResponse, error) {
	var wire struct {
		Model      string                  `json:"model"`
		Content    []captypes.ContentBlock `json:"content"`
		StopReason *string                 `json:"stop_reason"`
		Usage      captypes.Usage          `json:"usage"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return captypes.CaptureResponse{}, fmt.Errorf("parsing response body: %w", err)
	}

	now := time.Now().UTC()
	model := wire.Model
	if model == "" {
		model = capReq.Model
	}
	content := wire.Content
	if content == nil {
		content = []captypes.ContentBlock{}
	}
	return captypes.CaptureResponse{
		RequestID:  capReq.ID,
		Timestamp:  now,
		DurationMs: now.Sub(ingressAt).Milliseconds(),
		Model:      model,
		Content:    content,
		StopReason: wire.StopReason,
		Usage:      wire.Usage,
	}, nil
}

func decompress(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("opening gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] || strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func writeUpstreamError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   message,
		"message": err.Error(),
	})
}
