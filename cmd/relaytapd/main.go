package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dkowalski/relaytap/internal/capturelog"
	"github.com/dkowalski/relaytap/internal/captypes"
	"github.com/dkowalski/relaytap/internal/fanout"
	"github.com/dkowalski/relaytap/internal/proxycfg"
	"github.com/dkowalski/relaytap/internal/proxyfwd"
	"github.com/dkowalski/relaytap/internal/wsadmin"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	port := flag.Int("port", 0, "listen port (overrides config, default 3456)")
	dataDir := flag.String("data-dir", "", "capture log directory (overrides config)")
	verbose := flag.Bool("verbose", false, "enable verbose operational logging (overrides config)")
	flag.Parse()

	cfg, err := proxycfg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relaytapd: loading config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *verbose {
		cfg.Verbose = true
	}

	level := new(slog.LevelVar)
	level.Set(levelFor(cfg.Verbose))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	captureLog, err := capturelog.Open(cfg.DataDir, logger)
	if err != nil {
		logger.Error("opening capture log", "error", err)
		os.Exit(1)
	}
	defer captureLog.Close()

	events := fanout.New()
	observer := &hubObserver{log: captureLog, hub: events, logger: logger}
	forwarder := proxyfwd.New(observer, logger)
	admin := wsadmin.New(captureLog, events, forwarder, logger)

	if *configPath != "" {
		watcher, err := proxycfg.NewWatcher(*configPath, logger, func(v bool) {
			level.Set(levelFor(v))
		})
		if err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen failed", "addr", addr, "error", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{Handler: admin}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	logger.Info("relaytapd listening", "addr", ln.Addr().String(), "data_dir", cfg.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serveErr:
		logger.Error("serve error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown did not complete cleanly", "error", err)
	}
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// hubObserver is the proxyfwd.Observer that fans every captured exchange
// out to the durable log and to live WebSocket subscribers.
type hubObserver struct {
	log    *capturelog.Log
	hub    *fanout.Hub
	logger *slog.Logger
}

func (o *hubObserver) ObserveRequest(req captypes.CaptureRequest) {
	o.log.LogRequest(req)
	o.hub.PublishRequest(req)
	o.logger.Debug("captured request", "request_id", req.ID, "model", req.Model, "size", humanize.Bytes(uint64(jsonSize(req))))
}

func (o *hubObserver) ObserveResponse(resp captypes.CaptureResponse) {
	o.log.LogResponse(resp)
	o.hub.PublishResponse(resp)
	o.logger.Debug("captured response", "request_id", resp.RequestID, "duration_ms", resp.DurationMs, "size", humanize.Bytes(uint64(jsonSize(resp))))
}

// jsonSize is the marshaled size of v, used only to report a humanized
// operational log size; a marshal failure just yields 0.
func jsonSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
