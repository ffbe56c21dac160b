// Package web serves the daemon's HTTP API: status, the latest fix, the
// in-memory log and a websocket stream of fixes.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Handler builds the API mux. hub and logs may be nil, in which case /ws
// and /api/logs are not served.
func Handler(status *Status, hub *FixHub, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	}))

	mux.HandleFunc("/api/fix", getOnly(func(w http.ResponseWriter, r *http.Request) {
		fix, ok := status.LastFix()
		if !ok {
			http.Error(w, "no fix yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, fix)
	}))

	if hub != nil {
		mux.HandleFunc("/ws", getOnly(hub.ServeWS))
	}
	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	mux.HandleFunc("/api/about", aboutHandler(status))

	mux.HandleFunc("/", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>mb500d</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>mb500d</h1>")
		_, _ = fmt.Fprintf(w, "<p>API: <a href=\"/api/status\">/api/status</a> <a href=\"/api/fix\">/api/fix</a> <a href=\"/api/logs?format=text\">/api/logs</a></p>")
		_, _ = fmt.Fprintf(w, "<pre>mode=%s\ndevice=%s\nfixes=%d\nlast_fix_utc=%s\nsolution=%s</pre>",
			snap.Mode, snap.Device, snap.Driver.Fixes, snap.LastFixUTC, snap.Solution,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	}))

	return mux
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, status *Status, hub *FixHub, logs *LogBuffer) error {
	if status == nil {
		status = NewStatus()
	}

	// No WriteTimeout: /ws connections are long-lived and set their own
	// per-message deadlines.
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(status, hub, logs),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
