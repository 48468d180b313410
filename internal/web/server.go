package web

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Options are the pieces the HTTP surface is built from. Nil members turn
// their endpoint off.
type Options struct {
	Status  *Status
	Logs    *LogBuffer
	Stream  *Broadcaster
	Metrics http.Handler
	Log     zerolog.Logger

	// Stop closes open streams.
	Stop <-chan struct{}
}

func Handler(opts Options) http.Handler {
	status := opts.Status
	if status == nil {
		status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now().UTC()))
	})

	mux.Handle("/api/tec/", tecHandler(status))

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	if opts.Stream != nil {
		mux.Handle("/api/stream", streamHandler(opts.Stream, opts.Stop, opts.Log))
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	mux.Handle("/api/about", AboutHandler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>tecctl</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>tecctl</h1><p>JSON: <a href=\"/api/status\">/api/status</a></p>")
		if snap.ShutdownReason != "" {
			_, _ = fmt.Fprintf(w, "<p><b>SHUTDOWN:</b> %s</p>", html.EscapeString(snap.ShutdownReason))
		}
		_, _ = fmt.Fprintf(w, "<pre>")
		for _, t := range snap.TECs {
			_, _ = fmt.Fprintf(w, "%s control=%s enabled=%t target=%.2f cold=%.2f hot=%.2f duty=%.3f\n",
				html.EscapeString(t.Name), t.Strategy, t.Enabled, t.TargetTemp, t.ColdTemp, t.HotTemp, t.DutyFraction)
		}
		_, _ = fmt.Fprintf(w, "</pre></body></html>")
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, opts Options) error {
	if opts.Stop == nil {
		opts.Stop = ctx.Done()
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
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
