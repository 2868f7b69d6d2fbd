package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/PackBox/config"
	"github.com/BearBump/PackBox/internal/observability"
	"github.com/BearBump/PackBox/internal/services/runner"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	runner *runner.Runner
	cfg    *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.runner == nil {
			_, _ = w.Write([]byte(`{"error":"runner not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.runner.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Секреты наружу не отдаём: только операционные настройки воркера.
		out := map[string]any{
			"pollIntervalSeconds": opts.cfg.PackBox.WorkerPollIntervalSeconds,
			"maxAttempts":         opts.cfg.PackBox.WorkerMaxAttempts,
			"rateLimitPerMinute":  opts.cfg.PackBox.WorkerRateLimitPerMinute,
			"backoffBaseSeconds":  opts.cfg.PackBox.WorkerBackoffBaseSeconds,
			"backoffMaxSeconds":   opts.cfg.PackBox.WorkerBackoffMaxSeconds,
			"bookingMode":         opts.cfg.PackBox.BookingMode,
			"reportingEnabled":    opts.cfg.PackBox.ReportingEnabled,
			"outputDir":           opts.cfg.PackBox.OutputDir,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.runner == nil {
			_, _ = w.Write([]byte(`{"error":"runner not wired"}`))
			return
		}
		opts.runner.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	r.Handle("/metrics", observability.MetricsHandler())

	// Swagger опционален: без swaggerPath воркер поднимается без /docs.
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); err != nil {
			return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
		}
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
