package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/PackBox/internal/api/jobsapi"
	"github.com/BearBump/PackBox/internal/broker/messages"
	"github.com/BearBump/PackBox/internal/observability"
	"github.com/BearBump/PackBox/internal/services/jobs"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type packAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runPackAPI(ctx context.Context, opts packAPIOpts, api *jobsapi.JobsAPI, svc *jobs.Service, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
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
	r.Handle("/metrics", observability.MetricsHandler())

	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); err != nil {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/swagger.json")))
	}

	r.Mount("/", api.Routes())

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			_ = consumer.Consume(ctx, func(_key, value []byte) error {
				var m messages.JobUpdated
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				return svc.ApplyKafkaUpdate(ctx, m)
			})
		}()
	}

	srv := &http.Server{Handler: r}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", lis.Addr().String())
		httpErr <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}
