package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/PackBox/config"
	"github.com/BearBump/PackBox/internal/broker/kafka"
	"github.com/BearBump/PackBox/internal/cache/rediscache"
	"github.com/BearBump/PackBox/internal/integrations/booking"
	"github.com/BearBump/PackBox/internal/integrations/booking/bringhttp"
	"github.com/BearBump/PackBox/internal/integrations/booking/fake"
	"github.com/BearBump/PackBox/internal/integrations/fulfillment"
	"github.com/BearBump/PackBox/internal/integrations/fulfillment/shopifyhttp"
	"github.com/BearBump/PackBox/internal/labels"
	"github.com/BearBump/PackBox/internal/services/runner"
	"github.com/BearBump/PackBox/internal/storage/pgjobs"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo runner.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) runner.Producer
	newRateLimiter   func(cfg *config.Config) runner.RateLimiter
	newBookingClient func(cfg *config.Config) booking.Client
	newReporter      func(cfg *config.Config) fulfillment.Client
	newLabels        func(cfg *config.Config) runner.Labels
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (runner.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgjobs.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) runner.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) runner.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newBookingClient: func(cfg *config.Config) booking.Client {
			// По умолчанию dry-run: fake пишет этикетки локально и ничего
			// не бронирует. Боевой Bring включается явно через booking_mode.
			if cfg.PackBox.BookingMode == "bring" {
				return bringhttp.New(bringhttp.Config{
					BookingURL:     cfg.PackBox.Bring.BookingURL,
					APIUID:         cfg.PackBox.Bring.APIUID,
					APIKey:         cfg.PackBox.Bring.APIKey,
					CustomerNumber: cfg.PackBox.Bring.CustomerNumber,
					ClientURL:      cfg.PackBox.Bring.ClientURL,
					Product:        cfg.PackBox.Bring.Product,
					TestMode:       cfg.PackBox.Bring.TestMode,
					Sender: bringhttp.Sender{
						Name:       cfg.PackBox.Bring.SenderName,
						Address:    cfg.PackBox.Bring.SenderAddress,
						PostalCode: cfg.PackBox.Bring.SenderPostalCode,
						City:       cfg.PackBox.Bring.SenderCity,
						Country:    cfg.PackBox.Bring.SenderCountry,
					},
				})
			}
			return fake.New(labelDir(cfg))
		},
		newReporter: func(cfg *config.Config) fulfillment.Client {
			if !cfg.PackBox.ReportingEnabled {
				return nil
			}
			if cfg.PackBox.Shopify.Domain == "" || cfg.PackBox.Shopify.AccessToken == "" {
				slog.Warn("reporting enabled but shopify credentials are empty, reporting disabled")
				return nil
			}
			return shopifyhttp.New(cfg.PackBox.Shopify.Domain, cfg.PackBox.Shopify.AccessToken, cfg.PackBox.Shopify.APIVersion)
		},
		newLabels: func(cfg *config.Config) runner.Labels {
			fetcher := labels.NewFetcher(cfg.PackBox.Bring.APIUID, cfg.PackBox.Bring.APIKey)
			return labels.NewService(fetcher, labels.NewPDFMerger(), outputDir(cfg))
		},
	}
}

func labelDir(cfg *config.Config) string {
	if cfg.PackBox.LabelDir != "" {
		return cfg.PackBox.LabelDir
	}
	return "./labels"
}

func outputDir(cfg *config.Config) string {
	if cfg.PackBox.OutputDir != "" {
		return cfg.PackBox.OutputDir
	}
	return "./out"
}

func RunPackWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.JobUpdatedTopicName
	if topic == "" {
		topic = "job.updated"
	}

	pollInterval := time.Duration(cfg.PackBox.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	maxAttempts := cfg.PackBox.WorkerMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	rlPerMin := int64(cfg.PackBox.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	bookingClient := f.newBookingClient(cfg)
	labelsSvc := f.newLabels(cfg)

	r := runner.New(repo, bookingClient, labelsSvc, producer, rl, topic).
		WithSettings(pollInterval, maxAttempts, rlPerMin).
		WithPlanner(runner.PlannerConfig{
			Base:    time.Duration(cfg.PackBox.WorkerBackoffBaseSeconds) * time.Second,
			Ceiling: time.Duration(cfg.PackBox.WorkerBackoffMaxSeconds) * time.Second,
		})
	if reporter := f.newReporter(cfg); reporter != nil {
		r = r.WithReporter(reporter)
	}

	if cfg.PackBox.WorkerHTTPAddr != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.PackBox.WorkerHTTPAddr,
				swaggerPath: os.Getenv("swaggerPath"),
				runner:      r,
				cfg:         cfg,
			})
			if err != nil && err != http.ErrServerClosed {
				slog.Error("worker http server", "error", err.Error())
			}
		}()
	}

	return r.Run(ctx)
}
