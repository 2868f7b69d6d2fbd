package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PackBox/config"
	"github.com/BearBump/PackBox/internal/api/jobsapi"
	"github.com/BearBump/PackBox/internal/broker/kafka"
	"github.com/BearBump/PackBox/internal/cache/rediscache"
	"github.com/BearBump/PackBox/internal/services/enqueuer"
	"github.com/BearBump/PackBox/internal/services/jobs"
	"github.com/BearBump/PackBox/internal/storage/pgjobs"
)

type packAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     packAPIOpts
	api      *jobsapi.JobsAPI
	svc      *jobs.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapPackAPI() *packAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.PackBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.PackBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "pack-api"
	}
	topic := cfg.Kafka.JobUpdatedTopicName
	if topic == "" {
		topic = "job.updated"
	}

	cacheTTL := time.Duration(cfg.PackBox.CurrentStateTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	svc := jobs.New(st, rc, cacheTTL)
	api := jobsapi.New(enqueuer.New(st), svc, cfg.PackBox.APIToken)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &packAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: packAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   os.Getenv("swaggerPath"),
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		svc:      svc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

// Postgres в docker compose может подниматься дольше приложения.
func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgjobs.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgjobs.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *packAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *packAPIApp) Run() error {
	return runPackAPI(a.ctx, a.opts, a.api, a.svc, a.consumer)
}
