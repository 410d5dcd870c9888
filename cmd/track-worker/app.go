package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parcelops/trackdesk/config"
	"github.com/parcelops/trackdesk/internal/broker/kafka"
	"github.com/parcelops/trackdesk/internal/cache/rediscache"
	"github.com/parcelops/trackdesk/internal/integrations/provider"
	"github.com/parcelops/trackdesk/internal/integrations/provider/dtdchttp"
	"github.com/parcelops/trackdesk/internal/integrations/provider/fake"
	"github.com/parcelops/trackdesk/internal/services/poller"
	"github.com/parcelops/trackdesk/internal/services/sync"
	"github.com/parcelops/trackdesk/internal/storage/pgconsignment"
)

// workerStore is everything the worker needs from storage: ingest writes for
// the sync pipeline and due-row claiming for the poll loop.
type workerStore interface {
	sync.Store
	poller.Claimer
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (st workerStore, closeFn func(), err error)
	newProducer    func(cfg *config.Config) sync.Producer
	newRateLimiter func(cfg *config.Config) sync.RateLimiter
	newProvider    func(cfg *config.Config) provider.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgconsignment.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) sync.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) sync.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newProvider: func(cfg *config.Config) provider.Client {
			if cfg.TrackDesk.ProviderMode == "fake" {
				return fake.New()
			}

			timeout := time.Duration(cfg.TrackDesk.ProviderRequestTimeoutSeconds) * time.Second

			var tokens *dtdchttp.TokenSource
			if cfg.TrackDesk.ProviderStaticToken != "" {
				tokens = dtdchttp.NewStaticTokenSource(cfg.TrackDesk.ProviderStaticToken)
			} else {
				redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
				tokens = dtdchttp.NewTokenSource(
					cfg.TrackDesk.ProviderAuthURL,
					cfg.TrackDesk.ProviderUsername,
					cfg.TrackDesk.ProviderPassword,
					rediscache.New(redisAddr),
					time.Duration(cfg.TrackDesk.ProviderTokenTTLSeconds)*time.Second,
					timeout,
				)
			}
			return dtdchttp.New(cfg.TrackDesk.ProviderTrackURL, tokens, timeout)
		},
	}
}

func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.ConsignmentUpdatedTopicName
	if topic == "" {
		topic = "consignment.updated"
	}

	pollInterval := time.Duration(cfg.TrackDesk.WorkerPollIntervalSeconds) * time.Second
	batchSize := cfg.TrackDesk.WorkerBatchSize
	lease := time.Duration(cfg.TrackDesk.WorkerLeaseSeconds) * time.Second
	rlPerMin := int64(cfg.TrackDesk.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	syncer := sync.New(f.newProvider(cfg), st).
		WithProducer(f.newProducer(cfg), topic).
		WithRateLimiter(f.newRateLimiter(cfg), rlPerMin).
		WithPlanner(plannerConfig(cfg))

	p := poller.New(st, syncer, poller.Config{
		Interval:  pollInterval,
		BatchSize: batchSize,
		Lease:     lease,
	})

	go func() {
		if err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: cfg.TrackDesk.WorkerHTTPAddr,
			poller:   p,
			cfg:      cfg,
		}); err != nil && ctx.Err() == nil {
			slog.Error("worker http server", "error", err.Error())
		}
	}()

	return p.Run(ctx)
}

func plannerConfig(cfg *config.Config) sync.PlannerConfig {
	sec := func(s int) time.Duration { return time.Duration(s) * time.Second }
	return sync.PlannerConfig{
		ActiveMinDelay: sec(cfg.TrackDesk.WorkerNextCheckActiveMinSeconds),
		ActiveMaxDelay: sec(cfg.TrackDesk.WorkerNextCheckActiveMaxSeconds),
		UnknownDelay:   sec(cfg.TrackDesk.WorkerNextCheckUnknownSeconds),
		Backoff1:       sec(cfg.TrackDesk.WorkerBackoff1Seconds),
		Backoff2:       sec(cfg.TrackDesk.WorkerBackoff2Seconds),
		Backoff3:       sec(cfg.TrackDesk.WorkerBackoff3Seconds),
		Backoff4:       sec(cfg.TrackDesk.WorkerBackoff4Seconds),
	}
}
