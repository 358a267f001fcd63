package main

import (
	"context"
	"fmt"
	"time"

	"github.com/parceldesk/parceldesk/config"
	"github.com/parceldesk/parceldesk/internal/api/ordersapi"
	"github.com/parceldesk/parceldesk/internal/broker/kafka"
	"github.com/parceldesk/parceldesk/internal/cache"
	"github.com/parceldesk/parceldesk/internal/cache/rediscache"
	"github.com/parceldesk/parceldesk/internal/integrations/carrier/cainiao"
	"github.com/parceldesk/parceldesk/internal/integrations/carrier/doar"
	"github.com/parceldesk/parceldesk/internal/services/scheduler"
	"github.com/parceldesk/parceldesk/internal/services/sync"
	"github.com/parceldesk/parceldesk/internal/settings"
	"github.com/parceldesk/parceldesk/internal/storage/jsonstore"
	"github.com/parceldesk/parceldesk/internal/storage/pgorders"
)

type appFactories struct {
	newStore       func(cfg *config.Config) (store ordersapi.Store, closeFn func(), err error)
	newProducer    func(cfg *config.Config) sync.Producer
	newCache       func(cfg *config.Config) cache.BytesCache
	newRateLimiter func(cfg *config.Config) doar.RateLimiter
}

func defaultAppFactories() appFactories {
	return appFactories{
		newStore: func(cfg *config.Config) (ordersapi.Store, func(), error) {
			if cfg.Storage.Backend == "postgres" {
				sslMode := cfg.Database.SSLMode
				if sslMode == "" {
					sslMode = "disable"
				}
				connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
					cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
				st, err := pgorders.New(connString)
				if err != nil {
					return nil, nil, err
				}
				return st, st.Close, nil
			}
			st, err := jsonstore.Open(cfg.Storage.OrdersFile)
			if err != nil {
				return nil, nil, err
			}
			return st, nil, nil
		},
		newProducer: func(cfg *config.Config) sync.Producer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			return kafka.NewProducer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)})
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newRateLimiter: func(cfg *config.Config) doar.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.NewRateLimiter(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
	}
}

// RunApp wires the store, carriers, sync service and scheduler, then serves
// HTTP until ctx is canceled.
func RunApp(ctx context.Context, cfg *config.Config, f appFactories, onListen func(addr string)) error {
	set, err := settings.Load(cfg.Storage.SettingsFile)
	if err != nil {
		return err
	}

	store, closeFn, err := f.newStore(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	cainiaoClient := cainiao.New(cfg.Carriers.CainiaoBaseURL)

	doarClient := doar.New(cfg.Carriers.DoarBaseURL, set)
	if bc := f.newCache(cfg); bc != nil {
		ttl := time.Duration(cfg.Carriers.DoarCacheTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		doarClient.WithCache(bc, ttl)
	}
	if rl := f.newRateLimiter(cfg); rl != nil {
		perMinute := int64(cfg.Carriers.DoarRateLimitPerMinute)
		if perMinute <= 0 {
			perMinute = 30
		}
		doarClient.WithRateLimiter(rl, perMinute)
	}

	svc := sync.New(store, set, cainiaoClient, doarClient)
	if producer := f.newProducer(cfg); producer != nil {
		svc.WithProducer(producer, cfg.Kafka.TrackingUpdatedTopic)
	}

	sched := scheduler.New(svc.AutoUpdate, set)
	sched.Start()
	defer sched.Stop()

	api := ordersapi.New(store, set, svc, sched, cainiaoClient)

	return runHTTPServer(ctx, httpOpts{
		httpAddr:    cfg.Server.HTTPAddr,
		swaggerPath: cfg.Server.SwaggerPath,
		onListen:    onListen,
		api:         api,
	})
}
