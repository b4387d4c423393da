package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vango-dev/collab/internal/config"
	"github.com/vango-dev/collab/internal/errors"
	"github.com/vango-dev/collab/pkg/assistant"
	"github.com/vango-dev/collab/pkg/docstore"
	"github.com/vango-dev/collab/pkg/lock"
)

const connectTimeout = 5 * time.Second

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// pingRedis reports an unreachable Redis as R301.
func pingRedis(ctx context.Context, rdb redis.UniversalClient, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.New("R301").WithField("redis.addr").WithDetail(addr).Wrap(err)
	}
	return nil
}

func newLockManager(cfg *config.Config, rdb redis.UniversalClient) *lock.Manager {
	return lock.NewManager(rdb,
		lock.WithTTL(cfg.LockTTL()),
		lock.WithPrefix(cfg.Lock.KeyPrefix),
	)
}

// openStore opens the configured paragraph store.
func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.DocStore.Backend {
	case config.BackendMongo:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		store, err := docstore.OpenMongo(ctx, docstore.MongoConfig{
			URI:        cfg.DocStore.Mongo.URI,
			Database:   cfg.DocStore.Mongo.Database,
			Collection: cfg.DocStore.Mongo.Collection,
		})
		if err != nil {
			return nil, errors.New("R302").WithField("docstore.mongo").Wrap(err)
		}
		return store, nil

	case config.BackendS3:
		s3cfg := docstore.S3Config{
			Bucket:    cfg.DocStore.S3.Bucket,
			Prefix:    cfg.DocStore.S3.Prefix,
			Region:    cfg.DocStore.S3.Region,
			Profile:   cfg.DocStore.S3.Profile,
			Endpoint:  cfg.DocStore.S3.Endpoint,
			PathStyle: cfg.DocStore.S3.PathStyle,
		}
		client, err := docstore.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, errors.New("R302").WithField("docstore.s3").Wrap(err)
		}
		return docstore.NewS3Store(client, s3cfg.Bucket, s3cfg.Prefix), nil

	default:
		return docstore.NewMemoryStore(), nil
	}
}

// newAsker returns the assistant client when any channel routes questions,
// or nil otherwise.
func newAsker(cfg *config.Config) assistant.Asker {
	if !cfg.HasAssistant() {
		return nil
	}
	return assistant.NewClient(cfg.Assistant.URL, assistant.WithTimeout(cfg.AssistantTimeout()))
}
