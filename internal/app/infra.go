package app

import (
	"context"
	"database/sql"

	"github.com/pinetree-kr/identity-service/internal/config"
	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/directory/admindir"
	"github.com/pinetree-kr/identity-service/internal/directory/pgdir"
	"github.com/pinetree-kr/identity-service/internal/logger"
	"github.com/pinetree-kr/identity-service/internal/redis"

	_ "github.com/lib/pq"
)

type Infra struct {
	Directory directory.Directory
	Redis     *redis.Client
	cleanup   func() error
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	dir, cleanup, err := setupDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("identity directory ready", map[string]any{
		"mode": cfg.DirectoryMode,
	})

	redisClient, err := redis.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}

	logger.Info("redis ready", nil)

	return &Infra{
		Directory: dir,
		Redis:     redisClient,
		cleanup:   cleanup,
	}, nil
}

func setupDirectory(ctx context.Context, cfg config.Config) (directory.Directory, func() error, error) {
	if cfg.DirectoryMode == config.DirectoryAdmin {
		client, err := admindir.New(cfg.DirectoryBaseURL, cfg.DirectoryAdminToken)
		if err != nil {
			return nil, nil, err
		}
		return client, func() error { return nil }, nil
	}

	sqlDB, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, nil, err
	}

	if err := pgdir.Migrate(ctx, sqlDB); err != nil {
		return nil, nil, err
	}

	return pgdir.New(sqlDB), sqlDB.Close, nil
}
