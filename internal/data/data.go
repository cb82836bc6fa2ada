package data

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lk2023060901/filedepot/internal/conf"
	filedata "github.com/lk2023060901/filedepot/internal/file/data"
	"github.com/lk2023060901/filedepot/internal/pkg/database"
	"github.com/lk2023060901/filedepot/internal/pkg/logger"
	"github.com/lk2023060901/filedepot/internal/pkg/minio"
)

// Data bundles the shared infrastructure clients.
type Data struct {
	DB          *database.DB
	RedisClient *redis.Client
	MinIOClient *minio.Client
	Bucket      string
}

// NewData connects to postgres, redis and minio and migrates the schema.
// Redis is optional: a missing redis config only disables the stats cache.
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := database.New(&database.Config{
		Host:        config.Database.Host,
		Port:        config.Database.Port,
		User:        config.Database.User,
		Password:    config.Database.Password,
		DBName:      config.Database.DBName,
		SSLMode:     config.Database.SSLMode,
		AutoMigrate: true,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrate(&filedata.ContentPO{}, &filedata.FilePO{}); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate schema: %w", err)
	}

	var redisClient *redis.Client
	if config.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis unavailable, stats cache disabled")
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	minioClient, err := minio.NewClient(&minio.Config{
		Endpoint:        config.MinIO.Endpoint,
		AccessKeyID:     config.MinIO.AccessKey,
		SecretAccessKey: config.MinIO.SecretKey,
		UseSSL:          config.MinIO.UseSSL,
	}, log.Logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init minio: %w", err)
	}
	if err := minioClient.EnsureBucket(context.Background(), config.MinIO.Bucket); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure bucket: %w", err)
	}

	d := &Data{
		DB:          db,
		RedisClient: redisClient,
		MinIOClient: minioClient,
		Bucket:      config.MinIO.Bucket,
	}

	cleanup := func() {
		log.Info("closing data resources")
		if redisClient != nil {
			_ = redisClient.Close()
		}
		_ = minioClient.Close()
		_ = db.Close()
	}
	return d, cleanup, nil
}

// Check reports the health of each backing dependency.
func (d *Data) Check(ctx context.Context) map[string]error {
	checks := map[string]error{
		"database": d.DB.HealthCheck(ctx),
		"storage":  d.MinIOClient.Ping(ctx),
	}
	if d.RedisClient != nil {
		checks["cache"] = d.RedisClient.Ping(ctx).Err()
	}
	return checks
}
