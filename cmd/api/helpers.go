package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/pwannenmacher/MetaRate/internal/actionlog"
	"github.com/pwannenmacher/MetaRate/internal/config"
	"github.com/pwannenmacher/MetaRate/internal/database"
	"github.com/pwannenmacher/MetaRate/internal/progress"
	"github.com/pwannenmacher/MetaRate/internal/reportstore"
	"github.com/pwannenmacher/MetaRate/internal/repository"
)

func getContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// newActionLog selects the configured action log backend
func newActionLog(cfg *config.StorageConfig, db *database.Database) (actionlog.Log, error) {
	switch cfg.LogBackend {
	case config.LogBackendFile:
		slog.Info("Action logs stored as files", "dir", cfg.LogsDir)
		return actionlog.NewFileLog(cfg.LogsDir)
	case config.LogBackendDatabase:
		return repository.NewActionLogRepository(db.DB, db.Dialect), nil
	default:
		return nil, fmt.Errorf("unsupported ACTION_LOG_BACKEND %q", cfg.LogBackend)
	}
}

// newReportSource selects where report pools are read from
func newReportSource(ctx context.Context, cfg *config.StorageConfig) (reportstore.Source, error) {
	if cfg.ReportSource != config.ReportSourceS3 {
		slog.Info("Report pools read from disk", "dir", cfg.DataDir)
		return reportstore.NewFileSource(cfg.DataDir), nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	slog.Info("Report pools read from S3", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	return reportstore.NewS3Source(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// newRatedIndex selects the rated-set index. An unreachable Redis falls back to scanning.
func newRatedIndex(ctx context.Context, cfg *config.RedisConfig, log actionlog.Log) (progress.RatedIndex, func()) {
	if cfg.RatedIndex != config.RatedIndexRedis {
		return progress.NewScanIndex(log), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Redis unavailable, using log scan for progress", "addr", cfg.Addr, "error", err)
		client.Close()
		return progress.NewScanIndex(log), func() {}
	}

	slog.Info("Rated-set index backed by Redis", "addr", cfg.Addr)
	return progress.NewRedisIndex(client, cfg.KeyPrefix, cfg.IndexTTL, log), func() { client.Close() }
}
