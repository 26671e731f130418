package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/cas"
	casfs "github.com/marmos91/dittows/pkg/cas/fs"
	casmemory "github.com/marmos91/dittows/pkg/cas/memory"
	casS3 "github.com/marmos91/dittows/pkg/cas/s3"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/store"
	"github.com/marmos91/dittows/pkg/store/badger"
	"github.com/marmos91/dittows/pkg/store/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateHasher returns the hasher selected by cas.hash_algorithm.
func CreateHasher(cfg *CASConfig) (fileops.Hasher, error) {
	return fileops.NewHasher(cfg.HashAlgorithm)
}

// CreateBlobStore creates the local CAS tier.
func CreateBlobStore(cfg *CASConfig, hasher fileops.Hasher) (cas.LocalBlobStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cas: path is required")
	}
	store, err := casfs.New(cfg.Path, hasher)
	if err != nil {
		return nil, fmt.Errorf("failed to create local blob store: %w", err)
	}
	return store, nil
}

// CreateRemoteBlobStore creates the remote CAS tier based on configuration.
// It returns nil for type "none".
//
// Supported types:
//   - "none": no remote tier
//   - "memory": in-process tier (testing and demos)
//   - "s3": Amazon S3 or compatible storage
func CreateRemoteBlobStore(ctx context.Context, cfg *RemoteConfig, hasher fileops.Hasher) (cas.BlobStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return casmemory.New(hasher), nil
	case "s3":
		return createS3BlobStore(ctx, cfg.S3, hasher)
	default:
		return nil, fmt.Errorf("unknown remote blob store type: %q", cfg.Type)
	}
}

// CreateCASService builds the hasher, both tiers and the CAS service.
func CreateCASService(ctx context.Context, cfg *CASConfig) (*cas.Service, error) {
	hasher, err := CreateHasher(cfg)
	if err != nil {
		return nil, err
	}
	local, err := CreateBlobStore(cfg, hasher)
	if err != nil {
		return nil, err
	}
	remote, err := CreateRemoteBlobStore(ctx, &cfg.Remote, hasher)
	if err != nil {
		return nil, err
	}
	return cas.NewService(local, remote, hasher)
}

// createS3BlobStore creates an S3-based blob store.
func createS3BlobStore(ctx context.Context, options map[string]any, hasher fileops.Hasher) (cas.BlobStore, error) {
	type S3BlobStoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		ForcePathStyle  bool   `mapstructure:"force_path_style"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg S3BlobStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 blob store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 blob store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 blob store: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(storeCfg.AccessKeyID, storeCfg.SecretAccessKey, ""),
		))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
		if storeCfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Blob Store
	// ========================================================================

	store, err := casS3.New(ctx, casS3.Config{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
		Hasher:    hasher,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 blob store: %w", err)
	}

	logger.Info("S3 blob store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// CreateStore creates the workspace index and reference table backend.
//
// Supported types:
//   - "memory": in-memory, lost on exit
//   - "badger": BadgerDB, persistent
func CreateStore(ctx context.Context, cfg *IndexConfig) (store.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "badger":
		var badgerCfg badger.Config
		if err := mapstructure.Decode(cfg.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger store config: %w", err)
		}
		s, err := badger.New(ctx, badgerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown index store type: %q (supported: memory, badger)", cfg.Type)
	}
}
