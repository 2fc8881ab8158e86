package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// Backend names accepted by Config.Backend.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config selects and locates the journal storage backend.
type Config struct {
	// Dataset is the Lode dataset ID. Empty uses DefaultDataset.
	Dataset string
	// Backend is "fs" or "s3".
	Backend string
	// Path is a directory for fs, or "bucket/prefix" for s3.
	Path string
	// Region is the AWS region (s3 only, optional).
	Region string
	// Endpoint is a custom S3 endpoint for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style S3 addressing.
	UsePathStyle bool
}

// Validate checks the backend name and path.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFS, BackendS3:
	default:
		return fmt.Errorf("unknown journal backend %q (want fs or s3)", c.Backend)
	}
	if c.Path == "" {
		return errors.New("journal path is required")
	}
	if c.Backend == BackendS3 {
		if bucket, _ := ParseS3Path(c.Path); bucket == "" {
			return errors.New("S3 bucket is required")
		}
	}
	return nil
}

func (c *Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	parts := strings.SplitN(path, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// NewFactory returns the store factory for cfg.
// The s3 backend uses the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func NewFactory(ctx context.Context, cfg Config) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendFS {
		return lode.NewFSFactory(cfg.Path), nil
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("failed to load AWS config: %w", err), cfg.dataset())
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	bucket, prefix := ParseS3Path(cfg.Path)
	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: bucket,
			Prefix: prefix,
		})
	}, nil
}

// NewDataset opens the journal dataset on factory.
// The same layout serves the write and read paths.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// Open resolves cfg to a dataset.
func Open(ctx context.Context, cfg Config) (lode.Dataset, error) {
	factory, err := NewFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewDataset(cfg.dataset(), factory)
}
