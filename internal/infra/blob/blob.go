// Package blob abstracts the object storage used for audit archive exports.
// Archives are write-once: a key can be stored exactly once and never
// replaced in place.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"
)

// Driver identifies a concrete blob storage backend.
type Driver string

const (
	// DriverFilesystem stores blobs under a local directory root.
	DriverFilesystem Driver = "fs"
	// DriverS3 stores blobs in an S3 or MinIO bucket.
	DriverS3 Driver = "s3"
	// DriverMemory stores blobs in process memory, for tests.
	DriverMemory Driver = "memory"
)

// PutOptions configures a blob write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions configures URL pre-signing for read access.
type SignedURLOptions struct {
	Expiry time.Duration // default 15m
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the backend contract shared by all drivers.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrUnsupported indicates an optional capability the driver lacks.
var ErrUnsupported = errors.New("blob: unsupported operation")

// Config selects and parameterizes a blob driver from the environment.
type Config struct {
	Driver string   `env:"CRMCORE_BLOB_DRIVER" envDefault:"fs"`
	FSRoot string   `env:"CRMCORE_BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3     S3Config `envPrefix:"CRMCORE_BLOB_S3_"`
}

// S3Config parameterizes the S3 driver. Leaving the access key empty falls
// back to the default AWS credential chain.
type S3Config struct {
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"ENDPOINT"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	SessionToken    string `env:"SESSION_TOKEN"`
	PathStyle       bool   `env:"PATH_STYLE"`
}

// Open builds a Store from the process environment.
func Open(ctx context.Context) (Store, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse blob config: %w", err)
	}
	return OpenWith(ctx, cfg)
}

// OpenWith builds a Store from an explicit configuration.
func OpenWith(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
