package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketBackups)
	if err != nil {
		return fmt.Errorf("backups bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.BucketBackups, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make backups bucket: %w", err)
	}
	return nil
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketBackups)
	if err != nil {
		return fmt.Errorf("backups bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("backups bucket missing: %s", cfg.BucketBackups)
	}
	return nil
}

// BackupUploader copies backup files into the backups bucket.
type BackupUploader struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewBackupUploader(client *minio.Client, cfg Config) (*BackupUploader, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &BackupUploader{client: client, bucket: cfg.BucketBackups, prefix: cfg.KeyPrefix}, nil
}

// ObjectKey returns the key a local backup file is stored under.
func ObjectKey(prefix, localPath string) string {
	return path.Join(prefix, filepath.Base(localPath))
}

func (u *BackupUploader) Upload(ctx context.Context, localPath string) (string, error) {
	key := ObjectKey(u.prefix, localPath)
	if _, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return "", fmt.Errorf("put %s/%s: %w", u.bucket, key, err)
	}
	return key, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
