package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketBackups string
	KeyPrefix     string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("TEST_DATA_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("TEST_DATA_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("TEST_DATA_MINIO_ACCESS_KEY", "testdata"),
		SecretKey:     env.String("TEST_DATA_MINIO_SECRET_KEY", "testdataminio"),
		Region:        env.String("TEST_DATA_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketBackups: env.String("TEST_DATA_MINIO_BUCKET_BACKUPS", "db-backups"),
		KeyPrefix:     env.String("TEST_DATA_MINIO_KEY_PREFIX", "test-data-api/"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketBackups) == "" {
		return errors.New("backups bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
