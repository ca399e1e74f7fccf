// Package objectstore configures the MinIO client used to reach the plugin
// object storage.
package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dioptra-labs/dioptra-go/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("DIOPTRA_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("DIOPTRA_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("DIOPTRA_MINIO_ACCESS_KEY", "dioptra"),
		SecretKey: env.String("DIOPTRA_MINIO_SECRET_KEY", "dioptraminio"),
		Region:    env.String("DIOPTRA_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
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
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
