package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	SourceHTTP = "http"
	SourceS3   = "s3"
)

type Config struct {
	ModelArtifactID string        `env:"MODEL_ARTIFACT_ID,default=1uj2lD8goJDLo9uSg_8HcT4bxnl2trPc8" validate:"required"`
	ModelPath       string        `env:"MODEL_PATH,default=models/model.onnx" validate:"required"`
	ArtifactSource  string        `env:"ARTIFACT_SOURCE,default=http" validate:"oneof=http s3"`
	URLTemplate     string        `env:"ARTIFACT_URL_TEMPLATE" validate:"omitempty,contains={id}"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT,default=5m" validate:"gt=0"`
	ONNXRuntimeLib  string        `env:"ONNXRUNTIME_LIB"`

	S3Endpoint  string `env:"ARTIFACT_S3_ENDPOINT" validate:"required_if=ArtifactSource s3"`
	S3Region    string `env:"ARTIFACT_S3_REGION,default=us-east-1"`
	S3AccessKey string `env:"ARTIFACT_S3_ACCESS_KEY"`
	S3SecretKey string `env:"ARTIFACT_S3_SECRET_KEY"`
	S3Bucket    string `env:"ARTIFACT_S3_BUCKET,default=snapclass-models" validate:"required_if=ArtifactSource s3"`
	S3UseSSL    bool   `env:"ARTIFACT_S3_USE_SSL,default=true"`

	CatalogPath     string `env:"CATALOG_PATH"`
	Host            string `env:"HOST,default=0.0.0.0"`
	Port            int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel        string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	MaxUploadMB     int    `env:"MAX_UPLOAD_MB,default=10" validate:"min=1,max=100"`
	SessionCapacity int    `env:"SESSION_CAPACITY,default=1024" validate:"min=1"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return finish(&cfg)
}

// FromMap builds a Config from explicit values, applying the same defaults
// and validation as Load.
func FromMap(values map[string]string) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(env.EnvSet(values), &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
	cfg.ArtifactSource = strings.ToLower(strings.TrimSpace(cfg.ArtifactSource))
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MaxUploadBytes is the request body limit for image uploads.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
