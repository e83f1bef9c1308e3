// Package config loads the capture tool's configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/mr14capture/internal/gcp"
)

const (
	// DefaultRegion is the Vertex AI region used when none is configured.
	DefaultRegion = "us-central1"

	// FlashModel is the fast model every document falls back to.
	FlashModel = "gemini-2.5-flash"

	// ProModel is the high-capability, slower model.
	ProModel = "gemini-2.5-pro"

	// DefaultRequestTimeout bounds a single recognizer round trip.
	DefaultRequestTimeout = 120 * time.Second

	// DefaultMaxUploadFiles caps the size of one batch.
	DefaultMaxUploadFiles = 5
)

// Config holds every setting of the capture pipeline.
type Config struct {
	// ProjectID is the Google Cloud project that hosts Vertex AI.
	ProjectID string `yaml:"project_id"`

	// Region is the Vertex AI location.
	Region string `yaml:"region" validate:"required"`

	// CredentialsFile is an optional service account key. Application default credentials are
	// used when empty.
	CredentialsFile string `yaml:"credentials_file"`

	// DefaultModel is requested when the caller does not pick one.
	DefaultModel string `yaml:"default_model" validate:"required"`

	// FallbackModel is retried after the requested model fails.
	FallbackModel string `yaml:"fallback_model" validate:"required"`

	// SlowModels get the longer pause between documents.
	SlowModels []string `yaml:"slow_models"`

	// RequestTimeout bounds one recognizer call.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`

	// MaxUploadFiles caps the number of files accepted per batch.
	MaxUploadFiles int `yaml:"max_upload_files" validate:"gte=1"`

	Throttle ThrottleConfig `yaml:"throttle"`
	Backoff  BackoffConfig  `yaml:"backoff"`
	Export   ExportConfig   `yaml:"export"`
}

// ThrottleConfig holds the pauses inserted between documents of a batch.
type ThrottleConfig struct {
	Default time.Duration `yaml:"default" validate:"gte=0"`
	Slow    time.Duration `yaml:"slow" validate:"gte=0"`
	// Manual is the pause before a manual-entry document completes.
	Manual time.Duration `yaml:"manual" validate:"gte=0"`
}

// BackoffConfig holds the waits between attempts on one document.
type BackoffConfig struct {
	// Transient is indexed by the number of transient failures so far; the last entry repeats.
	Transient []time.Duration `yaml:"transient" validate:"min=1,dive,gte=0"`
	Network   time.Duration   `yaml:"network" validate:"gte=0"`
	Fatal     time.Duration   `yaml:"fatal" validate:"gte=0"`
}

// ExportConfig selects where completed reports are written.
type ExportConfig struct {
	Dir                 string `yaml:"dir"`
	Bucket              string `yaml:"bucket"`
	FirestoreCollection string `yaml:"firestore_collection"`
	XLSX                bool   `yaml:"xlsx"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Region:         DefaultRegion,
		DefaultModel:   FlashModel,
		FallbackModel:  FlashModel,
		SlowModels:     []string{ProModel},
		RequestTimeout: DefaultRequestTimeout,
		MaxUploadFiles: DefaultMaxUploadFiles,
		Throttle: ThrottleConfig{
			Default: 2 * time.Second,
			Slow:    4 * time.Second,
			Manual:  500 * time.Millisecond,
		},
		Backoff: BackoffConfig{
			Transient: []time.Duration{5 * time.Second, 10 * time.Second},
			Network:   3 * time.Second,
			Fatal:     2 * time.Second,
		},
		Export: ExportConfig{Dir: "."},
	}
}

// Load reads the YAML file at path (a missing file is not an error), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.Region = gcp.GetEnv("VERTEX_AI_REGION", c.Region)
	c.CredentialsFile = gcp.GetEnv("GOOGLE_APPLICATION_CREDENTIALS", c.CredentialsFile)
	c.DefaultModel = gcp.GetEnv("MR14_DEFAULT_MODEL", c.DefaultModel)
	c.Export.Bucket = gcp.GetEnv("MR14_EXPORT_BUCKET", c.Export.Bucket)
	c.Export.FirestoreCollection = gcp.GetEnv("MR14_FIRESTORE_COLLECTION", c.Export.FirestoreCollection)

	if v := gcp.GetEnv("MR14_REQUEST_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MR14_REQUEST_TIMEOUT %q: %w", v, err)
		}
		c.RequestTimeout = d
	}
	if v := gcp.GetEnv("MR14_MAX_UPLOAD_FILES", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MR14_MAX_UPLOAD_FILES %q: %w", v, err)
		}
		c.MaxUploadFiles = n
	}
	return nil
}

var validate = validator.New()

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
