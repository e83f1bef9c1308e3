package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mr14.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PROJECT_ID", "demo-project")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "demo-project", cfg.ProjectID)
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Equal(t, FlashModel, cfg.DefaultModel)
	assert.Equal(t, FlashModel, cfg.FallbackModel)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultMaxUploadFiles, cfg.MaxUploadFiles)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, cfg.Backoff.Transient)
	assert.Equal(t, []string{ProModel}, cfg.SlowModels)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
project_id: yaml-project
region: europe-west1
default_model: gemini-2.5-pro
request_timeout: 45s
max_upload_files: 10
throttle:
  default: 1s
  slow: 3s
backoff:
  transient: [1s, 2s, 4s]
  network: 500ms
export:
  dir: out
  xlsx: true
`)
	t.Setenv("PROJECT_ID", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "yaml-project", cfg.ProjectID)
	assert.Equal(t, "europe-west1", cfg.Region)
	assert.Equal(t, ProModel, cfg.DefaultModel)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10, cfg.MaxUploadFiles)
	assert.Equal(t, time.Second, cfg.Throttle.Default)
	assert.Equal(t, 3*time.Second, cfg.Throttle.Slow)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, cfg.Backoff.Transient)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff.Network)
	assert.Equal(t, 2*time.Second, cfg.Backoff.Fatal, "unset keys keep their defaults")
	assert.Equal(t, "out", cfg.Export.Dir)
	assert.True(t, cfg.Export.XLSX)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "project_id: yaml-project\nregion: europe-west1\n")
	t.Setenv("PROJECT_ID", "env-project")
	t.Setenv("VERTEX_AI_REGION", "us-east4")
	t.Setenv("MR14_DEFAULT_MODEL", "manual")
	t.Setenv("MR14_REQUEST_TIMEOUT", "30s")
	t.Setenv("MR14_MAX_UPLOAD_FILES", "3")
	t.Setenv("MR14_EXPORT_BUCKET", "reports-bucket")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-project", cfg.ProjectID)
	assert.Equal(t, "us-east4", cfg.Region)
	assert.Equal(t, "manual", cfg.DefaultModel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.MaxUploadFiles)
	assert.Equal(t, "reports-bucket", cfg.Export.Bucket)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "malformed yaml", yaml: "region: [unclosed"},
		{name: "bad timeout env", env: map[string]string{"MR14_REQUEST_TIMEOUT": "soon"}},
		{name: "bad max files env", env: map[string]string{"MR14_MAX_UPLOAD_FILES": "many"}},
		{name: "zero max files", yaml: "max_upload_files: 0"},
		{name: "empty transient backoff", yaml: "backoff:\n  transient: []"},
		{name: "negative throttle", yaml: "throttle:\n  default: -1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
