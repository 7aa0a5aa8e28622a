package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/stowdrive/config"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 5708, cfg.Server.Port)
	assert.Equal(t, "/dav", cfg.Server.BasePath)
	assert.Equal(t, "/s", cfg.Server.SharePath)
	assert.Equal(t, 30, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "filesystem", cfg.Store.Type)
	assert.Equal(t, "./data", cfg.Store.Path)
	assert.Equal(t, 5, cfg.Store.S3.MaxRetries)
	assert.Equal(t, "sqlite", cfg.Shares.Type)
	assert.Equal(t, "stowdrive.db", cfg.Shares.DSN)
	assert.Equal(t, "stowdrive_shares", cfg.Shares.Table)
	assert.Equal(t, "@hourly", cfg.Shares.MaintenanceSchedule)
	assert.False(t, cfg.Thumbnails.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Thumbnails.SignedURLTTL)
	assert.Equal(t, "X-Resized", cfg.Thumbnails.MarkerHeader)
	assert.Equal(t, 5, cfg.Gateway.CopyConcurrency)
	assert.Equal(t, 4, cfg.Gateway.DeleteConcurrency)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
env: prod
server:
  port: 8080
  base_path: /files
  share_path: /public
  public_url: https://drive.example.com
  max_upload_size: 1048576
auth:
  username: alice
  password: wonderland
  secret: hmac-secret
store:
  type: s3
  s3:
    bucket: drive
    region: eu-west-1
    endpoint: http://localhost:9000
    key_prefix: drive/
shares:
  type: postgres
  dsn: postgres://localhost/test
  table: custom_shares
thumbnails:
  enabled: true
  resize_url: https://resize.example.com/
  width: 128
  height: 0
  signed_url_ttl: 90s
  schedule: "@daily"
gateway:
  copy_concurrency: 8
  delete_rate: 50
log:
  level: debug
`)

	cfg, err := config.Load([]string{path}, nil)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/files", cfg.Server.BasePath)
	assert.Equal(t, "/public", cfg.Server.SharePath)
	assert.Equal(t, "https://drive.example.com", cfg.Server.PublicURL)
	assert.Equal(t, int64(1048576), cfg.Server.MaxUploadSize)
	assert.Equal(t, "alice", cfg.Auth.Username)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, "s3", cfg.Store.Type)
	assert.Equal(t, "drive", cfg.Store.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Store.S3.Region)
	assert.Equal(t, "http://localhost:9000", cfg.Store.S3.Endpoint)
	assert.Equal(t, "drive/", cfg.Store.S3.KeyPrefix)
	assert.Equal(t, "postgres", cfg.Shares.Type)
	assert.Equal(t, "custom_shares", cfg.Shares.Table)
	assert.True(t, cfg.Thumbnails.Enabled)
	assert.Equal(t, 128, cfg.Thumbnails.Width)
	assert.Equal(t, 90*time.Second, cfg.Thumbnails.SignedURLTTL)
	assert.Equal(t, "@daily", cfg.Thumbnails.Schedule)
	assert.Equal(t, 8, cfg.Gateway.CopyConcurrency)
	assert.InDelta(t, 50.0, cfg.Gateway.DeleteRate, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFileMerge(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
server:
  port: 5708
auth:
  username: alice
  password: wonderland
shares:
  type: sqlite
  dsn: base.db
`)
	override := writeConfig(t, "override.yaml", `
server:
  port: 9000
shares:
  dsn: override.db
`)

	cfg, err := config.Load([]string{base, override}, nil)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "override.db", cfg.Shares.DSN)
	assert.Equal(t, "alice", cfg.Auth.Username)
	assert.Equal(t, "sqlite", cfg.Shares.Type)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "port out of range", content: "server:\n  port: 99999\n"},
		{name: "relative base path", content: "server:\n  base_path: dav\n"},
		{name: "share path equals base path", content: "server:\n  base_path: /x\n  share_path: /x\n"},
		{name: "bad public url", content: "server:\n  public_url: not a url\n"},
		{name: "unknown store", content: "store:\n  type: ftp\n"},
		{name: "s3 without bucket", content: "store:\n  type: s3\n  s3:\n    region: us-east-1\n"},
		{name: "s3 without region", content: "store:\n  type: s3\n  s3:\n    bucket: b\n"},
		{name: "unknown share backend", content: "shares:\n  type: redis\n"},
		{name: "password without username", content: "auth:\n  password: pw\n"},
		{name: "thumbnails without resizer", content: "thumbnails:\n  enabled: true\n  source_base_url: https://cdn.example.com\n"},
		{name: "thumbnails without source", content: "thumbnails:\n  enabled: true\n  resize_url: https://resize.example.com\n"},
		{name: "thumbnails without size", content: "thumbnails:\n  enabled: true\n  resize_url: https://r.example.com\n  source_base_url: https://cdn.example.com\n  width: 0\n  height: 0\n"},
		{name: "zero copy concurrency", content: "gateway:\n  copy_concurrency: 0\n"},
		{name: "bad log level", content: "log:\n  level: verbose\n"},
		{name: "bad env", content: "env: staging\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.content)

			_, err := config.Load([]string{path}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validate config")
		})
	}
}

func TestLoad_ThumbnailsWithSignedSources(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  public_url: https://drive.example.com
auth:
  secret: s3cret
thumbnails:
  enabled: true
  resize_url: https://resize.example.com
`)

	cfg, err := config.Load([]string{path}, nil)
	require.NoError(t, err)
	assert.True(t, cfg.Thumbnails.Enabled)
	assert.Empty(t, cfg.Thumbnails.SourceBaseURL)
}

func TestLoad_WithCORS(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
cors:
  enabled: true
  allowed_origins:
    - https://example.com
    - https://app.example.com
  allowed_methods:
    - GET
    - PROPFIND
  allowed_headers:
    - Authorization
    - Depth
  exposed_headers:
    - ETag
  allow_credentials: true
  max_age: 600
`)

	cfg, err := config.Load([]string{path}, nil)
	require.NoError(t, err)

	assert.True(t, cfg.CORS.Enabled)
	assert.Equal(t, []string{"https://example.com", "https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"GET", "PROPFIND"}, cfg.CORS.AllowedMethods)
	assert.Equal(t, []string{"Authorization", "Depth"}, cfg.CORS.AllowedHeaders)
	assert.Equal(t, []string{"ETag"}, cfg.CORS.ExposedHeaders)
	assert.True(t, cfg.CORS.AllowCredentials)
	assert.Equal(t, 600, cfg.CORS.MaxAge)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("STOWDRIVE_SERVER_PORT", "9090")
	t.Setenv("STOWDRIVE_SHARES_TYPE", "badger")
	t.Setenv("STOWDRIVE_SHARES_DSN", "/var/lib/stowdrive/shares")
	t.Setenv("STOWDRIVE_AUTH_USERNAME", "bob")
	t.Setenv("STOWDRIVE_AUTH_PASSWORD", "builder")
	t.Setenv("STOWDRIVE_GATEWAY_DELETE_CONCURRENCY", "2")

	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Shares.Type)
	assert.Equal(t, "/var/lib/stowdrive/shares", cfg.Shares.DSN)
	assert.Equal(t, "bob", cfg.Auth.Username)
	assert.Equal(t, "builder", cfg.Auth.Password)
	assert.Equal(t, 2, cfg.Gateway.DeleteConcurrency)
}

func TestLoad_Flags(t *testing.T) {
	t.Setenv("STOWDRIVE_SERVER_PORT", "9090")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("db-type", "", "")
	flags.String("store-path", "", "")
	require.NoError(t, flags.Parse([]string{"--port=7000", "--store-path=/srv/drive"}))

	cfg, err := config.Load(nil, flags)
	require.NoError(t, err)

	// flags beat the environment; unset flags leave lower layers alone
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/srv/drive", cfg.Store.Path)
	assert.Equal(t, "sqlite", cfg.Shares.Type)
}

func TestFromContext(t *testing.T) {
	_, err := config.FromContext(context.Background())
	require.Error(t, err)

	cfg := &config.Config{Env: "dev"}
	got, err := config.FromContext(config.WithContext(context.Background(), cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
