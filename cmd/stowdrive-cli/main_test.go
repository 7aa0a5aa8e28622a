package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/stowdrive/clientcli"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile, profile, endpoint, username, password, secret = "", "", "", "", "", ""
	})
	for _, env := range []string{"STOWDRIVE_CONFIG", "STOWDRIVE_PROFILE", "STOWDRIVE_ENDPOINT", "STOWDRIVE_USERNAME", "STOWDRIVE_PASSWORD", "STOWDRIVE_SECRET"} {
		t.Setenv(env, "")
	}
}

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	cf := &clientcli.ConfigFile{Profiles: []clientcli.Profile{
		{Name: "home", Endpoint: "http://nas:5708/dav", Username: "alice", Password: "wonderland", Default: true},
		{Name: "work", Endpoint: "https://drive.example.com/dav", Username: "bob", Password: "builder", Secret: "s3cr3t"},
	}}
	require.NoError(t, cf.Save(path))
	return path
}

func TestBuildConfig_DefaultProfile(t *testing.T) {
	resetFlags(t)
	cfgFile = writeProfiles(t)

	cfg, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://nas:5708/dav", cfg.Endpoint)
	assert.Equal(t, "alice", cfg.Username)
}

func TestBuildConfig_Precedence(t *testing.T) {
	resetFlags(t)
	cfgFile = writeProfiles(t)
	t.Setenv("STOWDRIVE_PROFILE", "work")
	t.Setenv("STOWDRIVE_USERNAME", "carol")
	password = "from-flag"

	cfg, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example.com/dav", cfg.Endpoint)
	assert.Equal(t, "carol", cfg.Username)
	assert.Equal(t, "from-flag", cfg.Password)
	assert.Equal(t, "s3cr3t", cfg.Secret)
}

func TestBuildConfig_UnknownProfile(t *testing.T) {
	resetFlags(t)
	cfgFile = writeProfiles(t)
	profile = "missing"

	_, err := buildConfig()
	require.ErrorIs(t, err, clientcli.ErrProfileNotFound)
}

func TestBuildConfig_NoConfigFile(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())
	endpoint = "http://localhost:9000/dav"

	cfg, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/dav", cfg.Endpoint)
}

func TestBuildConfig_ExplicitFileMissing(t *testing.T) {
	resetFlags(t)
	cfgFile = filepath.Join(t.TempDir(), "nope.yaml")

	_, err := buildConfig()
	require.Error(t, err)
}

func TestValidateEndpoint(t *testing.T) {
	require.NoError(t, validateEndpoint("https://drive.example.com/dav"))
	require.Error(t, validateEndpoint(""))
	require.Error(t, validateEndpoint("ftp://drive.example.com"))
}
