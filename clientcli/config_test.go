package clientcli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/stowdrive/clientcli"
)

func TestConfig_WithDefaults(t *testing.T) {
	t.Run("empty endpoint gets default", func(t *testing.T) {
		cfg := (&clientcli.Config{}).WithDefaults()
		assert.Equal(t, clientcli.DefaultEndpoint, cfg.Endpoint)
	})

	t.Run("original is not mutated", func(t *testing.T) {
		orig := &clientcli.Config{}
		_ = orig.WithDefaults()
		assert.Empty(t, orig.Endpoint)
	})
}

func TestConfig_ValidateWithAuth(t *testing.T) {
	tests := []struct {
		name    string
		cfg     clientcli.Config
		wantErr bool
	}{
		{"complete", clientcli.Config{Username: "alice", Password: "pw"}, false},
		{"missing password", clientcli.Config{Username: "alice"}, true},
		{"missing username", clientcli.Config{Password: "pw"}, true},
		{"secret only", clientcli.Config{Secret: "s"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateWithAuth()
			if tt.wantErr {
				assert.ErrorIs(t, err, clientcli.ErrCredentialRequired)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigFile_Profiles(t *testing.T) {
	cf := &clientcli.ConfigFile{}

	_, err := cf.GetProfile("")
	assert.ErrorIs(t, err, clientcli.ErrNoProfiles)

	require.NoError(t, cf.AddProfile(clientcli.Profile{Name: "local", Endpoint: "http://localhost:5708/dav"}))
	require.NoError(t, cf.AddProfile(clientcli.Profile{Name: "prod", Endpoint: "https://drive.example.com/dav"}))
	assert.ErrorIs(t, cf.AddProfile(clientcli.Profile{Name: "local"}), clientcli.ErrProfileExists)

	p, err := cf.GetProfile("")
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name, "first profile is the fallback default")

	require.NoError(t, cf.SetDefault("prod"))
	p, err = cf.GetDefaultProfile()
	require.NoError(t, err)
	assert.Equal(t, "prod", p.Name)

	require.NoError(t, cf.UpdateProfile(clientcli.Profile{Name: "prod", Endpoint: "https://new.example.com/dav", Default: true}))
	p, err = cf.GetProfile("prod")
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com/dav", p.Endpoint)

	assert.ErrorIs(t, cf.UpdateProfile(clientcli.Profile{Name: "nope"}), clientcli.ErrProfileNotFound)
	assert.ErrorIs(t, cf.SetDefault("nope"), clientcli.ErrProfileNotFound)

	require.NoError(t, cf.RemoveProfile("local"))
	assert.Equal(t, []string{"prod"}, cf.ProfileNames())
	assert.ErrorIs(t, cf.RemoveProfile("local"), clientcli.ErrProfileNotFound)

	_, err = cf.GetProfile("local")
	assert.ErrorIs(t, err, clientcli.ErrProfileNotFound)
}

func TestConfigFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cf := &clientcli.ConfigFile{Profiles: []clientcli.Profile{{
		Name:     "local",
		Endpoint: "http://localhost:5708/dav",
		Username: "alice",
		Password: "wonderland",
		Secret:   "hmac",
		Default:  true,
	}}}
	require.NoError(t, cf.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := clientcli.LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, cf, loaded)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "username: alice")
}

func TestLoadConfigFile_Errors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := clientcli.LoadConfigFile("/nonexistent/path/config.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`profiles: [yaml: content`), 0o600))

		_, err := clientcli.LoadConfigFile(path)
		assert.Error(t, err)
	})

	t.Run("duplicate profile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "profiles:\n  - name: home\n    endpoint: http://a/dav\n  - name: home\n    endpoint: http://b/dav\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := clientcli.LoadConfigFile(path)
		assert.ErrorIs(t, err, clientcli.ErrProfileExists)
	})
}

func TestConfigFromProfile(t *testing.T) {
	assert.Equal(t, &clientcli.Config{}, clientcli.ConfigFromProfile(nil))

	cfg := clientcli.ConfigFromProfile(&clientcli.Profile{
		Name:     "x",
		Endpoint: "http://a.com/dav",
		Username: "u",
		Password: "p",
		Secret:   "s",
	})
	assert.Equal(t, &clientcli.Config{Endpoint: "http://a.com/dav", Username: "u", Password: "p", Secret: "s"}, cfg)
}

func TestMergeConfig(t *testing.T) {
	tests := []struct {
		name     string
		configs  []*clientcli.Config
		expected *clientcli.Config
	}{
		{
			name:     "empty configs",
			configs:  []*clientcli.Config{},
			expected: &clientcli.Config{},
		},
		{
			name: "later config overrides",
			configs: []*clientcli.Config{
				{Endpoint: "http://a.com", Username: "u1", Password: "p1"},
				{Endpoint: "http://b.com", Username: "u2"},
			},
			expected: &clientcli.Config{Endpoint: "http://b.com", Username: "u2", Password: "p1"},
		},
		{
			name: "empty strings do not override",
			configs: []*clientcli.Config{
				{Endpoint: "http://a.com", Username: "u1", Password: "p1", Secret: "s1"},
				{},
			},
			expected: &clientcli.Config{Endpoint: "http://a.com", Username: "u1", Password: "p1", Secret: "s1"},
		},
		{
			name: "nil config is skipped",
			configs: []*clientcli.Config{
				{Endpoint: "http://a.com"},
				nil,
				{Secret: "s2"},
			},
			expected: &clientcli.Config{Endpoint: "http://a.com", Secret: "s2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, clientcli.MergeConfig(tt.configs...))
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("STOWDRIVE_ENDPOINT", "http://test.example.com/dav")
	t.Setenv("STOWDRIVE_USERNAME", "env-user")
	t.Setenv("STOWDRIVE_PASSWORD", "env-pass")
	t.Setenv("STOWDRIVE_SECRET", "env-secret")
	t.Setenv("STOWDRIVE_PROFILE", "prod")
	t.Setenv("STOWDRIVE_CONFIG", "/tmp/x.yaml")

	cfg := clientcli.ConfigFromEnv()

	assert.Equal(t, "http://test.example.com/dav", cfg.Endpoint)
	assert.Equal(t, "env-user", cfg.Username)
	assert.Equal(t, "env-pass", cfg.Password)
	assert.Equal(t, "env-secret", cfg.Secret)
	assert.Equal(t, "prod", clientcli.ProfileFromEnv())
	assert.Equal(t, "/tmp/x.yaml", clientcli.ConfigPathFromEnv())
}
