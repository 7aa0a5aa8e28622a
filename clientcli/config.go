package clientcli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the default drive URL, base path included.
const DefaultEndpoint = "http://localhost:5708/dav"

// Environment variables read by ConfigFromEnv, ProfileFromEnv and
// ConfigPathFromEnv.
const (
	EnvEndpoint = "STOWDRIVE_ENDPOINT"
	EnvUsername = "STOWDRIVE_USERNAME"
	EnvPassword = "STOWDRIVE_PASSWORD"
	EnvSecret   = "STOWDRIVE_SECRET"
	EnvProfile  = "STOWDRIVE_PROFILE"
	EnvConfig   = "STOWDRIVE_CONFIG"
)

// Profile is one named drive in the config file.
type Profile struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// Secret is the server's capability secret, needed only to presign.
	Secret  string `yaml:"secret,omitempty"`
	Default bool   `yaml:"default,omitempty"`
}

// ConfigFile is the profile file, ~/.stowdrive/config.yaml by default.
// Profile names are unique.
type ConfigFile struct {
	Profiles []Profile `yaml:"profiles"`
}

func (c *ConfigFile) index(name string) int {
	return slices.IndexFunc(c.Profiles, func(p Profile) bool { return p.Name == name })
}

// GetProfile returns the named profile, or the default one when name is
// empty.
func (c *ConfigFile) GetProfile(name string) (*Profile, error) {
	if name == "" {
		return c.GetDefaultProfile()
	}
	if len(c.Profiles) == 0 {
		return nil, ErrNoProfiles
	}

	i := c.index(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return &c.Profiles[i], nil
}

// GetDefaultProfile returns the profile marked default, falling back to the
// first one.
func (c *ConfigFile) GetDefaultProfile() (*Profile, error) {
	if len(c.Profiles) == 0 {
		return nil, ErrNoProfiles
	}

	i := slices.IndexFunc(c.Profiles, func(p Profile) bool { return p.Default })
	return &c.Profiles[max(i, 0)], nil
}

// AddProfile appends p. The name must not be taken.
func (c *ConfigFile) AddProfile(p Profile) error {
	if c.index(p.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrProfileExists, p.Name)
	}
	c.Profiles = append(c.Profiles, p)
	return nil
}

// UpdateProfile replaces the profile with p's name.
func (c *ConfigFile) UpdateProfile(p Profile) error {
	i := c.index(p.Name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, p.Name)
	}
	c.Profiles[i] = p
	return nil
}

func (c *ConfigFile) RemoveProfile(name string) error {
	i := c.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	c.Profiles = slices.Delete(c.Profiles, i, i+1)
	return nil
}

// SetDefault marks name as the only default profile.
func (c *ConfigFile) SetDefault(name string) error {
	if c.index(name) < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	for i := range c.Profiles {
		c.Profiles[i].Default = c.Profiles[i].Name == name
	}
	return nil
}

func (c *ConfigFile) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		names = append(names, p.Name)
	}
	return names
}

// Save writes the file with owner-only permissions, creating its directory.
// The file is replaced atomically since it holds credentials.
func (c *ConfigFile) Save(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// LoadConfigFile reads a profile file. Duplicate profile names are
// rejected.
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(filepath.Clean(path)) //#nosec G304 -- path is user-provided config file
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if _, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("parse config file: %w: %s", ErrProfileExists, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	return &cfg, nil
}

// DefaultConfigPath returns ~/.stowdrive/config.yaml, or "" without a home
// directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".stowdrive", "config.yaml")
}

// Config is the resolved connection setting the Client uses.
type Config struct {
	// Endpoint is the drive URL including the base path,
	// e.g. https://drive.example.com/dav.
	Endpoint string
	Username string
	Password string
	Secret   string
}

// WithDefaults returns a copy with DefaultEndpoint filled in.
func (c *Config) WithDefaults() *Config {
	cfg := *c
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	return &cfg
}

// ValidateWithAuth checks that the direct credential is set.
func (c *Config) ValidateWithAuth() error {
	if c.Username == "" || c.Password == "" {
		return ErrCredentialRequired
	}
	return nil
}

func ConfigFromProfile(p *Profile) *Config {
	if p == nil {
		return &Config{}
	}
	return &Config{
		Endpoint: p.Endpoint,
		Username: p.Username,
		Password: p.Password,
		Secret:   p.Secret,
	}
}

func ConfigFromEnv() *Config {
	return &Config{
		Endpoint: os.Getenv(EnvEndpoint),
		Username: os.Getenv(EnvUsername),
		Password: os.Getenv(EnvPassword),
		Secret:   os.Getenv(EnvSecret),
	}
}

func ProfileFromEnv() string {
	return os.Getenv(EnvProfile)
}

func ConfigPathFromEnv() string {
	return os.Getenv(EnvConfig)
}

// MergeConfig layers configs left to right. A field is taken from the last
// config that sets it.
func MergeConfig(configs ...*Config) *Config {
	result := &Config{}
	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		for dst, v := range map[*string]string{
			&result.Endpoint: cfg.Endpoint,
			&result.Username: cfg.Username,
			&result.Password: cfg.Password,
			&result.Secret:   cfg.Secret,
		} {
			if v != "" {
				*dst = v
			}
		}
	}
	return result
}
