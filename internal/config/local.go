package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDirName    = ".crmresolve"
	configFileName   = "config.yaml"
	databaseFileName = "crm.db"
	tokenFileName    = "token"
)

// LocalConfig holds CLI configuration loaded from a local file.
type LocalConfig struct {
	// CRM holds the connected app credentials used with the crm backend.
	CRM LocalCRM

	// Resolver holds account resolution behaviour.
	Resolver Resolver

	// Store selects and locates the record store.
	Store LocalStore
}

// LocalCRM holds CRM settings from the config file.
type LocalCRM struct {
	APIVersion   string
	ClientID     string
	ClientSecret string
	InstanceURL  string
	TokenFile    string
	TokenURL     string
}

// LocalStore holds record store settings from the config file.
type LocalStore struct {
	// Backend is sqlite or crm.
	Backend string

	// Path is the SQLite database file for the sqlite backend.
	Path string
}

// localConfig represents the local configuration file structure.
type localConfig struct {
	CRM      localCRM      `yaml:"crm"`
	Resolver localResolver `yaml:"resolver"`
	Store    localStore    `yaml:"store"`
}

// localCRM represents the crm section of the config file.
type localCRM struct {
	APIVersion   string `yaml:"api_version"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	InstanceURL  string `yaml:"instance_url"`
	TokenFile    string `yaml:"token_file"`
	TokenURL     string `yaml:"token_url"`
}

// localResolver represents the resolver section of the config file.
type localResolver struct {
	RejectAmbiguous bool `yaml:"reject_ambiguous"`
}

// localStore represents the store section of the config file.
type localStore struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ConfigDir returns the crmresolve configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigFilePath returns the path to the local config file.
func ConfigFilePath() (string, error) {
	return inConfigDir(configFileName)
}

// DatabaseFilePath returns the default path of the local SQLite database.
func DatabaseFilePath() (string, error) {
	return inConfigDir(databaseFileName)
}

// TokenFilePath returns the default path of the local refresh token file.
func TokenFilePath() (string, error) {
	return inConfigDir(tokenFileName)
}

// LoadLocal loads configuration from the local config file.
func LoadLocal() (*LocalConfig, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadLocalFrom(configPath)
}

// LoadLocalFrom loads configuration from the given file, applying defaults for unset fields.
func LoadLocalFrom(configPath string) (*LocalConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run 'crmctl init' to create)", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var local localConfig
	if err := yaml.Unmarshal(data, &local); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &LocalConfig{
		CRM: LocalCRM{
			APIVersion:   orDefault(local.CRM.APIVersion, defaultAPIVersion),
			ClientID:     strings.TrimSpace(local.CRM.ClientID),
			ClientSecret: strings.TrimSpace(local.CRM.ClientSecret),
			InstanceURL:  strings.TrimSpace(local.CRM.InstanceURL),
			TokenURL:     orDefault(local.CRM.TokenURL, defaultTokenURL),
		},
		Resolver: Resolver{
			RejectAmbiguous: local.Resolver.RejectAmbiguous,
		},
		Store: LocalStore{
			Backend: strings.ToLower(orDefault(local.Store.Backend, BackendSQLite)),
		},
	}

	if cfg.CRM.TokenFile, err = pathOrDefault(local.CRM.TokenFile, TokenFilePath); err != nil {
		return nil, err
	}
	if cfg.Store.Path, err = pathOrDefault(local.Store.Path, DatabaseFilePath); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LocalConfigExists checks if a local config file exists.
func LocalConfigExists() bool {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(configPath)
	return err == nil
}

// validate checks that required fields are set.
func (c *LocalConfig) validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendSQLite:
	case BackendCRM:
		if c.CRM.ClientID == "" {
			errs = append(errs, errors.New("crm.client_id is required"))
		}
		if c.CRM.ClientSecret == "" {
			errs = append(errs, errors.New("crm.client_secret is required"))
		}
		if c.CRM.InstanceURL == "" {
			errs = append(errs, errors.New("crm.instance_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be sqlite or crm, got %q", c.Store.Backend))
	}

	return errors.Join(errs...)
}

func inConfigDir(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func orDefault(value string, defaultValue string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return defaultValue
}

// pathOrDefault expands a leading ~/ in path, or returns the default path when it is empty.
func pathOrDefault(path string, defaultPath func() (string, error)) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultPath()
	}
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
