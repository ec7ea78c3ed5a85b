package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigPaths(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		fn       func() (string, error)
		wantBase string
	}{
		"config file": {fn: ConfigFilePath, wantBase: "config.yaml"},
		"database":    {fn: DatabaseFilePath, wantBase: "crm.db"},
		"token":       {fn: TokenFilePath, wantBase: "token"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path, err := tc.fn()

			require.NoError(t, err)
			require.Equal(t, ".crmresolve", filepath.Base(filepath.Dir(path)))
			require.Equal(t, tc.wantBase, filepath.Base(path))
		})
	}
}

func TestLocalConfigValidate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		config       LocalConfig
		wantErr      bool
		errFragments []string
	}{
		"sqlite backend needs no credentials": {
			config: LocalConfig{
				Store: LocalStore{Backend: BackendSQLite, Path: "/tmp/crm.db"},
			},
			wantErr: false,
		},
		"crm backend with credentials": {
			config: LocalConfig{
				CRM: LocalCRM{
					ClientID:     "client-id",
					ClientSecret: "client-secret",
					InstanceURL:  "https://acme.my.salesforce.com",
				},
				Store: LocalStore{Backend: BackendCRM},
			},
			wantErr: false,
		},
		"crm backend missing credentials": {
			config: LocalConfig{
				Store: LocalStore{Backend: BackendCRM},
			},
			wantErr: true,
			errFragments: []string{
				"crm.client_id is required",
				"crm.client_secret is required",
				"crm.instance_url is required",
			},
		},
		"unknown backend": {
			config: LocalConfig{
				Store: LocalStore{Backend: "dynamodb"},
			},
			wantErr:      true,
			errFragments: []string{`store.backend must be sqlite or crm, got "dynamodb"`},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := tc.config.validate()

			if tc.wantErr {
				require.Error(t, err)
				for _, fragment := range tc.errFragments {
					require.Contains(t, err.Error(), fragment)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoadLocalFrom(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content     string
		wantErr     bool
		errContains string
		validateCfg func(t *testing.T, cfg *LocalConfig)
	}{
		"crm backend": {
			content: `
crm:
  client_id: "test-client-id"
  client_secret: "test-client-secret"
  instance_url: "https://acme.my.salesforce.com"
  api_version: "v60.0"
  token_file: "/etc/crmresolve/token"
store:
  backend: "CRM"
resolver:
  reject_ambiguous: true
`,
			wantErr: false,
			validateCfg: func(t *testing.T, cfg *LocalConfig) {
				t.Helper()
				require.Equal(t, "test-client-id", cfg.CRM.ClientID)
				require.Equal(t, "test-client-secret", cfg.CRM.ClientSecret)
				require.Equal(t, "https://acme.my.salesforce.com", cfg.CRM.InstanceURL)
				require.Equal(t, "v60.0", cfg.CRM.APIVersion)
				require.Equal(t, "https://login.salesforce.com/services/oauth2/token", cfg.CRM.TokenURL)
				require.Equal(t, "/etc/crmresolve/token", cfg.CRM.TokenFile)
				require.Equal(t, BackendCRM, cfg.Store.Backend)
				require.True(t, cfg.Resolver.RejectAmbiguous)
			},
		},
		"defaults to sqlite": {
			content: `
store:
  path: "/var/lib/crmresolve/records.db"
`,
			wantErr: false,
			validateCfg: func(t *testing.T, cfg *LocalConfig) {
				t.Helper()
				require.Equal(t, BackendSQLite, cfg.Store.Backend)
				require.Equal(t, "/var/lib/crmresolve/records.db", cfg.Store.Path)
				require.Equal(t, "v62.0", cfg.CRM.APIVersion)
				require.False(t, cfg.Resolver.RejectAmbiguous)
			},
		},
		"empty file uses default paths": {
			content: "",
			wantErr: false,
			validateCfg: func(t *testing.T, cfg *LocalConfig) {
				t.Helper()
				require.Equal(t, "crm.db", filepath.Base(cfg.Store.Path))
				require.Equal(t, "token", filepath.Base(cfg.CRM.TokenFile))
			},
		},
		"expands home in path": {
			content: `
store:
  path: "~/data/crm.db"
`,
			wantErr: false,
			validateCfg: func(t *testing.T, cfg *LocalConfig) {
				t.Helper()
				home, err := os.UserHomeDir()
				require.NoError(t, err)
				require.Equal(t, filepath.Join(home, "data", "crm.db"), cfg.Store.Path)
			},
		},
		"invalid yaml": {
			content:     `invalid: yaml: content: [}`,
			wantErr:     true,
			errContains: "parsing config",
		},
		"crm backend missing credentials": {
			content: `
store:
  backend: crm
crm:
  client_id: "test-client-id"
`,
			wantErr:     true,
			errContains: "invalid config",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			configPath := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tc.content), 0o600))

			cfg, err := LoadLocalFrom(configPath)

			if tc.wantErr {
				require.Error(t, err)
				if tc.errContains != "" {
					require.Contains(t, err.Error(), tc.errContains)
				}
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				if tc.validateCfg != nil {
					tc.validateCfg(t, cfg)
				}
			}
		})
	}
}

func TestLoadLocalFileNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "nonexistent.yaml")

	_, err := LoadLocalFrom(configPath)

	require.Error(t, err)
	require.Contains(t, err.Error(), "config file not found")
	require.Contains(t, err.Error(), "crmctl init")
}

func TestLocalConfigExists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.False(t, LocalConfigExists())

	path, err := ConfigFilePath()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: sqlite\n"), 0o600))

	require.True(t, LocalConfigExists())
}
