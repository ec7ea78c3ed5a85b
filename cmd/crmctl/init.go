package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/peteski22/crmresolve/internal/config"
)

const configTemplate = `# crmresolve configuration

store:
  # Where records live: sqlite (local file) or crm (hosted CRM REST API).
  backend: "sqlite"
  # SQLite database file (default: ~/.crmresolve/crm.db).
  path: ""

crm:
  # From the CRM connected app settings. Required for the crm backend.
  client_id: ""
  client_secret: ""
  # Your instance, e.g. https://yourcompany.my.salesforce.com
  instance_url: ""
  # Optional overrides.
  token_url: ""
  api_version: ""
  # File holding the OAuth refresh token (default: ~/.crmresolve/token).
  token_file: ""

resolver:
  # Fail instead of using the first match when several accounts share a name.
  reject_ambiguous: false
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout())
		},
	}
}

// runInit creates a sample configuration file.
func runInit(out io.Writer) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	tokenPath, err := config.TokenFilePath()
	if err != nil {
		return fmt.Errorf("getting token path: %w", err)
	}

	fmt.Fprintln(out, "Created config file:", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Try it locally: crmctl resolve-account \"Acme\"")
	fmt.Fprintln(out, "  2. For the hosted CRM, set store.backend to crm and fill in the crm section")
	fmt.Fprintf(out, "  3. Save your refresh token to %s (chmod 600)\n", tokenPath)
	fmt.Fprintln(out, "  4. Rehearse with --dry-run before writing")

	return nil
}
