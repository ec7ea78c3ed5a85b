package crm

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// defaultAPIVersion is the REST API version used when none is configured.
	defaultAPIVersion = "v62.0"

	// defaultTimeout is the HTTP client timeout used when none is configured.
	defaultTimeout = 30 * time.Second

	// defaultTokenURL is the OAuth token endpoint used when none is configured.
	defaultTokenURL = "https://login.salesforce.com/services/oauth2/token"
)

// Option configures optional Client settings.
type Option func(*options) error

// options holds optional configuration for creating a Client.
type options struct {
	// apiVersion is the REST API version path segment (e.g., v62.0).
	apiVersion string

	// httpClient is a custom HTTP client.
	httpClient *http.Client

	// timeout is the HTTP client timeout.
	timeout time.Duration

	// tokenURL is the OAuth token endpoint.
	tokenURL string
}

// WithAPIVersion sets the REST API version, with or without the leading "v".
func WithAPIVersion(version string) Option {
	return func(o *options) error {
		version = strings.TrimSpace(version)
		if version == "" {
			return fmt.Errorf("API version cannot be empty")
		}
		if !strings.HasPrefix(version, "v") {
			version = "v" + version
		}
		o.apiVersion = version
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// WithTokenURL sets a custom OAuth token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(o *options) error {
		tokenURL = strings.TrimSpace(tokenURL)
		if tokenURL == "" {
			return fmt.Errorf("token URL cannot be empty")
		}
		o.tokenURL = tokenURL
		return nil
	}
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		apiVersion: defaultAPIVersion,
		timeout:    defaultTimeout,
		tokenURL:   defaultTokenURL,
	}
}
