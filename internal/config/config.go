// Package config provides configuration loading from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	// EnvCRMAPIVersion is the CRM REST API version.
	EnvCRMAPIVersion = "CRM_API_VERSION"

	// EnvCRMClientID is the OAuth client ID for the CRM connected app.
	EnvCRMClientID = "CRM_CLIENT_ID"

	// EnvCRMClientSecret is the OAuth client secret for the CRM connected app.
	EnvCRMClientSecret = "CRM_CLIENT_SECRET"

	// EnvCRMInstanceURL is the base URL of the CRM instance.
	EnvCRMInstanceURL = "CRM_INSTANCE_URL"

	// EnvCRMRefreshTokenSecretARN is the Secrets Manager ARN for the refresh token.
	EnvCRMRefreshTokenSecretARN = "CRM_REFRESH_TOKEN_SECRET_ARN"

	// EnvCRMTokenURL is the OAuth token endpoint URL.
	EnvCRMTokenURL = "CRM_TOKEN_URL"

	// EnvDynamoDBTableName is the DynamoDB table holding records for the dynamodb backend.
	EnvDynamoDBTableName = "DYNAMODB_TABLE_NAME"

	// EnvMetricsPushgatewayURL is the Prometheus Pushgateway that receives counters after each run.
	// Metrics are not recorded when unset.
	EnvMetricsPushgatewayURL = "METRICS_PUSHGATEWAY_URL"

	// EnvRejectAmbiguous makes lookups fail when several accounts share a name.
	EnvRejectAmbiguous = "RESOLVER_REJECT_AMBIGUOUS"

	// EnvSQLDriver is the database/sql driver for the sql backend (pgx or sqlite).
	EnvSQLDriver = "SQL_DRIVER"

	// EnvSQLDSN is the data source name for the sql backend.
	EnvSQLDSN = "SQL_DSN"

	// EnvSSMParameterName is the SSM parameter storing the last run timestamp.
	EnvSSMParameterName = "SSM_PARAMETER_NAME"

	// EnvStoreBackend selects where records live: crm, dynamodb or sql.
	EnvStoreBackend = "STORE_BACKEND"
)

const (
	// BackendCRM keeps records in the hosted CRM via its REST API.
	BackendCRM = "crm"

	// BackendDynamoDB keeps records in a DynamoDB table.
	BackendDynamoDB = "dynamodb"

	// BackendSQL keeps records in a Postgres or SQLite database.
	BackendSQL = "sql"

	// BackendSQLite keeps records in a local SQLite file. Used by the CLI.
	BackendSQLite = "sqlite"
)

const (
	defaultAPIVersion = "v62.0"
	defaultSQLDriver  = "pgx"
	defaultTokenURL   = "https://login.salesforce.com/services/oauth2/token"
)

// CRM holds CRM REST API configuration.
type CRM struct {
	// APIVersion is the REST API version (e.g., v62.0).
	APIVersion string

	// ClientID is the OAuth client identifier.
	ClientID string

	// ClientSecret is the OAuth client secret.
	ClientSecret string

	// InstanceURL is the base URL of the CRM instance.
	InstanceURL string

	// RefreshTokenSecretARN is the Secrets Manager ARN storing the OAuth refresh token.
	RefreshTokenSecretARN string

	// TokenURL is the OAuth token endpoint.
	TokenURL string
}

// DynamoDB holds AWS DynamoDB configuration.
type DynamoDB struct {
	// TableName is the name of the DynamoDB table holding records.
	TableName string
}

// Metrics holds Prometheus export configuration.
type Metrics struct {
	// PushgatewayURL is the Pushgateway base URL. Empty disables metrics.
	PushgatewayURL string
}

// Resolver holds account resolution behaviour.
type Resolver struct {
	// RejectAmbiguous makes lookups fail when several accounts share a name.
	RejectAmbiguous bool
}

// SQL holds database/sql configuration.
type SQL struct {
	// DSN is the data source name.
	DSN string

	// Driver is the database/sql driver name.
	Driver string
}

// SSM holds AWS Systems Manager Parameter Store configuration.
type SSM struct {
	// ParameterName is the SSM parameter storing the last run timestamp.
	ParameterName string
}

// Settings holds all configuration for the application.
type Settings struct {
	// Backend selects the record store.
	Backend string

	// CRM contains CRM REST API settings.
	CRM CRM

	// DynamoDB contains AWS DynamoDB settings.
	DynamoDB DynamoDB

	// Metrics contains Prometheus export settings.
	Metrics Metrics

	// Resolver contains account resolution settings.
	Resolver Resolver

	// SQL contains database settings.
	SQL SQL

	// SSM contains AWS Systems Manager Parameter Store settings.
	SSM SSM
}

func (s *Settings) validate() error {
	var errs []error

	switch s.Backend {
	case BackendCRM:
		if s.CRM.ClientID == "" {
			errs = append(errs, requiredError(EnvCRMClientID))
		}
		if s.CRM.ClientSecret == "" {
			errs = append(errs, requiredError(EnvCRMClientSecret))
		}
		if s.CRM.InstanceURL == "" {
			errs = append(errs, requiredError(EnvCRMInstanceURL))
		}
		if s.CRM.RefreshTokenSecretARN == "" {
			errs = append(errs, requiredError(EnvCRMRefreshTokenSecretARN))
		}
	case BackendDynamoDB:
		if s.DynamoDB.TableName == "" {
			errs = append(errs, requiredError(EnvDynamoDBTableName))
		}
	case BackendSQL:
		if s.SQL.DSN == "" {
			errs = append(errs, requiredError(EnvSQLDSN))
		}
		if s.SQL.Driver != "pgx" && s.SQL.Driver != "sqlite" {
			errs = append(errs, fmt.Errorf("%s must be pgx or sqlite, got %q", EnvSQLDriver, s.SQL.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("%s must be one of crm, dynamodb, sql, got %q", EnvStoreBackend, s.Backend))
	}

	if s.SSM.ParameterName == "" {
		errs = append(errs, requiredError(EnvSSMParameterName))
	}

	if s.Metrics.PushgatewayURL != "" {
		if u, err := url.Parse(s.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", EnvMetricsPushgatewayURL, s.Metrics.PushgatewayURL))
		}
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Settings, error) {
	rejectAmbiguous, err := envBool(EnvRejectAmbiguous)
	if err != nil {
		return nil, err
	}

	cfg := &Settings{
		Backend: strings.ToLower(envOrDefault(EnvStoreBackend, BackendCRM)),
		CRM: CRM{
			APIVersion:            envOrDefault(EnvCRMAPIVersion, defaultAPIVersion),
			ClientID:              strings.TrimSpace(os.Getenv(EnvCRMClientID)),
			ClientSecret:          strings.TrimSpace(os.Getenv(EnvCRMClientSecret)),
			InstanceURL:           strings.TrimSpace(os.Getenv(EnvCRMInstanceURL)),
			RefreshTokenSecretARN: strings.TrimSpace(os.Getenv(EnvCRMRefreshTokenSecretARN)),
			TokenURL:              envOrDefault(EnvCRMTokenURL, defaultTokenURL),
		},
		DynamoDB: DynamoDB{
			TableName: strings.TrimSpace(os.Getenv(EnvDynamoDBTableName)),
		},
		Metrics: Metrics{
			PushgatewayURL: strings.TrimSpace(os.Getenv(EnvMetricsPushgatewayURL)),
		},
		Resolver: Resolver{
			RejectAmbiguous: rejectAmbiguous,
		},
		SQL: SQL{
			DSN:    strings.TrimSpace(os.Getenv(EnvSQLDSN)),
			Driver: envOrDefault(EnvSQLDriver, defaultSQLDriver),
		},
		SSM: SSM{
			ParameterName: strings.TrimSpace(os.Getenv(EnvSSMParameterName)),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envBool(key string) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, value)
	}
	return b, nil
}

func envOrDefault(key string, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func requiredError(envVar string) error {
	return fmt.Errorf("%s is required", envVar)
}
