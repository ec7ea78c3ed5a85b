// Package main provides the Lambda handler entry point for crmresolve.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/peteski22/crmresolve/internal/config"
	"github.com/peteski22/crmresolve/internal/crm"
	"github.com/peteski22/crmresolve/internal/metrics"
	"github.com/peteski22/crmresolve/internal/resolver"
	"github.com/peteski22/crmresolve/internal/storage"
)

// metricsJob is the Pushgateway job label for this function's counters.
const metricsJob = "crmresolve"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	h, err := newHandler(ctx, logger)
	if err != nil {
		logger.Error("initialising handler", "error", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// newHandler loads configuration from the environment and wires the AWS clients and record store.
func newHandler(ctx context.Context, logger *slog.Logger) (*handler, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	state, err := storage.NewStateStore(ssm.NewFromConfig(awsCfg), settings.SSM.ParameterName)
	if err != nil {
		return nil, fmt.Errorf("creating state store: %w", err)
	}

	store, err := newRecordStore(ctx, awsCfg, settings)
	if err != nil {
		return nil, err
	}

	h := &handler{
		logger:          logger,
		now:             time.Now,
		rejectAmbiguous: settings.Resolver.RejectAmbiguous,
		state:           state,
		store:           store,
	}

	if settings.Metrics.PushgatewayURL != "" {
		reg := prometheus.NewRegistry()
		if h.metrics, err = metrics.NewRecorder(reg); err != nil {
			return nil, fmt.Errorf("creating metrics recorder: %w", err)
		}
		h.pusher = push.New(settings.Metrics.PushgatewayURL, metricsJob).Gatherer(reg)
	}

	return h, nil
}

// newRecordStore creates the record store for the configured backend.
func newRecordStore(ctx context.Context, awsCfg aws.Config, settings *config.Settings) (resolver.RecordStore, error) {
	switch settings.Backend {
	case config.BackendDynamoDB:
		store, err := storage.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), settings.DynamoDB.TableName)
		if err != nil {
			return nil, fmt.Errorf("creating DynamoDB store: %w", err)
		}
		return store, nil
	case config.BackendSQL:
		store, err := storage.OpenSQLStore(ctx, settings.SQL.Driver, settings.SQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("creating SQL store: %w", err)
		}
		return store, nil
	default:
		tokenStore, err := storage.NewTokenStore(
			secretsmanager.NewFromConfig(awsCfg),
			settings.CRM.RefreshTokenSecretARN,
		)
		if err != nil {
			return nil, fmt.Errorf("creating token store: %w", err)
		}

		client, err := crm.NewClient(crm.Config{
			ClientID:     settings.CRM.ClientID,
			ClientSecret: settings.CRM.ClientSecret,
			InstanceURL:  settings.CRM.InstanceURL,
			TokenStore:   tokenStore,
		}, crm.WithAPIVersion(settings.CRM.APIVersion), crm.WithTokenURL(settings.CRM.TokenURL))
		if err != nil {
			return nil, fmt.Errorf("creating CRM client: %w", err)
		}
		return client, nil
	}
}
