package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMAPI defines the SSM operations used by the state store.
type SSMAPI interface {
	// GetParameter retrieves a parameter from SSM.
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// StateStore records when the resolver last completed a run, in AWS SSM Parameter Store.
type StateStore struct {
	// client is the SSM API client.
	client SSMAPI

	// parameterName is the SSM parameter name for the last run time.
	parameterName string
}

// NewStateStore creates a new SSM-backed state store.
func NewStateStore(client SSMAPI, parameterName string) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}
	if parameterName == "" {
		return nil, errors.New("parameter name is required")
	}

	return &StateStore{
		client:        client,
		parameterName: parameterName,
	}, nil
}

// LastRunTime returns the time of the last successful run, or zero if there has been none.
func (s *StateStore) LastRunTime(ctx context.Context) (time.Time, error) {
	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(s.parameterName),
	})
	if err != nil {
		var notFoundErr *types.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("getting parameter from SSM: %w", err)
	}

	if output.Parameter == nil || output.Parameter.Value == nil {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, *output.Parameter.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time from parameter: %w", err)
	}

	return t, nil
}

// SetLastRunTime records the time of a successful run.
func (s *StateStore) SetLastRunTime(ctx context.Context, t time.Time) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(t.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return fmt.Errorf("putting parameter to SSM: %w", err)
	}

	return nil
}
