package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI defines the Secrets Manager operations used by the token store.
type SecretsManagerAPI interface {
	// GetSecretValue retrieves a secret value.
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	// PutSecretValue stores a secret value.
	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
}

// tokenSecret is the JSON layout of the CRM credentials secret.
type tokenSecret struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenStore keeps the CRM OAuth refresh token in AWS Secrets Manager.
// The secret holds {"refresh_token": "..."}; a plain string secret is read as the token itself.
type TokenStore struct {
	// client is the Secrets Manager API client.
	client SecretsManagerAPI

	// secretARN is the ARN of the secret storing the refresh token.
	secretARN string
}

// NewTokenStore creates a new Secrets Manager-backed token store.
func NewTokenStore(client SecretsManagerAPI, secretARN string) (*TokenStore, error) {
	if client == nil {
		return nil, errors.New("secrets manager client is required")
	}
	if secretARN == "" {
		return nil, errors.New("secret ARN is required")
	}

	return &TokenStore{
		client:    client,
		secretARN: secretARN,
	}, nil
}

// RefreshToken returns the current refresh token from Secrets Manager.
func (t *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	output, err := t.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(t.secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret from Secrets Manager: %w", err)
	}

	if output.SecretString == nil {
		return "", errors.New("secret has no string value")
	}

	value := strings.TrimSpace(*output.SecretString)
	if !strings.HasPrefix(value, "{") {
		return value, nil
	}

	var secret tokenSecret
	if err := json.Unmarshal([]byte(value), &secret); err != nil {
		return "", fmt.Errorf("parsing secret: %w", err)
	}
	if secret.RefreshToken == "" {
		return "", errors.New("secret has no refresh_token")
	}

	return secret.RefreshToken, nil
}

// SaveRefreshToken stores a new refresh token in Secrets Manager.
func (t *TokenStore) SaveRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}

	data, err := json.Marshal(tokenSecret{RefreshToken: token})
	if err != nil {
		return fmt.Errorf("encoding secret: %w", err)
	}

	_, err = t.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(t.secretARN),
		SecretString: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("putting secret to Secrets Manager: %w", err)
	}

	return nil
}
