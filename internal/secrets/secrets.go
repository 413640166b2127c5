// Package secrets fetches credentials from AWS Secrets Manager and
// caches them for the lifetime of the process.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
)

// API is the Secrets Manager surface the store consumes; narrowed for tests
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Store is a caching secret fetcher
type Store struct {
	client API
	log    zerolog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// New creates a store backed by the default AWS credential chain
func New(ctx context.Context, region string, log zerolog.Logger) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(secretsmanager.NewFromConfig(cfg), log), nil
}

// NewWithClient creates a store with a provided client (for testing)
func NewWithClient(client API, log zerolog.Logger) *Store {
	return &Store{
		client: client,
		log:    log.With().Str("component", "secrets").Logger(),
		cache:  make(map[string]string),
	}
}

// GetSecret returns the raw secret string for an ARN or name.
// Results are cached; the first fetch per ARN hits the API.
func (s *Store) GetSecret(ctx context.Context, arn string) (string, error) {
	if arn == "" {
		return "", fmt.Errorf("secret ARN is empty")
	}

	s.mu.Lock()
	if v, ok := s.cache[arn]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch secret %s: %w", arn, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", arn)
	}

	s.mu.Lock()
	s.cache[arn] = *out.SecretString
	s.mu.Unlock()

	s.log.Debug().Str("arn", arn).Msg("Secret fetched and cached")
	return *out.SecretString, nil
}

// GetSecretJSON parses the secret string as a flat JSON object
func (s *Store) GetSecretJSON(ctx context.Context, arn string) (map[string]string, error) {
	raw, err := s.GetSecret(ctx, arn)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", arn, err)
	}
	return m, nil
}

// Keys looked up in the API-keys secret
const (
	KeyAlpacaAPIKey    = "ALPACA_API_KEY"
	KeyAlpacaAPISecret = "ALPACA_API_SECRET"
	KeyMassiveAPIKey   = "MASSIVE_API_KEY"
)

// APIKeys is the decoded upstream credential set
type APIKeys struct {
	AlpacaKey    string
	AlpacaSecret string
	MassiveKey   string
}

// GetAPIKeys fetches and decodes the shared API-keys secret
func (s *Store) GetAPIKeys(ctx context.Context, arn string) (*APIKeys, error) {
	m, err := s.GetSecretJSON(ctx, arn)
	if err != nil {
		return nil, err
	}
	return &APIKeys{
		AlpacaKey:    m[KeyAlpacaAPIKey],
		AlpacaSecret: m[KeyAlpacaAPISecret],
		MassiveKey:   m[KeyMassiveAPIKey],
	}, nil
}

// GetInfluxToken fetches the time-series store token. The secret may
// expose it as "token" or, on older deployments, "password".
func (s *Store) GetInfluxToken(ctx context.Context, arn string) (string, error) {
	m, err := s.GetSecretJSON(ctx, arn)
	if err != nil {
		return "", err
	}
	if tok := m["token"]; tok != "" {
		return tok, nil
	}
	if pw := m["password"]; pw != "" {
		return pw, nil
	}
	return "", fmt.Errorf("secret %s carries neither token nor password", arn)
}
