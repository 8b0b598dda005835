package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// ErrSecretNotFound is returned when the named secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// DefaultSecretTTL bounds how long a rotated Stripe key can stay stale.
const DefaultSecretTTL = 15 * time.Minute

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// SecretsClient reads string secrets from Secrets Manager and caches them for TTL.
type SecretsClient struct {
	api   secretsAPI
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	cache map[string]cachedSecret
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return newSecretsClient(secretsmanager.NewFromConfig(cfg), DefaultSecretTTL)
}

func newSecretsClient(api secretsAPI, ttl time.Duration) *SecretsClient {
	return &SecretsClient{
		api:   api,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedSecret),
	}
}

func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	entry, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && s.now().Sub(entry.fetchedAt) < s.ttl {
		return entry.value, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: sdkaws.String(name)})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s is binary, expected a string", name)
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: *out.SecretString, fetchedAt: s.now()}
	s.mu.Unlock()

	return *out.SecretString, nil
}
