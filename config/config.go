package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	awspkg "portal-service/pkg/aws"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	FrontendURL string

	DatabaseURL    string
	ServiceRoleKey string
	JWTSecret      string
	RedisURL       string

	// TrustedProxies are the CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string

	StripeSecretKey     string
	StripeWebhookSecret string
	DefaultCurrency     string

	PaymentSNSTopicARN string
	ReconcileQueueURL  string
	NotifyWebhookURL   string
	NotifyCSRFToken    string

	UploadBucket   string
	MaxUploadBytes int64

	CloudWatchEnabled   bool
	CloudWatchLogGroup  string
	CloudWatchNamespace string
}

// SecretGetter reads a named secret. Satisfied by *awspkg.SecretsClient.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// LoadConfig reads configuration from the environment (and .env when
// present). With AWS_USE_SECRETS=true the Stripe keys, database URL and
// service key are taken from Secrets Manager.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var secrets SecretGetter
	if os.Getenv("AWS_USE_SECRETS") == "true" {
		awsCfg, err := awspkg.LoadAWSConfig(context.Background())
		if err != nil {
			return nil, err
		}
		secrets = awspkg.NewSecretsClient(awsCfg)
	}
	return Load(context.Background(), secrets)
}

// Load builds the Config from the environment, applying overrides from
// secrets when it is non-nil.
func Load(ctx context.Context, secrets SecretGetter) (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("APP_ENV", "development"),
		FrontendURL:         strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		ServiceRoleKey:      os.Getenv("SERVICE_ROLE_KEY"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RedisURL:            os.Getenv("REDIS_URL"),
		TrustedProxies:      splitList(os.Getenv("TRUSTED_PROXIES")),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		DefaultCurrency:     strings.ToLower(getEnv("DEFAULT_CURRENCY", "aed")),
		PaymentSNSTopicARN:  os.Getenv("PAYMENT_SNS_TOPIC_ARN"),
		ReconcileQueueURL:   os.Getenv("RECONCILE_QUEUE_URL"),
		NotifyWebhookURL:    os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyCSRFToken:     os.Getenv("NOTIFY_CSRF_TOKEN"),
		UploadBucket:        os.Getenv("UPLOAD_BUCKET"),
		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup:  os.Getenv("CLOUDWATCH_LOG_GROUP"),
		CloudWatchNamespace: os.Getenv("CLOUDWATCH_NAMESPACE"),
	}

	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "10485760"), 10, 64)
	if err != nil || maxUpload <= 0 {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES %q", os.Getenv("MAX_UPLOAD_BYTES"))
	}
	cfg.MaxUploadBytes = maxUpload

	if secrets != nil {
		if err := applySecrets(ctx, cfg, secrets); err != nil {
			return nil, err
		}
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.ServiceRoleKey
	}

	if missing := cfg.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// applySecrets reads "portal/STRIPE" ({"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET"})
// and "portal/DATABASE" ({"DATABASE_URL", "SERVICE_ROLE_KEY"}). Absent secrets
// leave the environment values in place; any other read failure is fatal.
func applySecrets(ctx context.Context, cfg *Config, secrets SecretGetter) error {
	overrides := map[string]*string{
		"STRIPE_SECRET_KEY":     &cfg.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": &cfg.StripeWebhookSecret,
		"DATABASE_URL":          &cfg.DatabaseURL,
		"SERVICE_ROLE_KEY":      &cfg.ServiceRoleKey,
	}

	for _, name := range []string{"portal/STRIPE", "portal/DATABASE"} {
		raw, err := secrets.GetSecret(ctx, name)
		if errors.Is(err, awspkg.ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load secret %s: %w", name, err)
		}
		if raw == "" {
			continue
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return fmt.Errorf("secret %s is not a JSON object: %w", name, err)
		}
		for k, v := range m {
			if dst, ok := overrides[k]; ok && v != "" {
				*dst = v
			}
		}
	}
	return nil
}

func (c *Config) missing() []string {
	var missing []string
	for name, v := range map[string]string{
		"STRIPE_SECRET_KEY":     c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": c.StripeWebhookSecret,
		"DATABASE_URL":          c.DatabaseURL,
		"SERVICE_ROLE_KEY":      c.ServiceRoleKey,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
