package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func baseEnv() map[string]string {
	return map[string]string{
		"STOREFRONT_FIRESTORE_PROJECT_ID": "storefront-dev",
		"STOREFRONT_SESSION_SIGNING_KEY":  testSigningKey,
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.MutationLimit != defaultMutationLimit || cfg.Server.MutationWindow != time.Minute {
		t.Errorf("unexpected mutation limit %d per %s", cfg.Server.MutationLimit, cfg.Server.MutationWindow)
	}
	if cfg.PubSub.ProjectID != "storefront-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != defaultOrderEventsTopic || cfg.PubSub.CleanupTopic != defaultCleanupTopic {
		t.Errorf("unexpected topics %+v", cfg.PubSub)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("expected redis cache disabled by default, got %q", cfg.Redis.Addr)
	}
	if cfg.Session.CookieName != defaultSessionCookie {
		t.Errorf("expected default cookie name, got %s", cfg.Session.CookieName)
	}
	if cfg.Session.TTL != defaultSessionTTL {
		t.Errorf("unexpected session ttl %s", cfg.Session.TTL)
	}
	if len(cfg.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Catalog.BreakerFailures != defaultBreakerFailures {
		t.Errorf("unexpected breaker failures %d", cfg.Catalog.BreakerFailures)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_ENVIRONMENT":              "PROD",
		"STOREFRONT_SERVER_PORT":              "9090",
		"STOREFRONT_SERVER_IDLE_TIMEOUT":      "2m",
		"STOREFRONT_FIRESTORE_PROJECT_ID":     "storefront-prod",
		"STOREFRONT_PUBSUB_PROJECT_ID":        "storefront-events",
		"STOREFRONT_PUBSUB_CLEANUP_TOPIC":     "cleanup-v2",
		"STOREFRONT_REDIS_ADDR":               "10.0.0.5:6379",
		"STOREFRONT_REDIS_PASSWORD":           "secret://redis/password",
		"STOREFRONT_REDIS_DB":                 "2",
		"STOREFRONT_CART_CACHE_TTL":           "5m",
		"STOREFRONT_SESSION_SIGNING_KEY":      "sm://session/key",
		"STOREFRONT_SESSION_COOKIE_SECURE":    "false",
		"STOREFRONT_STRIPE_WEBHOOK_SECRET":    "secret://stripe/webhook",
		"STOREFRONT_OIDC_AUDIENCE":            "https://storefront.example.com/internal",
		"STOREFRONT_OIDC_ISSUERS":             "https://accounts.google.com",
		"STOREFRONT_IDEMPOTENCY_HEADER":       "X-Idem-Key",
		"STOREFRONT_IDEMPOTENCY_TTL":          "48h",
		"STOREFRONT_CATALOG_BREAKER_FAILURES": "3",
		"STOREFRONT_CATALOG_BREAKER_TIMEOUT":  "10s",
	}

	secrets := map[string]string{
		"secret://redis/password": "redis-pass",
		"secret://session/key":    testSigningKey,
		"secret://stripe/webhook": "whsec_test",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("expected lower-cased environment, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.PubSub.ProjectID != "storefront-events" || cfg.PubSub.CleanupTopic != "cleanup-v2" {
		t.Errorf("unexpected pubsub config %+v", cfg.PubSub)
	}
	if cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 || cfg.Redis.CartTTL != 5*time.Minute {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Session.SigningKey != testSigningKey {
		t.Errorf("expected signing key resolved from legacy sm:// scheme")
	}
	if cfg.Session.Secure {
		t.Errorf("expected insecure cookie override")
	}
	if cfg.Stripe.WebhookSecret != "whsec_test" {
		t.Errorf("unexpected stripe webhook secret %q", cfg.Stripe.WebhookSecret)
	}
	if cfg.OIDC.Audience != "https://storefront.example.com/internal" || len(cfg.OIDC.Issuers) != 1 {
		t.Errorf("unexpected oidc config %+v", cfg.OIDC)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
	if cfg.Catalog.BreakerFailures != 3 || cfg.Catalog.BreakerOpenTimeout != 10*time.Second {
		t.Errorf("unexpected catalog config %+v", cfg.Catalog)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "STOREFRONT_SERVER_PORT=7070\nexport STOREFRONT_FIRESTORE_PROJECT_ID=\"dot-project\"\nSTOREFRONT_SESSION_SIGNING_KEY=" + testSigningKey + "\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "dot-project" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	want := map[string]bool{"Firestore.ProjectID": false, "Session.SigningKey": false}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation fields %v", field, fields)
		}
	}
}

func TestLoadRejectsShortSigningKey(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_SESSION_SIGNING_KEY"] = "short"
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_STRIPE_WEBHOOK_SECRET"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "STOREFRONT_FIRESTORE_PROJECT_ID=dot-project\nSTOREFRONT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("STOREFRONT_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("STOREFRONT_SECRET_PROJECT_ID", "secrets-project")

	overrides := map[string]string{
		"STOREFRONT_FIRESTORE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if got := values["STOREFRONT_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["STOREFRONT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["STOREFRONT_SECRET_PROJECT_ID"]; got != "secrets-project" {
		t.Fatalf("expected system env value, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.WebhookSecret"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	expectedRedacted := redactSecretName("Stripe.WebhookSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Stripe.WebhookSecret" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	_, _ = Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.WebhookSecret"),
		WithPanicOnMissingSecrets(),
	)
}
