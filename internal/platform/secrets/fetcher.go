// Package secrets resolves secret:// references in configuration against Google Secret Manager, with an
// in-process cache and a local fallback file for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 5 * time.Minute
	meterName           = "github.com/nilemarket/storefront/internal/platform/secrets"

	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceCache    = "cache"
	sourceError    = "error"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// Fetcher resolves secret references. It is safe for concurrent use; concurrent misses for the same
// secret share one Secret Manager call.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	clock      func() time.Time

	env         string
	project     string
	projectMap  map[string]string
	versionPins map[string]string
	cacheTTL    time.Duration
	fallback    *fallbackFile

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedSecret

	resolutions metric.Int64Counter
	latency     metric.Float64Histogram
}

type fetcherConfig struct {
	logger      *zap.Logger
	env         string
	project     string
	projectMap  map[string]string
	versionPins map[string]string
	fallback    string
	cacheTTL    time.Duration
	clock       func() time.Time
	meter       metric.Meter
	client      secretManagerClient
	clientOpts  []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithEnvironment selects the entry of the project map and the environment-scoped version pins.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) {
		cfg.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject sets the project used when the environment has no mapping.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.project = strings.TrimSpace(projectID)
	}
}

// WithProjectMap maps environment labels to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.projectMap = cloneMap(m)
	}
}

// WithVersionPins pins canonical references to versions. Keys may be prefixed with "env:" to apply to one
// environment only.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.versionPins = cloneMap(pins)
	}
}

// WithFallbackFile overrides the local fallback file path. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallback = path
	}
}

// WithCacheTTL controls how long resolved values are reused. Zero caches for the fetcher lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl >= 0 {
			cfg.cacheTTL = ttl
		}
	}
}

// WithClock overrides the time source used for cache expiry.
func WithClock(clock func() time.Time) Option {
	return func(cfg *fetcherConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithMeter injects the OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient injects a client, mainly for tests. The fetcher does not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created the fetcher still works
// against the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:   zap.NewNop(),
		env:      strings.ToLower(strings.TrimSpace(os.Getenv("STOREFRONT_ENVIRONMENT"))),
		fallback: defaultFallbackPath,
		cacheTTL: defaultCacheTTL,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.Meter(meterName)
	}

	resolutions, err := cfg.meter.Int64Counter("storefront.secrets.resolutions",
		metric.WithDescription("Secret resolutions by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register resolution counter: %w", err)
	}
	latency, err := cfg.meter.Float64Histogram("storefront.secrets.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolutions that missed the cache"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency histogram: %w", err)
	}

	f := &Fetcher{
		client:      cfg.client,
		logger:      cfg.logger,
		clock:       cfg.clock,
		env:         cfg.env,
		project:     cfg.project,
		projectMap:  cloneMap(cfg.projectMap),
		versionPins: cloneMap(cfg.versionPins),
		cacheTTL:    cfg.cacheTTL,
		fallback:    newFallbackFile(cfg.fallback),
		cache:       make(map[string]cachedSecret),
		resolutions: resolutions,
		latency:     latency,
	}
	if f.client == nil {
		client, err := newSecretManagerClient(ctx, cfg.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret reference. Remote failures that indicate missing access
// (permission, auth, availability) fall back to the local file; a missing secret does not.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.versionFor(ref)
	key := versionKey(ref.Canonical(), version)

	if value, ok := f.cached(key); ok {
		f.record(ctx, sourceCache)
		return value, nil
	}

	value, err, _ := f.group.Do(key, func() (any, error) {
		started := f.clock()
		value, source, err := f.fetch(ctx, ref, version)
		f.latency.Record(ctx, float64(f.clock().Sub(started))/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("source", source)))
		f.record(ctx, source)
		if err != nil {
			return "", err
		}
		f.store(key, value)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (f *Fetcher) fetch(ctx context.Context, ref Reference, version string) (string, string, error) {
	project := f.projectFor(ref)
	if project != "" && f.client != nil {
		name := ref.resourceName(project, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), sourceRemote, nil
		case err == nil:
			return "", sourceError, fmt.Errorf("secrets: empty payload for %s", name)
		case !fallbackAllowed(err):
			return "", sourceError, fmt.Errorf("secrets: access %s: %w", ref.Canonical(), err)
		}
		f.logger.Debug("secrets: using fallback file", zap.String("secret", ref.Canonical()), zap.Error(err))
	}

	value, err := f.fallback.lookup(ref, version)
	if err != nil {
		return "", sourceError, err
	}
	return value, sourceFallback, nil
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && !f.clock().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	entry := cachedSecret{value: value}
	if f.cacheTTL > 0 {
		entry.expiresAt = f.clock().Add(f.cacheTTL)
	}
	f.mu.Lock()
	f.cache[key] = entry
	f.mu.Unlock()
}

func (f *Fetcher) projectFor(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if id := strings.TrimSpace(f.projectMap[f.env]); id != "" {
		return id
	}
	return f.project
}

func (f *Fetcher) versionFor(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	for _, key := range []string{f.env + ":" + ref.Canonical(), ref.Canonical()} {
		if pin := strings.TrimSpace(f.versionPins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

func (f *Fetcher) record(ctx context.Context, source string) {
	f.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func fallbackAllowed(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return dst
}
