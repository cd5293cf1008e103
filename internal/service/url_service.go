package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Monthlyaway/short-it/internal/analytics"
	"github.com/Monthlyaway/short-it/internal/metrics"
	"github.com/Monthlyaway/short-it/internal/model"
	"github.com/Monthlyaway/short-it/internal/ratelimit"
	"github.com/Monthlyaway/short-it/internal/repository"
	"github.com/Monthlyaway/short-it/internal/utils"
	"go.uber.org/zap"
)

// URLStore is the persistent store used by the service
type URLStore interface {
	FindByKey(ctx context.Context, key string) (*model.URL, error)
	FindBySecret(ctx context.Context, secret string) (*model.URL, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	Insert(ctx context.Context, url *model.URL) error
	IncrementClicksAndLog(ctx context.Context, key string, click *model.Click) (bool, error)
	Deactivate(ctx context.Context, secret string) (*model.URL, error)
}

// LookupCache maps keys to targets for a bounded time
type LookupCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, targetURL string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RateLimiter bounds create calls per client identity
type RateLimiter interface {
	Allow(ctx context.Context, identity string) (ratelimit.Decision, error)
}

// ClickQueue accepts click jobs for background recording
type ClickQueue interface {
	Enqueue(job analytics.Job) bool
}

// QREncoder renders a string as PNG bytes
type QREncoder interface {
	Render(content string) ([]byte, error)
}

// KeyFilter can prove a key was never created
type KeyFilter interface {
	Add(key string)
	Test(key string) bool
}

// Dependencies are the collaborators of URLService. Limiter and Filter are optional.
type Dependencies struct {
	Store   URLStore
	Cache   LookupCache
	Limiter RateLimiter
	Clicks  ClickQueue
	QR      QREncoder
	Filter  KeyFilter
}

// Options tune key generation and caching
type Options struct {
	ShortKeyLength  int
	SecretKeyLength int
	// KeyAttempts bounds regeneration when a generated key is already taken
	KeyAttempts int
	CacheTTL    time.Duration
}

// URLService handles business logic for URL shortening
type URLService struct {
	store   URLStore
	cache   LookupCache
	limiter RateLimiter
	clicks  ClickQueue
	qr      QREncoder
	filter  KeyFilter
	opts    Options
	log     *zap.Logger
}

// NewURLService creates a new URL service instance
func NewURLService(deps Dependencies, opts Options, log *zap.Logger) *URLService {
	if opts.ShortKeyLength <= 0 {
		opts.ShortKeyLength = utils.DefaultKeyLength
	}
	if opts.SecretKeyLength <= 0 {
		opts.SecretKeyLength = utils.DefaultSecretLength
	}
	if opts.KeyAttempts <= 0 {
		opts.KeyAttempts = 3
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 3 * time.Hour
	}
	return &URLService{
		store:   deps.Store,
		cache:   deps.Cache,
		limiter: deps.Limiter,
		clicks:  deps.Clicks,
		qr:      deps.QR,
		filter:  deps.Filter,
		opts:    opts,
		log:     log.Named("service"),
	}
}

// CreateInput is a create request
type CreateInput struct {
	TargetURL string
	CustomKey string
	ClientIP  string
}

// Visit is one redirect request
type Visit struct {
	Key       string
	ClientIP  string
	UserAgent string
}

// Create stores a new short URL for the caller.
// The returned Decision is nil when rate limiting is disabled or its backend failed.
func (s *URLService) Create(ctx context.Context, in CreateInput) (*model.URL, *ratelimit.Decision, error) {
	decision, err := s.checkRateLimit(ctx, in.ClientIP)
	if err != nil {
		return nil, decision, err
	}

	target, err := NormalizeURL(in.TargetURL)
	if err != nil {
		return nil, decision, err
	}

	var key string
	if in.CustomKey != "" {
		if !utils.ValidCustomKey(in.CustomKey) {
			return nil, decision, fmt.Errorf("%w: %q", ErrInvalidKey, in.CustomKey)
		}
		exists, err := s.store.KeyExists(ctx, in.CustomKey)
		if err != nil {
			return nil, decision, err
		}
		if exists {
			return nil, decision, ErrAliasTaken
		}
		key = in.CustomKey
	} else {
		key, err = s.generateKey(ctx)
		if err != nil {
			return nil, decision, err
		}
	}

	record := &model.URL{
		Key:       key,
		SecretKey: utils.GenerateKey(s.opts.SecretKeyLength),
		TargetURL: target,
		IsActive:  true,
		Clicks:    0,
	}
	if err := s.store.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, decision, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, decision, err
	}
	record.ClickEvents = []model.Click{}

	if s.filter != nil {
		s.filter.Add(key)
	}
	metrics.URLsCreated.Inc()
	s.log.Info("short URL created", zap.String("key", key), zap.Bool("custom", in.CustomKey != ""))

	return record, decision, nil
}

// checkRateLimit fails open when the limiter backend is unavailable
func (s *URLService) checkRateLimit(ctx context.Context, identity string) (*ratelimit.Decision, error) {
	if s.limiter == nil {
		return nil, nil
	}

	decision, err := s.limiter.Allow(ctx, identity)
	if err != nil {
		s.log.Warn("rate limiter error, failing open", zap.String("ip", identity), zap.Error(err))
		return nil, nil
	}
	if !decision.Allowed {
		metrics.RateLimited.Inc()
		return &decision, ErrRateLimited
	}
	return &decision, nil
}

// generateKey draws keys until one is free or the attempts run out.
// The unique index still guards the insert against races.
func (s *URLService) generateKey(ctx context.Context) (string, error) {
	var key string
	for i := 0; i < s.opts.KeyAttempts; i++ {
		key = utils.GenerateKey(s.opts.ShortKeyLength)
		if utils.IsReservedKey(key) {
			continue
		}
		exists, err := s.store.KeyExists(ctx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
		s.log.Debug("generated key collision", zap.String("key", key), zap.Int("attempt", i+1))
	}
	return "", fmt.Errorf("%w: no free key after %d attempts", ErrConflict, s.opts.KeyAttempts)
}

// Redirect resolves a key to its target and accounts the click.
// Cache hits hand the click to the background recorder, which adds geolocation.
// Cache misses record the click synchronously without geolocation.
func (s *URLService) Redirect(ctx context.Context, v Visit) (string, error) {
	if v.Key == "" {
		return "", ErrNotFound
	}
	if s.filter != nil && !s.filter.Test(v.Key) {
		return "", ErrNotFound
	}
	ip, ua := orUnknown(v.ClientIP), orUnknown(v.UserAgent)

	target, err := s.cache.Get(ctx, v.Key)
	if err != nil {
		s.log.Warn("cache lookup failed", zap.String("key", v.Key), zap.Error(err))
	}
	if target != "" {
		s.clicks.Enqueue(analytics.Job{Key: v.Key, ClientIP: ip, UserAgent: ua})
		metrics.Redirects.WithLabelValues("cache").Inc()
		return target, nil
	}

	record, err := s.store.FindByKey(ctx, v.Key)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", ErrNotFound
	}

	if err := s.cache.Set(ctx, v.Key, record.TargetURL, s.opts.CacheTTL); err != nil {
		s.log.Warn("failed to set cache", zap.String("key", v.Key), zap.Error(err))
	}

	click := &model.Click{ClientIP: ip, UserAgent: ua, Country: model.Unknown, City: model.Unknown}
	if _, err := s.store.IncrementClicksAndLog(ctx, v.Key, click); err != nil {
		s.log.Error("failed to record click", zap.String("key", v.Key), zap.Error(err))
	}
	metrics.Redirects.WithLabelValues("store").Inc()

	return record.TargetURL, nil
}

// AdminInfo returns the active URL owning secret, with its click history
func (s *URLService) AdminInfo(ctx context.Context, secret string) (*model.URL, error) {
	if !utils.IsBase62(secret) {
		return nil, ErrNotFound
	}
	record, err := s.store.FindBySecret(ctx, secret)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	if record.ClickEvents == nil {
		record.ClickEvents = []model.Click{}
	}
	return record, nil
}

// QRCode renders shortURL as a PNG if key belongs to an active URL
func (s *URLService) QRCode(ctx context.Context, key, shortURL string) ([]byte, error) {
	if s.filter != nil && !s.filter.Test(key) {
		return nil, ErrNotFound
	}
	record, err := s.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return s.qr.Render(shortURL)
}

// Deactivate soft-deletes the URL owning secret and evicts its cached target.
// There is no way back to active.
func (s *URLService) Deactivate(ctx context.Context, secret string) (*model.URL, error) {
	if !utils.IsBase62(secret) {
		return nil, ErrNotFound
	}
	record, err := s.store.Deactivate(ctx, secret)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}

	if err := s.cache.Delete(ctx, record.Key); err != nil {
		s.log.Warn("failed to evict deactivated key", zap.String("key", record.Key), zap.Error(err))
	}
	s.log.Info("short URL deactivated", zap.String("key", record.Key))
	return record, nil
}

// NormalizeURL checks that raw is an absolute http(s) URL and returns its canonical form:
// lower-case scheme and host, and "/" for an empty path.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: URL cannot be empty", ErrInvalidURL)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: URL must use http or https scheme", ErrInvalidURL)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: URL must have a valid host", ErrInvalidURL)
	}

	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Path == "" {
		parsed.Path = "/"
	}

	normalized := parsed.String()
	if len(normalized) > model.MaxTargetURLLength {
		return "", fmt.Errorf("%w: URL longer than %d characters", ErrInvalidURL, model.MaxTargetURLLength)
	}
	return normalized, nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return model.Unknown
	}
	return s
}
