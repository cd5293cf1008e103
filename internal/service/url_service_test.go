package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Monthlyaway/short-it/internal/analytics"
	"github.com/Monthlyaway/short-it/internal/cache"
	"github.com/Monthlyaway/short-it/internal/filter"
	"github.com/Monthlyaway/short-it/internal/geo"
	"github.com/Monthlyaway/short-it/internal/model"
	"github.com/Monthlyaway/short-it/internal/qr"
	"github.com/Monthlyaway/short-it/internal/ratelimit"
	"github.com/Monthlyaway/short-it/internal/repository"
	"github.com/Monthlyaway/short-it/internal/service"
	"github.com/Monthlyaway/short-it/internal/testutil"
	"github.com/Monthlyaway/short-it/internal/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLocator struct{}

func (stubLocator) Lookup(ctx context.Context, ip string) (geo.Location, error) {
	return geo.Location{Country: "Netherlands", City: "Amsterdam"}, nil
}

type harness struct {
	svc      *service.URLService
	repo     *repository.URLRepository
	mr       *miniredis.Miniredis
	recorder *analytics.Recorder
	filter   *filter.BloomFilter
}

func newHarness(t *testing.T, limit int) *harness {
	t.Helper()

	db := testutil.NewDB(t)
	ids, err := utils.NewIDGenerator(1, 1)
	require.NoError(t, err)
	repo := repository.NewURLRepository(db, ids)

	mr, rdb := testutil.NewRedis(t)
	recorder := analytics.NewRecorder(repo, stubLocator{}, zap.NewNop(), analytics.Config{Workers: 2, QueueSize: 64})
	recorder.Start()
	t.Cleanup(func() { _ = recorder.Close(context.Background()) })

	bloom := filter.NewBloomFilter(1000, 0.001)
	svc := service.NewURLService(service.Dependencies{
		Store:   repo,
		Cache:   cache.NewRedisCache(rdb),
		Limiter: ratelimit.NewLimiter(rdb, ratelimit.Config{Limit: limit, Window: time.Minute}),
		Clicks:  recorder,
		QR:      qr.NewEncoder(64),
		Filter:  bloom,
	}, service.Options{CacheTTL: 3 * time.Hour}, zap.NewNop())

	return &harness{svc: svc, repo: repo, mr: mr, recorder: recorder, filter: bloom}
}

func (h *harness) create(t *testing.T, target, custom string) *model.URL {
	t.Helper()
	url, _, err := h.svc.Create(context.Background(), service.CreateInput{TargetURL: target, CustomKey: custom, ClientIP: "198.51.100.7"})
	require.NoError(t, err)
	return url
}

func (h *harness) clicks(t *testing.T, secret string) *model.URL {
	t.Helper()
	url, err := h.svc.AdminInfo(context.Background(), secret)
	require.NoError(t, err)
	return url
}

func TestCreateGeneratesKeys(t *testing.T) {
	h := newHarness(t, 100)

	url := h.create(t, "https://Example.com", "")
	assert.Len(t, url.Key, utils.DefaultKeyLength)
	assert.True(t, utils.IsBase62(url.Key))
	assert.Len(t, url.SecretKey, utils.DefaultSecretLength)
	assert.True(t, utils.IsBase62(url.SecretKey))
	assert.Equal(t, "https://example.com/", url.TargetURL)
	assert.True(t, url.IsActive)
	assert.Zero(t, url.Clicks)
	assert.Empty(t, url.ClickEvents)
	assert.True(t, h.filter.Test(url.Key))
}

func TestCreateCustomKey(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	url := h.create(t, "https://example.com", "demo")
	assert.Equal(t, "demo", url.Key)

	found, err := h.repo.FindByKey(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, found)

	_, _, err = h.svc.Create(ctx, service.CreateInput{TargetURL: "https://other.example", CustomKey: "demo", ClientIP: "198.51.100.7"})
	assert.ErrorIs(t, err, service.ErrAliasTaken)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	for _, target := range []string{"", "not a url", "ftp://example.com/file", "https://", "mailto:a@b.c"} {
		_, _, err := h.svc.Create(ctx, service.CreateInput{TargetURL: target, ClientIP: "198.51.100.7"})
		assert.ErrorIs(t, err, service.ErrInvalidURL, target)
	}
	for _, key := range []string{"bad key", "admin", "a/b"} {
		_, _, err := h.svc.Create(ctx, service.CreateInput{TargetURL: "https://example.com", CustomKey: key, ClientIP: "198.51.100.7"})
		assert.ErrorIs(t, err, service.ErrInvalidKey, key)
	}
}

func TestCreateRateLimited(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, decision, err := h.svc.Create(ctx, service.CreateInput{TargetURL: "https://example.com", ClientIP: "203.0.113.9"})
		require.NoError(t, err, "call %d", i+1)
		require.NotNil(t, decision)
		assert.Equal(t, 4-i, decision.Remaining)
	}

	_, decision, err := h.svc.Create(ctx, service.CreateInput{TargetURL: "https://example.com", ClientIP: "203.0.113.9"})
	assert.ErrorIs(t, err, service.ErrRateLimited)
	require.NotNil(t, decision)
	assert.False(t, decision.Allowed)

	// another identity is unaffected
	_, _, err = h.svc.Create(ctx, service.CreateInput{TargetURL: "https://example.com", ClientIP: "203.0.113.10"})
	require.NoError(t, err)

	h.mr.FastForward(61 * time.Second)
	_, _, err = h.svc.Create(ctx, service.CreateInput{TargetURL: "https://example.com", ClientIP: "203.0.113.9"})
	assert.NoError(t, err)
}

func TestCreateFailsOpenWhenLimiterDown(t *testing.T) {
	h := newHarness(t, 1)
	h.mr.SetError("ERR injected failure")

	url, decision, err := h.svc.Create(context.Background(), service.CreateInput{TargetURL: "https://example.com", ClientIP: "203.0.113.9"})
	require.NoError(t, err)
	assert.NotNil(t, url)
	assert.Nil(t, decision)
}

type fullStore struct {
	service.URLStore
}

func (fullStore) KeyExists(ctx context.Context, key string) (bool, error) { return true, nil }

func TestCreateGivesUpAfterCollisions(t *testing.T) {
	h := newHarness(t, 100)
	svc := service.NewURLService(service.Dependencies{
		Store: fullStore{URLStore: h.repo},
	}, service.Options{KeyAttempts: 3}, zap.NewNop())

	_, _, err := svc.Create(context.Background(), service.CreateInput{TargetURL: "https://example.com"})
	assert.ErrorIs(t, err, service.ErrConflict)
}

type racingStore struct {
	service.URLStore
}

func (racingStore) KeyExists(ctx context.Context, key string) (bool, error) { return false, nil }

func TestCreateConflictOnInsert(t *testing.T) {
	h := newHarness(t, 100)
	h.create(t, "https://example.com", "race")

	svc := service.NewURLService(service.Dependencies{
		Store: racingStore{URLStore: h.repo},
	}, service.Options{}, zap.NewNop())

	_, _, err := svc.Create(context.Background(), service.CreateInput{TargetURL: "https://example.com", CustomKey: "race"})
	assert.ErrorIs(t, err, service.ErrConflict)
}

func TestRedirectMissThenHit(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	url := h.create(t, "https://example.com", "demo")

	target, err := h.svc.Redirect(ctx, service.Visit{Key: "demo", ClientIP: "8.8.8.8", UserAgent: "test-agent"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", target)

	// the miss populated the cache with the fixed TTL
	cached, err := h.mr.Get("url:demo")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", cached)
	assert.Equal(t, 3*time.Hour, h.mr.TTL("url:demo"))

	// the miss recorded its click synchronously, without geolocation
	info := h.clicks(t, url.SecretKey)
	assert.EqualValues(t, 1, info.Clicks)
	require.Len(t, info.ClickEvents, 1)
	assert.Equal(t, model.Unknown, info.ClickEvents[0].Country)
	assert.Equal(t, "test-agent", info.ClickEvents[0].UserAgent)

	target, err = h.svc.Redirect(ctx, service.Visit{Key: "demo", ClientIP: "8.8.8.8", UserAgent: "test-agent"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", target)

	// the hit is recorded in the background with geolocation
	require.Eventually(t, func() bool {
		return h.clicks(t, url.SecretKey).Clicks == 2
	}, 5*time.Second, 10*time.Millisecond)

	info = h.clicks(t, url.SecretKey)
	require.Len(t, info.ClickEvents, 2)
	assert.Equal(t, "Netherlands", info.ClickEvents[1].Country)
	assert.Equal(t, "Amsterdam", info.ClickEvents[1].City)
}

func TestRedirectCountsEveryClick(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	url := h.create(t, "https://example.com/path?q=1", "")

	const n = 10
	for i := 0; i < n; i++ {
		target, err := h.svc.Redirect(ctx, service.Visit{Key: url.Key, ClientIP: "127.0.0.1"})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/path?q=1", target)
	}

	require.Eventually(t, func() bool {
		return h.clicks(t, url.SecretKey).Clicks == n
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, h.clicks(t, url.SecretKey).ClickEvents, n)
}

func TestRedirectNotFound(t *testing.T) {
	h := newHarness(t, 100)

	_, err := h.svc.Redirect(context.Background(), service.Visit{Key: "missing"})
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = h.svc.Redirect(context.Background(), service.Visit{Key: ""})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestRedirectWithoutFilterFallsBackToStore(t *testing.T) {
	h := newHarness(t, 100)
	url := h.create(t, "https://example.com", "")

	// a filter rebuilt without the key hides it
	h.filter.Rebuild(nil)
	_, err := h.svc.Redirect(context.Background(), service.Visit{Key: url.Key})
	assert.ErrorIs(t, err, service.ErrNotFound)

	h.filter.Rebuild([]string{url.Key})
	_, err = h.svc.Redirect(context.Background(), service.Visit{Key: url.Key})
	assert.NoError(t, err)
}

func TestRedirectServesStoreWhenCacheDown(t *testing.T) {
	h := newHarness(t, 100)
	url := h.create(t, "https://example.com", "")
	h.mr.SetError("ERR injected failure")

	target, err := h.svc.Redirect(context.Background(), service.Visit{Key: url.Key, ClientIP: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", target)

	h.mr.SetError("")
	assert.EqualValues(t, 1, h.clicks(t, url.SecretKey).Clicks)
}

func TestRedirectConcurrentMisses(t *testing.T) {
	h := newHarness(t, 100)
	url := h.create(t, "https://example.com", "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target, err := h.svc.Redirect(context.Background(), service.Visit{Key: url.Key, ClientIP: "127.0.0.1"})
			assert.NoError(t, err)
			assert.Equal(t, "https://example.com/", target)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return h.clicks(t, url.SecretKey).Clicks == 8
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAdminInfo(t *testing.T) {
	h := newHarness(t, 100)
	url := h.create(t, "https://example.com", "demo")

	info := h.clicks(t, url.SecretKey)
	assert.Equal(t, "demo", info.Key)
	assert.NotNil(t, info.ClickEvents)
	assert.Empty(t, info.ClickEvents)

	_, err := h.svc.AdminInfo(context.Background(), "nosuchsecret")
	assert.ErrorIs(t, err, service.ErrNotFound)

	// the public key does not open the admin view
	_, err = h.svc.AdminInfo(context.Background(), "demo")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestQRCode(t *testing.T) {
	h := newHarness(t, 100)
	h.create(t, "https://example.com", "demo")

	png, err := h.svc.QRCode(context.Background(), "demo", "http://localhost:8080/demo")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), png[:8])

	_, err = h.svc.QRCode(context.Background(), "missing", "http://localhost:8080/missing")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestDeactivate(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	url := h.create(t, "https://example.com", "demo")

	// warm the cache
	_, err := h.svc.Redirect(ctx, service.Visit{Key: "demo", ClientIP: "127.0.0.1"})
	require.NoError(t, err)
	require.True(t, h.mr.Exists("url:demo"))

	deactivated, err := h.svc.Deactivate(ctx, url.SecretKey)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
	assert.False(t, h.mr.Exists("url:demo"))

	_, err = h.svc.Redirect(ctx, service.Visit{Key: "demo"})
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = h.svc.QRCode(ctx, "demo", "http://localhost/demo")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = h.svc.AdminInfo(ctx, url.SecretKey)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = h.svc.Deactivate(ctx, url.SecretKey)
	assert.ErrorIs(t, err, service.ErrNotFound)

	// the alias stays reserved
	_, _, err = h.svc.Create(ctx, service.CreateInput{TargetURL: "https://example.com", CustomKey: "demo", ClientIP: "198.51.100.7"})
	assert.ErrorIs(t, err, service.ErrAliasTaken)
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com":           "https://example.com/",
		"HTTPS://Example.COM/Path":      "https://example.com/Path",
		"  http://a.example/x?y=1  ":    "http://a.example/x?y=1",
		"https://example.com:8443":      "https://example.com:8443/",
		"https://example.com/#fragment": "https://example.com/#fragment",
	}
	for in, want := range tests {
		got, err := service.NormalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := service.NormalizeURL("javascript:alert(1)")
	assert.True(t, errors.Is(err, service.ErrInvalidURL))
}

func TestNormalizeURLLength(t *testing.T) {
	prefix := "https://example.com/"
	fits := prefix + strings.Repeat("a", model.MaxTargetURLLength-len(prefix))
	got, err := service.NormalizeURL(fits)
	require.NoError(t, err)
	assert.Len(t, got, model.MaxTargetURLLength)

	_, err = service.NormalizeURL(fits + "a")
	assert.ErrorIs(t, err, service.ErrInvalidURL)
}

func TestCreateRejectsOverlongURL(t *testing.T) {
	h := newHarness(t, 100)

	_, _, err := h.svc.Create(context.Background(), service.CreateInput{
		TargetURL: "https://example.com/" + strings.Repeat("a", model.MaxTargetURLLength),
		ClientIP:  "198.51.100.7",
	})
	assert.ErrorIs(t, err, service.ErrInvalidURL)
}

func TestSecretMustBeBase62(t *testing.T) {
	h := newHarness(t, 100)
	h.create(t, "https://example.com", "demo")

	_, err := h.svc.AdminInfo(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = h.svc.Deactivate(context.Background(), "not-base62")
	assert.ErrorIs(t, err, service.ErrNotFound)
}
