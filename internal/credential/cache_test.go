package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// mockAuthorizer counts calls and returns a scripted token or error
type mockAuthorizer struct {
	mu         sync.Mutex
	calls      int
	requestIDs []string
	token      string
	err        error
	delay      time.Duration
}

func (m *mockAuthorizer) Authorize(ctx context.Context, requestID string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.requestIDs = append(m.requestIDs, requestID)
	token, err, delay := m.token, m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return token, err
}

func (m *mockAuthorizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockAuthorizer) set(token string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.err = token, err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_ConcurrentCallersShareOneRefresh(t *testing.T) {
	auth := &mockAuthorizer{token: "tok-1", delay: 20 * time.Millisecond}
	cache := NewCache(auth, Options{})

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.Token(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, auth.callCount())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
}

func TestCache_RefreshesAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	auth := &mockAuthorizer{token: "tok-1"}
	cache := NewCache(auth, Options{TTL: 30 * time.Minute, Now: clock.Now})

	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock.Advance(29 * time.Minute)
	_, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.callCount())

	auth.set("tok-2", nil)
	clock.Advance(time.Minute)
	tok, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, auth.callCount())

	// Every refresh carries its own correlation id
	assert.NotEqual(t, auth.requestIDs[0], auth.requestIDs[1])
}

func TestCache_ServesStaleTokenOnRefreshFailure(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	auth := &mockAuthorizer{token: "tok-1"}
	core, logs := observer.New(zapcore.WarnLevel)
	cache := NewCache(auth, Options{Now: clock.Now, Logger: zap.New(core)})

	_, err := cache.Token(context.Background())
	require.NoError(t, err)

	auth.set("", errors.New("auth endpoint down"))
	clock.Advance(DefaultTTL + time.Second)

	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, logs.FilterMessage("token refresh failed, serving stale token").Len())
}

func TestCache_ErrorWhenNeverObtained(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	auth := &mockAuthorizer{err: errors.New("401 unauthorized")}
	cache := NewCache(auth, Options{Now: clock.Now})

	_, err := cache.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)

	// Within the backoff the failure is replayed without a call
	_, err = cache.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, 1, auth.callCount())

	// An empty token is a failure as well
	auth.set("", nil)
	clock.Advance(DefaultRetryBackoff)
	_, err = cache.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, 2, auth.callCount())
}

func TestCache_FailedRefreshSharedByConcurrentCallers(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	auth := &mockAuthorizer{token: "tok-1"}
	cache := NewCache(auth, Options{Now: clock.Now})

	_, err := cache.Token(context.Background())
	require.NoError(t, err)

	const roundTrip = 100 * time.Millisecond
	auth.set("", errors.New("auth endpoint down"))
	auth.mu.Lock()
	auth.delay = roundTrip
	auth.mu.Unlock()
	clock.Advance(DefaultTTL + time.Second)

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	waits := make([]time.Duration, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			tokens[i], errs[i] = cache.Token(context.Background())
			waits[i] = time.Since(start)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, auth.callCount(), "one initial fetch and one shared refresh")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
		assert.Less(t, waits[i], 2*roundTrip)
	}

	// Callers arriving right after the failure are not delayed
	start := time.Now()
	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Less(t, time.Since(start), roundTrip)
	assert.Equal(t, 2, auth.callCount())

	// Past the backoff the endpoint is tried again
	auth.set("tok-2", nil)
	clock.Advance(DefaultRetryBackoff)
	tok, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 3, auth.callCount())
}

func TestCache_RefreshSurvivesCanceledCaller(t *testing.T) {
	auth := &mockAuthorizer{token: "tok-1"}
	cache := NewCache(auth, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tok, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestCache_Invalidate(t *testing.T) {
	auth := &mockAuthorizer{token: "tok-1"}
	cache := NewCache(auth, Options{})

	_, err := cache.Token(context.Background())
	require.NoError(t, err)

	auth.set("tok-2", nil)
	cache.Invalidate()
	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, auth.callCount())
}

func TestCache_PersistedTokenReused(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewFileStore(filepath.Join(t.TempDir(), "token.json"))

	first := NewCache(&mockAuthorizer{token: "persisted"}, Options{Store: store, Now: clock.Now})
	_, err := first.Token(context.Background())
	require.NoError(t, err)

	t.Run("within TTL", func(t *testing.T) {
		clock.Advance(10 * time.Minute)
		auth := &mockAuthorizer{token: "fresh"}
		second := NewCache(auth, Options{Store: store, Now: clock.Now})

		tok, err := second.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "persisted", tok)
		assert.Zero(t, auth.callCount())
	})

	t.Run("past TTL", func(t *testing.T) {
		clock.Advance(DefaultTTL)
		auth := &mockAuthorizer{token: "fresh"}
		third := NewCache(auth, Options{Store: store, Now: clock.Now})

		tok, err := third.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "fresh", tok)
		assert.Equal(t, 1, auth.callCount())

		saved, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, "fresh", saved.Token)
	})
}

func TestFileStore_Missing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	cred, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestOAuthAuthorizer(t *testing.T) {
	var gotHeaders http.Header
	var gotScope string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = r.ParseForm()
		gotScope = r.PostForm.Get("scope")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_at":1700000000000}`))
	}))
	defer server.Close()

	auth := NewOAuthAuthorizer(server.URL, "a2V5OnNlY3JldA==", "GIGACHAT_API_PERS", false)
	tok, err := auth.Authorize(context.Background(), "6f1c0a4e-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, "GIGACHAT_API_PERS", gotScope)
	assert.Equal(t, "Basic a2V5OnNlY3JldA==", gotHeaders.Get("Authorization"))
	assert.Equal(t, "6f1c0a4e-0000-4000-8000-000000000001", gotHeaders.Get("RqUID"))
}

func TestOAuthAuthorizer_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	auth := NewOAuthAuthorizer(server.URL, "bad", "GIGACHAT_API_PERS", false)
	_, err := auth.Authorize(context.Background(), "id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
