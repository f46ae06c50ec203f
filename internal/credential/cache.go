// Package credential keeps the primary provider's short-lived access token.
//
// A Cache holds at most one token. Callers ask for it with Token; when it is
// missing or older than the TTL, one refresh runs against the Authorizer and
// every caller that arrives during it shares its outcome. After a failed
// refresh the stale token (or the error) is served without contacting the
// endpoint again until RetryBackoff has passed.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long an issued token is trusted
	DefaultTTL = 30 * time.Minute
	// DefaultRefreshTimeout bounds one call to the authorization endpoint
	DefaultRefreshTimeout = 10 * time.Second
	// DefaultRetryBackoff is the pause after a failed refresh before the endpoint is tried again
	DefaultRetryBackoff = 5 * time.Second
)

var (
	// ErrNoCredential is returned when no token was ever obtained and refresh failed
	ErrNoCredential = errors.New("no credential available")
)

// Credential is an access token and the moment it was issued
type Credential struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
}

// Authorizer exchanges the long-lived authorization key for an access token.
// requestID is a fresh correlation id per call.
type Authorizer interface {
	Authorize(ctx context.Context, requestID string) (string, error)
}

// Store persists the last credential between process restarts
type Store interface {
	Load() (*Credential, error)
	Save(Credential) error
}

// Options configures a Cache
type Options struct {
	TTL            time.Duration
	RefreshTimeout time.Duration
	RetryBackoff   time.Duration
	Store          Store
	Logger         *zap.Logger
	// Now is used in tests to control the clock
	Now func() time.Time
}

// Cache is a thread-safe, lazily refreshed token holder
type Cache struct {
	mu         sync.Mutex
	current    *Credential
	failedAt   time.Time
	failure    error
	flight     singleflight.Group
	authorizer Authorizer
	store      Store
	ttl        time.Duration
	timeout    time.Duration
	backoff    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewCache creates a cache. A persisted credential still within TTL is reused.
func NewCache(authorizer Authorizer, opts Options) *Cache {
	c := &Cache{
		authorizer: authorizer,
		store:      opts.Store,
		ttl:        opts.TTL,
		timeout:    opts.RefreshTimeout,
		backoff:    opts.RetryBackoff,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRefreshTimeout
	}
	if c.backoff <= 0 {
		c.backoff = DefaultRetryBackoff
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}

	if c.store != nil {
		cred, err := c.store.Load()
		switch {
		case err != nil:
			c.logger.Warn("failed to read persisted token", zap.Error(err))
		case cred != nil && cred.Token != "" && !c.expired(cred):
			c.current = cred
			c.logger.Debug("reusing persisted token", zap.Time("issued_at", cred.IssuedAt))
		}
	}
	return c
}

// Token returns a valid access token, refreshing it first when stale.
// If the refresh fails and an older token exists, the older token is returned.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if token, ok, err := c.cached(); ok {
		return token, err
	}

	v, err, _ := c.flight.Do("token", func() (interface{}, error) {
		// A caller that queued behind a finished flight sees its result here
		if token, ok, err := c.cached(); ok {
			return token, err
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// cached reports the answer that needs no network call: a fresh token, or the
// outcome of a refresh that failed less than backoff ago.
func (c *Cache) cached() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.expired(c.current) {
		return c.current.Token, true, nil
	}
	if !c.failedAt.IsZero() && c.now().Sub(c.failedAt) < c.backoff {
		if c.current != nil {
			return c.current.Token, true, nil
		}
		return "", true, c.failure
	}
	return "", false, nil
}

// Invalidate forces the next Token call to refresh, e.g. after a 401 from the provider
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedAt = time.Time{}
	c.failure = nil
	if c.current != nil {
		stale := *c.current
		stale.IssuedAt = time.Time{}
		c.current = &stale
	}
}

func (c *Cache) expired(cred *Credential) bool {
	return c.now().Sub(cred.IssuedAt) >= c.ttl
}

// refresh runs inside the single flight. The authorization call is detached
// from the caller's cancellation since other callers share its result.
func (c *Cache) refresh(ctx context.Context) (string, error) {
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	requestID := uuid.NewString()
	token, err := c.authorizer.Authorize(refreshCtx, requestID)
	if err == nil && token == "" {
		err = errors.New("authorization endpoint returned an empty token")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failedAt = c.now()
		if c.current != nil {
			c.failure = nil
			c.logger.Error("token refresh failed, serving stale token",
				zap.String("request_id", requestID),
				zap.Time("issued_at", c.current.IssuedAt),
				zap.Duration("retry_after", c.backoff),
				zap.Error(err))
			return c.current.Token, nil
		}
		c.failure = fmt.Errorf("%w: %v", ErrNoCredential, err)
		c.logger.Error("token refresh failed", zap.String("request_id", requestID), zap.Error(err))
		return "", c.failure
	}

	c.current = &Credential{Token: token, IssuedAt: c.now()}
	c.failedAt = time.Time{}
	c.failure = nil
	c.logger.Info("access token refreshed", zap.String("request_id", requestID))

	if c.store != nil {
		if err := c.store.Save(*c.current); err != nil {
			c.logger.Warn("failed to persist token", zap.Error(err))
		}
	}
	return token, nil
}
