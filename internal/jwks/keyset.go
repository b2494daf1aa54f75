// Package jwks resolves provider signing keys from published JSON Web Key
// Sets. A KeySet caches one remote set with an explicit lifetime and plugs
// into go-oidc as an oidc.KeySet.
package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dgellow/ebo-bff/internal/log"
	"github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a fetched key set is trusted before refetching.
	DefaultTTL = time.Hour

	// DefaultMinRefreshInterval bounds refetches triggered by unknown key ids.
	DefaultMinRefreshInterval = 30 * time.Second

	maxJWKSBytes = 1 << 20
	fetchTimeout = 30 * time.Second
)

var (
	// ErrUnknownKey is returned when no key in the published set matches the
	// token's key id and algorithm.
	ErrUnknownKey = errors.New("no matching key in key set")

	// ErrFetch is returned when the key set could not be retrieved and no
	// previously fetched keys are available.
	ErrFetch = errors.New("failed to fetch key set")
)

// SupportedAlgorithms are the JWS algorithms accepted on provider ID tokens.
var SupportedAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.ES256}

var tracer = otel.Tracer("github.com/dgellow/ebo-bff/internal/jwks")

// KeySet is a lazily refreshed cache of one remote JWKS document.
type KeySet struct {
	url                string
	ttl                time.Duration
	minRefreshInterval time.Duration
	httpClient         *http.Client
	now                func() time.Time

	mu          sync.RWMutex
	keys        []jose.JSONWebKey
	fetchedAt   time.Time
	lastAttempt time.Time

	group singleflight.Group
}

var _ oidc.KeySet = (*KeySet)(nil)

// Option configures a KeySet.
type Option func(*KeySet)

// WithTTL sets the cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(ks *KeySet) {
		if ttl > 0 {
			ks.ttl = ttl
		}
	}
}

// WithMinRefreshInterval sets the minimum spacing between refetches caused by
// unknown key ids.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(ks *KeySet) { ks.minRefreshInterval = d }
}

// WithHTTPClient sets the client used to fetch the key set.
func WithHTTPClient(c *http.Client) Option {
	return func(ks *KeySet) {
		if c != nil {
			ks.httpClient = c
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(ks *KeySet) { ks.now = now }
}

// NewKeySet creates a key set for the JWKS document at url. Nothing is
// fetched until the first lookup.
func NewKeySet(url string, opts ...Option) *KeySet {
	ks := &KeySet{
		url:                url,
		ttl:                DefaultTTL,
		minRefreshInterval: DefaultMinRefreshInterval,
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// URL returns the JWKS location.
func (ks *KeySet) URL() string {
	return ks.url
}

// VerifySignature implements oidc.KeySet. It returns the JWS payload when the
// signature verifies against a key from the set.
func (ks *KeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	jws, err := jose.ParseSigned(jwt, SupportedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("malformed jwt: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("expected exactly one signature, got %d", len(jws.Signatures))
	}

	header := jws.Signatures[0].Header
	key, err := ks.Key(ctx, header.KeyID, header.Algorithm)
	if err != nil {
		return nil, err
	}

	payload, err := jws.Verify(key.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}
	return payload, nil
}

// Key resolves the public key for kid and alg. An expired cache is refreshed
// first and an unknown kid causes a refetch, but fetches are spaced at least
// minRefreshInterval apart; in between, stale keys are served or
// ErrUnknownKey is returned.
func (ks *KeySet) Key(ctx context.Context, kid, alg string) (*jose.JSONWebKey, error) {
	if ks.expired() {
		switch {
		case ks.mayRefetch():
			if err := ks.refresh(ctx, false); err != nil && !ks.hasKeys() {
				return nil, err
			}
		case !ks.hasKeys():
			return nil, fmt.Errorf("%w: last attempt failed, retrying after %s", ErrFetch, ks.minRefreshInterval)
		}
	}

	if key := ks.lookup(kid, alg); key != nil {
		return key, nil
	}

	if !ks.mayRefetch() {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	if err := ks.refresh(ctx, true); err != nil && !ks.hasKeys() {
		return nil, err
	}

	if key := ks.lookup(kid, alg); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

// Refresh fetches the key set now, keeping the previous keys on failure.
func (ks *KeySet) Refresh(ctx context.Context) error {
	return ks.refresh(ctx, true)
}

func (ks *KeySet) lookup(kid, alg string) *jose.JSONWebKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	for i := range ks.keys {
		k := &ks.keys[i]
		if kid != "" && k.KeyID != kid {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Algorithm != "" && alg != "" && k.Algorithm != alg {
			continue
		}
		return k
	}
	return nil
}

func (ks *KeySet) hasKeys() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys) > 0
}

func (ks *KeySet) expired() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.fetchedAt.IsZero() || ks.now().Sub(ks.fetchedAt) >= ks.ttl
}

func (ks *KeySet) mayRefetch() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.lastAttempt.IsZero() || ks.now().Sub(ks.lastAttempt) >= ks.minRefreshInterval
}

// refresh fetches the set, collapsing concurrent callers into one request.
// Unless force is set, a set that became fresh in the meantime is kept. The
// shared fetch is detached from the caller's context, so one caller giving up
// fails only that caller.
func (ks *KeySet) refresh(ctx context.Context, force bool) error {
	ch := ks.group.DoChan("refresh", func() (any, error) {
		if !force && !ks.expired() {
			return nil, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		keys, err := ks.fetch(fetchCtx)

		ks.mu.Lock()
		ks.lastAttempt = ks.now()
		if err == nil {
			ks.keys = keys
			ks.fetchedAt = ks.lastAttempt
		}
		ks.mu.Unlock()

		if err != nil {
			log.LogWarnWithFields("jwks", "Key set fetch failed", map[string]any{
				"url":   ks.url,
				"error": err.Error(),
			})
			return nil, err
		}
		log.LogDebugWithFields("jwks", "Key set refreshed", map[string]any{
			"url":  ks.url,
			"keys": len(keys),
		})
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ks *KeySet) fetch(ctx context.Context) ([]jose.JSONWebKey, error) {
	ctx, span := tracer.Start(ctx, "jwks.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("jwks.url", ks.url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ks.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		return nil, fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, bodySnippet(resp.Body))
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(http.MaxBytesReader(nil, resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrFetch, err)
	}

	keys := make([]jose.JSONWebKey, 0, len(set.Keys))
	for _, k := range set.Keys {
		if !k.Valid() || !k.IsPublic() {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable keys", ErrFetch)
	}

	span.SetAttributes(attribute.Int("jwks.keys", len(keys)))
	return keys, nil
}

// bodySnippet returns the start of an error response for inclusion in errors.
func bodySnippet(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(b)
}
