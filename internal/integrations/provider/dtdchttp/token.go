package dtdchttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/parcelops/trackdesk/internal/cache"
	"github.com/pkg/errors"
)

const tokenCacheKey = "dtdc:access-token"

// TokenSource resolves the X-Access-Token for DTDC calls. A static token
// short-circuits everything; otherwise the token is fetched from the auth
// endpoint and kept in an injected cache with an explicit TTL, so there is
// no module-level token state and expiry is observable.
type TokenSource struct {
	staticToken string

	authURL  string
	username string
	password string

	cache cache.BytesCache
	ttl   time.Duration
	httpc *http.Client
}

func NewStaticTokenSource(token string) *TokenSource {
	return &TokenSource{staticToken: token}
}

func NewTokenSource(authURL, username, password string, c cache.BytesCache, ttl time.Duration, timeout time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &TokenSource{
		authURL:  authURL,
		username: username,
		password: password,
		cache:    c,
		ttl:      ttl,
		httpc:    &http.Client{Timeout: timeout},
	}
}

type authResponse struct {
	TokenKey string `json:"tokenKey"`
}

func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if ts.staticToken != "" {
		return ts.staticToken, nil
	}

	if ts.cache != nil {
		if b, ok, err := ts.cache.Get(ctx, tokenCacheKey); err == nil && ok && len(b) > 0 {
			return string(b), nil
		}
	}

	u, err := url.Parse(ts.authURL)
	if err != nil {
		return "", errors.Wrap(err, "parse auth url")
	}
	q := u.Query()
	q.Set("username", ts.username)
	q.Set("password", ts.password)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "new auth request")
	}

	resp, err := ts.httpc.Do(req)
	if err != nil {
		return "", errors.Wrapf(apperr.ErrTransport, "auth request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", errors.Wrapf(apperr.ErrTransport, "auth http %d", resp.StatusCode)
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", errors.Wrapf(apperr.ErrParse, "decode auth response: %v", err)
	}
	if ar.TokenKey == "" {
		return "", errors.Wrap(apperr.ErrParse, "auth response has no tokenKey")
	}

	if ts.cache != nil {
		if err := ts.cache.Set(ctx, tokenCacheKey, []byte(ar.TokenKey), ts.ttl); err != nil {
			return "", errors.Wrap(err, "cache token")
		}
	}
	return ar.TokenKey, nil
}

// Invalidate drops the cached token so the next Token call re-authenticates.
func (ts *TokenSource) Invalidate(ctx context.Context) {
	if ts.cache != nil {
		_ = ts.cache.Delete(ctx, tokenCacheKey)
	}
}
