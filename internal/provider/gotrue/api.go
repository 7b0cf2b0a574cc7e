// Package gotrue implements the session source client against a GoTrue
// compatible auth REST API, storing the session in cookies.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/cookie"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

const (
	authPath           = "/auth/v1"
	defaultTimeout     = 10 * time.Second
	defaultMargin      = 60 * time.Second
	codeVerifierSuffix = "-code-verifier"
)

// Config configures the shared API transport.
type Config struct {
	URL           string
	APIKey        string
	ProjectRef    string
	CookiePrefix  string
	CookieOptions cookie.Options
	ChunkSize     int
	RefreshMargin time.Duration
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// API is the shared, stateless part of the client: endpoint, credentials,
// HTTP transport and cookie naming. One instance serves every request.
type API struct {
	baseURL       *url.URL
	apiKey        string
	httpClient    *http.Client
	cookieName    string
	cookieOpts    cookie.Options
	chunkSize     int
	refreshMargin time.Duration
	algs          []jose.SignatureAlgorithm
	now           func() time.Time
}

func NewAPI(cfg Config) (*API, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: missing session source url", serviceerr.ErrMisconfigured)
	}

	u, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid session source url %q", serviceerr.ErrMisconfigured, cfg.URL)
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing api key", serviceerr.ErrMisconfigured)
	}

	ref := cfg.ProjectRef
	if ref == "" {
		ref, _, _ = strings.Cut(u.Hostname(), ".")
	}

	prefix := cfg.CookiePrefix
	if prefix == "" {
		prefix = "sb-"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = defaultMargin
	}

	return &API{
		baseURL:       u,
		apiKey:        cfg.APIKey,
		httpClient:    httpClient,
		cookieName:    prefix + ref + cookie.AuthTokenMarker,
		cookieOpts:    cfg.CookieOptions,
		chunkSize:     cfg.ChunkSize,
		refreshMargin: margin,
		algs: []jose.SignatureAlgorithm{
			jose.HS256, jose.RS256, jose.ES256, jose.EdDSA,
		},
		now: time.Now,
	}, nil
}

// CookieName is the name of the session cookie (before chunk suffixes).
func (a *API) CookieName() string {
	return a.cookieName
}

// Ping checks that the auth service answers its health endpoint.
func (a *API) Ping(ctx context.Context) error {
	status, err := a.do(ctx, http.MethodGet, "/health", nil, nil, "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", serviceerr.ErrProviderUnavailable, status)
	}
	return nil
}

// apiError is the error body returned by the auth API in either of its shapes.
type apiError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e apiError) message() string {
	for _, m := range []string{e.Msg, e.ErrorDescription, e.ErrorCode, e.Error} {
		if m != "" {
			return m
		}
	}
	return "unknown"
}

// do performs one request. Transport failures and 5xx answers come back as
// ErrProviderUnavailable; other statuses are returned for the caller to map.
// The body is decoded into out only on 2xx.
func (a *API) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, out any) (int, error) {
	u := a.baseURL.JoinPath(authPath, path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = a.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, errors.Join(serviceerr.ErrProviderUnavailable, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, fmt.Errorf("%w: %s %s returned %d: %s",
			serviceerr.ErrProviderUnavailable, method, path, resp.StatusCode, apiErr.message())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		slogctx.Debug(ctx, "Session source rejected request", "path", path, "status", resp.StatusCode, "reason", apiErr.message())
		return resp.StatusCode, nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.Join(serviceerr.ErrProviderUnavailable, fmt.Errorf("decoding response: %w", err))
		}
	}

	return resp.StatusCode, nil
}
