// Package remote implements the cached, rate-limited NextDNS profile
// client (component C2): the sole source of blocking I/O in the
// system. Every exported method that takes a domain validates its
// syntax before issuing a request; every method honors the client-side
// sliding window and classifies failures into the RemoteTransient /
// RemotePermanent taxonomy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/dcs-tools/domainguard/internal/domainutil"
)

const (
	// DefaultBaseURL is the NextDNS API root, per spec §6.
	DefaultBaseURL = "https://api.nextdns.io"

	defaultCallTimeout = 10 * time.Second
	defaultRetryMax    = 3
	backoffBase        = 1 * time.Second
	backoffCap         = 30 * time.Second
	maxRetryAfter      = 60 * time.Second

	defaultRateLimitCount  = 30
	defaultRateLimitWindow = 60 * time.Second
	defaultCacheTTL        = 60 * time.Second
)

// Config configures a Client. Zero-value fields fall back to the
// spec-mandated defaults.
type Config struct {
	BaseURL     string
	APIKey      string
	ProfileID   string
	CallTimeout time.Duration
	RetryMax    int

	RateLimitCount  int
	RateLimitWindow time.Duration
	CacheTTL        time.Duration

	Logger hclog.Logger
}

// Client is the C2 remote state client.
type Client struct {
	baseURL     string
	apiKey      string
	profileID   string
	callTimeout time.Duration

	hc      *retryablehttp.Client
	limiter *Limiter
	cache   *listCache
	log     hclog.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}
	rlCount := cfg.RateLimitCount
	if rlCount <= 0 {
		rlCount = defaultRateLimitCount
	}
	rlWindow := cfg.RateLimitWindow
	if rlWindow <= 0 {
		rlWindow = defaultRateLimitWindow
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryMax = retryMax
	hc.RetryWaitMin = backoffBase
	hc.RetryWaitMax = backoffCap
	hc.CheckRetry = checkRetry
	hc.Backoff = backoff
	hc.HTTPClient.Timeout = callTimeout

	return &Client{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		profileID:   cfg.ProfileID,
		callTimeout: callTimeout,
		hc:          hc,
		limiter:     NewLimiter(rlCount, rlWindow),
		cache:       newListCache(cacheTTL),
		log:         logger.Named("remote"),
	}
}

// checkRetry classifies transport errors, 5xx and 429 as retryable and
// everything else as final -- permanence is then decided by status code
// at the call site, not here.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// backoff implements base 1s / factor 2 / cap 30s with jitter, honoring
// a Retry-After header (capped at 60s) in preference to the computed
// value -- spec §4.2's retry policy exactly.
func backoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := time.ParseDuration(ra + "s"); err == nil {
				if secs > maxRetryAfter {
					secs = maxRetryAfter
				}
				return secs
			}
		}
	}
	wait := min
	for i := 0; i < attemptNum; i++ {
		wait *= 2
		if wait >= max {
			wait = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	wait += jitter
	if wait > max {
		wait = max
	}
	return wait
}

func (c *Client) profilePath(parts ...string) string {
	path := c.baseURL + "/profiles/" + c.profileID
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

// do performs one rate-limited, retried HTTP call and classifies the
// outcome. A nil body and nil out are both acceptable.
func (c *Client) do(ctx context.Context, method, url string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("remote: building request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &TransientError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil && derr != io.EOF {
				return fmt.Errorf("remote: decoding response: %w", derr)
			}
		}
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &TransientError{StatusCode: resp.StatusCode}
	}
	return &PermanentError{StatusCode: resp.StatusCode}
}

func validateDomain(domain string) error {
	if !domainutil.ValidDomain(domain) {
		return &InvalidDomainError{Domain: domain}
	}
	return nil
}

type listItem struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

type listResponse struct {
	Data []listItem `json:"data"`
}

func (c *Client) fetchList(ctx context.Context, resource string) ([]string, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, c.profilePath(resource), nil, &resp); err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(resp.Data))
	for _, item := range resp.Data {
		domains = append(domains, domainutil.Normalize(item.ID))
	}
	return domains, nil
}

// GetDenylist returns the profile's current denylist, served from
// cache when fresh.
func (c *Client) GetDenylist(ctx context.Context) ([]string, error) {
	return c.cache.get("denylist", func() ([]string, error) {
		return c.fetchList(ctx, "denylist")
	})
}

// GetAllowlist returns the profile's current allowlist, served from
// cache when fresh.
func (c *Client) GetAllowlist(ctx context.Context) ([]string, error) {
	return c.cache.get("allowlist", func() ([]string, error) {
		return c.fetchList(ctx, "allowlist")
	})
}

// AddDeny adds domain to the denylist. Idempotent.
func (c *Client) AddDeny(ctx context.Context, domain string) error {
	if err := validateDomain(domain); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, c.profilePath("denylist"), listItem{ID: domainutil.Normalize(domain), Active: true}, nil); err != nil {
		return err
	}
	c.cache.invalidate("denylist")
	return nil
}

// RemoveDeny removes domain from the denylist. Idempotent.
func (c *Client) RemoveDeny(ctx context.Context, domain string) error {
	if err := validateDomain(domain); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, c.profilePath("denylist", domainutil.Normalize(domain)), nil, nil); err != nil {
		return err
	}
	c.cache.invalidate("denylist")
	return nil
}

// AddAllow adds domain to the allowlist. Idempotent.
func (c *Client) AddAllow(ctx context.Context, domain string) error {
	if err := validateDomain(domain); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, c.profilePath("allowlist"), listItem{ID: domainutil.Normalize(domain), Active: true}, nil); err != nil {
		return err
	}
	c.cache.invalidate("allowlist")
	return nil
}

// RemoveAllow removes domain from the allowlist. Idempotent.
func (c *Client) RemoveAllow(ctx context.Context, domain string) error {
	if err := validateDomain(domain); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, c.profilePath("allowlist", domainutil.Normalize(domain)), nil, nil); err != nil {
		return err
	}
	c.cache.invalidate("allowlist")
	return nil
}

// SetCategory toggles a native parental-control category on or off.
func (c *Client) SetCategory(ctx context.Context, categoryID string, active bool) error {
	return c.do(ctx, http.MethodPatch, c.profilePath("parentalControl", "categories", categoryID), listItem{Active: active}, nil)
}

// SetService toggles a native parental-control service on or off,
// adding it first if the profile has never seen it (the API treats
// POST as create-or-activate, matching spec §4.2's idempotence
// requirement).
func (c *Client) SetService(ctx context.Context, serviceID string, active bool) error {
	if active {
		return c.do(ctx, http.MethodPost, c.profilePath("parentalControl", "services"), listItem{ID: serviceID, Active: true}, nil)
	}
	return c.do(ctx, http.MethodPatch, c.profilePath("parentalControl", "services", serviceID), listItem{Active: false}, nil)
}

// ListPCCategories reads the active state of every native category the
// profile currently reports, keyed by category id. Unlike the denylist
// and allowlist this is not cached -- the reconciler calls it once per
// tick, and parental-control toggles are rare enough not to warrant
// the TTL/invalidation machinery.
func (c *Client) ListPCCategories(ctx context.Context) (map[string]bool, error) {
	return c.fetchPCState(ctx, "categories")
}

// ListPCServices reads the active state of every native service the
// profile currently reports, keyed by service id.
func (c *Client) ListPCServices(ctx context.Context) (map[string]bool, error) {
	return c.fetchPCState(ctx, "services")
}

func (c *Client) fetchPCState(ctx context.Context, resource string) (map[string]bool, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, c.profilePath("parentalControl", resource), nil, &resp); err != nil {
		return nil, err
	}
	state := make(map[string]bool, len(resp.Data))
	for _, item := range resp.Data {
		state[item.ID] = item.Active
	}
	return state, nil
}

// ParentalControl is the global settings surface of GetParentalControl
// and UpdateParentalControlGlobal.
type ParentalControl struct {
	ForceSafeSearch bool `json:"safeSearch"`
	YouTubeRestrict bool `json:"youtubeRestrictedMode"`
	BlockBypass     bool `json:"blockBypass"`
}

// GetParentalControl reads the profile's global parental-control flags.
// Not cached: the spec's cache contract covers only the denylist and
// allowlist (§4.2).
func (c *Client) GetParentalControl(ctx context.Context) (ParentalControl, error) {
	var pc ParentalControl
	err := c.do(ctx, http.MethodGet, c.profilePath("parentalControl"), nil, &pc)
	return pc, err
}

// UpdateParentalControlGlobal writes all three global parental-control
// booleans in one PATCH, per spec §6.
func (c *Client) UpdateParentalControlGlobal(ctx context.Context, pc ParentalControl) error {
	return c.do(ctx, http.MethodPatch, c.profilePath("parentalControl"), pc, nil)
}
