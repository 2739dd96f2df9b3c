// internal/adapters/pms/client.go
package pms

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pmsync/internal/adapters/observability"
	"pmsync/internal/domain"
)

const (
	// DefaultPageSize is used when a query omits limit.
	DefaultPageSize = 1000

	// refreshBuffer keeps token refresh proactive: a token within this window
	// of expiry is treated as expired and replaced before use.
	refreshBuffer = 300 * time.Second
)

// Config wires one client to one property. Tokens is required; the vendor
// scopes credentials, cursors and tokens by property id.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	PropertyID   string
	Tokens       domain.TokenStore
	HTTPClient   *http.Client
	RPS          int
	PageSize     int
	Now          func() time.Time
}

type Client struct {
	base     string
	hc       *http.Client
	id       string
	secret   string
	property string
	tokens   domain.TokenStore
	rl       *rate.Limiter
	pageSize int
	now      func() time.Time

	// in-memory copy of the last token; concurrent refreshes may race and
	// both fetch, which is wasteful but safe (newest wins in the store).
	cached *domain.OAuthToken
}

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials are required")
	}
	if cfg.PropertyID == "" {
		return nil, fmt.Errorf("property id is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		hc:       cfg.HTTPClient,
		id:       cfg.ClientID,
		secret:   cfg.ClientSecret,
		property: cfg.PropertyID,
		tokens:   cfg.Tokens,
		rl:       rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
		pageSize: cfg.PageSize,
		now:      cfg.Now,
	}, nil
}

// ---- Token lifecycle ----

// GetAccessToken returns a bearer token, reusing the cached/stored one while
// it is outside the refresh buffer and requesting a fresh one otherwise.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	now := c.now()
	if c.cached != nil && c.cached.Fresh(now, refreshBuffer) {
		return c.cached.AccessToken, nil
	}

	if tok, err := c.tokens.GetToken(ctx, c.property); err == nil && tok != nil && tok.Fresh(now, refreshBuffer) {
		c.cached = tok
		return tok.AccessToken, nil
	}

	tok, err := c.requestToken(ctx)
	if err != nil {
		return "", &domain.AuthError{Op: "failed to obtain token", Err: err}
	}
	if err := c.tokens.SaveToken(ctx, c.property, *tok); err != nil {
		// A failed save only costs an extra refresh next time.
		observability.ObserveStore("tokens", "save_error")
	}
	c.cached = tok
	observability.TokenRefreshes.Inc()
	return tok.AccessToken, nil
}

func (c *Client) requestToken(ctx context.Context) (*domain.OAuthToken, error) {
	body, _ := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.id,
		"client_secret": c.secret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("pms", "/oauth/token", 0, time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("pms", "/oauth/token", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var tok domain.OAuthToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access_token")
	}
	if tok.CreatedAt == 0 {
		tok.CreatedAt = c.now().Unix()
	}
	return &tok, nil
}

// ---- Reservation listing ----

// FetchReservations performs one authenticated page request.
func (c *Client) FetchReservations(ctx context.Context, q domain.ReservationQuery) (domain.ReservationPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = c.pageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	vals := url.Values{}
	vals.Set("limit", strconv.Itoa(limit))
	vals.Set("offset", strconv.Itoa(offset))
	if q.UpdatedSince != nil {
		vals.Set("updated_since", q.UpdatedSince.UTC().Format(time.RFC3339))
	}

	var page domain.ReservationPage
	if err := c.get(ctx, c.base+"/reservations?"+vals.Encode(), "/reservations", &page); err != nil {
		return domain.ReservationPage{}, &domain.TransportError{Op: "failed to fetch reservations", Err: err}
	}
	return page, nil
}

// FetchAllReservations pages through the collection serially until has_more
// goes false or MaxPages is reached, preserving order and streaming records
// through the callbacks as each page arrives.
func (c *Client) FetchAllReservations(ctx context.Context, opts domain.FetchAllOptions) ([]domain.VendorReservation, error) {
	var all []domain.VendorReservation
	offset := 0
	pages := 0

	for {
		page, err := c.FetchReservations(ctx, domain.ReservationQuery{
			UpdatedSince: opts.UpdatedSince,
			Offset:       offset,
		})
		if err != nil {
			return all, err
		}

		all = append(all, page.Reservations...)
		if opts.OnReservation != nil {
			for _, r := range page.Reservations {
				opts.OnReservation(r)
			}
		}
		if opts.OnPage != nil {
			opts.OnPage(page.Reservations)
		}
		observability.SyncPages.Inc()

		pages++
		if !page.HasMore {
			break
		}
		if opts.MaxPages > 0 && pages >= opts.MaxPages {
			break
		}
		if len(page.Reservations) == 0 {
			// defend against a server that reports has_more on an empty page
			break
		}
		offset += len(page.Reservations)
	}
	return all, nil
}

// ---- HTTP internals ----

// get performs a GET with bearer auth, client-side rate limiting, retries and
// JSON decode into out. Retries on 429 and transient 5xx, honoring
// Retry-After when provided. A 401 is returned as-is: token refresh is
// proactive, never reactive.
func (c *Client) get(ctx context.Context, fullURL, endpoint string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		token, err := c.GetAccessToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "pmsync/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("pms", endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("pms", endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return domain.ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return domain.ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return domain.ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// Prefer server-provided Retry-After; otherwise exponential backoff.
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential backoff delay with concurrency-safe jitter.
// i = retry attempt (0,1,2,...). Base doubles each attempt (200ms, 400ms, 800ms...),
// with up to +50% random jitter to avoid thundering herds.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
