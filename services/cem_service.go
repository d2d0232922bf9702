package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	cemTokenTTL        = 2 * time.Hour
	cemLoginMaxRetries = 3
)

var cemEndpoints = map[string]string{
	"users":       "/users",
	"tasks":       "/tasks",
	"leave":       "/leave",
	"car-booking": "/car-booking",
	"daily-work":  "/daily-work",
}

type CEMConfig struct {
	BaseURL  string
	Username string
	Password string
}

type cemLoginResponse struct {
	AccessToken string `json:"access_token"`
}

// CEMClient reads HR and work records from the CEM backend.
type CEMClient struct {
	client   *resty.Client
	loginURL string
	username string
	password string

	mu      sync.Mutex
	token   string
	expires time.Time

	now        func() time.Time
	newBackOff func() backoff.BackOff
	log        zerolog.Logger
}

func NewCEMClient(cfg CEMConfig, log zerolog.Logger) *CEMClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &CEMClient{
		client: resty.New().
			SetBaseURL(base).
			SetHeader("Content-Type", "application/json").
			SetTimeout(10 * time.Second),
		loginURL: strings.Replace(base, "/api", "", 1) + "/api/auth/login",
		username: cfg.Username,
		password: cfg.Password,
		now:      time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		log: log.With().Str("component", "cem").Logger(),
	}
}

func (c *CEMClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	var token string
	op := func() error {
		var out cemLoginResponse
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"username": c.username, "password": c.password}).
			SetResult(&out).
			Post(c.loginURL)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("CEM login: HTTP %d", resp.StatusCode())
		}
		if resp.IsError() {
			return backoff.Permanent(fmt.Errorf("CEM login rejected: HTTP %d", resp.StatusCode()))
		}
		if out.AccessToken == "" {
			return backoff.Permanent(fmt.Errorf("CEM login returned no access_token"))
		}
		token = out.AccessToken
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), cemLoginMaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		c.log.Error().Err(err).Msg("CEM login failed")
		return "", err
	}

	c.token = token
	c.expires = c.now().Add(cemTokenTTL)
	c.log.Info().Msg("CEM login successful")
	return token, nil
}

func (c *CEMClient) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

// get fetches endpoint, logging in again once if the token was rejected.
func (c *CEMClient) get(ctx context.Context, endpoint string, query map[string]string) (any, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(query).
			Get(endpoint)
		if err != nil {
			return nil, fmt.Errorf("CEM %s: %w", endpoint, err)
		}
		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			c.log.Info().Str("endpoint", endpoint).Msg("CEM token rejected, logging in again")
			c.invalidate(token)
			continue
		}
		if resp.IsError() {
			return nil, fmt.Errorf("CEM %s: HTTP %d", endpoint, resp.StatusCode())
		}

		var data any
		if err := json.Unmarshal(resp.Body(), &data); err != nil {
			return nil, fmt.Errorf("CEM %s: decode response: %w", endpoint, err)
		}
		if items, ok := data.([]any); ok {
			c.log.Debug().Str("endpoint", endpoint).Int("items", len(items)).Msg("CEM data fetched")
		}
		return data, nil
	}
}

// Search returns the records of category. "all" fetches users, tasks, leave
// and car bookings together; a failing part is reported as empty.
func (c *CEMClient) Search(ctx context.Context, category string, filters map[string]any) (any, error) {
	if category == "all" {
		return c.searchAll(ctx), nil
	}
	endpoint, ok := cemEndpoints[category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	var query map[string]string
	if category == "daily-work" && len(filters) > 0 {
		query = make(map[string]string, len(filters))
		for k, v := range filters {
			query[k] = fmt.Sprint(v)
		}
	}
	return c.get(ctx, endpoint, query)
}

func (c *CEMClient) searchAll(ctx context.Context) map[string]any {
	parts := []struct{ key, category string }{
		{"users", "users"},
		{"tasks", "tasks"},
		{"leaves", "leave"},
		{"bookings", "car-booking"},
	}
	results := make([]any, len(parts))
	var g errgroup.Group
	for i, p := range parts {
		g.Go(func() error {
			data, err := c.get(ctx, cemEndpoints[p.category], nil)
			if err != nil {
				c.log.Warn().Err(err).Str("category", p.category).Msg("CEM part unavailable")
				data = []any{}
			}
			results[i] = data
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]any, len(parts))
	for i, p := range parts {
		out[p.key] = results[i]
	}
	return out
}
