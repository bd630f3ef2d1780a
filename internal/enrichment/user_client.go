package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/pkg/circuitbreaker"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
)

// HTTPUserClient talks to the user collaborator. Profile lookups are cached
// briefly; eligibility checks are never cached since suppression windows
// are time-sensitive.
type HTTPUserClient struct {
	baseURL string
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
	cache   *cache.Cache
	logger  *zerolog.Logger
}

type UserClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

func NewHTTPUserClient(cfg UserClientConfig, logger *zerolog.Logger) *HTTPUserClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &HTTPUserClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "user-service",
			MaxFailures: 5,
			Timeout:     15 * time.Second,
		}),
		cache:  cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger: logger,
	}
}

func (c *HTTPUserClient) GetUser(ctx context.Context, userID string) (*User, error) {
	if cached, ok := c.cache.Get(userID); ok {
		user := cached.(User)
		return &user, nil
	}

	var user User
	endpoint := fmt.Sprintf("%s/api/v1/users/%s", c.baseURL, url.PathEscape(userID))
	if err := c.getJSON(ctx, endpoint, &user); err != nil {
		return nil, err
	}

	c.cache.SetDefault(userID, user)
	return &user, nil
}

func (c *HTTPUserClient) ValidateCanReceive(ctx context.Context, userID string, channel string) (*Eligibility, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%s/can-receive?channel=%s",
		c.baseURL, url.PathEscape(userID), url.QueryEscape(channel))

	var eligibility Eligibility
	if err := c.getJSON(ctx, endpoint, &eligibility); err != nil {
		return nil, err
	}
	return &eligibility, nil
}

func (c *HTTPUserClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	return c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return apperr.DependencyUnavailable("user service unreachable", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return apperr.Validation("user not found", nil)
		case resp.StatusCode >= 500:
			return apperr.DependencyUnavailable(fmt.Sprintf("user service returned %d", resp.StatusCode), nil)
		case resp.StatusCode != http.StatusOK:
			return apperr.Validation(fmt.Sprintf("user service rejected request with %d", resp.StatusCode), nil)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.DependencyUnavailable("invalid response from user service", err)
		}
		return nil
	})
}
