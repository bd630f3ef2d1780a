package enrichment

import (
	"bytes"
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

// HTTPTemplateClient talks to the template collaborator. Templates change
// rarely, so responses are cached per (template, language).
type HTTPTemplateClient struct {
	baseURL string
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
	cache   *cache.Cache
	logger  *zerolog.Logger
}

type TemplateClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

func NewHTTPTemplateClient(cfg TemplateClientConfig, logger *zerolog.Logger) *HTTPTemplateClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &HTTPTemplateClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "template-service",
			MaxFailures: 5,
			Timeout:     15 * time.Second,
		}),
		cache:  cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger: logger,
	}
}

// GetTemplate fetches the template in the requested language, falling back
// to fallbackLanguage when the requested one does not exist.
func (c *HTTPTemplateClient) GetTemplate(ctx context.Context, templateID, language, fallbackLanguage string) (*Template, error) {
	tpl, err := c.fetch(ctx, templateID, language)
	if err == nil {
		return tpl, nil
	}
	if apperr.KindOf(err) != apperr.KindValidation || language == fallbackLanguage || fallbackLanguage == "" {
		return nil, err
	}

	c.logger.Debug().
		Str("template_id", templateID).
		Str("language", language).
		Str("fallback", fallbackLanguage).
		Msg("template missing in requested language, using fallback")
	return c.fetch(ctx, templateID, fallbackLanguage)
}

func (c *HTTPTemplateClient) fetch(ctx context.Context, templateID, language string) (*Template, error) {
	key := templateID + "|" + language
	if cached, ok := c.cache.Get(key); ok {
		tpl := cached.(Template)
		return &tpl, nil
	}

	endpoint := fmt.Sprintf("%s/api/v1/templates/%s?language=%s",
		c.baseURL, url.PathEscape(templateID), url.QueryEscape(language))

	var tpl Template
	err := c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return apperr.DependencyUnavailable("template service unreachable", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return apperr.Validation(fmt.Sprintf("template %s not found for language %s", templateID, language), nil)
		case resp.StatusCode >= 500:
			return apperr.DependencyUnavailable(fmt.Sprintf("template service returned %d", resp.StatusCode), nil)
		case resp.StatusCode != http.StatusOK:
			return apperr.Validation(fmt.Sprintf("template service rejected request with %d", resp.StatusCode), nil)
		}

		if err := json.NewDecoder(resp.Body).Decode(&tpl); err != nil {
			return apperr.DependencyUnavailable("invalid response from template service", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.cache.SetDefault(key, tpl)
	return &tpl, nil
}

// ValidateVariables asks the template service to compare the provided
// variable keys against the template's declared set.
func (c *HTTPTemplateClient) ValidateVariables(ctx context.Context, templateID string, variables map[string]string, language string) (*VariableCheck, error) {
	endpoint := fmt.Sprintf("%s/api/v1/templates/%s/validate", c.baseURL, url.PathEscape(templateID))

	payload, err := json.Marshal(map[string]interface{}{
		"variables": variables,
		"language":  language,
	})
	if err != nil {
		return nil, err
	}

	var check VariableCheck
	err = c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return apperr.DependencyUnavailable("template service unreachable", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apperr.DependencyUnavailable(fmt.Sprintf("template service returned %d", resp.StatusCode), nil)
		}
		if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
			return apperr.DependencyUnavailable("invalid response from template service", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &check, nil
}
