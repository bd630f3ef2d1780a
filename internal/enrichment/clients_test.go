package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/jwalitptl/notifier/pkg/errors"
)

var testLogger = zerolog.Nop()

func TestGetUser(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/api/v1/users/u1", r.URL.Path)
		json.NewEncoder(w).Encode(User{
			ID:    "u1",
			Email: "ana@example.com",
			Preferences: Preferences{
				EmailEnabled: true,
				Language:     "pt",
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPUserClient(UserClientConfig{BaseURL: srv.URL}, &testLogger)

	user, err := c.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, "pt", user.Preferences.Language)

	// Second lookup is served from cache.
	_, err = c.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGetUserNotFoundIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPUserClient(UserClientConfig{BaseURL: srv.URL}, &testLogger)
	_, err := c.GetUser(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGetUserServerErrorIsDependencyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPUserClient(UserClientConfig{BaseURL: srv.URL}, &testLogger)
	_, err := c.GetUser(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
}

func TestValidateCanReceive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/u1/can-receive", r.URL.Path)
		assert.Equal(t, "email", r.URL.Query().Get("channel"))
		json.NewEncoder(w).Encode(Eligibility{CanReceive: false, Reason: "channel disabled"})
	}))
	defer srv.Close()

	c := NewHTTPUserClient(UserClientConfig{BaseURL: srv.URL}, &testLogger)
	eligibility, err := c.ValidateCanReceive(context.Background(), "u1", "email")
	require.NoError(t, err)
	assert.False(t, eligibility.CanReceive)
	assert.Equal(t, "channel disabled", eligibility.Reason)
}

func TestGetTemplateFallbackLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("language") == "de" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(Template{
			TemplateID:        "welcome_email",
			Language:          "en",
			Subject:           "Welcome {{name}}",
			Body:              "Hi {{name}}",
			DeclaredVariables: []string{"name"},
		})
	}))
	defer srv.Close()

	c := NewHTTPTemplateClient(TemplateClientConfig{BaseURL: srv.URL}, &testLogger)
	tpl, err := c.GetTemplate(context.Background(), "welcome_email", "de", "en")
	require.NoError(t, err)
	assert.Equal(t, "en", tpl.Language)
	assert.Equal(t, []string{"name"}, tpl.DeclaredVariables)
}

func TestGetTemplateMissingInBothLanguages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPTemplateClient(TemplateClientConfig{BaseURL: srv.URL}, &testLogger)
	_, err := c.GetTemplate(context.Background(), "nope", "de", "en")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGetTemplateCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(Template{TemplateID: "t1", Language: "en", Body: "b"})
	}))
	defer srv.Close()

	c := NewHTTPTemplateClient(TemplateClientConfig{BaseURL: srv.URL}, &testLogger)
	for i := 0; i < 3; i++ {
		_, err := c.GetTemplate(context.Background(), "t1", "en", "en")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestValidateVariables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var payload struct {
			Variables map[string]string `json:"variables"`
			Language  string            `json:"language"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "en", payload.Language)

		json.NewEncoder(w).Encode(VariableCheck{
			Valid:   false,
			Missing: []string{"company_name"},
			Extra:   []string{"nickname"},
		})
	}))
	defer srv.Close()

	c := NewHTTPTemplateClient(TemplateClientConfig{BaseURL: srv.URL}, &testLogger)
	check, err := c.ValidateVariables(context.Background(), "welcome_email",
		map[string]string{"name": "Ana", "nickname": "A"}, "en")
	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.Equal(t, []string{"company_name"}, check.Missing)
	assert.Equal(t, []string{"nickname"}, check.Extra)
}
