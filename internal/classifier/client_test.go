package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IliaW/page-guard/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *config.ClassifierConfig {
	return &config.ClassifierConfig{
		BaseURL:        url,
		Model:          "test-model",
		Temperature:    0.1,
		MaxTokens:      100,
		RequestTimeout: 2 * time.Second,
	}
}

func TestClassifySuccess(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"status\":\"SAFE\",\"explanation\":\"fine\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL + "/v1/"))
	raw, err := c.Classify(context.Background(), "secret", `{"url":"https://a.test"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SAFE","explanation":"fine"}`, raw)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, `{"url":"https://a.test"}`, got.Messages[1].Content)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestClassifyNonSuccessStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Classify(context.Background(), "bad", "{}")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Contains(t, te.Error(), "invalid api key")
	assert.Equal(t, 1, calls, "no automatic retries")
}

func TestClassifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	_, err := NewClient(cfg).Classify(context.Background(), "key", "{}")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.StatusCode)
}

func TestClassifyEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Classify(context.Background(), "key", "{}")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Error(), "no choices")
}

func TestClassifyMissingKey(t *testing.T) {
	_, err := NewClient(testConfig("http://127.0.0.1:1")).Classify(context.Background(), "", "{}")
	assert.ErrorIs(t, err, ErrMissingCredential)
}
