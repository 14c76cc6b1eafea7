package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/page-guard/config"
	"github.com/IliaW/page-guard/internal/classifier"
	"github.com/IliaW/page-guard/internal/coordinator"
	"github.com/IliaW/page-guard/internal/domain"
	"github.com/IliaW/page-guard/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	mu    sync.Mutex
	raw   string
	calls int
	block chan struct{} // when set, every call waits for it to close
}

func (s *stubClassifier) Classify(ctx context.Context, _ string, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	raw, block := s.raw, s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return raw, nil
}

type stubCredentials struct {
	mu      sync.Mutex
	saved   string
	missing bool
	err     error
}

func (s *stubCredentials) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved != "" {
		return s.saved, nil
	}
	if s.missing {
		return "", classifier.ErrMissingCredential
	}
	return "sk-test", nil
}

func (s *stubCredentials) Save(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = key
	return nil
}

type stubHistory struct {
	records []*model.VerdictRecord
	gotURL  string
	gotLim  int
}

func (s *stubHistory) SaveVerdict(int, *model.VerdictRecord) error { return nil }

func (s *stubHistory) GetHistory(url string, limit int) []*model.VerdictRecord {
	s.gotURL, s.gotLim = url, limit
	return s.records
}

type fixture struct {
	router     *gin.Engine
	hub        *Hub
	classifier *stubClassifier
	creds      *stubCredentials
	history    *stubHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		hub:        NewHub(nil),
		classifier: &stubClassifier{raw: `{"status":"DANGEROUS","explanation":"fake login","confidence_score":0.75}`},
		creds:      &stubCredentials{},
		history:    &stubHistory{},
	}
	coord := coordinator.New(coordinator.Deps{
		Whitelist:   domain.NewWhitelist([]string{"github.com"}),
		Classifier:  f.classifier,
		Credentials: f.creds,
		UI:          f.hub,
		Navigator:   f.hub,
		Notifier:    f.hub,
	})
	f.hub.SetDispatcher(coord)
	srv := NewServer(coord, f.hub, f.creds, f.history, &config.ApiConfig{HistoryLimit: 5})
	f.router = srv.Router()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) model.VerdictRecord {
	t.Helper()
	var rec model.VerdictRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	return rec
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestPageDataFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/tabs/3/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusPending, decodeRecord(t, w).Status)

	w = f.do(http.MethodPost, "/api/v1/tabs/3/page",
		`{"url":"https://login-verify.test","title":"Sign in","forms":[{"action":"https://x.test","method":"post","input_count":2}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decodeRecord(t, w)
	assert.Equal(t, model.StatusDangerous, rec.Status)
	assert.Contains(t, rec.Explanation, "75%")

	w = f.do(http.MethodGet, "/api/v1/tabs/3/status", "")
	assert.Equal(t, model.StatusDangerous, decodeRecord(t, w).Status)

	w = f.do(http.MethodPost, "/api/v1/tabs/3/proceed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusSafe, decodeRecord(t, w).Status)

	w = f.do(http.MethodDelete, "/api/v1/tabs/3", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(http.MethodGet, "/api/v1/tabs/3/status", "")
	assert.Equal(t, model.StatusPending, decodeRecord(t, w).Status)
	assert.Equal(t, 1, f.classifier.calls)
}

func TestPageDataValidation(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/tabs/abc/page", `{"url":"https://a.test"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/tabs/1/page", `{"title":"no url"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/tabs/1/page", `{"url":"/relative"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/tabs/1/page", `not json`).Code)
	assert.Equal(t, 0, f.classifier.calls)
}

func TestProceedWithoutRecord(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/tabs/8/proceed", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNavigation(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/v1/tabs/1/page", `{"url":"https://github.com/a"}`)

	w := f.do(http.MethodPost, "/api/v1/tabs/1/navigation", `{"url":"https://github.com/b"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, model.StatusSafe, decodeRecord(t, f.do(http.MethodGet, "/api/v1/tabs/1/status", "")).Status)

	f.do(http.MethodPost, "/api/v1/tabs/1/navigation", `{"url":"https://elsewhere.test"}`)
	assert.Equal(t, model.StatusPending, decodeRecord(t, f.do(http.MethodGet, "/api/v1/tabs/1/status", "")).Status)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/tabs/1/navigation", `{}`).Code)
}

func TestGoBackWithoutExtension(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/tabs/1/back", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCredential(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPut, "/api/v1/credential", `{"api_key":"sk-new"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "sk-new", f.creds.saved)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/v1/credential", `{"api_key":"  "}`).Code)

	f.creds.err = errors.New("read-only file system")
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPut, "/api/v1/credential", `{"api_key":"k"}`).Code)
}

func TestSavedCredentialTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	f.creds.missing = true
	body := `{"url":"https://login-verify.test"}`

	rec := decodeRecord(t, f.do(http.MethodPost, "/api/v1/tabs/5/page", body))
	require.Equal(t, model.StatusError, rec.Status)
	assert.Equal(t, coordinator.ExplainMissingCredential, rec.Explanation)

	require.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/api/v1/credential", `{"api_key":"sk-new"}`).Code)

	rec = decodeRecord(t, f.do(http.MethodPost, "/api/v1/tabs/5/page", body))
	assert.Equal(t, model.StatusDangerous, rec.Status)
	assert.Equal(t, 1, f.classifier.calls)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.history.records = []*model.VerdictRecord{
		{URL: "https://a.test", Status: model.StatusSuspicious, Explanation: "x", Timestamp: time.Now()},
	}

	w := f.do(http.MethodGet, "/api/v1/history?url=https://a.test", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp historyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Verdicts, 1)
	assert.Equal(t, "https://a.test", f.history.gotURL)
	assert.Equal(t, 5, f.history.gotLim)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/history", "").Code)

	f.history.records = nil
	w = f.do(http.MethodGet, "/api/v1/history?url=https://b.test", "")
	assert.JSONEq(t, `{"url":"https://b.test","verdicts":[]}`, w.Body.String())
}

func TestCORSForExtension(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, "chrome-extension://abcdef", w.Header().Get("Access-Control-Allow-Origin"))
}
