package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ivyaspire/leadtrack/internal/clientinfo"
	"github.com/ivyaspire/leadtrack/internal/cookiewatch"
	"github.com/ivyaspire/leadtrack/internal/dispatch"
	"github.com/ivyaspire/leadtrack/internal/model"
	"github.com/ivyaspire/leadtrack/pkg/edge"
	"github.com/ivyaspire/leadtrack/pkg/pixel"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu     sync.Mutex
	saves  []savedRow
	byID   map[string]map[string]any
	getErr error
}

type savedRow struct {
	sessionID string
	snap      model.FormSnapshot
	stage     model.FunnelStage
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]map[string]any{}}
}

func (m *memStore) SaveIncremental(_ context.Context, sessionID string, snap model.FormSnapshot, stage model.FunnelStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, savedRow{sessionID, snap, stage})
	return nil
}

func (m *memStore) GetSession(_ context.Context, sessionID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.byID[sessionID], nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error { return nil }

// nullCAPI satisfies edge.Client without any network.
type nullCAPI struct{}

func (nullCAPI) SendEvent(context.Context, edge.CAPIEvent) error { return nil }
func (nullCAPI) ClientIP(context.Context) (string, error) { return "203.0.113.7", nil }

func newTestApp(t *testing.T) (*app, *memStore) {
	t.Helper()

	st := newMemStore()
	jar := newCookieJar()
	monitor := cookiewatch.NewMonitor(jar,
		cookiewatch.WithInterval(2*time.Millisecond),
		cookiewatch.WithMaxChecks(3),
		cookiewatch.WithLogger(zap.NewNop()),
	)
	client := clientinfo.NewProvider(nullCAPI{}, clientinfo.WithLogger(zap.NewNop()))
	d := dispatch.NewDispatcher(
		pixel.Func(func(string, string, map[string]any, map[string]any) {}),
		nullCAPI{}, monitor, client,
		dispatch.WithEnvironment("stg"),
		dispatch.WithLogger(zap.NewNop()),
	)

	a := &app{store: st, jar: jar, monitor: monitor, client: client, dispatcher: d}
	t.Cleanup(d.Wait)
	return a, st
}

func postIntent(t *testing.T, h http.Handler, intent string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/intent/"+intent, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	a, _ := newTestApp(t)
	h := newIntakeRouter(a)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestIntentAssignsSessionID(t *testing.T) {
	a, _ := newTestApp(t)
	h := newIntakeRouter(a)

	rec := postIntent(t, h, "page_view", map[string]any{})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		SessionID string   `json:"sessionId"`
		Events    []string `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, []string{"tof_v1_page_view_stg"}, resp.Events)
}

func TestIntentKeepsProvidedSessionID(t *testing.T) {
	a, st := newTestApp(t)
	h := newIntakeRouter(a)

	rec := postIntent(t, h, "form_start", map[string]any{"sessionId": "sess-42"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, st.saves, 1)
	assert.Equal(t, "sess-42", st.saves[0].sessionID)
	assert.Equal(t, model.StageFormStart, st.saves[0].stage)
}

func TestIntentClassifiesWhenAcademicFieldsPresent(t *testing.T) {
	a, st := newTestApp(t)
	h := newIntakeRouter(a)

	rec := postIntent(t, h, "page_1_complete", map[string]any{
		"sessionId":              "sess-9",
		"formFillerType":         "parent",
		"currentGrade":           "9",
		"scholarshipRequirement": "partial_scholarship",
		"targetGeographies":      []string{"US"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, st.saves, 1)
	assert.Equal(t, model.CategoryBCH, st.saves[0].snap.LeadCategory)
	assert.True(t, st.saves[0].snap.IsQualifiedLead)
	assert.Equal(t, model.StagePage1Complete, st.saves[0].stage)
}

func TestIntentPreservesExistingCategory(t *testing.T) {
	a, st := newTestApp(t)
	h := newIntakeRouter(a)

	rec := postIntent(t, h, "form_submit", map[string]any{
		"sessionId":              "sess-9",
		"currentGrade":           "9",
		"scholarshipRequirement": "partial_scholarship",
		"targetGeographies":      []string{"US"},
		"leadCategory":           "nurture",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// An already-assigned category is never recomputed.
	require.Len(t, st.saves, 1)
	assert.Equal(t, model.CategoryNurture, st.saves[0].snap.LeadCategory)
}

func TestIntentUnknown(t *testing.T) {
	a, _ := newTestApp(t)
	h := newIntakeRouter(a)

	rec := postIntent(t, h, "bogus", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown intent")
}

func TestIntentRejectsBadJSON(t *testing.T) {
	a, _ := newTestApp(t)
	h := newIntakeRouter(a)

	req := httptest.NewRequest(http.MethodPost, "/intent/page_view", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntentCapturesForwardedCookies(t *testing.T) {
	a, _ := newTestApp(t)
	h := newIntakeRouter(a)

	rec := postIntent(t, h, "page_view", map[string]any{
		"fbp": "fb.1.1700000000.12345",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	v, ok := a.jar.Cookie(cookiewatch.FBPCookie)
	assert.True(t, ok)
	assert.Equal(t, "fb.1.1700000000.12345", v)

	// A later intent without cookies must not erase attribution.
	postIntent(t, h, "page_view", map[string]any{})
	v, ok = a.jar.Cookie(cookiewatch.FBPCookie)
	assert.True(t, ok)
	assert.Equal(t, "fb.1.1700000000.12345", v)
}

func TestSessionLookup(t *testing.T) {
	a, st := newTestApp(t)
	h := newIntakeRouter(a)

	st.byID["sess-1"] = map[string]any{"parent_name": "Priya"}

	req := httptest.NewRequest(http.MethodGet, "/session/sess-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Priya")

	req = httptest.NewRequest(http.MethodGet, "/session/missing", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntentCTAClickVariants(t *testing.T) {
	a, _ := newTestApp(t)
	h := newIntakeRouter(a)

	rec := postIntent(t, h, "cta_click", map[string]any{"ctaVariant": "request_evaluation"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Events []string `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"mof_v1_cta_click_stg", "mof_v1_request_evaluation_stg"}, resp.Events)
}
