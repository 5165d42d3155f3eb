package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/config"
	"github.com/kamal2602/thinkhub-sub001/internal/core"
	"github.com/kamal2602/thinkhub-sub001/internal/normalize"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
	"github.com/kamal2602/thinkhub-sub001/internal/store/memstore"
	"github.com/kamal2602/thinkhub-sub001/internal/store/rulecache"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
	}
}

type testServer struct {
	srv     *Server
	store   *memstore.Store
	company uuid.UUID
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	st := memstore.New()
	cached := rulecache.New(st, 16, time.Minute)
	svc := core.NewService(catalog.Default(), cached, core.Options{Concurrency: 2})
	return &testServer{
		srv:     NewServer(svc, cached, cfg),
		store:   st,
		company: uuid.New(),
	}
}

func (ts *testServer) path(suffix string) string {
	return "/api/companies/" + ts.company.String() + suffix
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, path, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// startReviewed uploads data and walks the session to preview, creating one
// entity per group suggestion.
func (ts *testServer) startReviewed(t *testing.T, data string) uuid.UUID {
	t.Helper()
	rec := ts.upload(t, ts.path("/imports"), "receiving.csv", data)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[core.Session](t, rec)

	rec = ts.do(t, http.MethodPost, ts.path("/imports/"+sess.ID.String()+"/mappings/confirm"), map[string]bool{"learn": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess = decode[core.Session](t, rec)
	if sess.State == core.StatePreview {
		return sess.ID
	}

	rec = ts.do(t, http.MethodGet, ts.path("/imports/"+sess.ID.String()+"/groups"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]normalize.EntityGroup](t, rec)

	var decisions []map[string]any
	for _, g := range groups {
		decisions = append(decisions, map[string]any{
			"field":         g.Field,
			"variants":      g.OriginalValues(),
			"action":        "create_new",
			"canonicalName": g.SuggestedCanonical,
		})
	}
	rec = ts.do(t, http.MethodPost, ts.path("/imports/"+sess.ID.String()+"/decisions"), map[string]any{"decisions": decisions})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[core.BatchReport](t, rec)
	require.Equal(t, core.StatePreview, report.State)
	return sess.ID
}

func TestImportFlow(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, http.MethodPost, ts.path("/rules/seed"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Positive(t, decode[map[string]int](t, rec)["created"])

	id := ts.startReviewed(t, "Serial,Brand,Type,Cost\nSN1,dell,Laptop,100\nSN2,Dell,laptop,250.50\n")

	rec = ts.do(t, http.MethodPost, ts.path("/imports/"+id.String()+"/preview"), map[string]string{"exchangeRate": "2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[core.Preview](t, rec)
	assert.True(t, preview.CanCommit)
	assert.Equal(t, 2, preview.ValidRows)
	assert.True(t, preview.TotalCost.Equal(decimal.RequireFromString("701")), preview.TotalCost.String())

	rec = ts.do(t, http.MethodPost, ts.path("/imports/"+id.String()+"/commit"), map[string]string{"exchangeRate": "2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[core.CommitResult](t, rec)
	assert.Equal(t, 2, result.Inserted)
	assert.Len(t, ts.store.LineItems(ts.company), 2)

	rec = ts.do(t, http.MethodGet, ts.path("/entities/product_type"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entities := decode[[]store.Entity](t, rec)
	require.Len(t, entities, 1)
	assert.Equal(t, "Laptop", entities[0].Name)

	rec = ts.do(t, http.MethodGet, ts.path("/imports/"+id.String()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.StateComplete, decode[core.Session](t, rec).State)
}

func TestCommitConflict(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.do(t, http.MethodPost, ts.path("/rules/seed"), nil)

	id := ts.startReviewed(t, "Serial,Brand,Cost\nSN1,Dell,100\n")
	rec := ts.do(t, http.MethodPost, ts.path("/imports/"+id.String()+"/commit"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	id = ts.startReviewed(t, "Serial,Brand,Cost\nSN1,Dell,100\nSN9,Dell,50\n")
	rec = ts.do(t, http.MethodPost, ts.path("/imports/"+id.String()+"/commit"), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "CMT001", body.Code)
	assert.Equal(t, []string{"SN1"}, body.Serials)
}

func TestMappingEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.do(t, http.MethodPost, ts.path("/rules/seed"), nil)

	rec := ts.upload(t, ts.path("/imports"), "r.csv", "Serial,Brand,Cost,Mystery\nSN1,Dell,1,x\n")
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decode[core.Session](t, rec)
	base := ts.path("/imports/" + sess.ID.String())

	rec = ts.do(t, http.MethodPut, base+"/mappings", map[string]string{"column": "Mystery", "field": "notes"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPut, base+"/mappings", map[string]string{"column": "Mystery", "field": "colour"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "MAP003", body.Code)
	assert.Equal(t, "colour", body.Field)

	rec = ts.do(t, http.MethodPut, base+"/mappings", map[string]any{"column": "Mystery", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown body fields are rejected")

	rec = ts.do(t, http.MethodPost, base+"/commit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "commit before review is a state error")
	assert.Equal(t, "IMP002", decode[ErrorResponse](t, rec).Code)
}

func TestSessionIsolation(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.upload(t, ts.path("/imports"), "r.csv", "Serial,Brand,Cost\nSN1,Dell,1\n")
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decode[core.Session](t, rec)

	other := "/api/companies/" + uuid.NewString() + "/imports/" + sess.ID.String()
	rec = ts.do(t, http.MethodGet, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP001", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodDelete, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, ts.path("/imports/"+sess.ID.String()), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, ts.path("/imports/"+sess.ID.String()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 256
	ts := newTestServer(t, cfg)

	tests := []struct {
		name    string
		file    string
		content string
		status  int
		code    string
	}{
		{"missing file", "", "", http.StatusBadRequest, "FILE004"},
		{"too large", "big.csv", "Serial\n" + strings.Repeat("SN-0000001\n", 64), http.StatusRequestEntityTooLarge, "FILE001"},
		{"empty file", "empty.csv", " \n", http.StatusUnprocessableEntity, "FILE005"},
		{"header only", "header.csv", "Serial,Brand\n", http.StatusUnprocessableEntity, "FILE008"},
		{"legacy workbook", "old.xls", "\xd0\xcf\x11\xe0", http.StatusUnprocessableEntity, "FILE007"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.upload(t, ts.path("/imports"), tt.file, tt.content)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAppendFlow(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.do(t, http.MethodPost, ts.path("/rules/seed"), nil)

	id := ts.startReviewed(t, "Serial,Brand,Cost\nSN1,Dell,100\n")
	rec := ts.do(t, http.MethodPost, ts.path("/imports/"+id.String()+"/commit"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.upload(t, ts.path("/appends"), "specs.csv", "Serial,CPU\nSN1,i5\nSN7,i7\n")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[core.Session](t, rec)
	assert.Equal(t, core.StateAppend, sess.State)

	rec = ts.do(t, http.MethodPost, ts.path("/imports/"+sess.ID.String()+"/append/commit"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.AppendResult](t, rec)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"SN7"}, res.NotFound)
}

func TestRulesAndEntitiesValidation(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, http.MethodGet, ts.path("/rules?type=nonsense"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodGet, ts.path("/rules"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = ts.do(t, http.MethodGet, ts.path("/entities/widgets"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/companies/not-a-uuid/rules", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IMP003", decode[ErrorResponse](t, rec).Code)
}

func TestHealthAndCatalog(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Contains(t, health, "cache")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = ts.do(t, http.MethodGet, "/api/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cat := decode[struct {
		Fields   []catalog.Field `json:"fields"`
		Required []string        `json:"required"`
	}](t, rec)
	assert.NotEmpty(t, cat.Fields)
	assert.Contains(t, cat.Required, catalog.Brand)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"desk:secret"}}
	ts := newTestServer(t, cfg)

	rec := ts.do(t, http.MethodGet, "/api/catalog", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health checks skip authentication")

	req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	ts := newTestServer(t, cfg)

	rec := ts.upload(t, ts.path("/imports"), "r.csv", "Serial,Brand,Cost\nSN1,Dell,1\n")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.upload(t, ts.path("/imports"), "r.csv", "Serial,Brand,Cost\nSN1,Dell,1\n")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/catalog", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "other endpoints use the general limit")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ValidationError{Message: "x"}, http.StatusUnprocessableEntity},
		{core.ConflictError{Serials: []string{"a"}}, http.StatusConflict},
		{core.ErrSessionNotFound, http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{core.ErrTooManyCommits, http.StatusTooManyRequests},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
