package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"soundcrate/internal/auth"
	"soundcrate/internal/blob"
	"soundcrate/internal/jobs"
	"soundcrate/internal/ratelimit"
	"soundcrate/internal/storage"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) *JobHandler {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.NewStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}

	bucketRepo := storage.NewBucketRepository(db)
	svc := jobs.NewService(
		storage.NewJobRepository(db),
		bucketRepo,
		blobs,
		ratelimit.NewLimiter(bucketRepo),
	)
	return NewJobHandler(svc, auth.DenyAllVerifier{})
}

func doJSON(t *testing.T, e *echo.Echo, h echo.HandlerFunc, method, target, body string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for name, value := range params {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestCreateGetCancelFlow(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	rec := doJSON(t, e, h.Create, http.MethodPost, "/api/downloads",
		`{"source_id":"track-123","title":"Blue in Green","artist":"Miles Davis"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "pending" {
		t.Fatalf("created status = %s", created.Status)
	}

	rec = doJSON(t, e, h.Get, http.MethodGet, "/api/downloads/"+created.ID, "", map[string]string{"id": created.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, e, h.Cancel, http.MethodPost, "/api/downloads/"+created.ID+"/cancel", "", map[string]string{"id": created.ID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body)
	}

	// Second cancel hits the terminal record.
	rec = doJSON(t, e, h.Cancel, http.MethodPost, "/api/downloads/"+created.ID+"/cancel", "", map[string]string{"id": created.ID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel of terminal job status = %d", rec.Code)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	rec := doJSON(t, e, h.Create, http.MethodPost, "/api/downloads",
		`{"title":"Blue in Green","artist":"Miles Davis"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetUnknownJobIs404(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	rec := doJSON(t, e, h.Get, http.MethodGet, "/api/downloads/nope", "", map[string]string{"id": "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestInvalidBearerTokenIs401(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/downloads",
		strings.NewReader(`{"source_id":"track-123","title":"x","artist":"y"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLimitsEndpointReportsQuota(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	rec := doJSON(t, e, h.Limits, http.MethodGet, "/api/limits", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st struct {
		Limit     int64 `json:"limit"`
		Remaining int64 `json:"remaining"`
		Limited   bool  `json:"limited"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Limit != ratelimit.DefaultGuestLimit || st.Limited {
		t.Fatalf("unexpected quota status: %+v", st)
	}
}
