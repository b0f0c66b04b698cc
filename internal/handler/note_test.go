package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/fastnotes/internal/database"
	"github.com/dukerupert/fastnotes/internal/middleware"
	"github.com/dukerupert/fastnotes/internal/model"
	"github.com/dukerupert/fastnotes/internal/store"
	"github.com/dukerupert/fastnotes/internal/websocket"
)

func newTestMux(t *testing.T, notes NoteStore, logger *slog.Logger) *http.ServeMux {
	t.Helper()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := NewNoteHandler(notes, websocket.NewHub(logger), middleware.NewMetrics(prometheus.NewRegistry()), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notes/{$}", h.Create)
	mux.HandleFunc("GET /notes/{$}", h.List)
	mux.HandleFunc("GET /notes/{id}", h.Get)
	mux.HandleFunc("PUT /notes/{id}", h.Update)
	mux.HandleFunc("DELETE /notes/{id}", h.Delete)
	return mux
}

func realStore(t *testing.T) *store.NoteStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ns, err := store.NewNoteStore(db)
	require.NoError(t, err)
	return ns
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeNote(t *testing.T, rec *httptest.ResponseRecorder) model.Note {
	t.Helper()
	var n model.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n), rec.Body.String())
	return n
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["detail"]
}

func TestNoteHandlerLifecycle(t *testing.T) {
	mux := newTestMux(t, realStore(t), nil)

	rec := do(t, mux, "POST", "/notes/", `{"title":"A","content":"B"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	created := decodeNote(t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "A", created.Title)
	assert.Equal(t, "B", created.Content)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Minute)

	path := "/notes/" + strconv.FormatInt(created.ID, 10)

	rec = do(t, mux, "GET", path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeNote(t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	rec = do(t, mux, "PUT", path, `{"title":"A2","content":"B2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeNote(t, rec)
	assert.Equal(t, created.ID, updated.ID)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.Equal(t, "A2", updated.Title)
	assert.Equal(t, "B2", updated.Content)

	rec = do(t, mux, "GET", "/notes/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "A2", list[0].Title)

	rec = do(t, mux, "DELETE", path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Note has been deleted"}`, rec.Body.String())

	for _, method := range []string{"GET", "DELETE"} {
		rec = do(t, mux, method, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, method)
		assert.Equal(t, "Note is not found", decodeDetail(t, rec))
	}
	rec = do(t, mux, "PUT", path, `{"title":"x","content":"y"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNoteHandlerListEmpty(t *testing.T) {
	mux := newTestMux(t, realStore(t), nil)

	rec := do(t, mux, "GET", "/notes/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestNoteHandlerUnknownID(t *testing.T) {
	mux := newTestMux(t, realStore(t), nil)

	rec := do(t, mux, "GET", "/notes/9999999999999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNoteHandlerInvalidID(t *testing.T) {
	mux := newTestMux(t, realStore(t), nil)

	for _, tc := range []struct{ method, body string }{
		{"GET", ""},
		{"PUT", `{"title":"a","content":"b"}`},
		{"DELETE", ""},
	} {
		rec := do(t, mux, tc.method, "/notes/abc", tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.method)
		assert.Equal(t, "invalid id", decodeDetail(t, rec))
	}

	rec := do(t, mux, "GET", "/notes/99999999999999999999", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "id overflowing int64")
}

// countingStore records whether any store method was reached.
type countingStore struct {
	NoteStore
	calls int
}

func (s *countingStore) Create(title, content string) (model.Note, error) {
	s.calls++
	return s.NoteStore.Create(title, content)
}

func (s *countingStore) Update(id int64, title, content string) (model.Note, error) {
	s.calls++
	return s.NoteStore.Update(id, title, content)
}

func TestNoteHandlerMalformedBodies(t *testing.T) {
	cs := &countingStore{NoteStore: realStore(t)}
	mux := newTestMux(t, cs, nil)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"empty", "", "request body is empty"},
		{"not json", "hello", "invalid JSON"},
		{"truncated", `{"title":"a"`, "invalid JSON"},
		{"missing title", `{"content":"b"}`, "title is required"},
		{"missing content", `{"title":"a"}`, "content is required"},
		{"null title", `{"title":null,"content":"b"}`, "title is required"},
		{"number title", `{"title":5,"content":"b"}`, "title must be a string"},
		{"array", `[]`, "invalid JSON"},
		{"two objects", `{"title":"a","content":"b"}{"title":"c","content":"d"}`, "request body must contain a single JSON object"},
		{"upper-case keys", `{"TITLE":"a","CONTENT":"b"}`, `unknown field "TITLE"`},
		{"mixed-case key beside exact key", `{"title":"a","Title":"b","content":"c"}`, `unknown field "Title"`},
		{"invalid utf-8", "{\"title\":\"\xff\",\"content\":\"b\"}", "request body must be valid UTF-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range []struct{ method, path string }{
				{"POST", "/notes/"},
				{"PUT", "/notes/1"},
			} {
				req := httptest.NewRequest(target.method, target.path, strings.NewReader(tt.body))
				rec := httptest.NewRecorder()
				mux.ServeHTTP(rec, req)

				assert.Equal(t, http.StatusBadRequest, rec.Code, target.method)
				assert.Equal(t, tt.detail, decodeDetail(t, rec), target.method)
			}
		})
	}
	assert.Zero(t, cs.calls, "malformed bodies must not reach the store")
}

func TestNoteHandlerEmptyStringsAllowed(t *testing.T) {
	mux := newTestMux(t, realStore(t), nil)

	rec := do(t, mux, "POST", "/notes/", `{"title":"","content":"","extra":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	n := decodeNote(t, rec)
	assert.Empty(t, n.Title)
	assert.Empty(t, n.Content)
}

func TestNoteHandlerUnicodeRoundTrip(t *testing.T) {
	mux := newTestMux(t, realStore(t), nil)

	rec := do(t, mux, "POST", "/notes/", `{"title":"Café ✓","content":"日本語\n"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeNote(t, rec)

	rec = do(t, mux, "GET", "/notes/"+strconv.FormatInt(created.ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeNote(t, rec)
	assert.Equal(t, "Café ✓", got.Title)
	assert.Equal(t, "日本語\n", got.Content)
}

func TestNoteHandlerBodyTooLarge(t *testing.T) {
	mux := newTestMux(t, realStore(t), nil)

	big := `{"title":"a","content":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := do(t, mux, "POST", "/notes/", big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request body too large", decodeDetail(t, rec))
}

// failingStore returns a storage failure from every method.
type failingStore struct{}

var errDisk = &store.StorageError{Op: "test", ID: 42, Err: errors.New("disk I/O error")}

func (failingStore) Create(string, string) (model.Note, error)        { return model.Note{}, errDisk }
func (failingStore) Get(int64) (model.Note, error)                    { return model.Note{}, errDisk }
func (failingStore) List() ([]model.Note, error)                      { return nil, errDisk }
func (failingStore) Update(int64, string, string) (model.Note, error) { return model.Note{}, errDisk }
func (failingStore) Delete(int64) error                               { return errDisk }

func TestNoteHandlerStorageError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	mux := newTestMux(t, failingStore{}, logger)

	for _, tc := range []struct{ method, path, body string }{
		{"POST", "/notes/", `{"title":"a","content":"b"}`},
		{"GET", "/notes/", ""},
		{"GET", "/notes/42", ""},
		{"PUT", "/notes/42", `{"title":"a","content":"b"}`},
		{"DELETE", "/notes/42", ""},
	} {
		rec := do(t, mux, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, tc.method+" "+tc.path)
		detail := decodeDetail(t, rec)
		assert.Equal(t, "internal error", detail)
		assert.NotContains(t, rec.Body.String(), "disk I/O")
	}

	out := logs.String()
	assert.Contains(t, out, "note store failure")
	assert.Contains(t, out, "op=update")
	assert.Contains(t, out, "id=42")
	assert.Contains(t, out, "disk I/O error")
}

func TestNoteHandlerWithoutMetricsOrHub(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewNoteHandler(realStore(t), nil, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notes/{$}", h.Create)
	mux.HandleFunc("DELETE /notes/{id}", h.Delete)

	rec := do(t, mux, "POST", "/notes/", `{"title":"a","content":"b"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	n := decodeNote(t, rec)

	rec = do(t, mux, "DELETE", "/notes/"+strconv.FormatInt(n.ID, 10), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
