package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordbin/cfg"
	"wordbin/pkg/domain"
	"wordbin/svc/api"
	"wordbin/svc/codec"
	"wordbin/svc/db"
	"wordbin/svc/files"
	"wordbin/svc/lim"
	"wordbin/svc/store"
)

type testEnv struct {
	server  *api.Server
	clock   *domain.MockClock
	files   *files.Store
	dataDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	c := &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		LogLevel:       "error",
		DataDir:        dataDir,
		SnapshotFile:   "database.json",
		CacheSize:      16,
		MaxPasteSize:   64 * 1024,
		MaxFileSize:    1 << 20,
		ContextTimeout: 2 * time.Second,
		RateLimit:      cfg.RateLimitCfg{RPM: 60000, Burst: 10000},
	}
	fileStore, err := files.NewStore(dataDir)
	require.NoError(t, err)
	snap := db.NewSnapshot(c.SnapshotPath())
	clock := domain.NewMockClock(time.Unix(1_700_000_000, 0))
	st, err := store.New(nil, snap, fileStore, nil, clock, c.CacheSize)
	require.NoError(t, err)
	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, nil, nil)
	t.Cleanup(limiter.Stop)
	return &testEnv{
		server:  api.NewServer(c, st, fileStore, limiter, nil),
		clock:   clock,
		files:   fileStore,
		dataDir: dataDir,
	}
}

type filePart struct {
	name string
	data string
}

func multipartBody(t *testing.T, fields map[string]string, file *filePart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		fw, err := w.CreateFormFile("file", file.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(t *testing.T, fields map[string]string, file *filePart) api.PasteResp {
	t.Helper()
	body, ct := multipartBody(t, fields, file)
	rec := e.do(t, http.MethodPost, "/upload", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp api.PasteResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateAndGetTextPaste(t *testing.T) {
	env := newTestEnv(t)

	resp := env.create(t, map[string]string{"content": "hello world", "expiration": "1hour"}, nil)
	assert.Equal(t, domain.KindText, resp.Kind)
	assert.Equal(t, "/pasta/"+resp.ID, resp.URL)

	_, err := codec.Decode(resp.ID)
	require.NoError(t, err, "response id is a decodable word sequence")

	rec := env.do(t, http.MethodGet, "/pasta/"+resp.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got api.PasteResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "hello world", got.Content)
	assert.Equal(t, resp.ID, got.ID)
}

func TestCreateDefaultsToNever(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(t, map[string]string{"content": "no expiration field"}, nil)
	assert.Zero(t, resp.ExpiresAt)
}

func TestURLRedirect(t *testing.T) {
	env := newTestEnv(t)

	resp := env.create(t, map[string]string{"content": "https://example.com/x", "expiration": "never"}, nil)
	require.Equal(t, domain.KindURL, resp.Kind)

	rec := env.do(t, http.MethodGet, "/url/"+resp.ID, nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/x", rec.Header().Get("Location"))
}

func TestURLRedirectRejectsTextPaste(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(t, map[string]string{"content": "just text", "expiration": "never"}, nil)

	rec := env.do(t, http.MethodGet, "/url/"+resp.ID, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_A_URL")
}

func TestRawPaste(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(t, map[string]string{"content": "raw bytes here", "expiration": "never"}, nil)

	rec := env.do(t, http.MethodGet, "/raw/"+resp.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "raw bytes here", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestCreateInvalidExpiration(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"content": "x", "expiration": "forever"}, nil)
	rec := env.do(t, http.MethodPost, "/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_EXPIRATION_CHOICE")
}

func TestCreateEmpty(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{}, nil)
	rec := env.do(t, http.MethodPost, "/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONTENT_REQUIRED")
}

func TestGetUnknownAndInvalidIdentifiers(t *testing.T) {
	env := newTestEnv(t)

	// Valid word sequence, no such paste.
	rec := env.do(t, http.MethodGet, "/pasta/dog-cat", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Word outside the vocabulary surfaces as not-found, never a crash.
	rec = env.do(t, http.MethodGet, "/pasta/dog-unicorn", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveFlow(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(t, map[string]string{"content": "delete me", "expiration": "never"}, nil)

	rec := env.do(t, http.MethodDelete, "/pasta/"+resp.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/pasta/"+resp.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/pasta/"+resp.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileUploadLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.create(t,
		map[string]string{"expiration": "never"},
		&filePart{name: "my report.pdf", data: "pdf bytes"},
	)
	assert.Equal(t, domain.KindFile, resp.Kind)
	assert.Equal(t, "my_report.pdf", resp.FileName, "whitespace normalized")

	payload := env.files.Path(resp.ID, "my_report.pdf")
	data, err := os.ReadFile(payload)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))

	rec := env.do(t, http.MethodGet, "/remove/"+resp.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = os.Stat(payload)
	assert.True(t, os.IsNotExist(err), "payload removed with the record")
}

func assertStagingEmpty(t *testing.T, env *testEnv) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(env.dataDir, ".staging"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no orphaned staging files")
}

func TestRepeatedFilePartSupersedesWithoutOrphan(t *testing.T) {
	env := newTestEnv(t)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("expiration", "never"))
	fw, err := w.CreateFormFile("file", "first.txt")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "first payload")
	require.NoError(t, err)
	fw, err = w.CreateFormFile("file", "second.txt")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "second payload")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec := env.do(t, http.MethodPost, "/upload", body, w.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp api.PasteResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "second.txt", resp.FileName, "last file part wins")

	data, err := os.ReadFile(env.files.Path(resp.ID, "second.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second payload", string(data))

	assertStagingEmpty(t, env)
}

func TestOversizedContentAfterFileDiscardsStaging(t *testing.T) {
	env := newTestEnv(t)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("file", "doc.txt")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "payload")
	require.NoError(t, err)
	require.NoError(t, w.WriteField("content", strings.Repeat("a", 64*1024+1)))
	require.NoError(t, w.Close())

	rec := env.do(t, http.MethodPost, "/upload", body, w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "PASTE_TOO_LARGE")

	assertStagingEmpty(t, env)
}

func TestGetFileServesPayload(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(t,
		map[string]string{"expiration": "1min"},
		&filePart{name: "my notes.txt", data: "file body"},
	)

	rec := env.do(t, http.MethodGet, "/file/"+resp.ID+"/my_notes.txt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "file body", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/file/"+resp.ID+"/other.txt", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "url must name the stored file")

	env.clock.Advance(2 * time.Minute)
	rec = env.do(t, http.MethodGet, "/file/"+resp.ID+"/my_notes.txt", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "expired paste stops serving its payload")
}

func TestGetFileOnTextPaste(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(t, map[string]string{"content": "no file here", "expiration": "never"}, nil)

	rec := env.do(t, http.MethodGet, "/file/"+resp.ID+"/anything.txt", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPastes(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, map[string]string{"content": "one", "expiration": "never"}, nil)
	second := env.create(t, map[string]string{"content": "two", "expiration": "never"}, nil)

	rec := env.do(t, http.MethodGet, "/pastalist", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []api.PasteResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestExpiredPasteIsGone(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(t, map[string]string{"content": "short lived", "expiration": "1min"}, nil)

	rec := env.do(t, http.MethodGet, "/pasta/"+resp.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	env.clock.Advance(2 * time.Minute)
	rec = env.do(t, http.MethodGet, "/pasta/"+resp.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
