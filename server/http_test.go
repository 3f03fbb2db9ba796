package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	papervault "github.com/wolfeidau/paper-vault"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv, err := New(Config{
		DataDir:       t.TempDir(),
		MaxFileBytes:  1 << 20,
		MaxTotalBytes: 10 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.db.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func uploadFile(t *testing.T, ts *httptest.Server, project, id, filename string, content []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if id != "" {
		require.NoError(t, mw.WriteField("id", id))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/projects/"+project+"/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeDoc(t *testing.T, resp *http.Response) *papervault.Document {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var doc papervault.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return &doc
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestServerHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServerUploadAndFetch(t *testing.T) {
	ts := newTestServer(t)
	content := []byte("uploaded via http")

	resp := uploadFile(t, ts, "thesis", "doc-1", "paper.pdf", content)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decodeDoc(t, resp)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, "paper.pdf", doc.Title)
	assert.Equal(t, int64(len(content)), doc.Size)

	// Metadata
	resp2, err := ts.Client().Get(ts.URL + "/projects/thesis/documents/doc-1")
	require.NoError(t, err)
	got := decodeDoc(t, resp2)
	assert.Equal(t, doc.Digest, got.Digest)

	// Content
	resp3, err := ts.Client().Get(ts.URL + "/projects/thesis/documents/doc-1/content")
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	require.Equal(t, http.StatusOK, resp3.StatusCode)

	data, err := io.ReadAll(resp3.Body)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestServerUploadMissingFile(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "no file"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/projects/thesis/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerDuplicateDocument(t *testing.T) {
	ts := newTestServer(t)

	resp := uploadFile(t, ts, "thesis", "doc-1", "a.pdf", []byte("content"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = uploadFile(t, ts, "thesis", "doc-1", "b.pdf", []byte("other"))
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServerTrashAndRestore(t *testing.T) {
	ts := newTestServer(t)

	resp := uploadFile(t, ts, "thesis", "doc-1", "a.pdf", []byte("content"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	listIDs := func(view string) []string {
		resp, err := ts.Client().Get(ts.URL + "/projects/thesis/documents?view=" + view)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Documents []*papervault.Document `json:"documents"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

		ids := make([]string, 0, len(body.Documents))
		for _, d := range body.Documents {
			ids = append(ids, d.ID)
		}
		return ids
	}

	// Trash
	resp = postJSON(t, ts, "/projects/thesis/trash", map[string][]string{"ids": {"doc-1"}})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, listIDs("active"))
	assert.Equal(t, []string{"doc-1"}, listIDs("trashed"))

	// Restore
	resp = postJSON(t, ts, "/projects/thesis/restore", map[string][]string{"ids": {"doc-1"}})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, []string{"doc-1"}, listIDs("active"))

	// Restoring an active document conflicts.
	resp = postJSON(t, ts, "/projects/thesis/restore", map[string][]string{"ids": {"doc-1"}})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServerDocumentNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/projects/thesis/documents/nope")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerAnnotations(t *testing.T) {
	ts := newTestServer(t)

	resp := uploadFile(t, ts, "thesis", "doc-1", "a.pdf", []byte("content"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, ts, "/projects/thesis/documents/doc-1/annotations", map[string]any{
		"kind": "highlight",
		"page": 4,
		"body": "important passage",
	})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created papervault.Annotation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, papervault.AnnotationHighlight, created.Kind)

	resp2, err := ts.Client().Get(ts.URL + "/projects/thesis/documents/doc-1/annotations")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()

	var body struct {
		Annotations []*papervault.Annotation `json:"annotations"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	require.Len(t, body.Annotations, 1)
	assert.Equal(t, "important passage", body.Annotations[0].Body)
}

func TestServerSweep(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/gc", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Contains(t, result, "documents_removed")

	// Status reflects the sweep.
	resp2, err := ts.Client().Get(ts.URL + "/gc")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var status struct {
		LastSweep map[string]any `json:"last_sweep"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&status))
	assert.NotNil(t, status.LastSweep)
}

func TestServerStats(t *testing.T) {
	ts := newTestServer(t)
	content := []byte("counted content")

	resp := uploadFile(t, ts, "thesis", "doc-1", "a.pdf", content)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp2, err := ts.Client().Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var stats struct {
		TotalBlobBytes int64 `json:"total_blob_bytes"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&stats))
	assert.Equal(t, int64(len(content)), stats.TotalBlobBytes)
}

func TestServerFileTooLarge(t *testing.T) {
	srv, err := New(Config{
		DataDir:      t.TempDir(),
		MaxFileBytes: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.db.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := uploadFile(t, ts, "thesis", "", "big.pdf", []byte("definitely more than ten bytes"))
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
