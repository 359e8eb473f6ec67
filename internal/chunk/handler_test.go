package chunk

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"hls-packager/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunkRouter(rig *testRig) http.Handler {
	h := NewHandler(rig.r, logger.Discard(), 0)
	r := chi.NewRouter()
	r.Post("/upload/large-file", h.UploadChunk)
	r.Get("/merge/file", h.MergeFile)
	r.Get("/merge/status", h.MergeStatus)
	return r
}

func chunkRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("files", "blob")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/large-file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandler_upload_then_merge(t *testing.T) {
	rig := newRig(t)
	router := newChunkRouter(rig)

	for _, c := range []struct {
		name string
		data string
	}{{"video.mp4-1", "world"}, {"video.mp4-0", "hello "}} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, chunkRequest(t, c.name, []byte(c.data)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var got Chunk
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, c.name, got.Name)
		assert.Equal(t, int64(len(c.data)), got.Size)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/merge/file?fileName=video.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res MergeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(11), res.Size)
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestHandler_upload_rejections(t *testing.T) {
	rig := newRig(t)
	router := newChunkRouter(rig)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"missing_file", chunkRequest(t, "a-0", nil), http.StatusBadRequest},
		{"missing_name", chunkRequest(t, "", []byte("x")), http.StatusBadRequest},
		{"path_in_name", chunkRequest(t, "../a-0", []byte("x")), http.StatusBadRequest},
		{"not_multipart", httptest.NewRequest(http.MethodPost, "/upload/large-file", bytes.NewBufferString("x")), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	entries, err := os.ReadDir(rig.r.opts.StagingRoot)
	if err == nil {
		assert.Empty(t, entries, "rejected uploads must not leave files behind")
	}
}

func TestHandler_merge_errors(t *testing.T) {
	rig := newRig(t)
	router := newChunkRouter(rig)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/merge/file", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/merge/file?fileName=ghost.mp4", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rig.put(t, "busy.mp4-0", []byte("x"))
	e := rig.r.entry("busy.mp4")
	e.busy.Lock()
	defer e.busy.Unlock()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/merge/file?fileName=busy.mp4", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_merge_status(t *testing.T) {
	rig := newRig(t)
	router := newChunkRouter(rig)
	status := func(name string) (int, statusResponse) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/merge/status?fileName="+name, nil))
		var got statusResponse
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		}
		return rec.Code, got
	}

	code, _ := status("clip.mov")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = status("")
	assert.Equal(t, http.StatusBadRequest, code)

	rig.put(t, "clip.mov-0", []byte("x"))
	code, got := status("clip.mov")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusResponse{Name: "clip.mov", State: StateCollecting}, got)

	_, err := rig.r.Merge(context.Background(), "clip.mov")
	require.NoError(t, err)
	code, got = status("chunk-clip.mov")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusResponse{Name: "clip.mov", State: StateMerged}, got)
}
