package chunk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
)

const multipartMemory = 32 << 20

// Handler exposes chunk upload and merge over HTTP.
type Handler struct {
	r        *Reassembler
	log      *slog.Logger
	maxBytes int64
}

// NewHandler returns a Handler. maxBytes bounds one chunk request body; zero
// disables the limit.
func NewHandler(r *Reassembler, log *slog.Logger, maxBytes int64) *Handler {
	return &Handler{r: r, log: log, maxBytes: maxBytes}
}

type errorResponse struct {
	Error string `json:"error"`
}

// UploadChunk handles POST /upload/large-file. The first file of the multipart
// "files" field is staged under the form field "name".
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := r.FormValue("name")
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: no file uploaded", ErrValidation))
		return
	}
	if err := ValidateName(name); err != nil {
		h.writeError(w, r, err)
		return
	}

	tmp, err := h.spool(files[0])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.r.Put(r.Context(), Incoming{Path: tmp, Name: name})
	if err != nil {
		os.Remove(tmp)
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// spool copies the uploaded part into a temporary file under the staging
// root, so the later move into the staging directory is a rename.
func (h *Handler) spool(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(h.r.opts.StagingRoot, 0o755); err != nil {
		return "", fmt.Errorf("create staging root: %w", err)
	}
	f, err := os.CreateTemp(h.r.opts.StagingRoot, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("store chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("store chunk: %w", err)
	}
	return f.Name(), nil
}

// MergeFile handles GET /merge/file?fileName=.
func (h *Handler) MergeFile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("fileName")
	if name == "" {
		h.writeError(w, r, fmt.Errorf("%w: fileName is required", ErrValidation))
		return
	}
	res, err := h.r.Merge(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusResponse struct {
	Name  string `json:"name"`
	State State  `json:"state"`
}

// MergeStatus handles GET /merge/status?fileName=. Like MergeFile it accepts
// the staging directory name as an alias.
func (h *Handler) MergeStatus(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("fileName")
	if err := ValidateName(name); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, ok := h.r.Status(name)
	if b, cut := strings.CutPrefix(name, stagingPrefix); !ok && cut && b != "" {
		if st, ok = h.r.Status(b); ok {
			name = b
		}
	}
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: %s", ErrNotFound, name))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Name: name, State: st})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrMergeInProgress):
		status = http.StatusConflict
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("chunk request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	} else {
		h.log.Info("chunk request rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
