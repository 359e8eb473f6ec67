package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"hls-packager/internal/media"
	"hls-packager/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// multipartOverhead is the body allowance for multipart headers and
// boundaries on top of a size-capped file.
const multipartOverhead = 64 << 10

// AllowedVideoExtensions are the upload extensions accepted by UploadVideo.
var AllowedVideoExtensions = []string{".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v", ".ts", ".flv"}

// AllowedImageExtensions are the upload extensions accepted by UploadImage.
var AllowedImageExtensions = []string{".jpg", ".png", ".gif"}

// MaxImageBytes bounds one image accepted by UploadImage.
const MaxImageBytes = 3 << 20

// HandlerConfig holds transport-level limits for uploads.
type HandlerConfig struct {
	UploadDir      string
	MaxUploadBytes int64
	// UploadURLPrefix is where UploadDir is served, e.g. "/uploads".
	UploadURLPrefix string
}

// Handler exposes the transcoding pipeline over HTTP using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     HandlerConfig
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, cfg HandlerConfig) *Handler {
	return &Handler{svc: svc, log: log, metrics: m, cfg: cfg}
}

type uploadResponse struct {
	Message string `json:"message"`
	*Result
}

type imageResponse struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// UploadVideo handles POST /video/upload with a multipart "file" field.
// The request blocks until the asset is packaged or the pipeline fails.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}

	id, path, err := h.storeUpload(r, videoRule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Process(r.Context(), Source{ID: id, Path: path})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Message: "Upload and conversion successful", Result: res})
}

// UploadImage handles POST /upload with a multipart "file" field holding a
// small image. The image is stored in the upload directory as is.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart envelope; the file itself is checked below.
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes+multipartOverhead)

	_, path, err := h.storeUpload(r, imageRule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := imageResponse{Path: path}
	if h.cfg.UploadURLPrefix != "" {
		resp.URL = strings.TrimRight(h.cfg.UploadURLPrefix, "/") + "/" + filepath.Base(path)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetAsset handles GET /videos/{asset_id}.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id := AssetID(chi.URLParam(r, "asset_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	asset, ok := h.svc.Asset(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: ErrAssetNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// uploadRule restricts what storeUpload accepts. maxBytes of zero leaves the
// size to the request body limit.
type uploadRule struct {
	extensions []string
	maxBytes   int64
}

var (
	videoRule = uploadRule{extensions: AllowedVideoExtensions}
	imageRule = uploadRule{extensions: AllowedImageExtensions, maxBytes: MaxImageBytes}
)

// storeUpload validates the multipart "file" field and copies it into the
// upload directory under a fresh id.
func (h *Handler) storeUpload(r *http.Request, rule uploadRule) (AssetID, string, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return "", "", fmt.Errorf("%w: upload exceeds %d bytes", ErrValidation, mbe.Limit)
		}
		return "", "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", fmt.Errorf("%w: no file uploaded", ErrValidation)
	}
	defer file.Close()

	ext, err := validateFile(header.Filename, header.Size, rule.extensions)
	if err != nil {
		return "", "", err
	}
	if rule.maxBytes > 0 && header.Size > rule.maxBytes {
		return "", "", fmt.Errorf("%w: file exceeds %d bytes", ErrValidation, rule.maxBytes)
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}
	id := AssetID(uuid.NewString())
	dst := filepath.Join(h.cfg.UploadDir, string(id)+ext)

	out, err := os.Create(dst)
	if err != nil {
		return "", "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dst)
		return "", "", fmt.Errorf("store upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", "", fmt.Errorf("store upload: %w", err)
	}

	h.log.Debug("upload stored",
		slog.String("id", string(id)),
		slog.String("filename", header.Filename),
		slog.Int64("size", header.Size))
	return id, dst, nil
}

// ValidateUpload checks a video upload's original file name and size, and
// returns the normalised extension.
func ValidateUpload(filename string, size int64) (string, error) {
	return validateFile(filename, size, AllowedVideoExtensions)
}

func validateFile(filename string, size int64, allowed []string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(allowed, ext) {
		return "", fmt.Errorf("%w: extension %q not allowed", ErrValidation, ext)
	}
	if size <= 0 {
		return "", fmt.Errorf("%w: empty file", ErrValidation)
	}
	return ext, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var pe *media.ProbeError
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.As(err, &pe):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrAssetExists):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	switch {
	case status == http.StatusServiceUnavailable:
		h.log.Warn("upload canceled", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	case status >= http.StatusInternalServerError:
		h.log.Error("upload failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	default:
		h.log.Info("upload rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
