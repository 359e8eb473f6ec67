package httpx

import (
	"net/http"
	"path"
	"strings"
)

// StaticHLS serves a packaged HLS tree from root. Responses are never cached,
// directory listings are refused and ffmpeg key-info files are hidden.
func StaticHLS(root string) http.Handler {
	return fileServer(root, func(w http.ResponseWriter, r *http.Request) bool {
		switch strings.ToLower(path.Ext(r.URL.Path)) {
		case ".keyinfo":
			return false
		case ".m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		case ".ts":
			w.Header().Set("Content-Type", "video/mp2t")
		case ".key":
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.Header().Set("Cache-Control", "no-cache")
		return true
	})
}

// StaticFiles serves uploaded and merged files from root. Directory listings
// are refused and merges still being written are hidden.
func StaticFiles(root string) http.Handler {
	return fileServer(root, func(w http.ResponseWriter, r *http.Request) bool {
		return !strings.HasSuffix(r.URL.Path, ".partial")
	})
}

// fileServer wraps http.FileServer. visible sets per-file headers and reports
// whether the file may be served at all.
func fileServer(root string, visible func(http.ResponseWriter, *http.Request) bool) http.Handler {
	files := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !visible(w, r) {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
