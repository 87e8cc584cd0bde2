package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// Cache-Control values for the dashboard bundle.
const (
	cacheImmutable = "public, max-age=31536000, immutable"
	cacheShort     = "public, max-age=3600"
	cacheNever     = "no-cache, no-store, must-revalidate"
)

// routedPrefixes are owned by the mux. A request under one of them that falls
// through to the dashboard handler is an unknown endpoint, not a client route.
var routedPrefixes = []string{"/api/", "/auth/"}

// newSPAHandler serves the dashboard bundle. Paths that name a file in fsys
// are served as-is; anything else gets index.html so the client router can
// resolve /runs/{id} and /heatmap/{domain} deep links.
func newSPAHandler(fsys fs.FS) http.Handler {
	files := http.FileServerFS(fsys)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean("/" + r.URL.Path)

		if ownedByMux(p) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "endpoint not found")
			return
		}

		name := strings.TrimPrefix(p, "/")
		if name != "" && name != "index.html" {
			if info, err := fs.Stat(fsys, name); err == nil && !info.IsDir() {
				w.Header().Set("Cache-Control", cachePolicy(p))
				files.ServeHTTP(w, r)
				return
			}
		}

		r.URL.Path = "/"
		w.Header().Set("Cache-Control", cacheNever)
		http.ServeFileFS(w, r, fsys, "index.html")
	})
}

func ownedByMux(p string) bool {
	if p == "/mcp" {
		return true
	}
	for _, prefix := range routedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// cachePolicy picks the Cache-Control value for a static file. The bundler
// content-hashes everything it writes under /assets/.
func cachePolicy(p string) string {
	if strings.HasPrefix(p, "/assets/") {
		return cacheImmutable
	}
	return cacheShort
}
