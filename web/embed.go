// Package web embeds the TruthGuard chat widget.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// apiPrefixes are never answered with the widget page.
var apiPrefixes = []string{"/api/", "/ws/"}

type widgetHandler struct {
	assets fs.FS
	files  http.Handler
}

// SPAHandler serves the widget assets. Unknown paths get index.html so
// client-side routes survive a reload, except under /api/ and /ws/ which 404.
func SPAHandler() http.Handler {
	assets, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return &widgetHandler{assets: assets, files: http.FileServer(http.FS(assets))}
}

func (h *widgetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, prefix := range apiPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) || r.URL.Path == strings.TrimSuffix(prefix, "/") {
			http.NotFound(w, r)
			return
		}
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name != "" && h.exists(name) {
		h.files.ServeHTTP(w, r)
		return
	}

	// The page embeds no version, so browsers must revalidate it.
	w.Header().Set("Cache-Control", "no-cache")
	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	h.files.ServeHTTP(w, r2)
}

func (h *widgetHandler) exists(name string) bool {
	info, err := fs.Stat(h.assets, name)
	return err == nil && !info.IsDir()
}
