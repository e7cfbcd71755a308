package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Static serves presentation assets from a directory.
type Static struct {
	root string
}

// NewStatic returns a Static rooted at dir.
func NewStatic(dir string) *Static {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	return &Static{root: abs}
}

// resolve maps a URL path onto the served root. It reports false when the
// resolved location escapes the root.
func (s *Static) resolve(urlPath string) (string, bool) {
	if urlPath == "" || urlPath == "/" {
		urlPath = "/index.html"
	}
	if strings.Contains(urlPath, "\\") || strings.Contains(urlPath, "\x00") {
		return "", false
	}
	resolved := filepath.Join(s.root, filepath.FromSlash(urlPath))
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return resolved, true
}

func (s *Static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name, ok := s.resolve(r.URL.Path)
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	f, err := os.Open(name)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	// ServeContent picks the Content-Type from the extension.
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
