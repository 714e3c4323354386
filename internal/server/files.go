package server

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/f4ah6o/termserve/internal/site"
)

// fileHandler serves root like http.FileServer, except that requests for
// an index page are answered with the page itself instead of a redirect to
// its directory.
func fileHandler(root string) http.Handler {
	dir := http.Dir(root)
	files := http.FileServer(dir)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/"+site.IndexFile) {
			files.ServeHTTP(w, r)
			return
		}

		f, err := dir.Open(r.URL.Path)
		if err != nil {
			serveError(w, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			serveError(w, err)
			return
		}
		if info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

// serveError maps a file error to the status http.FileServer would use.
func serveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "404 page not found", http.StatusNotFound)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, "403 Forbidden", http.StatusForbidden)
	default:
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
	}
}
