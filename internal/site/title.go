// Package site inspects the content of a served directory.
package site

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IndexFile is the page http.FileServer serves for a directory request.
const IndexFile = "index.html"

// Title returns the trimmed <title> of root/index.html.
//
// It returns an empty string and a nil error when the directory has no
// index page or the page has no title, so callers can print the title
// only when there is one.
func Title(root string) (string, error) {
	f, err := os.Open(filepath.Join(root, IndexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", err
	}
	title := doc.Find("head title").First().Text()
	if title == "" {
		title = doc.Find("title").First().Text()
	}
	return strings.Join(strings.Fields(title), " "), nil
}
