// Package images stores downloaded cover images on the local filesystem.
// The website serves them by the filename recorded on the book.
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const downloadTimeout = 30 * time.Second

var extensionByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store writes cover images into one directory.
type Store struct {
	dir    string
	client *http.Client
}

// NewStore builds a Store, creating the directory if needed. A nil client
// gets a default with a sane timeout.
func NewStore(dir string, client *http.Client) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &Store{dir: dir, client: client}, nil
}

// Download fetches the image and stores it as <bookID><ext>, returning the
// filename. The write goes through a temp file so a failed download never
// leaves a truncated image behind.
func (s *Store) Download(ctx context.Context, bookID int64, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image %s: %w", imageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch image %s: unexpected status %d", imageURL, resp.StatusCode)
	}

	filename := fmt.Sprintf("%d%s", bookID, extension(resp.Header.Get("Content-Type"), imageURL))
	tmp, err := os.CreateTemp(s.dir, "download-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, filename)); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return filename, nil
}

func extension(contentType, imageURL string) string {
	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if ext, ok := extensionByType[strings.TrimSpace(mediaType)]; ok {
		return ext
	}
	if u, err := url.Parse(imageURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}
	return ".jpg"
}
