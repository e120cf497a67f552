package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadStoresImage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, err := NewStore(dir, srv.Client())
	require.NoError(t, err)

	filename, err := s.Download(context.Background(), 7, srv.URL+"/covers/7")
	require.NoError(t, err)
	require.Equal(t, "7.jpg", filename)

	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(data))
}

func TestDownloadExtensionFromURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	s, err := NewStore(t.TempDir(), srv.Client())
	require.NoError(t, err)

	filename, err := s.Download(context.Background(), 8, srv.URL+"/covers/8.png")
	require.NoError(t, err)
	require.Equal(t, "8.png", filename)
}

func TestDownloadNon2xxFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, err := NewStore(dir, srv.Client())
	require.NoError(t, err)

	_, err = s.Download(context.Background(), 9, srv.URL+"/gone.jpg")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExtensionFallback(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".jpg", extension("image/jpeg; charset=binary", "http://x/img"))
	require.Equal(t, ".webp", extension("image/webp", "http://x/img"))
	require.Equal(t, ".gif", extension("", "http://x/cover.gif"))
	require.Equal(t, ".jpg", extension("text/html", "http://x/cover"))
}
