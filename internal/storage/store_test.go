package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore_Put(t *testing.T) {
	root := t.TempDir()
	st, err := NewFileStore(root, "http://localhost:8080/objects/")
	require.NoError(t, err)

	url, err := st.Put(context.Background(), "gen-1/character/char-1/main.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/objects/gen-1/character/char-1/main.png?v="))
	require.Equal(t, "?v="+VersionToken([]byte("png-bytes")), url[strings.Index(url, "?"):])

	data, err := os.ReadFile(filepath.Join(root, "gen-1", "character", "char-1", "main.png"))
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))

	// overwrite changes the version token
	url2, err := st.Put(context.Background(), "gen-1/character/char-1/main.png", []byte("new-bytes"), "image/png")
	require.NoError(t, err)
	require.NotEqual(t, url, url2)
}

func TestFileStore_PutRejectsEscapingKeys(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), "/objects")
	require.NoError(t, err)

	for _, key := range []string{"../escape.png", "/abs.png", "a/../../b.png"} {
		_, err := st.Put(context.Background(), key, []byte("x"), "image/png")
		require.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestFileStore_Handler(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), "/objects")
	require.NoError(t, err)

	_, err = st.Put(context.Background(), "gen-1/script/default/main.webp", []byte("webp"), "image/webp")
	require.NoError(t, err)

	srv := httptest.NewServer(http.StripPrefix("/objects", st.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/objects/gen-1/script/default/main.webp")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Cache-Control"), "immutable")
}

func TestVersionToken(t *testing.T) {
	require.Equal(t, VersionToken([]byte("abc")), VersionToken([]byte("abc")))
	require.NotEqual(t, VersionToken([]byte("abc")), VersionToken([]byte("abd")))
	require.NotEmpty(t, VersionToken(nil))
}
