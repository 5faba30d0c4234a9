package storage

import (
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T) *Bucket {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewBucket(store, NewSignedURLSigner("secret", time.Hour), "/api/v1/files/download", "http://localhost:8080/api/v1/files/public/")
}

func TestBucketUploadSignAndResolve(t *testing.T) {
	bucket := newTestBucket(t)

	n, err := bucket.Upload("s1/i1/1700000000000.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.True(t, bucket.Exists("s1/i1/1700000000000.txt"))

	signed, _, err := bucket.SignedURL("doc-1", "s1/i1/1700000000000.txt")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed, "/api/v1/files/download?token="))

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	path, err := bucket.Resolve(parsed.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "s1/i1/1700000000000.txt", path)

	file, err := bucket.Open(path)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, bucket.Delete(path))
	assert.False(t, bucket.Exists(path))
	require.NoError(t, bucket.Delete(path))
}

func TestBucketPublicURL(t *testing.T) {
	bucket := newTestBucket(t)
	assert.Equal(t, "http://localhost:8080/api/v1/files/public/chat/a.png", bucket.PublicURL("/chat/a.png"))
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("../outside.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = store.Open("")
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.False(t, store.Exists("../../etc/passwd"))
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	_, err = store.Save("reports/old.csv", []byte("a,b"))
	require.NoError(t, err)

	deleted, err := store.CleanupOlderThan(-time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"reports/old.csv"}, deleted)
}
