package storage

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"
)

// Bucket is the object store used for checklist documents and chat
// attachments. Private objects are reached through signed download URLs,
// public ones through a stable path.
type Bucket struct {
	store        *LocalStorage
	signer       *SignedURLSigner
	downloadBase string
	publicBase   string
}

// NewBucket wires a bucket onto local storage. downloadBase is the absolute or
// relative URL of the signed download endpoint and publicBase the prefix for
// public objects.
func NewBucket(store *LocalStorage, signer *SignedURLSigner, downloadBase, publicBase string) *Bucket {
	return &Bucket{
		store:        store,
		signer:       signer,
		downloadBase: downloadBase,
		publicBase:   strings.TrimRight(publicBase, "/"),
	}
}

// Upload stores the reader under path.
func (b *Bucket) Upload(path string, r io.Reader) (int64, error) {
	return b.store.SaveStream(path, r)
}

// SignedURL returns a time-limited download URL for path bound to subjectID.
func (b *Bucket) SignedURL(subjectID, path string) (string, time.Time, error) {
	token, expiresAt, err := b.signer.Generate(subjectID, path)
	if err != nil {
		return "", time.Time{}, err
	}
	return fmt.Sprintf("%s?token=%s", b.downloadBase, url.QueryEscape(token)), expiresAt, nil
}

// PublicURL returns the stable URL of a public object.
func (b *Bucket) PublicURL(path string) string {
	return b.publicBase + "/" + strings.TrimPrefix(path, "/")
}

// Resolve validates a download token and returns the object key.
func (b *Bucket) Resolve(token string) (string, error) {
	_, path, _, err := b.signer.Parse(token, false)
	if err != nil {
		return "", err
	}
	return path, nil
}

// Open returns a read handle for path.
func (b *Bucket) Open(path string) (*os.File, error) {
	return b.store.Open(path)
}

// Exists reports whether path is stored.
func (b *Bucket) Exists(path string) bool {
	return b.store.Exists(path)
}

// Delete removes path.
func (b *Bucket) Delete(path string) error {
	return b.store.Delete(path)
}
