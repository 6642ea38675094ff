// Package blobstore keeps the sealed payloads that data registry entries
// point at. Stored blobs are addressed by a storage pointer of the form
// blob://<id>.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medledger/internal/platform/kv"
)

var (
	ErrBlobNotFound   = errors.New("blob not found")
	ErrFileTooLarge   = errors.New("blob exceeds maximum allowed size")
	ErrInvalidPointer = errors.New("not a blob storage pointer")
)

// MaxFileSize is the maximum allowed blob size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

const pointerScheme = "blob://"

// BlobMetadata describes a stored blob. Hash is the SHA-256 of the stored
// bytes, which for sealed payloads is the ciphertext.
type BlobMetadata struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	PatientID   string    `json:"patient_id,omitempty"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

// Pointer returns the storage pointer for the blob.
func (m *BlobMetadata) Pointer() string {
	return pointerScheme + m.ID
}

// ParsePointer extracts the blob id from a storage pointer.
func ParsePointer(ptr string) (string, error) {
	if !strings.HasPrefix(ptr, pointerScheme) || len(ptr) == len(pointerScheme) {
		return "", ErrInvalidPointer
	}
	return strings.TrimPrefix(ptr, pointerScheme), nil
}

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
}

func readContent(meta *BlobMetadata, content io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	h := sha256.Sum256(data)
	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = time.Now().UTC()
	return data, nil
}

type storedBlob struct {
	Metadata BlobMetadata `json:"metadata"`
	Content  []byte       `json:"content"`
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := readContent(&meta, content)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{Metadata: meta, Content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.Metadata
	return io.NopCloser(bytes.NewReader(blob.Content)), &meta, nil
}

// Delete removes a blob by ID.
func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

const blobBucket = "blob"

// LevelDBBlobStore keeps blobs in the embedded ledger store.
type LevelDBBlobStore struct {
	store *kv.Store
}

func NewLevelDBBlobStore(store *kv.Store) *LevelDBBlobStore {
	return &LevelDBBlobStore{store: store}
}

func (s *LevelDBBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := readContent(&meta, content)
	if err != nil {
		return nil, err
	}
	err = s.store.Write(func(b *kv.Batch) error {
		return b.PutJSON(kv.Key(blobBucket, meta.ID), storedBlob{Metadata: meta, Content: data})
	})
	if err != nil {
		return nil, err
	}
	out := meta
	return &out, nil
}

func (s *LevelDBBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	var blob storedBlob
	ok, err := s.store.GetJSON(kv.Key(blobBucket, id), &blob)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.Content)), &blob.Metadata, nil
}

func (s *LevelDBBlobStore) Delete(_ context.Context, id string) error {
	key := kv.Key(blobBucket, id)
	ok, err := s.store.Has(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBlobNotFound
	}
	return s.store.Write(func(b *kv.Batch) error {
		b.Delete(key)
		return nil
	})
}
