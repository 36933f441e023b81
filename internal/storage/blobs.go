package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// BlobStore stores audio payloads and returns a retrievable reference.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Handles(ref string) bool
}

// InlineStore encodes audio as a data URL kept in the memo document itself.
type InlineStore struct{}

func (InlineStore) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (InlineStore) Get(ctx context.Context, ref string) ([]byte, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	_, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data URL: %w", err)
	}
	return data, nil
}

func (InlineStore) Handles(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}

// Blobs writes to one store and reads from whichever store issued a
// reference, so memos saved under an earlier configuration stay readable.
type Blobs struct {
	primary BlobStore
	all     []BlobStore
}

// NewBlobs creates a router writing to primary. others are read-only.
func NewBlobs(primary BlobStore, others ...BlobStore) *Blobs {
	return &Blobs{primary: primary, all: append([]BlobStore{primary}, others...)}
}

func (b *Blobs) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	return b.primary.Put(ctx, key, data, mimeType)
}

func (b *Blobs) Get(ctx context.Context, ref string) ([]byte, error) {
	for _, s := range b.all {
		if s.Handles(ref) {
			return s.Get(ctx, ref)
		}
	}
	return nil, fmt.Errorf("no blob store for reference %.32q", ref)
}
