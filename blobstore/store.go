package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the durable object storage collaborator. The orchestrator only
// ever puts; reads happen in other systems.
type Store interface {
	Put(ctx context.Context, bucket, remotePath string, data []byte) error
}

// FileStore writes objects under a local root, one directory per bucket.
// Production deployments point Root at a mounted durable volume.
type FileStore struct {
	Root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

func (s *FileStore) Put(_ context.Context, bucket, remotePath string, data []byte) error {
	dest := filepath.Join(s.Root, bucket, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("blobstore put %s/%s: %w", bucket, remotePath, err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("blobstore put %s/%s: %w", bucket, remotePath, err)
	}
	return nil
}
