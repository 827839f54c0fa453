// Package store is the artifact persistence boundary. Writes are
// idempotent under retry: the same logical key is overwritten, never
// duplicated.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store persists run artifacts (clips, audio track, stitched video,
// report) under logical keys and resolves references back to local files.
type Store interface {
	// PutFile uploads path under key and returns the artifact reference.
	PutFile(ctx context.Context, key, path, contentType string) (string, error)
	// PutBytes uploads an in-memory artifact under key.
	PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Fetch copies the artifact behind ref to dest.
	Fetch(ctx context.Context, ref, dest string) error
}

// LocalStore keeps artifacts under a root directory. Used by the CLI and
// in development; references are plain file paths.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &LocalStore{Root: root}, nil
}

func (s *LocalStore) PutFile(ctx context.Context, key, path, contentType string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	return s.put(key, src)
}

func (s *LocalStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return s.put(key, bytes.NewReader(data))
}

func (s *LocalStore) put(key string, src io.Reader) (string, error) {
	dest := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *LocalStore) Fetch(ctx context.Context, ref, dest string) error {
	src, err := os.Open(ref)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}
