// Package storage keeps uploaded payment receipts on local disk.
// Uploads are validated by extension and file signature, not just the
// client-provided content type.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxUploadSize caps receipt uploads at 10 MB.
const MaxUploadSize = 10 << 20

var (
	ErrFileTooLarge    = errors.New("file exceeds the 10 MB upload limit")
	ErrUnsupportedFile = errors.New("unsupported file type: only jpeg, png, and pdf receipts are accepted")
)

// signatures are the magic bytes a receipt must start with, keyed by
// the extensions that may carry them.
var signatures = map[string][][]byte{
	".jpg":  {{0xFF, 0xD8, 0xFF}},
	".jpeg": {{0xFF, 0xD8, 0xFF}},
	".png":  {{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	".pdf":  {{0x25, 0x50, 0x44, 0x46}},
}

// FileStore writes receipts under root/receipts with random names, so
// an uploaded filename never touches the filesystem.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "receipts"), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Save validates and stores one upload, returning the relative path to
// keep on the order.
func (s *FileStore) Save(ctx context.Context, r io.Reader, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	allowed, ok := signatures[ext]
	if !ok {
		return "", ErrUnsupportedFile
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return "", ErrFileTooLarge
	}

	if !matchesSignature(data, allowed) {
		return "", ErrUnsupportedFile
	}

	rel := filepath.Join("receipts", uuid.NewString()+ext)
	if err := os.WriteFile(filepath.Join(s.root, rel), data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return rel, nil
}

// Open returns the stored receipt for serving or inspection.
func (s *FileStore) Open(rel string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, rel))
	if err != nil {
		return nil, fmt.Errorf("open receipt %s: %w", rel, err)
	}
	return f, nil
}

// Delete removes a stored receipt; deleting a missing file is not an
// error.
func (s *FileStore) Delete(rel string) error {
	err := os.Remove(filepath.Join(s.root, rel))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete receipt %s: %w", rel, err)
	}
	return nil
}

func matchesSignature(data []byte, allowed [][]byte) bool {
	for _, sig := range allowed {
		if len(data) >= len(sig) && bytes.Equal(data[:len(sig)], sig) {
			return true
		}
	}
	return false
}
