// Package storage keeps uploaded document files on local disk and signs
// short-lived download grants for them.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/sentinel"
)

// Object describes a stored file.
type Object struct {
	Key      string
	Size     int64
	Checksum string
}

// FileStore writes files under a root directory. Keys are relative slash
// paths generated by Put; callers never choose them.
type FileStore struct {
	dir     string
	maxSize int64
}

func NewFileStore(dir string, maxSize int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, maxSize: maxSize}, nil
}

// Put streams r to disk while hashing it. The file is written to a temp path,
// synced, then renamed into place. Uploads over the size limit are removed
// and rejected.
func (s *FileStore) Put(ctx context.Context, prefix, fileName string, r io.Reader) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := objectKey(prefix, fileName, time.Now())
	fullPath := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	src := io.TeeReader(r, hasher)
	if s.maxSize > 0 {
		src = io.LimitReader(src, s.maxSize+1)
	}
	size, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write object: %w", err)
	}
	if s.maxSize > 0 && size > s.maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("file exceeds the %d byte limit", s.maxSize))
	}
	if size == 0 {
		f.Close()
		os.Remove(tmpPath)
		return nil, dErrors.New(dErrors.CodeValidation, "file is empty")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("sync object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename object: %w", err)
	}

	return &Object{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open returns the file for key. The caller closes it.
func (s *FileStore) Open(_ context.Context, key string) (*os.File, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

// Delete removes key. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid object key")
	}
	return filepath.Join(s.dir, clean), nil
}

// objectKey builds prefix/YYYY/MM/<uuid>-<name>.
func objectKey(prefix, fileName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	name := sanitize(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)))
	if len(name) > 50 {
		name = name[:50]
	}
	if ext != "" {
		ext = "." + sanitize(strings.TrimPrefix(ext, "."))
	}
	return fmt.Sprintf("%s/%s/%s-%s%s", sanitize(prefix), now.UTC().Format("2006/01"), uuid.NewString(), name, ext)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
