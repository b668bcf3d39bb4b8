package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/sentinel"
)

func TestFileStorePutOpenDelete(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir(), 1024)
	require.NoError(t, err)

	body := "passport scan"
	obj, err := fs.Put(ctx, "user-1", "../../Scan Front.PDF", strings.NewReader(body))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(sum[:]), obj.Checksum)
	assert.Equal(t, int64(len(body)), obj.Size)
	assert.True(t, strings.HasPrefix(obj.Key, "user-1/"))
	assert.True(t, strings.HasSuffix(obj.Key, "-ScanFront.pdf"))
	assert.NotContains(t, obj.Key, "..")

	f, err := fs.Open(ctx, obj.Key)
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, body, string(got))

	require.NoError(t, fs.Delete(ctx, obj.Key))
	require.NoError(t, fs.Delete(ctx, obj.Key))
	_, err = fs.Open(ctx, obj.Key)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestFileStoreRejectsOversizedAndEmpty(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, 4)
	require.NoError(t, err)

	_, err = fs.Put(context.Background(), "u", "big.txt", strings.NewReader("12345"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = fs.Put(context.Background(), "u", "empty.txt", strings.NewReader(""))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	var leftovers []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, _ error) error {
		if d != nil && !d.IsDir() {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	assert.Empty(t, leftovers)
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), 0)
	require.NoError(t, err)
	for _, key := range []string{"", "../etc/passwd", "/etc/passwd", ".."} {
		_, err := fs.Open(context.Background(), key)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest), key)
	}
}
