package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_LocalCopiesExistingFiles(t *testing.T) {
	src := t.TempDir()
	xlsx := filepath.Join(src, "dataset.xlsx")
	require.NoError(t, os.WriteFile(xlsx, []byte("workbook"), 0o644))

	dest := filepath.Join(t.TempDir(), "published")
	uploader, err := NewLocalUploader(dest)
	require.NoError(t, err)
	uploader.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	pub := NewPublisher(uploader)
	require.True(t, pub.Enabled())

	results, err := pub.Publish(context.Background(), xlsx, filepath.Join(src, "errors.txt"), "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, strings.HasSuffix(results[0].Key, "dataset-20260102T030405.xlsx"))

	raw, err := os.ReadFile(results[0].Key)
	require.NoError(t, err)
	assert.Equal(t, "workbook", string(raw))
}

func TestPublisher_DisabledIsNoop(t *testing.T) {
	pub := NewPublisher(nil)

	results, err := pub.Publish(context.Background(), "dataset.xlsx")

	assert.False(t, pub.Enabled())
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewUploader_Selection(t *testing.T) {
	ctx := context.Background()

	u, err := NewUploader(ctx, Config{})
	require.NoError(t, err)
	_, err = u.Upload(ctx, UploadInput{})
	assert.ErrorIs(t, err, ErrUploaderDisabled)

	u, err = NewUploader(ctx, Config{LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalUploader{}, u)
}

func TestBuildKeyAndURL(t *testing.T) {
	assert.Equal(t, "runs/abc/dataset.xlsx", buildKey("runs", "abc", "/tmp/dataset.xlsx"))
	assert.Equal(t, "abc/artifact", buildKey("", "abc", ""))
	assert.Equal(t, "https://b.s3.eu-north-1.amazonaws.com/k", objectURL("", "b", "eu-north-1", "k"))
	assert.Equal(t, "http://minio:9000/b/k", objectURL("http://minio:9000/b", "b", "", "k"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ContentType("a.XLSX"))
	assert.Equal(t, "text/plain; charset=utf-8", ContentType("errors.txt"))
	assert.Equal(t, "application/octet-stream", ContentType("blob"))
}
