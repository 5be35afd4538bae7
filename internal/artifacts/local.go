package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalUploader copies artifacts into a directory, one timestamped copy per upload.
type LocalUploader struct {
	BaseDir string
	now     func() time.Time
}

// NewLocalUploader constructs an uploader that writes to the provided directory.
func NewLocalUploader(baseDir string) (*LocalUploader, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local artifact dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create local artifact dir: %w", err)
	}
	return &LocalUploader{BaseDir: baseDir, now: time.Now}, nil
}

// Upload writes the content to BaseDir and returns the absolute path as the key.
func (l *LocalUploader) Upload(_ context.Context, input UploadInput) (UploadResult, error) {
	if input.Body == nil {
		return UploadResult{}, fmt.Errorf("upload body is required")
	}

	base := filepath.Base(input.Filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" || stem == "." {
		stem = "artifact"
	}
	name := fmt.Sprintf("%s-%s%s", stem, l.now().UTC().Format("20060102T150405"), ext)

	tmpFile, err := os.CreateTemp(l.BaseDir, ".upload-*")
	if err != nil {
		return UploadResult{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()

	if _, err := io.Copy(tmpFile, input.Body); err != nil {
		tmpFile.Close()
		os.Remove(tmpName)
		return UploadResult{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpName)
		return UploadResult{}, fmt.Errorf("close temp file: %w", err)
	}

	dest := filepath.Join(l.BaseDir, name)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return UploadResult{}, fmt.Errorf("move artifact: %w", err)
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	return UploadResult{Key: abs, URL: "file://" + filepath.ToSlash(abs)}, nil
}
