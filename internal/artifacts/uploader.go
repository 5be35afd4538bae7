package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ErrUploaderDisabled indicates that publishing is not configured.
var ErrUploaderDisabled = errors.New("artifact uploader disabled")

// UploadInput wraps the payload required for persisting a file.
type UploadInput struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
}

// UploadResult captures the canonical object key and its accessible URL.
type UploadResult struct {
	Key string
	URL string
}

// Uploader hides the backing implementation for storing files.
type Uploader interface {
	Upload(ctx context.Context, input UploadInput) (UploadResult, error)
}

type disabledUploader struct{}

func (disabledUploader) Upload(_ context.Context, _ UploadInput) (UploadResult, error) {
	return UploadResult{}, ErrUploaderDisabled
}

// Disabled returns an uploader that always signals disabled uploads.
func Disabled() Uploader {
	return disabledUploader{}
}

// Publisher pushes finished run outputs through an Uploader.
type Publisher struct {
	uploader Uploader
}

// NewPublisher wraps u. A nil uploader behaves like Disabled.
func NewPublisher(u Uploader) *Publisher {
	if u == nil {
		u = Disabled()
	}
	return &Publisher{uploader: u}
}

// Enabled reports whether Publish will actually upload anything.
func (p *Publisher) Enabled() bool {
	if p == nil {
		return false
	}
	_, disabled := p.uploader.(disabledUploader)
	return !disabled
}

// Publish uploads each existing file in paths. Missing files are skipped.
func (p *Publisher) Publish(ctx context.Context, paths ...string) ([]UploadResult, error) {
	if !p.Enabled() {
		return nil, nil
	}

	var results []UploadResult
	for _, path := range paths {
		if path == "" {
			continue
		}
		res, err := p.publishFile(ctx, path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Publisher) publishFile(ctx context.Context, path string) (UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return UploadResult{}, fmt.Errorf("stat %s: %w", path, err)
	}

	res, err := p.uploader.Upload(ctx, UploadInput{
		Filename:    filepath.Base(path),
		ContentType: ContentType(path),
		Body:        f,
		Size:        info.Size(),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return res, nil
}

// ContentType guesses the MIME type from the file extension.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".txt", ".log":
		return "text/plain; charset=utf-8"
	case ".jsonl":
		return "application/x-ndjson"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
