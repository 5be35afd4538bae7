// Package source loads input documents and flattens them to paragraph-per-line text.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the input document does not exist.
var ErrNotFound = fmt.Errorf("input document not found: %w", os.ErrNotExist)

// Document is the raw text of one input file.
type Document struct {
	Path string
	Text string
}

type reader func(path string) (string, error)

var readers = map[string]reader{
	".md":       readMarkdown,
	".markdown": readMarkdown,
	".html":     readHTML,
	".htm":      readHTML,
	".pdf":      readPDF,
	".docx":     readDOCX,
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the document at path. Any extension without a dedicated reader is read as UTF-8 text.
func Load(path string) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return Document{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Document{}, fmt.Errorf("%s is a directory", path)
	}

	read, ok := readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		read = readText
	}
	text, err := read(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Document{Path: path, Text: text}, nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}
