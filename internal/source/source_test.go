package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Text(t *testing.T) {
	path := writeFile(t, "book.txt", "\ufeffБиринчи абзац\n\nЭкинчи абзац\n")

	doc, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, path, doc.Path)
	assert.Equal(t, "Биринчи абзац\n\nЭкинчи абзац\n", doc.Text)
}

func TestLoad_UnknownExtensionIsText(t *testing.T) {
	path := writeFile(t, "notes.log", "line")

	doc, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "line", doc.Text)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_Directory(t *testing.T) {
	_, err := Load(t.TempDir())

	assert.Error(t, err)
}

func TestLoad_Markdown(t *testing.T) {
	body := "# Title\n\nFirst paragraph\ncontinues here.\n\n- item one\n- item two\n\n```\ncode\n```\n"
	path := writeFile(t, "book.md", body)

	doc, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "Title\nFirst paragraph continues here.\nitem one\nitem two", doc.Text)
}

func TestLoad_HTML(t *testing.T) {
	body := `<html><head><title>T</title><style>p{}</style></head>
<body><nav><p>menu</p></nav><h1>Heading</h1><p>First <b>bold</b> text</p><ul><li>One</li></ul><script>x()</script></body></html>`
	path := writeFile(t, "page.html", body)

	doc, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "Heading\nFirst bold text\nOne", doc.Text)
}

func TestExists(t *testing.T) {
	path := writeFile(t, "a.txt", "x")

	assert.True(t, Exists(path))
	assert.False(t, Exists(filepath.Dir(path)))
	assert.False(t, Exists(path+".missing"))
}
