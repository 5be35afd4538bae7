package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"qaSynth/internal/checkpoint"
	"qaSynth/internal/dataset"
	"qaSynth/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.toml")}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestHashToken(t *testing.T) {
	out, err := execute(t, "hash-token", "long-enough-token")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("long-enough-token")))

	_, err = execute(t, "hash-token", "short")
	assert.Error(t, err)
}

func TestChunks(t *testing.T) {
	input := filepath.Join(t.TempDir(), "book.txt")
	require.NoError(t, os.WriteFile(input, []byte("one\n\ntwo\nthree\n  \nfour\nfive\n"), 0o644))

	out, err := execute(t, "chunks", input, "--chunk-size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "3 chunks of up to 2 paragraphs")

	out, err = execute(t, "chunks", input, "--chunk-size", "2", "--show", "2")
	require.NoError(t, err)
	assert.Equal(t, "three\nfour\n", out)

	_, err = execute(t, "chunks", input, "--chunk-size", "2", "--show", "9")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.xlsx")
	records := []dataset.QAPair{dataset.NewQAPair("Q1", "A1"), dataset.NewQAPair("Q2", "A2")}
	require.NoError(t, checkpoint.New(path).Save(records, checkpoint.Progress{ChunksDone: 4, ChunkSize: 50, Failed: []int{2}, RunID: "r9"}))

	out, err := execute(t, "inspect", path, "--json", "-n", "1")
	require.NoError(t, err)

	var report inspectReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 4, report.ChunksDone)
	assert.Equal(t, "r9", report.RunID)
	assert.Equal(t, []int{3}, report.FailedChunks)
	assert.Equal(t, []string{"Q1"}, report.Questions)

	_, err = execute(t, "inspect", filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestRun_MissingInput(t *testing.T) {
	t.Setenv("QASYNTH_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	dir := t.TempDir()
	output := filepath.Join(dir, "dataset.xlsx")

	_, err := execute(t, "run", filepath.Join(dir, "absent.txt"), "--output", output, "--errors", filepath.Join(dir, "errors.txt"))

	assert.ErrorIs(t, err, pipeline.ErrInputMissing)
	assert.NoFileExists(t, output)
}

func TestRun_MissingCredential(t *testing.T) {
	t.Setenv("QASYNTH_PROVIDER", "gemini")
	t.Setenv("GENAI_API_KEY", "")
	input := filepath.Join(t.TempDir(), "book.txt")
	require.NoError(t, os.WriteFile(input, []byte("text\n"), 0o644))

	_, err := execute(t, "run", input)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENAI_API_KEY")
}

func TestRunFlags_Override(t *testing.T) {
	cmd := &cobra.Command{}
	flags := bindRunFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--chunk-size", "7", "--fresh", "--delay", "5s", "--retries", "3"}))

	cfg, err := (&rootFlags{configPath: filepath.Join(t.TempDir(), "none.json")}).load()
	require.NoError(t, err)
	cfg.OutputPath = "keep.xlsx"
	flags.apply(cmd, &cfg)

	assert.Equal(t, 7, cfg.ChunkSize)
	assert.False(t, cfg.Resume)
	assert.Equal(t, 3, cfg.AI.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Delay)
	assert.Equal(t, "keep.xlsx", cfg.OutputPath)
}
