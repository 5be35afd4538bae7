package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"qaSynth/internal/artifacts"
	"qaSynth/internal/checkpoint"
	"qaSynth/internal/dataset"
	"qaSynth/internal/errlog"
	"qaSynth/internal/events"
	"qaSynth/internal/extract"
	"qaSynth/internal/llm"
	"qaSynth/internal/prompts"
	"qaSynth/internal/storage"
)

type fakeClient struct {
	mu      sync.Mutex
	prompts []string
	respond func(call int, prompt string) (string, error)
}

func (f *fakeClient) ChatCompletion(_ context.Context, messages []llm.ChatMessage, _ float64) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	call := len(f.prompts)
	f.mu.Unlock()
	return f.respond(call, messages[len(messages)-1].Content)
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// chunkOf returns the paragraph a prompt was built from.
func chunkOf(prompt string) string {
	_, text, _ := strings.Cut(prompt, prompts.DefaultSeparator)
	return text
}

func pairFor(paragraph string) string {
	return fmt.Sprintf(`[{"question": "Q %s", "answer": "A %s"}]`, paragraph, paragraph)
}

type recordedSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

type fixture struct {
	dir     string
	input   string
	output  string
	errors  string
	store   *checkpoint.Store
	errLog  *errlog.Log
	sleeper *recordedSleep
}

func newFixture(t *testing.T, paragraphs int) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		dir:     dir,
		input:   filepath.Join(dir, "book.txt"),
		output:  filepath.Join(dir, "dataset.xlsx"),
		errors:  filepath.Join(dir, "errors.txt"),
		sleeper: &recordedSleep{},
	}
	fx.store = checkpoint.New(fx.output)
	fx.errLog = errlog.New(fx.errors)

	if paragraphs > 0 {
		var b strings.Builder
		for i := 1; i <= paragraphs; i++ {
			fmt.Fprintf(&b, "para-%d\n\n", i)
		}
		require.NoError(t, os.WriteFile(fx.input, []byte(b.String()), 0o644))
	}
	return fx
}

func (fx fixture) options(client llm.Client) Options {
	return Options{
		InputPath:    fx.input,
		Client:       client,
		Checkpointer: fx.store,
		ErrorLog:     fx.errLog,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RunID:        "run-test",
		ChunkSize:    1,
		Delay:        30 * time.Second,
		Resume:       true,
		Temperature:  1,
		Sleep:        fx.sleeper.sleep,
	}
}

func runDriver(t *testing.T, opts Options) (Summary, error) {
	t.Helper()
	driver, err := New(opts)
	require.NoError(t, err)
	return driver.Run(context.Background())
}

func TestRun_MissingInput(t *testing.T) {
	fx := newFixture(t, 0)
	client := &fakeClient{respond: func(int, string) (string, error) { return "[]", nil }}

	summary, err := runDriver(t, fx.options(client))

	assert.ErrorIs(t, err, ErrInputMissing)
	assert.Zero(t, client.calls())
	assert.Zero(t, summary.TotalChunks)
	assert.NoFileExists(t, fx.output)
	assert.NoFileExists(t, fx.errors)
}

func TestRun_FailingChunkDoesNotStopRun(t *testing.T) {
	fx := newFixture(t, 3)
	client := &fakeClient{respond: func(_ int, prompt string) (string, error) {
		text := chunkOf(prompt)
		if text == "para-2" {
			return "", errors.New("model exploded")
		}
		return pairFor(text), nil
	}}

	summary, err := runDriver(t, fx.options(client))
	require.NoError(t, err)

	assert.Equal(t, 3, client.calls())
	assert.Equal(t, 3, summary.TotalChunks)
	assert.Equal(t, 2, summary.Count(OutcomeProcessed))
	require.Len(t, summary.Failed(), 1)
	assert.Equal(t, 1, summary.Failed()[0].Index)
	assert.Equal(t, 2, summary.Records)

	raw, err := os.ReadFile(fx.errors)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "--- Часть"))
	assert.Contains(t, string(raw), "para-2")
	assert.Contains(t, string(raw), "model exploded")

	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []dataset.QAPair{
		dataset.NewQAPair("Q para-1", "A para-1"),
		dataset.NewQAPair("Q para-3", "A para-3"),
	}, snap.Records)
	assert.Equal(t, 3, snap.Progress.ChunksDone)
	assert.Equal(t, []int{1}, snap.Progress.Failed)

	// Delay between chunks, none after the last one.
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, fx.sleeper.waits)
}

func TestRun_ResumeSkipsProcessedChunks(t *testing.T) {
	fx := newFixture(t, 7)
	var prior []dataset.QAPair
	for i := 1; i <= 5; i++ {
		prior = append(prior, dataset.NewQAPair(fmt.Sprintf("Q para-%d", i), fmt.Sprintf("A para-%d", i)))
	}
	require.NoError(t, fx.store.Save(prior, checkpoint.Progress{ChunksDone: 5, ChunkSize: 1, RunID: "earlier"}))

	client := &fakeClient{respond: func(_ int, prompt string) (string, error) {
		text := chunkOf(prompt)
		return fmt.Sprintf(`[{"question": "Q para-1", "answer": "again"}, {"question": "Q %s", "answer": "A %s"}]`, text, text), nil
	}}

	summary, err := runDriver(t, fx.options(client))
	require.NoError(t, err)

	require.Equal(t, 2, client.calls())
	assert.Equal(t, "para-6", chunkOf(client.prompts[0]))
	assert.Equal(t, "para-7", chunkOf(client.prompts[1]))
	assert.Equal(t, 5, summary.Count(OutcomeSkipped))
	assert.Equal(t, 2, summary.Added)
	assert.Equal(t, 7, summary.Records)

	snap, err := fx.store.Load()
	require.NoError(t, err)
	require.Len(t, snap.Records, 7)
	assert.Equal(t, "A para-1", snap.Records[0].Answer)
	assert.Equal(t, "Q para-7", snap.Records[6].Question)
	assert.Equal(t, 7, snap.Progress.ChunksDone)
	assert.Equal(t, "run-test", snap.Progress.RunID)
}

func TestRun_ResumeRetriesFailedChunks(t *testing.T) {
	fx := newFixture(t, 4)
	first := &fakeClient{respond: func(_ int, prompt string) (string, error) {
		text := chunkOf(prompt)
		if text == "para-2" {
			return "", errors.New("quota")
		}
		return pairFor(text), nil
	}}
	_, err := runDriver(t, fx.options(first))
	require.NoError(t, err)

	second := &fakeClient{respond: func(_ int, prompt string) (string, error) { return pairFor(chunkOf(prompt)), nil }}
	summary, err := runDriver(t, fx.options(second))
	require.NoError(t, err)

	require.Equal(t, 1, second.calls())
	assert.Equal(t, "para-2", chunkOf(second.prompts[0]))
	assert.Equal(t, 3, summary.Count(OutcomeSkipped))
	assert.Equal(t, 4, summary.Records)

	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Progress.ChunksDone)
	assert.Empty(t, snap.Progress.Failed)
}

func TestRun_CorruptProgressKeepsPriorRecords(t *testing.T) {
	fx := newFixture(t, 3)
	var prior []dataset.QAPair
	for i := 0; i < 100; i++ {
		prior = append(prior, dataset.NewQAPair(fmt.Sprintf("prior-%d", i), "answer"))
	}
	require.NoError(t, fx.store.Save(prior, checkpoint.Progress{ChunksDone: 2, ChunkSize: 1}))

	wb, err := excelize.OpenFile(fx.output)
	require.NoError(t, err)
	require.NoError(t, wb.SetCellValue(checkpoint.ProgressSheet, "B1", "two"))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	client := &fakeClient{respond: func(_ int, prompt string) (string, error) { return pairFor(chunkOf(prompt)), nil }}
	summary, err := runDriver(t, fx.options(client))
	require.NoError(t, err)

	assert.Equal(t, 3, client.calls())
	assert.Equal(t, 103, summary.Records)
	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Len(t, snap.Records, 103)
	assert.Equal(t, "prior-0", snap.Records[0].Question)
	assert.Equal(t, 3, snap.Progress.ChunksDone)
}

func TestRun_UnreadableCheckpointStopsBeforeWork(t *testing.T) {
	fx := newFixture(t, 2)
	require.NoError(t, os.WriteFile(fx.output, []byte("not a workbook"), 0o644))
	client := &fakeClient{respond: func(_ int, prompt string) (string, error) { return pairFor(chunkOf(prompt)), nil }}

	_, err := runDriver(t, fx.options(client))

	assert.ErrorIs(t, err, ErrCheckpointUnreadable)
	assert.Zero(t, client.calls())
	raw, err := os.ReadFile(fx.output)
	require.NoError(t, err)
	assert.Equal(t, "not a workbook", string(raw))
}

func TestRun_DropsPairsTooLongForWorkbook(t *testing.T) {
	fx := newFixture(t, 1)
	long := strings.Repeat("ж", checkpoint.MaxCellChars+1)
	client := &fakeClient{respond: func(int, string) (string, error) {
		return fmt.Sprintf(`[{"question": "Q long", "answer": "%s"}, {"question": "Q short", "answer": "A short"}]`, long), nil
	}}

	summary, err := runDriver(t, fx.options(client))
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, 1, summary.Results[0].Oversized)
	assert.Equal(t, 2, summary.Results[0].Found)
	assert.NoError(t, summary.Results[0].Err)
	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []dataset.QAPair{dataset.NewQAPair("Q short", "A short")}, snap.Records)
}

func TestRun_ResumeWithDifferentChunkSizeReprocesses(t *testing.T) {
	fx := newFixture(t, 2)
	require.NoError(t, fx.store.Save([]dataset.QAPair{dataset.NewQAPair("Q para-1", "A para-1")}, checkpoint.Progress{ChunksDone: 2, ChunkSize: 50}))
	client := &fakeClient{respond: func(_ int, prompt string) (string, error) { return pairFor(chunkOf(prompt)), nil }}

	summary, err := runDriver(t, fx.options(client))

	require.NoError(t, err)
	assert.Equal(t, 2, client.calls())
	assert.Equal(t, 1, summary.Added)
	assert.Equal(t, 2, summary.Records)
}

func TestRun_FreshModeIgnoresCheckpoint(t *testing.T) {
	fx := newFixture(t, 1)
	require.NoError(t, fx.store.Save([]dataset.QAPair{dataset.NewQAPair("old", "old")}, checkpoint.Progress{ChunksDone: 1, ChunkSize: 1}))
	client := &fakeClient{respond: func(_ int, prompt string) (string, error) { return pairFor(chunkOf(prompt)), nil }}

	opts := fx.options(client)
	opts.Resume = false
	summary, err := runDriver(t, opts)

	require.NoError(t, err)
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, summary.Records)
	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []dataset.QAPair{dataset.NewQAPair("Q para-1", "A para-1")}, snap.Records)
}

func TestRun_NoRecordsIsTerminal(t *testing.T) {
	fx := newFixture(t, 2)
	client := &fakeClient{respond: func(call int, _ string) (string, error) {
		if call == 1 {
			return "Sorry, I cannot help with that.", nil
		}
		return "", errors.New("quota")
	}}

	summary, err := runDriver(t, fx.options(client))

	assert.ErrorIs(t, err, ErrNoRecords)
	assert.Equal(t, 2, client.calls())
	assert.Zero(t, summary.Records)
	assert.Equal(t, extract.StrategyEmpty, summary.Results[0].Strategy)
	assert.NoFileExists(t, fx.output)
	assert.FileExists(t, fx.errors)
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	fx := newFixture(t, 1)
	client := &fakeClient{respond: func(call int, prompt string) (string, error) {
		if call < 3 {
			return "", &llm.RetryableError{Provider: "fake", StatusCode: 429, Message: "slow down"}
		}
		return pairFor(chunkOf(prompt)), nil
	}}

	opts := fx.options(client)
	opts.MaxRetries = 2
	summary, err := runDriver(t, opts)

	require.NoError(t, err)
	assert.Equal(t, 3, client.calls())
	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, fx.sleeper.waits)
	assert.NoFileExists(t, fx.errors)
}

func TestRun_NoRetryByDefault(t *testing.T) {
	fx := newFixture(t, 1)
	client := &fakeClient{respond: func(int, string) (string, error) {
		return "", &llm.RetryableError{Provider: "fake", StatusCode: 503}
	}}

	_, err := runDriver(t, fx.options(client))

	assert.ErrorIs(t, err, ErrNoRecords)
	assert.Equal(t, 1, client.calls())
}

func TestRun_FallbackExtraction(t *testing.T) {
	fx := newFixture(t, 1)
	client := &fakeClient{respond: func(int, string) (string, error) {
		return "```json\n[{\"question\": \"Q\", \"answer\": \"A\"}, {\"question\": broken}]\n```", nil
	}}

	summary, err := runDriver(t, fx.options(client))

	require.NoError(t, err)
	assert.Equal(t, extract.StrategyFallback, summary.Results[0].Strategy)
	assert.Equal(t, 1, summary.Records)
}

func TestRun_CancelDuringDelayKeepsCheckpoint(t *testing.T) {
	fx := newFixture(t, 3)
	client := &fakeClient{respond: func(_ int, prompt string) (string, error) { return pairFor(chunkOf(prompt)), nil }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := fx.options(client)
	opts.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	driver, err := New(opts)
	require.NoError(t, err)

	summary, err := driver.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, summary.Records)
	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Progress.ChunksDone)
}

type failingStore struct{}

func (failingStore) SavePairs(context.Context, []storage.Record) (int, error) {
	return 0, errors.New("db down")
}

func (failingStore) Close() error { return nil }

type capturePublisher struct {
	paths []string
}

func (c *capturePublisher) Publish(_ context.Context, paths ...string) ([]artifacts.UploadResult, error) {
	c.paths = append(c.paths, paths...)
	return []artifacts.UploadResult{{Key: "k"}}, nil
}

func TestRun_MirrorsPublishesAndEmits(t *testing.T) {
	fx := newFixture(t, 2)
	client := &fakeClient{respond: func(_ int, prompt string) (string, error) { return pairFor(chunkOf(prompt)), nil }}
	recent := storage.NewInMemoryStore(10)
	publisher := &capturePublisher{}
	tracker := events.NewTracker(nil)

	opts := fx.options(client)
	opts.Stores = []storage.Store{recent, failingStore{}}
	opts.Publisher = publisher
	opts.Artifacts = []string{fx.output, fx.errors}
	opts.Events = tracker
	summary, err := runDriver(t, opts)
	require.NoError(t, err)

	mirrored, err := recent.ListPairs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, mirrored, 2)
	assert.Equal(t, "Q para-2", mirrored[0].Question)
	assert.Equal(t, 2, mirrored[0].Chunk)
	assert.Equal(t, "run-test", mirrored[0].RunID)

	// Mirror failures are recorded but the chunk still counts as processed.
	assert.Equal(t, 2, summary.Count(OutcomeProcessed))
	assert.ErrorContains(t, summary.Results[0].Err, "db down")

	assert.Equal(t, []string{fx.output, fx.errors}, publisher.paths)

	status := tracker.Snapshot()
	assert.Equal(t, events.StateDone, status.State)
	assert.Equal(t, 2, status.Processed)
	assert.Equal(t, 2, status.Records)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{InputPath: "x", Checkpointer: checkpoint.New("x.xlsx")})
	assert.Error(t, err)

	_, err = New(Options{InputPath: "x", Client: &fakeClient{}})
	assert.Error(t, err)

	_, err = New(Options{Client: &fakeClient{}, Checkpointer: checkpoint.New("x.xlsx")})
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 8*time.Second, backoff(3))
	assert.Equal(t, time.Minute, backoff(10))
	assert.Equal(t, time.Minute, backoff(80))
}
