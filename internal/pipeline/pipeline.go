package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"qaSynth/internal/artifacts"
	"qaSynth/internal/checkpoint"
	"qaSynth/internal/dataset"
	"qaSynth/internal/errlog"
	"qaSynth/internal/events"
	"qaSynth/internal/extract"
	"qaSynth/internal/llm"
	"qaSynth/internal/prompts"
	"qaSynth/internal/source"
	"qaSynth/internal/storage"
)

var (
	// ErrInputMissing is returned before any model call when the input document does not exist.
	ErrInputMissing = errors.New("input document missing")
	// ErrCheckpointUnreadable is returned when resuming finds a workbook it cannot read.
	ErrCheckpointUnreadable = errors.New("existing checkpoint is unreadable")
	// ErrNoRecords is returned when the run ends with an empty dataset.
	ErrNoRecords = errors.New("no question/answer pairs were produced")
)

const (
	baseBackoff = 2 * time.Second
	maxBackoff  = time.Minute
)

// Checkpointer persists the dataset after every chunk.
type Checkpointer interface {
	Load() (checkpoint.Snapshot, error)
	Save(records []dataset.QAPair, progress checkpoint.Progress) error
}

// ErrorLog records chunks whose model call failed.
type ErrorLog interface {
	Append(failure errlog.ChunkFailure) error
}

// Publisher uploads finished artifacts.
type Publisher interface {
	Publish(ctx context.Context, paths ...string) ([]artifacts.UploadResult, error)
}

// Options configures a Driver. Client, Checkpointer and InputPath are required.
type Options struct {
	InputPath    string
	Client       llm.Client
	Builder      prompts.Builder
	Checkpointer Checkpointer
	ErrorLog     ErrorLog
	Stores       []storage.Store
	Publisher    Publisher
	// Artifacts are the files handed to Publisher once the run succeeds.
	Artifacts   []string
	Events      events.Publisher
	Logger      *slog.Logger
	RunID       string
	ChunkSize   int
	Delay       time.Duration
	Resume      bool
	Temperature float64
	MaxRetries  int
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Driver runs one document through the model chunk by chunk.
type Driver struct {
	opts Options
	log  *slog.Logger
	ds   *dataset.Dataset
	// done is the highest chunk count checkpointed so far.
	done int
	// failed holds chunk indexes whose model call has not succeeded yet.
	failed map[int]struct{}
}

// New validates opts and fills defaults.
func New(opts Options) (*Driver, error) {
	if opts.Client == nil {
		return nil, errors.New("pipeline: model client is required")
	}
	if opts.Checkpointer == nil {
		return nil, errors.New("pipeline: checkpointer is required")
	}
	if opts.InputPath == "" {
		return nil, errors.New("pipeline: input path is required")
	}
	if opts.Builder.Template == "" {
		opts.Builder = prompts.NewBuilder(prompts.DefaultTemplate())
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = dataset.DefaultChunkSize
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Driver{
		opts: opts,
		log:  opts.Logger.With("run_id", opts.RunID),
		ds:     dataset.New(),
		failed: make(map[int]struct{}),
	}, nil
}

// Run executes the whole pipeline. Per-chunk failures are recorded in the summary and
// never abort the run; only a missing input, cancellation or an empty result return an error.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: d.opts.RunID}

	d.emit(events.Event{State: events.StateInit})
	if !source.Exists(d.opts.InputPath) {
		d.log.Error("input document not found", "path", d.opts.InputPath)
		return d.fail(summary, fmt.Errorf("%w: %s", ErrInputMissing, d.opts.InputPath))
	}

	d.emit(events.Event{State: events.StateLoading})
	doc, err := source.Load(d.opts.InputPath)
	if err != nil {
		return d.fail(summary, fmt.Errorf("load document: %w", err))
	}
	chunks := dataset.SplitParagraphs(doc.Text, d.opts.ChunkSize)
	summary.TotalChunks = len(chunks)
	d.log.Info("document loaded",
		"path", doc.Path,
		"characters", len([]rune(doc.Text)),
		"chunks", len(chunks),
		"chunk_size", d.opts.ChunkSize,
	)

	skip := 0
	if d.opts.Resume {
		skip, err = d.resume(ctx)
		if err != nil {
			return d.fail(summary, err)
		}
	}

	for i, chunk := range chunks {
		if _, retry := d.failed[i]; i < skip && !retry {
			res := ChunkResult{Index: i, Outcome: OutcomeSkipped}
			summary.Results = append(summary.Results, res)
			d.emitChunk(events.StateResuming, res, len(chunks))
			continue
		}
		if err := ctx.Err(); err != nil {
			d.log.Warn("run interrupted", "next_chunk", i+1)
			summary.Records = d.ds.Len()
			return d.fail(summary, fmt.Errorf("interrupted before chunk %d: %w", i+1, err))
		}

		res := d.processChunk(ctx, chunk)
		if ctx.Err() != nil && res.Outcome == OutcomeFailed {
			summary.Records = d.ds.Len()
			return d.fail(summary, fmt.Errorf("interrupted during chunk %d: %w", i+1, ctx.Err()))
		}
		summary.Results = append(summary.Results, res)
		summary.Added += res.Added
		d.emitChunk(events.StateProcessing, res, len(chunks))

		if i < len(chunks)-1 && d.opts.Delay > 0 {
			if err := d.opts.Sleep(ctx, d.opts.Delay); err != nil {
				summary.Records = d.ds.Len()
				return d.fail(summary, fmt.Errorf("interrupted after chunk %d: %w", i+1, err))
			}
		}
	}

	summary.Records = d.ds.Len()
	if summary.Records == 0 {
		d.log.Error("run produced no records", "chunks", len(chunks), "failed", summary.Count(OutcomeFailed))
		return d.fail(summary, ErrNoRecords)
	}

	d.publish(ctx)
	d.log.Info("run finished",
		"records", summary.Records,
		"added", summary.Added,
		"processed", summary.Count(OutcomeProcessed),
		"failed", summary.Count(OutcomeFailed),
		"skipped", summary.Count(OutcomeSkipped),
	)
	d.emit(events.Event{State: events.StateDone, Total: len(chunks), Records: summary.Records})
	return summary, nil
}

// resume restores the dataset from an existing checkpoint and returns how many chunks to skip.
// A checkpoint that exists but cannot be read is an error: starting over would overwrite it.
func (d *Driver) resume(ctx context.Context) (int, error) {
	snap, err := d.opts.Checkpointer.Load()
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return 0, nil
	}
	if err != nil {
		d.log.Error("checkpoint unreadable", "error", err)
		return 0, fmt.Errorf("%w: %w", ErrCheckpointUnreadable, err)
	}

	d.emit(events.Event{State: events.StateResuming})
	d.ds = dataset.Restore(snap.Records)

	skip := snap.Progress.ChunksDone
	switch {
	case snap.ProgressErr != nil:
		d.log.Warn("checkpoint progress unreadable, reprocessing all chunks", "records", d.ds.Len(), "error", snap.ProgressErr)
		skip = 0
	case !snap.HasProgress:
		d.log.Warn("checkpoint has no progress marker, reprocessing all chunks", "records", d.ds.Len())
		skip = 0
	case snap.Progress.ChunkSize != 0 && snap.Progress.ChunkSize != d.opts.ChunkSize:
		d.log.Warn("checkpoint was written with a different chunk size, reprocessing all chunks",
			"checkpoint_chunk_size", snap.Progress.ChunkSize,
			"chunk_size", d.opts.ChunkSize,
		)
		skip = 0
	default:
		d.done = skip
		for _, idx := range snap.Progress.Failed {
			if idx < skip {
				d.failed[idx] = struct{}{}
			}
		}
	}
	d.log.Info("resuming from checkpoint",
		"records", d.ds.Len(),
		"skip_chunks", skip-len(d.failed),
		"retry_chunks", len(d.failed),
		"previous_run", snap.Progress.RunID,
	)

	if err := d.mirror(ctx, 0, d.ds.Records()); err != nil {
		d.log.Warn("mirror backfill failed", "error", err)
	}
	return skip, nil
}

func (d *Driver) processChunk(ctx context.Context, chunk dataset.Chunk) ChunkResult {
	log := d.log.With("chunk", chunk.Index+1)
	res := ChunkResult{Index: chunk.Index}

	prompt := d.opts.Builder.Build(chunk.Text)
	raw, err := d.complete(ctx, log, prompt)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		if ctx.Err() != nil {
			return res
		}
		d.failed[chunk.Index] = struct{}{}
		log.Error("model call failed", "error", err)
		if d.opts.ErrorLog != nil {
			if logErr := d.opts.ErrorLog.Append(errlog.ChunkFailure{
				RunID: d.opts.RunID,
				Index: chunk.Index,
				Text:  chunk.Text,
				Err:   err,
				Time:  time.Now(),
			}); logErr != nil {
				log.Error("error log write failed", "error", logErr)
			}
		}
		return res
	}

	parsed := extract.Extract(extract.Normalize(raw))
	res.Outcome = OutcomeProcessed
	res.Strategy = parsed.Strategy
	res.Found = len(parsed.Pairs)
	pairs, oversized := fitting(parsed.Pairs)
	res.Oversized = oversized
	res.Added, res.Skipped = d.ds.Accumulate(pairs)
	delete(d.failed, chunk.Index)
	d.done = max(d.done, chunk.Index+1)

	if oversized > 0 {
		log.Warn("dropped pairs too long for a workbook cell", "count", oversized, "limit", checkpoint.MaxCellChars)
	}
	switch parsed.Strategy {
	case extract.StrategyFallback:
		log.Warn("response was not a JSON array, used pattern scan", "found", res.Found)
	case extract.StrategyEmpty:
		log.Warn("no question/answer pairs found in response")
	}

	var errs []error
	if d.ds.Len() > 0 {
		if err := d.opts.Checkpointer.Save(d.ds.Records(), checkpoint.Progress{
			ChunksDone: d.done,
			ChunkSize:  d.opts.ChunkSize,
			Failed:     d.pendingFailures(),
			RunID:      d.opts.RunID,
			Source:     d.opts.InputPath,
			UpdatedAt:  time.Now(),
		}); err != nil {
			log.Error("checkpoint failed", "error", err)
			errs = append(errs, fmt.Errorf("checkpoint: %w", err))
		}
	}
	if res.Added > 0 {
		if err := d.mirror(ctx, chunk.Index+1, d.ds.Tail(res.Added)); err != nil {
			log.Error("mirror failed", "error", err)
			errs = append(errs, err)
		}
	}
	res.Err = errors.Join(errs...)

	log.Info("chunk processed",
		"strategy", res.Strategy.String(),
		"found", res.Found,
		"added", res.Added,
		"duplicates", res.Skipped,
		"records", d.ds.Len(),
	)
	return res
}

// complete calls the model, retrying transient failures with exponential backoff.
func (d *Driver) complete(ctx context.Context, log *slog.Logger, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			log.Warn("retrying model call", "attempt", attempt, "wait", wait, "error", lastErr)
			if err := d.opts.Sleep(ctx, wait); err != nil {
				return "", err
			}
		}
		raw, err := d.opts.Client.ChatCompletion(ctx, llm.UserMessage(prompt), d.opts.Temperature)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !llm.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (d *Driver) mirror(ctx context.Context, chunk int, records []dataset.QAPair) error {
	if len(d.opts.Stores) == 0 || len(records) == 0 {
		return nil
	}
	batch := storage.NewRecords(d.opts.RunID, chunk, records)
	var errs []error
	for _, store := range d.opts.Stores {
		if _, err := store.SavePairs(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("mirror %T: %w", store, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) publish(ctx context.Context) {
	if d.opts.Publisher == nil || len(d.opts.Artifacts) == 0 {
		return
	}
	results, err := d.opts.Publisher.Publish(ctx, d.opts.Artifacts...)
	if err != nil {
		d.log.Error("publishing artifacts failed", "error", err)
	}
	for _, r := range results {
		d.log.Info("artifact published", "key", r.Key, "url", r.URL)
	}
}

func (d *Driver) fail(summary Summary, err error) (Summary, error) {
	d.emit(events.Event{State: events.StateFailed, Total: summary.TotalChunks, Records: summary.Records, Error: err.Error()})
	return summary, err
}

func (d *Driver) emit(evt events.Event) {
	evt.RunID = d.opts.RunID
	if evt.Records == 0 {
		evt.Records = d.ds.Len()
	}
	evt.Time = time.Now()
	d.opts.Events.Publish(evt)
}

func (d *Driver) emitChunk(state events.State, res ChunkResult, total int) {
	evt := events.Event{
		State:   state,
		Chunk:   res.Index + 1,
		Total:   total,
		Outcome: res.Outcome.String(),
		Found:   res.Found,
		Added:   res.Added,
	}
	if res.Err != nil {
		evt.Error = res.Err.Error()
	}
	d.emit(evt)
}

func backoff(attempt int) time.Duration {
	wait := baseBackoff << (attempt - 1)
	if wait <= 0 || wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pendingFailures lists failed chunks below the high-water mark, which a resumed run
// would otherwise skip.
func (d *Driver) pendingFailures() []int {
	var out []int
	for idx := range d.failed {
		if idx < d.done {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// fitting drops pairs that a workbook cell cannot hold in full.
func fitting(pairs []extract.Pair) ([]extract.Pair, int) {
	out := make([]extract.Pair, 0, len(pairs))
	for _, p := range pairs {
		if !checkpoint.Fits(dataset.NewQAPair(p.Question, p.Answer)) {
			continue
		}
		out = append(out, p)
	}
	return out, len(pairs) - len(out)
}
