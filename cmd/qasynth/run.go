package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"qaSynth/internal/artifacts"
	"qaSynth/internal/auth"
	"qaSynth/internal/checkpoint"
	"qaSynth/internal/config"
	"qaSynth/internal/errlog"
	"qaSynth/internal/events"
	"qaSynth/internal/llm"
	"qaSynth/internal/pipeline"
	"qaSynth/internal/prompts"
	"qaSynth/internal/server"
	"qaSynth/internal/storage"
)

type runFlags struct {
	input      string
	output     string
	errorLog   string
	promptFile string
	chunkSize  int
	delay      time.Duration
	fresh      bool
	maxRetries int
	statusAddr string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var flags *runFlags
	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Generate the dataset for a document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if len(args) == 1 {
				cfg.InputPath = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runPipeline(cmd, cfg, root.logger(cmd.ErrOrStderr()))
		},
	}
	flags = bindRunFlags(cmd)
	return cmd
}

func bindRunFlags(cmd *cobra.Command) *runFlags {
	flags := &runFlags{}
	f := cmd.Flags()
	f.StringVarP(&flags.input, "input", "i", "", "input document (.txt, .md, .html, .pdf, .docx)")
	f.StringVarP(&flags.output, "output", "o", "", "output workbook (.xlsx)")
	f.StringVar(&flags.errorLog, "errors", "", "error log file")
	f.StringVar(&flags.promptFile, "prompt", "", "instruction template file")
	f.IntVar(&flags.chunkSize, "chunk-size", 0, "paragraphs per chunk")
	f.DurationVar(&flags.delay, "delay", 0, "pause after every chunk")
	f.BoolVar(&flags.fresh, "fresh", false, "ignore an existing checkpoint and start over")
	f.IntVar(&flags.maxRetries, "retries", 0, "retries for rate-limited model calls")
	f.StringVar(&flags.statusAddr, "status-addr", "", "serve progress on this address, e.g. :8080")
	return flags
}

// apply copies explicitly set flags over the loaded configuration.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("input") {
		cfg.InputPath = f.input
	}
	if set("output") {
		cfg.OutputPath = f.output
	}
	if set("errors") {
		cfg.ErrorLogPath = f.errorLog
	}
	if set("prompt") {
		cfg.PromptFile = f.promptFile
	}
	if set("chunk-size") {
		cfg.ChunkSize = f.chunkSize
	}
	if set("delay") {
		cfg.Delay = f.delay
	}
	if set("fresh") {
		cfg.Resume = !f.fresh
	}
	if set("retries") {
		cfg.AI.MaxRetries = f.maxRetries
	}
	if set("status-addr") {
		cfg.Status.Addr = f.statusAddr
	}
}

func runPipeline(cmd *cobra.Command, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	template, err := prompts.LoadTemplate(cfg.PromptFile)
	if err != nil {
		return err
	}

	client, err := llm.New(ctx, llm.Options{
		Provider:           cfg.AI.Provider,
		Model:              cfg.AI.Model,
		APIKey:             cfg.AI.APIKey,
		ServiceAccount:     cfg.AI.ServiceAccount,
		ServiceAccountJSON: cfg.AI.ServiceAccountJSON,
		ProjectID:          cfg.AI.ProjectID,
		Location:           cfg.AI.Location,
		Timeout:            cfg.AI.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init model client: %w", err)
	}
	defer llm.Close(client)
	log.Info("model client ready", "provider", cfg.AI.Provider, "model", cfg.AI.Model)

	stores, err := storage.Open(ctx, storage.Options{
		DatabaseURL: cfg.Mirror.DatabaseURL,
		SQLitePath:  cfg.Mirror.SQLitePath,
		JSONLPath:   cfg.Mirror.JSONLPath,
		Source:      cfg.InputPath,
	})
	if err != nil {
		return fmt.Errorf("init mirror stores: %w", err)
	}
	recent := storage.NewInMemoryStore(storage.DefaultRecent)
	stores = append(stores, recent)
	defer func() {
		if err := storage.CloseAll(stores); err != nil {
			log.Warn("closing stores", "error", err)
		}
	}()

	uploader, err := artifacts.NewUploader(ctx, artifacts.Config{
		Bucket:         cfg.Media.Bucket,
		Region:         cfg.Media.Region,
		Endpoint:       cfg.Media.Endpoint,
		PublicURL:      cfg.Media.PublicURL,
		KeyPrefix:      cfg.Media.KeyPrefix,
		ForcePathStyle: cfg.Media.ForcePathStyle,
		LocalDir:       cfg.Media.LocalDir,
	})
	if err != nil {
		return fmt.Errorf("init artifact uploader: %w", err)
	}

	broker := events.NewBroker()
	tracker := events.NewTracker(broker)

	if cfg.Status.Addr != "" {
		srv := server.New(cfg.Status.Addr, server.Deps{
			Status: tracker,
			Broker: broker,
			Recent: storage.RecentSource(stores, recent),
			Guard:  auth.TokenGuard{Hash: cfg.Status.TokenHash},
			Logger: log,
		})
		go func() {
			log.Info("status server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("status server shutdown", "error", err)
			}
		}()
	}

	driver, err := pipeline.New(pipeline.Options{
		InputPath:    cfg.InputPath,
		Client:       client,
		Builder:      prompts.NewBuilder(template),
		Checkpointer: checkpoint.New(cfg.OutputPath),
		ErrorLog:     errlog.New(cfg.ErrorLogPath),
		Stores:       stores,
		Publisher:    artifacts.NewPublisher(uploader),
		Artifacts:    []string{cfg.OutputPath, cfg.ErrorLogPath},
		Events:       tracker,
		Logger:       log,
		ChunkSize:    cfg.ChunkSize,
		Delay:        cfg.Delay,
		Resume:       cfg.Resume,
		Temperature:  cfg.AI.Temperature,
		MaxRetries:   cfg.AI.MaxRetries,
	})
	if err != nil {
		return err
	}

	summary, err := driver.Run(ctx)
	printSummary(cmd, cfg, summary)
	return err
}

func printSummary(cmd *cobra.Command, cfg config.Config, s pipeline.Summary) {
	out := cmd.OutOrStdout()
	if s.TotalChunks == 0 && len(s.Results) == 0 {
		return
	}
	fmt.Fprintf(out, "run %s: %d chunks, %d processed, %d failed, %d skipped\n",
		s.RunID, s.TotalChunks,
		s.Count(pipeline.OutcomeProcessed), s.Count(pipeline.OutcomeFailed), s.Count(pipeline.OutcomeSkipped))
	fmt.Fprintf(out, "%d new pairs, %d total\n", s.Added, s.Records)
	if s.Records > 0 {
		fmt.Fprintf(out, "dataset: %s\n", cfg.OutputPath)
	}
	if failed := s.Failed(); len(failed) > 0 {
		fmt.Fprintf(out, "failed chunks logged to %s:", cfg.ErrorLogPath)
		for _, r := range failed {
			fmt.Fprintf(out, " %d", r.Index+1)
		}
		fmt.Fprintln(out)
	}
}
