package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"qaSynth/internal/config"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "qasynth",
		Short: "Generate question/answer datasets from documents with an LLM",
		Long: `qasynth splits a document into paragraph chunks, asks a language model for
question/answer pairs about each chunk and checkpoints the deduplicated result
to an .xlsx workbook after every chunk, so long runs can be resumed.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "qasynth.toml", "config file (.toml or .json)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newRunCmd(flags),
		newInspectCmd(flags),
		newChunksCmd(flags),
		newHashTokenCmd(),
	)
	return cmd
}

func (f *rootFlags) load() (config.Config, error) {
	return config.Load(f.configPath)
}

func (f *rootFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
