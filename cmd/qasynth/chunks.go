package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"qaSynth/internal/dataset"
	"qaSynth/internal/source"
)

func newChunksCmd(root *rootFlags) *cobra.Command {
	var (
		size int
		show int
	)
	cmd := &cobra.Command{
		Use:   "chunks [input]",
		Short: "Preview how a document is split into chunks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.InputPath = args[0]
			}
			if cmd.Flags().Changed("chunk-size") {
				cfg.ChunkSize = size
			}
			if cfg.InputPath == "" {
				return fmt.Errorf("input path is required")
			}
			if cfg.ChunkSize <= 0 {
				return fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
			}

			doc, err := source.Load(cfg.InputPath)
			if err != nil {
				return err
			}
			chunks := dataset.SplitParagraphs(doc.Text, cfg.ChunkSize)

			out := cmd.OutOrStdout()
			if show > 0 {
				if show > len(chunks) {
					return fmt.Errorf("chunk %d out of range (document has %d chunks)", show, len(chunks))
				}
				fmt.Fprintln(out, chunks[show-1].Text)
				return nil
			}

			fmt.Fprintf(out, "%s: %d characters, %d chunks of up to %d paragraphs\n",
				doc.Path, utf8.RuneCountInString(doc.Text), len(chunks), cfg.ChunkSize)
			for _, c := range chunks {
				fmt.Fprintf(out, "%4d  %3d paragraphs  %6d characters\n",
					c.Index+1, len(c.Paragraphs), utf8.RuneCountInString(c.Text))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "chunk-size", 0, "paragraphs per chunk")
	cmd.Flags().IntVar(&show, "show", 0, "print the text of chunk N (1-based)")
	return cmd
}
