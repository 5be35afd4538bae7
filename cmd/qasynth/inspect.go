package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"qaSynth/internal/checkpoint"
)

type inspectReport struct {
	Path          string   `json:"path"`
	Records       int      `json:"records"`
	HasProgress   bool     `json:"has_progress"`
	ProgressError string   `json:"progress_error,omitempty"`
	ChunksDone    int      `json:"chunks_done"`
	ChunkSize     int      `json:"chunk_size,omitempty"`
	FailedChunks  []int    `json:"failed_chunks,omitempty"`
	RunID         string   `json:"run_id,omitempty"`
	Source        string   `json:"source,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
	Questions     []string `json:"questions,omitempty"`
}

func newInspectCmd(root *rootFlags) *cobra.Command {
	var (
		show   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [workbook]",
		Short: "Summarize an existing checkpoint workbook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				path = cfg.OutputPath
			}

			snap, err := checkpoint.New(path).Load()
			if errors.Is(err, checkpoint.ErrNoCheckpoint) {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err != nil {
				return err
			}

			report := inspectReport{
				Path:        path,
				Records:     len(snap.Records),
				HasProgress: snap.HasProgress,
				ChunksDone:  snap.Progress.ChunksDone,
				ChunkSize:   snap.Progress.ChunkSize,
				RunID:       snap.Progress.RunID,
				Source:      snap.Progress.Source,
			}
			if snap.ProgressErr != nil {
				report.ProgressError = snap.ProgressErr.Error()
			}
			for _, idx := range snap.Progress.Failed {
				report.FailedChunks = append(report.FailedChunks, idx+1)
			}
			if !snap.Progress.UpdatedAt.IsZero() {
				report.UpdatedAt = snap.Progress.UpdatedAt.Format("2006-01-02 15:04:05 MST")
			}
			for i := 0; i < show && i < len(snap.Records); i++ {
				report.Questions = append(report.Questions, snap.Records[i].Question)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "workbook:    %s\n", report.Path)
			fmt.Fprintf(out, "records:     %d\n", report.Records)
			if report.HasProgress {
				fmt.Fprintf(out, "chunks done: %d (chunk size %d)\n", report.ChunksDone, report.ChunkSize)
				fmt.Fprintf(out, "last run:    %s at %s\n", report.RunID, report.UpdatedAt)
				if report.Source != "" {
					fmt.Fprintf(out, "source:      %s\n", report.Source)
				}
				if len(report.FailedChunks) > 0 {
					fmt.Fprintf(out, "to retry:    chunks %v\n", report.FailedChunks)
				}
			} else if report.ProgressError != "" {
				fmt.Fprintf(out, "chunks done: unknown (progress sheet unreadable: %s)\n", report.ProgressError)
			} else {
				fmt.Fprintln(out, "chunks done: unknown (no progress sheet, a resumed run starts from chunk 1)")
			}
			for i, q := range report.Questions {
				fmt.Fprintf(out, "%3d. %s\n", i+1, q)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&show, "show", "n", 0, "print the first N questions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
