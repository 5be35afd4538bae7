package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"qaSynth/internal/auth"
)

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash to use as status token_hash",
		Long:  "Hashes the given token, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				token = strings.TrimSpace(line)
			}

			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
