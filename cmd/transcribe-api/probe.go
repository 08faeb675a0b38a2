package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/snarg/transcribe-api/internal/probe"
	"github.com/spf13/cobra"
)

func newProbeCommand() *cobra.Command {
	var (
		bin     string
		maxDur  time.Duration
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Print an audio file's duration and whether uploads would accept it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := probe.New(bin, maxDur, timeout)
			if !p.Available() {
				return fmt.Errorf("%s not found in PATH", bin)
			}

			out := cmd.OutOrStdout()
			dur, err := p.Validate(cmd.Context(), args[0])
			var de *probe.DurationError
			switch {
			case errors.As(err, &de):
				fmt.Fprintf(out, "duration: %.2fs\nverdict:  rejected (limit %s)\n", de.Duration.Seconds(), maxDur)
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(out, "duration: %.2fs\nverdict:  accepted\n", dur.Seconds())
			return nil
		},
	}

	cmd.Flags().StringVar(&bin, "ffprobe", "ffprobe", "ffprobe binary")
	cmd.Flags().DurationVar(&maxDur, "max-duration", 60*time.Second, "Duration ceiling")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "ffprobe timeout")
	return cmd
}
