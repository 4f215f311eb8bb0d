package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
)

func newRunControlCommand() *cobra.Command {
	var records, samples int
	cmd := &cobra.Command{
		Use:   "runcontrol",
		Short: "Write record and sample count commands for a running acquisition",
		Long: "Runcontrol writes one {\"records\":N,\"samples\":M} line per input line of the form\n" +
			"\"N M\", or a single line from --records and --samples. Pipe its output into\n" +
			"\"digitizer run\".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			em := command.NewEmitter(cmd.OutOrStdout())
			if cmd.Flags().Changed("records") || cmd.Flags().Changed("samples") {
				return em.EmitCounts(records, samples)
			}
			return runControl(cmd.InOrStdin(), em, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().IntVarP(&records, "records", "r", 1, "records per acquisition")
	cmd.Flags().IntVarP(&samples, "samples", "s", 200, "samples per record")
	return cmd
}

// runControl emits a command for each "records samples" line of in.
// Malformed lines are reported on errw and skipped.
func runControl(in io.Reader, em *command.Emitter, errw io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		records, samples, err := parseCounts(line)
		if err != nil {
			fmt.Fprintf(errw, "ignored %q: %v\n", line, err)
			continue
		}
		if err := em.EmitCounts(records, samples); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func parseCounts(line string) (records, samples int, err error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("want two counts, got %d fields", len(fields))
	}
	if records, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("records: %w", err)
	}
	if samples, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("samples: %w", err)
	}
	return records, samples, nil
}
