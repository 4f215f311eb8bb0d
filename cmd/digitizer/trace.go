package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/sink"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/trace"
)

func newTraceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace stream tools",
	}
	cmd.AddCommand(newSliceCommand())
	return cmd
}

type sliceFlags struct {
	input    string
	snappy   bool
	window   trace.Window
	channels []int
}

func newSliceCommand() *cobra.Command {
	var f sliceFlags
	cmd := &cobra.Command{
		Use:   "slice",
		Short: "Re-emit a trace stream restricted to a record, sample and channel window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.window.Channels = f.channels
			return slice(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "trace file or archive to read (default stdin)")
	fl.BoolVar(&f.snappy, "snappy", false, "input is a snappy framed archive")
	fl.IntVar(&f.window.RecordStart, "record-start", 0, "first record kept")
	fl.IntVar(&f.window.RecordCount, "record-count", -1, "records kept, -1 for all")
	fl.IntVar(&f.window.SampleStart, "sample-start", 0, "first sample kept")
	fl.IntVar(&f.window.SampleCount, "sample-count", -1, "samples kept, -1 for all")
	fl.IntSliceVar(&f.channels, "channels", nil, "1-based channels kept (default all)")
	return cmd
}

func slice(stdin io.Reader, stdout, stderr io.Writer, f sliceFlags) error {
	in := stdin
	if f.input != "" {
		rc, err := sink.OpenArchive(f.input, f.snappy)
		if err != nil {
			return err
		}
		defer rc.Close()
		in = rc
	}
	out := bufio.NewWriter(stdout)
	n, err := trace.Filter(trace.NewDecoder(in), trace.NewEncoder(out), f.window)
	if ferr := out.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		return fmt.Errorf("after %d records: %w", n, err)
	}
	fmt.Fprintf(stderr, "%d records\n", n)
	return nil
}
