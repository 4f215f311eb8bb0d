// Command digitizer drives a digitizer acquisition loop and emits the
// acquired records as a trace text stream on stdout.
package main

import (
	"os"

	"github.com/spf13/cobra"

	_ "github.com/DidierTrosset-Acqiris/Waveforms/internal/driver/sim"
)

// Version is the build version reported by --version.
var Version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "digitizer",
		Short:         "Digitizer acquisition and trace tools",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCommand(), newTraceCommand(), newRunControlCommand())
	return root
}
