// clipctl is the command-line companion to the clipforge agent. It talks to
// the agent's local HTTP API to submit jobs, follow their progress, and
// inspect the clips a finished pipeline produced.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagAddr  string
	flagToken string
)

func main() {
	root := &cobra.Command{
		Use:           "clipctl",
		Short:         "Control a running clipforge agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagAddr, "addr", defaultAddr(), "agent base URL")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("CLIPFORGE_TOKEN"), "agent auth token")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newJobsCmd(),
		newWatchCmd(),
		newCancelCmd(),
		newResultsCmd(),
		newClipsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if addr := os.Getenv("CLIPFORGE_ADDR"); addr != "" {
		return addr
	}
	return "http://127.0.0.1:8790"
}
