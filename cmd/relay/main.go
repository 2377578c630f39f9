// Command relay is a small demonstration binary wiring the orchestration
// library's public surface together: a persistence Store, an
// OpenAI-compatible Provider, a memory Manager, and an agent Client driving
// one conversational turn. The library itself exposes no CLI; this
// binary is a thin illustration of how a caller assembles the pieces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Demonstrate the relay orchestration library from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(buildAskCmd(), buildChatCmd())
	return cmd
}
