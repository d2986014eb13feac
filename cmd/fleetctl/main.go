// fleetctl is the operator CLI for a running flotilla engine. Every
// command wraps one of the ops API endpoints
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string

	rootCmd = &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate a running flotilla engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	defaultURL := os.Getenv("FLOTILLA_API")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(
		&serverURL, "server", defaultURL,
		"base URL of the engine API (env FLOTILLA_API)",
	)

	rootCmd.AddCommand(
		statusCmd,
		flowCmd,
		ticketCmd,
		topologyCmd,
		watchCmd,
	)

	flowCmd.AddCommand(
		flowListCmd, flowGetCmd, flowStartCmd, flowCancelCmd,
		flowRetryCmd, flowResumeCmd,
	)
	ticketCmd.AddCommand(ticketListCmd, ticketGetCmd, ticketCreateCmd)
	topologyCmd.AddCommand(topologyShowCmd, topologyHistoryCmd)
}
