package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coastline-io/flotilla/pkg/api"
)

var (
	ticketParams string
	historyFrom  int64

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the engine's active roster and ticket registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/engine")
		},
	}

	ticketCmd = &cobra.Command{
		Use:   "ticket",
		Short: "Manage change tickets",
	}

	ticketListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/engine/ticket")
		},
	}

	ticketGetCmd = &cobra.Command{
		Use:   "get TICKET_ID",
		Short: "Show one ticket and its bound flows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/engine/ticket/" + args[0])
		},
	}

	ticketCreateCmd = &cobra.Command{
		Use:   "create TYPE",
		Short: "Register a change ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return createTicket(args[0])
		},
	}

	topologyCmd = &cobra.Command{
		Use:   "topology",
		Short: "Inspect the fleet topology",
	}

	topologyShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the current fleet topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/engine/topology")
		},
	}

	topologyHistoryCmd = &cobra.Command{
		Use:   "history",
		Short: "Show the topology audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(fmt.Sprintf(
				"/engine/topology/history?from=%d", historyFrom,
			))
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Show the remediation watcher's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/engine/watch")
		},
	}
)

func init() {
	ticketCreateCmd.Flags().StringVar(
		&ticketParams, "params", "", "ticket parameters as a JSON object",
	)
	topologyHistoryCmd.Flags().Int64Var(
		&historyFrom, "from", 0, "starting event sequence",
	)
}

func createTicket(ticketType string) error {
	var params api.Args
	if ticketParams != "" {
		err := json.Unmarshal([]byte(ticketParams), &params)
		if err != nil {
			return fmt.Errorf("invalid params JSON: %w", err)
		}
	}

	return postJSON("/engine/ticket", api.CreateTicketRequest{
		Type:   ticketType,
		Params: params,
	})
}
