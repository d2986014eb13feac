package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coastline-io/flotilla/pkg/api"
)

var (
	flowTicketID string
	flowPlanFile string
	flowInitJSON string
	cancelReason string

	flowCmd = &cobra.Command{
		Use:   "flow",
		Short: "Inspect and control flows",
	}

	flowListCmd = &cobra.Command{
		Use:   "list",
		Short: "List flows on the active roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/engine/flow")
		},
	}

	flowGetCmd = &cobra.Command{
		Use:   "get FLOW_ID",
		Short: "Show one flow's full state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/engine/flow/" + args[0])
		},
	}

	flowStartCmd = &cobra.Command{
		Use:   "start FLOW_ID",
		Short: "Start a flow from a plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return startFlow(args[0])
		},
	}

	flowCancelCmd = &cobra.Command{
		Use:   "cancel FLOW_ID",
		Short: "Revoke a flow and abort its running jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/engine/flow/"+args[0]+"/cancel",
				api.CancelFlowRequest{Reason: cancelReason})
		},
	}

	flowRetryCmd = &cobra.Command{
		Use:   "retry FLOW_ID NODE_ID",
		Short: "Retry a failed node and resume the flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(fmt.Sprintf(
				"/engine/flow/%s/node/%s/retry", args[0], args[1],
			), nil)
		},
	}

	flowResumeCmd = &cobra.Command{
		Use:   "resume FLOW_ID GATE_ID",
		Short: "Release a suspended flow's pause gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(fmt.Sprintf(
				"/engine/flow/%s/gate/%s/resume", args[0], args[1],
			), nil)
		},
	}
)

func init() {
	flowStartCmd.Flags().StringVar(
		&flowPlanFile, "plan", "", "path to the plan JSON file (required)",
	)
	flowStartCmd.Flags().StringVar(
		&flowInitJSON, "init", "", "initial inputs as a JSON object",
	)
	flowStartCmd.Flags().StringVar(
		&flowTicketID, "ticket", "", "bind the flow to an existing ticket",
	)
	_ = flowStartCmd.MarkFlagRequired("plan")

	flowCancelCmd.Flags().StringVar(
		&cancelReason, "reason", "", "reason recorded on the revocation",
	)
}

func startFlow(flowID string) error {
	data, err := os.ReadFile(flowPlanFile)
	if err != nil {
		return err
	}

	var plan api.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return fmt.Errorf("invalid plan file: %w", err)
	}

	var init api.Args
	if flowInitJSON != "" {
		if err := json.Unmarshal([]byte(flowInitJSON), &init); err != nil {
			return fmt.Errorf("invalid init JSON: %w", err)
		}
	}

	return postJSON("/engine/flow", api.StartFlowRequest{
		ID:       api.FlowID(flowID),
		TicketID: api.TicketID(flowTicketID),
		Plan:     &plan,
		Init:     init,
	})
}
