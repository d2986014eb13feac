package server

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coastline-io/flotilla/internal/engine"
	"github.com/coastline-io/flotilla/pkg/api"
)

var (
	ErrInvalidJSON = errors.New("invalid JSON payload")
	ErrListFlows   = errors.New("failed to list flows")
	ErrGetFlow     = errors.New("failed to get flow")
)

var invalidFlowIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

func (s *Server) listFlows(c *gin.Context) {
	flows, err := s.engine.ListFlows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListFlows, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.FlowsListResponse{
		Flows: flows,
		Count: len(flows),
	})
}

func (s *Server) startFlow(c *gin.Context) {
	var req api.StartFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	flowID := sanitizeFlowID(string(req.ID))
	if flowID == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Valid Flow ID is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	if req.Plan == nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Execution plan is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.engine.StartFlow(flowID, req.Plan, req.Init, req.TicketID)
	if err == nil {
		c.JSON(http.StatusCreated, api.FlowStartedResponse{
			FlowID: flowID,
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrFlowExists):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), flowID),
			Status: http.StatusConflict,
		})
	case errors.Is(err, engine.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), req.TicketID),
			Status: http.StatusNotFound,
		})
	default:
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
	}
}

func (s *Server) getFlow(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))

	flow, err := s.engine.GetFlowState(c.Request.Context(), flowID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrGetFlow, err),
			Status: http.StatusInternalServerError,
		})
		return
	}
	if flow.ID == "" {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", engine.ErrFlowNotFound, flowID),
			Status: http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, flow)
}

func (s *Server) cancelFlow(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))

	var req api.CancelFlowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
				Status: http.StatusBadRequest,
			})
			return
		}
	}

	if err := s.engine.CancelFlow(flowID, req.Reason); err != nil {
		s.flowCommandError(c, flowID, err)
		return
	}

	c.JSON(http.StatusAccepted, api.FlowStartedResponse{FlowID: flowID})
}

func (s *Server) retryNode(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))
	nodeID := api.NodeID(c.Param("nodeID"))

	if err := s.engine.RetryNode(flowID, nodeID); err != nil {
		s.flowCommandError(c, flowID, err)
		return
	}

	c.JSON(http.StatusAccepted, api.FlowStartedResponse{FlowID: flowID})
}

func (s *Server) resumeGate(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))
	gateID := api.NodeID(c.Param("nodeID"))

	if err := s.engine.ResumeGate(flowID, gateID); err != nil {
		s.flowCommandError(c, flowID, err)
		return
	}

	c.JSON(http.StatusAccepted, api.FlowStartedResponse{FlowID: flowID})
}

// flowCommandError maps flow command failures onto HTTP statuses
func (s *Server) flowCommandError(
	c *gin.Context, flowID api.FlowID, err error,
) {
	switch {
	case errors.Is(err, engine.ErrFlowNotFound),
		errors.Is(err, engine.ErrNodeNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), flowID),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrFlowTerminal),
		errors.Is(err, engine.ErrFlowNotSuspended),
		errors.Is(err, engine.ErrNodeNotFailed),
		errors.Is(err, engine.ErrGateNotWaiting):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), flowID),
			Status: http.StatusConflict,
		})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
	}
}

func sanitizeFlowID(id string) api.FlowID {
	id = strings.ToLower(id)
	sanitized := invalidFlowIDChars.ReplaceAllString(id, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return api.FlowID(strings.Trim(sanitized, "-"))
}
