package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/coastline-io/flotilla/internal/topology"
	"github.com/coastline-io/flotilla/pkg/api"
)

var (
	ErrGetTopology = errors.New("failed to get topology")
	ErrGetHistory  = errors.New("failed to get topology history")
)

// topologyHistoryResponse lists audit trail entries
type topologyHistoryResponse struct {
	Changes []*topology.Change `json:"changes"`
	Count   int                `json:"count"`
}

func (s *Server) getTopology(c *gin.Context) {
	st, err := s.engine.Topology().GetState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrGetTopology, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, st)
}

func (s *Server) topologyHistory(c *gin.Context) {
	from := int64(0)
	if raw := c.Query("from"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  fmt.Sprintf("invalid from sequence: %s", raw),
				Status: http.StatusBadRequest,
			})
			return
		}
		from = parsed
	}

	changes, err := s.engine.Topology().History(c.Request.Context(), from)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrGetHistory, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, topologyHistoryResponse{
		Changes: changes,
		Count:   len(changes),
	})
}
