package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coastline-io/flotilla/internal/engine"
	"github.com/coastline-io/flotilla/pkg/api"
)

var ErrListTickets = errors.New("failed to list tickets")

func (s *Server) listTickets(c *gin.Context) {
	tickets, err := s.engine.ListTickets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListTickets, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.TicketsListResponse{
		Tickets: tickets,
		Count:   len(tickets),
	})
}

func (s *Server) createTicket(c *gin.Context) {
	var req api.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	if req.Type == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Ticket type is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	id, err := s.engine.CreateTicket(req.Type, req.Params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, api.TicketCreatedResponse{TicketID: id})
}

func (s *Server) getTicket(c *gin.Context) {
	ticketID := api.TicketID(c.Param("ticketID"))

	ticket, err := s.engine.GetTicket(c.Request.Context(), ticketID)
	if err == nil {
		c.JSON(http.StatusOK, ticket)
		return
	}

	if errors.Is(err, engine.ErrTicketNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), ticketID),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}
