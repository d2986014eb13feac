package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/log"
)

// CreateTicket registers a change request. Flows started with the ticket's
// ID are bound to it so the full remediation or change history hangs off
// one record
func (e *Engine) CreateTicket(
	ticketType string, params api.Args,
) (api.TicketID, error) {
	id := api.TicketID(uuid.NewString())
	err := e.raiseEngineEvent(api.EventTypeTicketCreated,
		api.TicketCreatedEvent{
			Ticket: &api.Ticket{
				ID:        id,
				Type:      ticketType,
				Params:    params,
				CreatedAt: time.Now(),
			},
		})
	if err != nil {
		return "", err
	}

	slog.Info("Ticket created",
		log.TicketID(id),
		slog.String("type", ticketType))
	return id, nil
}

// GetTicket returns the ticket with the given ID
func (e *Engine) GetTicket(
	ctx context.Context, id api.TicketID,
) (*api.Ticket, error) {
	st, err := e.GetEngineState(ctx)
	if err != nil {
		return nil, err
	}
	t := st.GetTicket(id)
	if t == nil {
		return nil, ErrTicketNotFound
	}
	return t, nil
}

// ListTickets returns every registered ticket
func (e *Engine) ListTickets(ctx context.Context) ([]*api.Ticket, error) {
	st, err := e.GetEngineState(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]*api.Ticket, 0, len(st.Tickets))
	for _, t := range st.Tickets {
		res = append(res, t)
	}
	return res, nil
}
