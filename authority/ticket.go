package authority

import (
	"context"

	"github.com/shopspring/decimal"

	"ticketpay/apperr"
)

// TicketClient talks to the ticketing service: reservation checks, price
// lookups, and closing reservations once paid.
type TicketClient struct {
	caller *caller
}

// DialTicket connects to the ticket service.
func DialTicket(target string) (*TicketClient, error) {
	c, err := dial(target, "ticket service")
	if err != nil {
		return nil, err
	}
	return &TicketClient{caller: c}, nil
}

// Close releases the underlying connection.
func (t *TicketClient) Close() error { return t.caller.close() }

// CheckReservation reports whether a reservation exists and is still valid;
// a false result carries the service's reason.
func (t *TicketClient) CheckReservation(ctx context.Context, reservationID string) (bool, string, error) {
	req := &stringRequest{value: reservationID}
	resp := &reservationResponse{}
	if err := t.caller.invoke(ctx, "/ticketpay.ticket.TicketService/CheckReservation", req, resp); err != nil {
		return false, "", err
	}
	if !resp.exists {
		return false, "Reservation not found", nil
	}
	if !resp.valid {
		reason := resp.errMsg
		if reason == "" {
			reason = "Reservation expired"
		}
		return false, reason, nil
	}
	return true, "", nil
}

// GetTicketPrice returns the unit price of a ticket type.
func (t *TicketClient) GetTicketPrice(ctx context.Context, ticketTypeID string) (decimal.Decimal, error) {
	req := &stringRequest{value: ticketTypeID}
	resp := &stringResponse{}
	if err := t.caller.invoke(ctx, "/ticketpay.ticket.TicketService/GetTicketPrice", req, resp); err != nil {
		return decimal.Zero, err
	}
	if resp.errMsg != "" {
		return decimal.Zero, apperr.Internal(resp.errMsg)
	}
	price, err := decimal.NewFromString(resp.value)
	if err != nil {
		return decimal.Zero, apperr.Internal("Ticket service returned a malformed price").WithCause(err)
	}
	return price, nil
}

// MarkReservationAsPaid closes the reservation behind a settled purchase.
func (t *TicketClient) MarkReservationAsPaid(ctx context.Context, reference string, amount decimal.Decimal) error {
	req := &markPaidRequest{reference: reference, amount: amount.StringFixed(2)}
	resp := &stringResponse{}
	if err := t.caller.invoke(ctx, "/ticketpay.ticket.TicketService/MarkReservationAsPaid", req, resp); err != nil {
		return err
	}
	if resp.errMsg != "" {
		return apperr.Internal(resp.errMsg)
	}
	return nil
}
