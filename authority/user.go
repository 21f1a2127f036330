package authority

import (
	"context"

	"ticketpay/apperr"
)

// UserClient resolves user identities: event organizers, the platform's
// system user, referral chains, and contact emails.
type UserClient struct {
	caller *caller
}

// DialUser connects to the user service.
func DialUser(target string) (*UserClient, error) {
	c, err := dial(target, "user service")
	if err != nil {
		return nil, err
	}
	return &UserClient{caller: c}, nil
}

// Close releases the underlying connection.
func (u *UserClient) Close() error { return u.caller.close() }

func (u *UserClient) stringCall(ctx context.Context, method, arg string) (string, error) {
	req := &stringRequest{value: arg}
	resp := &stringResponse{}
	if err := u.caller.invoke(ctx, method, req, resp); err != nil {
		return "", err
	}
	if resp.errMsg != "" {
		return "", apperr.Internal(resp.errMsg)
	}
	return resp.value, nil
}

// GetEventOrganizer returns the user id of the organizer behind an event
// slug.
func (u *UserClient) GetEventOrganizer(ctx context.Context, slug string) (string, error) {
	return u.stringCall(ctx, "/ticketpay.user.UserService/GetEventOrganizer", slug)
}

// GetSystemUser returns the platform user id that collects commissions.
func (u *UserClient) GetSystemUser(ctx context.Context) (string, error) {
	return u.stringCall(ctx, "/ticketpay.user.UserService/GetSystemUser", "")
}

// GetReferralInfo returns the id of the user who referred userID, or empty
// when there is no referrer.
func (u *UserClient) GetReferralInfo(ctx context.Context, userID string) (string, error) {
	return u.stringCall(ctx, "/ticketpay.user.UserService/GetReferralInfo", userID)
}

// GetEmail returns the contact email for userID.
func (u *UserClient) GetEmail(ctx context.Context, userID string) (string, error) {
	return u.stringCall(ctx, "/ticketpay.user.UserService/GetEmail", userID)
}
