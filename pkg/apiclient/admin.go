package apiclient

import (
	"context"
	"net/http"

	"mentorhub/pkg/domain"
)

// ListBookings returns the bookings visible to the caller.
func (c *Client) ListBookings(ctx context.Context, token string) ([]domain.Booking, error) {
	var resp listResponse[domain.Booking]
	if err := c.doAuthed(ctx, http.MethodGet, "/bookings", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ConfirmBooking asks the server to confirm a booking and returns its new state.
func (c *Client) ConfirmBooking(ctx context.Context, token string, id domain.ID) (domain.Booking, error) {
	var booking domain.Booking
	if err := c.doAuthed(ctx, http.MethodPost, "/bookings/"+escapeID(id)+"/confirm", token, nil, &booking); err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}

// CancelBooking asks the server to cancel a booking and returns its new state.
func (c *Client) CancelBooking(ctx context.Context, token string, id domain.ID) (domain.Booking, error) {
	var booking domain.Booking
	if err := c.doAuthed(ctx, http.MethodPost, "/bookings/"+escapeID(id)+"/cancel", token, nil, &booking); err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}

func (c *Client) DeleteBooking(ctx context.Context, token string, id domain.ID) error {
	return c.doAuthed(ctx, http.MethodDelete, "/bookings/"+escapeID(id), token, nil, nil)
}

func (c *Client) ListEvents(ctx context.Context, token string) ([]domain.Event, error) {
	return listAll[domain.Event](ctx, c, "/events", token)
}

func (c *Client) CreateEvent(ctx context.Context, token string, event domain.Event) (domain.Event, error) {
	if err := ValidateContent("title", event.Title); err != nil {
		return domain.Event{}, err
	}
	if !event.EndDate.IsZero() && event.EndDate.Before(event.StartDate) {
		return domain.Event{}, &ValidationError{Field: "end_date", Message: "end date must be after the start date"}
	}
	return save(ctx, c, http.MethodPost, "/events", token, event)
}

func (c *Client) UpdateEvent(ctx context.Context, token string, event domain.Event) (domain.Event, error) {
	return save(ctx, c, http.MethodPut, "/events/"+escapeID(event.ID), token, event)
}

func (c *Client) DeleteEvent(ctx context.Context, token string, id domain.ID) error {
	return c.doAuthed(ctx, http.MethodDelete, "/events/"+escapeID(id), token, nil, nil)
}

func (c *Client) ListAnnualTargets(ctx context.Context, token string) ([]domain.AnnualTarget, error) {
	return listAll[domain.AnnualTarget](ctx, c, "/annual-targets", token)
}

func (c *Client) CreateAnnualTarget(ctx context.Context, token string, target domain.AnnualTarget) (domain.AnnualTarget, error) {
	if err := validateTarget(target); err != nil {
		return domain.AnnualTarget{}, err
	}
	return save(ctx, c, http.MethodPost, "/annual-targets", token, target)
}

func (c *Client) UpdateAnnualTarget(ctx context.Context, token string, target domain.AnnualTarget) (domain.AnnualTarget, error) {
	if err := validateTarget(target); err != nil {
		return domain.AnnualTarget{}, err
	}
	return save(ctx, c, http.MethodPut, "/annual-targets/"+escapeID(target.ID), token, target)
}

func (c *Client) DeleteAnnualTarget(ctx context.Context, token string, id domain.ID) error {
	return c.doAuthed(ctx, http.MethodDelete, "/annual-targets/"+escapeID(id), token, nil, nil)
}

func (c *Client) AdminListUsers(ctx context.Context, token string) ([]domain.User, error) {
	return listAll[domain.User](ctx, c, "/admin/users", token)
}

func (c *Client) AdminCreateUser(ctx context.Context, token string, user domain.User) (domain.User, error) {
	if err := ValidateEmail(user.Email); err != nil {
		return domain.User{}, err
	}
	return save(ctx, c, http.MethodPost, "/admin/users", token, user)
}

func (c *Client) AdminUpdateUser(ctx context.Context, token string, user domain.User) (domain.User, error) {
	return save(ctx, c, http.MethodPut, "/admin/users/"+escapeID(user.ID), token, user)
}

func (c *Client) AdminDeleteUser(ctx context.Context, token string, id domain.ID) error {
	return c.doAuthed(ctx, http.MethodDelete, "/admin/users/"+escapeID(id), token, nil, nil)
}

func validateTarget(t domain.AnnualTarget) error {
	if t.Year < 2000 || t.Year > 2100 {
		return &ValidationError{Field: "year", Message: "enter a valid year"}
	}
	if t.MentorTarget < 0 || t.MenteeTarget < 0 || t.SessionTarget < 0 {
		return &ValidationError{Field: "target", Message: "targets cannot be negative"}
	}
	return nil
}

func listAll[T any](ctx context.Context, c *Client, path, token string) ([]T, error) {
	var resp listResponse[T]
	if err := c.doAuthed(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func save[T any](ctx context.Context, c *Client, method, path, token string, in T) (T, error) {
	var out T
	if err := c.doAuthed(ctx, method, path, token, in, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
