// Package bookings manages the booking table: it loads every booking once and
// applies confirm, cancel and delete results to the affected row only.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"mentorhub/pkg/domain"
	"mentorhub/pkg/paging"
)

var (
	// ErrBusy is returned when the booking already has a request in flight.
	ErrBusy = errors.New("bookings: request already in progress")
	// ErrNotFound is returned for ids that are not in the table.
	ErrNotFound = errors.New("bookings: booking not found")
)

// API is the slice of the REST client the manager needs.
type API interface {
	ListBookings(ctx context.Context, token string) ([]domain.Booking, error)
	ConfirmBooking(ctx context.Context, token string, id domain.ID) (domain.Booking, error)
	CancelBooking(ctx context.Context, token string, id domain.ID) (domain.Booking, error)
	DeleteBooking(ctx context.Context, token string, id domain.ID) error
}

// TokenSource supplies the bearer token. *session.Store implements it.
type TokenSource interface {
	AccessToken() (string, error)
}

// Manager owns the booking table.
type Manager struct {
	api    API
	tokens TokenSource
	logger *slog.Logger
	table  *paging.Table[domain.Booking]

	mu       sync.Mutex
	inflight map[domain.ID]bool
}

// NewManager builds an empty manager with the given page size.
func NewManager(api API, tokens TokenSource, pageSize int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:      api,
		tokens:   tokens,
		logger:   logger,
		table:    paging.NewTable[domain.Booking](pageSize),
		inflight: make(map[domain.ID]bool),
	}
}

// Table exposes the paginated rows.
func (m *Manager) Table() *paging.Table[domain.Booking] { return m.table }

// Load replaces the table with the server's bookings.
func (m *Manager) Load(ctx context.Context) error {
	token, err := m.tokens.AccessToken()
	if err != nil {
		return err
	}
	list, err := m.api.ListBookings(ctx, token)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	m.table.SetRows(list)
	return nil
}

// Confirm asks the server to confirm the booking and reconciles the row.
func (m *Manager) Confirm(ctx context.Context, id domain.ID) (domain.Booking, error) {
	return m.transition(ctx, id, "confirm", domain.BookingConfirmed, m.api.ConfirmBooking)
}

// Cancel asks the server to cancel the booking and reconciles the row.
func (m *Manager) Cancel(ctx context.Context, id domain.ID) (domain.Booking, error) {
	return m.transition(ctx, id, "cancel", domain.BookingCancelled, m.api.CancelBooking)
}

// Delete removes the booking server-side, then drops the row.
func (m *Manager) Delete(ctx context.Context, id domain.ID) error {
	token, release, err := m.begin(id)
	if err != nil {
		return err
	}
	defer release()
	if err := m.api.DeleteBooking(ctx, token, id); err != nil {
		return fmt.Errorf("delete booking %s: %w", id, err)
	}
	m.table.Remove(func(b domain.Booking) bool { return b.ID == id })
	return nil
}

// Busy reports whether the booking has a request in flight.
func (m *Manager) Busy(id domain.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[id]
}

type transitionFunc func(ctx context.Context, token string, id domain.ID) (domain.Booking, error)

// transition runs call and reconciles the row. target is the status a
// successful call implies when the response carries none.
func (m *Manager) transition(ctx context.Context, id domain.ID, op string, target domain.BookingStatus, call transitionFunc) (domain.Booking, error) {
	token, release, err := m.begin(id)
	if err != nil {
		return domain.Booking{}, err
	}
	defer release()
	updated, err := call(ctx, token, id)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%s booking %s: %w", op, id, err)
	}
	// Servers that answer with an empty body still imply the id and status.
	if updated.ID.IsZero() {
		updated.ID = id
	}
	if updated.Status == "" {
		updated.Status = target
	}
	m.table.Update(func(b domain.Booking) bool { return b.ID == id }, func(b *domain.Booking) {
		merge(b, updated)
	})
	row, _ := m.table.Find(func(b domain.Booking) bool { return b.ID == id })
	m.logger.Debug("booking_reconciled", "op", op, "booking_id", id.String(), "status", string(row.Status))
	return row, nil
}

func (m *Manager) begin(id domain.ID) (string, func(), error) {
	if _, ok := m.table.Find(func(b domain.Booking) bool { return b.ID == id }); !ok {
		return "", nil, ErrNotFound
	}
	token, err := m.tokens.AccessToken()
	if err != nil {
		return "", nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[id] {
		return "", nil, ErrBusy
	}
	m.inflight[id] = true
	return token, func() {
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}, nil
}

// merge copies the fields the server sent over the current row.
func merge(dst *domain.Booking, src domain.Booking) {
	if src.Status != "" {
		dst.Status = src.Status
	}
	if !src.MentorID.IsZero() {
		dst.MentorID = src.MentorID
	}
	if !src.MenteeID.IsZero() {
		dst.MenteeID = src.MenteeID
	}
	if !src.PackageID.IsZero() {
		dst.PackageID = src.PackageID
	}
	if !src.BookingDate.IsZero() {
		dst.BookingDate = src.BookingDate
	}
}
