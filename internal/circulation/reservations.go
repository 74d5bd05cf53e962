package circulation

import (
	"context"
	"log"
	"sort"
	"time"

	"steppe-library/internal/platform/db"
	"steppe-library/internal/platform/events"
)

// sortQueue orders a book's active reservations first come, first served.
// Reservations created in the same instant keep id order.
func sortQueue(queue []ReservationView) []ReservationView {
	out := append([]ReservationView(nil), queue...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// queuePositions maps reservation id to its 1-based place in line.
// Positions are derived on every read and never stored, so a cancelled
// reservation closes its gap automatically.
func queuePositions(queue []ReservationView) map[int64]int {
	pos := make(map[int64]int, len(queue))
	n := 0
	for _, r := range sortQueue(queue) {
		if !r.IsActive {
			continue
		}
		n++
		pos[r.ID] = n
	}
	return pos
}

// nextPending is the earliest active reservation not yet notified.
func nextPending(queue []ReservationView) *ReservationView {
	for _, r := range sortQueue(queue) {
		if r.IsActive && !r.Notified {
			r := r
			return &r
		}
	}
	return nil
}

// expiry reports when a notified hold runs out and whether it already
// has. Nothing acts on an expired hold; it is only shown.
func expiry(r Reservation, window time.Duration, now time.Time) (*time.Time, bool) {
	if !r.Notified || r.NotifiedAt == nil || window <= 0 {
		return nil, false
	}
	at := r.NotifiedAt.Add(window)
	return &at, now.After(at)
}

func (s *Service) reservationResponse(v ReservationView, position int, now time.Time) ReservationResponse {
	expiresAt, expired := expiry(v.Reservation, s.policy.ExpiryWindow, now)
	return ReservationResponse{
		ReservationID: v.ID,
		BookID:        v.BookID,
		BookTitle:     v.BookTitle,
		Username:      v.Username,
		CreatedAt:     v.CreatedAt,
		QueuePosition: position,
		Notified:      v.Notified,
		NotifiedAt:    v.NotifiedAt,
		ExpiresAt:     expiresAt,
		IsExpired:     expired,
	}
}

// Reserve puts the user in line for a book that has no free copy.
func (s *Service) Reserve(ctx context.Context, userID, bookID int64) (ReservationResponse, error) {
	now := s.clock.Now()
	var out ReservationResponse
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		ok, err := tx.BookExists(ctx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound("book not found")
		}

		unpaid, err := tx.UnpaidFineTotal(ctx, userID)
		if err != nil {
			return err
		}
		if unpaid.IsPositive() {
			return ErrUnpaidFines()
		}

		dup, err := tx.ActiveReservationFor(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if dup != nil {
			return ErrDuplicateReservation()
		}

		avail, err := tx.AvailableCopies(ctx, bookID)
		if err != nil {
			return err
		}
		if avail > 0 {
			return ErrCopiesAvailable()
		}

		r := &Reservation{UserID: userID, BookID: bookID, CreatedAt: now, IsActive: true}
		if err := tx.InsertReservation(ctx, r); err != nil {
			if db.IsDuplicate(err) {
				return ErrDuplicateReservation()
			}
			return err
		}

		queue, err := tx.ActiveReservations(ctx, bookID)
		if err != nil {
			return err
		}
		view := ReservationView{Reservation: *r}
		for _, q := range queue {
			if q.ID == r.ID {
				view = q
			}
		}
		out = s.reservationResponse(view, queuePositions(queue)[r.ID], now)
		return nil
	})
	if err != nil {
		return ReservationResponse{}, err
	}
	log.Printf("[INFO] reservation %d created user=%d book=%d position=%d", out.ReservationID, userID, bookID, out.QueuePosition)
	return out, nil
}

// CancelReservation deactivates a reservation. Only its owner may cancel
// it unless asStaff is set. When the hold had already been notified, the
// copy it was holding moves on to the next reader.
func (s *Service) CancelReservation(ctx context.Context, userID int64, asStaff bool, reservationID int64) error {
	now := s.clock.Now()
	var evs []events.Event
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		evs = nil
		r, err := tx.ReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrNotFound("reservation not found")
		}
		if r.UserID != userID && !asStaff {
			return ErrForbidden("not your reservation")
		}
		if !r.IsActive {
			return ErrConflict("reservation is not active")
		}
		if err := tx.DeactivateReservation(ctx, r.ID); err != nil {
			return err
		}
		if !r.Notified {
			return nil
		}

		next, freed, err := s.releaseHold(ctx, tx, r.BookID, now)
		if err != nil {
			return err
		}
		if next != nil {
			evs = append(evs, notifiedEvent(*next, freed, now))
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] reservation %d cancelled by user=%d", reservationID, userID)
	s.publish(ctx, evs)
	return nil
}

// MyReservations lists the user's active reservations with their
// current place in each book's queue.
func (s *Service) MyReservations(ctx context.Context, userID int64) ([]ReservationResponse, error) {
	now := s.clock.Now()
	mine, err := s.repo.UserReservations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ReservationResponse, 0, len(mine))
	positions := map[int64]map[int64]int{}
	for _, r := range mine {
		pos, ok := positions[r.BookID]
		if !ok {
			queue, err := s.repo.ActiveReservations(ctx, r.BookID)
			if err != nil {
				return nil, err
			}
			pos = queuePositions(queue)
			positions[r.BookID] = pos
		}
		out = append(out, s.reservationResponse(r, pos[r.ID], now))
	}
	return out, nil
}

// BookQueue is the librarian's view of who waits for a book.
func (s *Service) BookQueue(ctx context.Context, bookID int64) ([]ReservationResponse, error) {
	ok, err := s.repo.BookExists(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound("book not found")
	}
	now := s.clock.Now()
	queue, err := s.repo.ActiveReservations(ctx, bookID)
	if err != nil {
		return nil, err
	}
	pos := queuePositions(queue)
	out := make([]ReservationResponse, 0, len(queue))
	for _, r := range sortQueue(queue) {
		out = append(out, s.reservationResponse(r, pos[r.ID], now))
	}
	return out, nil
}
