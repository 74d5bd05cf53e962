package circulation

import (
	"context"
	"crypto/rand"
	"log"
	"strconv"
	"strings"
	"time"

	ulid "github.com/oklog/ulid/v2"

	"steppe-library/internal/platform/db"
	"steppe-library/internal/platform/events"
	"steppe-library/internal/qrlabel"
)

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// -------------- Service --------------

type Service struct {
	repo   Repository
	policy Policy
	pub    events.Publisher
	clock  Clock
	id     IDGen
}

func NewService(repo Repository, policy Policy, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.LogPublisher{}
	}
	return &Service{
		repo:   repo,
		policy: policy,
		pub:    pub,
		clock:  realClock{},
		id:     ulidGen{},
	}
}

// WithClock swaps the time source. Used by the batch job and tests.
func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

// IssueLoan lends the copy identified by a scanned or typed inventory
// code. All checks and writes share one transaction holding a row lock
// on the copy.
func (s *Service) IssueLoan(ctx context.Context, in IssueLoanRequest) (LoanResponse, error) {
	code := qrlabel.StripPrefix(in.InventoryNumber)
	username := strings.TrimSpace(in.Username)
	if code == "" || username == "" {
		return LoanResponse{}, ErrInvalid("inventory_number and username are required")
	}

	now := s.clock.Now()
	var (
		out LoanResponse
		evs []events.Event
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		inst, err := tx.InstanceByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if inst == nil {
			return ErrNotFound("instance not found: " + code)
		}
		if !CanTransition(inst.Status, StatusOnLoan, TriggerIssue) {
			return ErrUnavailable("instance " + code + " is " + string(inst.Status))
		}

		borrower, err := tx.BorrowerByUsername(ctx, username)
		if err != nil {
			return err
		}
		if borrower == nil {
			return ErrNotFound("borrower not found: " + username)
		}
		if borrower.IsDisabled {
			return ErrForbidden("borrower account is disabled")
		}

		held, err := tx.ActiveReservationFor(ctx, borrower.ID, inst.BookID)
		if err != nil {
			return err
		}
		// a reserved copy goes only to a reader whose hold was notified
		if inst.Status == StatusReserved && (held == nil || !held.Notified) {
			return ErrUnavailable("instance " + code + " is held for another reader")
		}

		unpaid, err := tx.UnpaidFineTotal(ctx, borrower.ID)
		if err != nil {
			return err
		}
		if unpaid.IsPositive() {
			return ErrUnpaidFines()
		}

		loan := &Loan{
			ULID:       s.id.NewULID(now),
			BorrowerID: borrower.ID,
			InstanceID: inst.ID,
			IssuedAt:   now,
			DueAt:      now.AddDate(0, 0, s.policy.LoanPeriodDays),
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			if db.IsDuplicate(err) {
				return ErrUnavailable("instance " + code + " already has an active loan")
			}
			return err
		}
		wasStatus := inst.Status
		if err := tx.SetInstanceStatus(ctx, inst.ID, StatusOnLoan); err != nil {
			return err
		}
		inst.Status = StatusOnLoan
		if held != nil {
			if err := tx.DeactivateReservation(ctx, held.ID); err != nil {
				return err
			}
			// the reader took another copy than the one held for them
			if held.Notified && wasStatus != StatusReserved {
				next, freed, err := s.releaseHold(ctx, tx, inst.BookID, now)
				if err != nil {
					return err
				}
				if next != nil {
					evs = append(evs, notifiedEvent(*next, freed, now))
				}
			}
		}

		out = s.loanResponse(LoanView{
			Loan:            *loan,
			Username:        borrower.Username,
			InventoryNumber: inst.InventoryNumber,
			BookID:          inst.BookID,
		}, now)
		evs = append(evs, events.Event{
			Type:       events.TypeLoanIssued,
			Key:        bookKey(inst.BookID),
			OccurredAt: now,
			Payload: map[string]any{
				"loan_id":          loan.ULID,
				"username":         borrower.Username,
				"inventory_number": inst.InventoryNumber,
				"due_at":           loan.DueAt,
			},
		})
		return nil
	})
	if err != nil {
		return LoanResponse{}, err
	}

	log.Printf("[INFO] loan issued loan=%s code=%s borrower=%s due=%s", out.LoanID, code, username, out.DueAt.Format(time.RFC3339))
	s.publish(ctx, evs)
	return out, nil
}

// ReturnLoan closes the active loan on a copy, assesses the overdue fine
// and hands the copy to the next reader in the queue, all in one
// transaction.
func (s *Service) ReturnLoan(ctx context.Context, in ReturnLoanRequest) (ReturnResponse, error) {
	code := qrlabel.StripPrefix(in.InventoryNumber)
	if code == "" {
		return ReturnResponse{}, ErrInvalid("inventory_number is required")
	}

	now := s.clock.Now()
	var (
		out ReturnResponse
		evs []events.Event
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		out, evs = ReturnResponse{}, nil

		inst, err := tx.InstanceByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if inst == nil {
			return ErrNotFound("instance not found: " + code)
		}
		loan, err := tx.ActiveLoanForUpdate(ctx, inst.ID)
		if err != nil {
			return err
		}
		if loan == nil {
			return ErrNoActiveLoan(code)
		}
		borrower, err := tx.BorrowerByID(ctx, loan.BorrowerID)
		if err != nil {
			return err
		}

		// 1) close the loan
		if err := tx.CloseLoan(ctx, loan.ID, now); err != nil {
			return err
		}
		loan.IsReturned = true
		loan.ReturnedAt = &now

		// 2) fine, once per loan
		fine, created, err := s.assessFine(ctx, tx, *loan, now)
		if err != nil {
			return err
		}
		if fine != nil {
			fr := s.fineResponse(FineView{Fine: *fine, LoanULID: loan.ULID})
			out.Fine = &fr
			out.FineCreated = created
			if created {
				evs = append(evs, events.Event{
					Type:       events.TypeFineAssessed,
					Key:        bookKey(inst.BookID),
					OccurredAt: now,
					Payload: map[string]any{
						"loan_id":  loan.ULID,
						"amount":   fine.Amount.String(),
						"currency": s.policy.Currency,
					},
				})
			}
		}

		// 3) next reader or back on the shelf
		next, pos, err := s.handOn(ctx, tx, inst, TriggerReturn, now)
		if err != nil {
			return err
		}
		if next != nil {
			rr := s.reservationResponse(*next, pos, now)
			out.Reservation = &rr
			evs = append(evs, notifiedEvent(*next, inst, now))
		}

		view := LoanView{Loan: *loan, InventoryNumber: inst.InventoryNumber, BookID: inst.BookID}
		if borrower != nil {
			view.Username = borrower.Username
		}
		out.Loan = s.loanResponse(view, now)
		out.Status = inst.Status
		evs = append(evs, events.Event{
			Type:       events.TypeLoanReturned,
			Key:        bookKey(inst.BookID),
			OccurredAt: now,
			Payload: map[string]any{
				"loan_id":          loan.ULID,
				"inventory_number": inst.InventoryNumber,
				"instance_status":  string(inst.Status),
			},
		})
		return nil
	})
	if err != nil {
		return ReturnResponse{}, err
	}

	log.Printf("[INFO] loan returned loan=%s code=%s status=%s fine_created=%t", out.Loan.LoanID, code, out.Status, out.FineCreated)
	s.publish(ctx, evs)
	return out, nil
}

// handOn gives a copy that just came free to the head of its book's
// queue, or puts it back on the shelf. inst.Status is updated in place.
func (s *Service) handOn(ctx context.Context, tx Repository, inst *Instance, via Trigger, now time.Time) (*ReservationView, int, error) {
	queue, err := tx.ActiveReservations(ctx, inst.BookID)
	if err != nil {
		return nil, 0, err
	}
	next := nextPending(queue)

	target := StatusAvailable
	if next != nil {
		target = StatusReserved
	}
	if target != inst.Status {
		if !CanTransition(inst.Status, target, via) {
			return nil, 0, ErrConflict("cannot move " + inst.InventoryNumber + " from " + string(inst.Status) + " to " + string(target))
		}
		if err := tx.SetInstanceStatus(ctx, inst.ID, target); err != nil {
			return nil, 0, err
		}
		inst.Status = target
	}
	if next == nil {
		return nil, 0, nil
	}
	if err := tx.MarkNotified(ctx, next.ID, now); err != nil {
		return nil, 0, err
	}
	next.Notified = true
	next.NotifiedAt = &now
	return next, queuePositions(queue)[next.ID], nil
}

// releaseHold frees one reserved copy of a book when there are more
// reserved copies than notified readers, e.g. after a notified hold was
// cancelled. The copy goes to the next pending reader if there is one.
func (s *Service) releaseHold(ctx context.Context, tx Repository, bookID int64, now time.Time) (*ReservationView, *Instance, error) {
	reserved, err := tx.ReservedInstancesForUpdate(ctx, bookID)
	if err != nil {
		return nil, nil, err
	}
	queue, err := tx.ActiveReservations(ctx, bookID)
	if err != nil {
		return nil, nil, err
	}
	notified := 0
	for _, r := range queue {
		if r.Notified {
			notified++
		}
	}
	if len(reserved) <= notified {
		return nil, nil, nil
	}

	inst := reserved[0]
	next, _, err := s.handOn(ctx, tx, &inst, TriggerRelease, now)
	if err != nil {
		return nil, nil, err
	}
	return next, &inst, nil
}

// OverrideStatus is the manual librarian correction: write a copy off as
// lost, or put a found or stuck copy back on the shelf. Writing off a
// copy on loan leaves the loan open, so its fine keeps accruing until the
// copy is returned.
func (s *Service) OverrideStatus(ctx context.Context, code string, in StatusOverrideRequest) (InstanceStatusResponse, error) {
	code = qrlabel.StripPrefix(code)
	to, err := ParseStatus(strings.TrimSpace(in.Status))
	if err != nil {
		return InstanceStatusResponse{}, ErrInvalid(err.Error())
	}

	var out InstanceStatusResponse
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		inst, err := tx.InstanceByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if inst == nil {
			return ErrNotFound("instance not found: " + code)
		}
		if !CanTransition(inst.Status, to, TriggerOverride) {
			return ErrConflict("cannot set " + code + " from " + string(inst.Status) + " to " + string(to))
		}
		if inst.Status == StatusLost {
			open, err := tx.ActiveLoanForUpdate(ctx, inst.ID)
			if err != nil {
				return err
			}
			if open != nil {
				return ErrConflict(code + " is still on loan; return it instead")
			}
		}
		if err := tx.SetInstanceStatus(ctx, inst.ID, to); err != nil {
			return err
		}
		out = InstanceStatusResponse{InventoryNumber: inst.InventoryNumber, BookID: inst.BookID, Status: to}
		return nil
	})
	if err != nil {
		return InstanceStatusResponse{}, err
	}
	log.Printf("[INFO] instance %s status overridden to %s", code, to)
	return out, nil
}

// publish runs after commit. Delivery failures are logged, never
// returned: the state change already happened.
func (s *Service) publish(ctx context.Context, evs []events.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range evs {
		if err := s.pub.Publish(ctx, ev); err != nil {
			log.Printf("[WARN] publish %s: %v", ev.Type, err)
		}
	}
}

func bookKey(bookID int64) string { return "book-" + strconv.FormatInt(bookID, 10) }

func notifiedEvent(r ReservationView, inst *Instance, now time.Time) events.Event {
	return events.Event{
		Type:       events.TypeReservationNotified,
		Key:        bookKey(r.BookID),
		OccurredAt: now,
		Payload: map[string]any{
			"reservation_id":   r.ID,
			"username":         r.Username,
			"book_title":       r.BookTitle,
			"inventory_number": inst.InventoryNumber,
		},
	}
}

// -------------- response helpers --------------

func (s *Service) loanResponse(v LoanView, now time.Time) LoanResponse {
	out := LoanResponse{
		LoanID:          v.ULID,
		Username:        v.Username,
		InventoryNumber: v.InventoryNumber,
		BookID:          v.BookID,
		BookTitle:       v.BookTitle,
		IssuedAt:        v.IssuedAt,
		DueAt:           v.DueAt,
		ReturnedAt:      v.ReturnedAt,
		IsReturned:      v.IsReturned,
	}
	at := now
	if v.IsReturned && v.ReturnedAt != nil {
		at = *v.ReturnedAt
	}
	out.DaysOverdue = overdueDays(v.DueAt, at)
	// a returned loan is no longer overdue; DaysOverdue keeps the history
	out.IsOverdue = !v.IsReturned && now.After(v.DueAt)
	if !v.IsReturned && v.DueAt.After(now) {
		out.DaysRemaining = int64(v.DueAt.Sub(now) / (24 * time.Hour))
	}
	return out
}

func (s *Service) fineResponse(v FineView) FineResponse {
	return FineResponse{
		FineID:    v.ID,
		LoanID:    v.LoanULID,
		Username:  v.Username,
		BookTitle: v.BookTitle,
		Amount:    v.Amount,
		Currency:  s.policy.Currency,
		IsPaid:    v.IsPaid,
		PaidAt:    v.PaidAt,
		CreatedAt: v.CreatedAt,
	}
}
