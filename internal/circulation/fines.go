package circulation

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"steppe-library/internal/platform/events"
)

const day = 24 * time.Hour

// overdueDays is the number of whole days now is past due, never negative.
func overdueDays(due, now time.Time) int64 {
	if !now.After(due) {
		return 0
	}
	return int64(now.Sub(due) / day)
}

func fineAmount(days int64, perDay decimal.Decimal) decimal.Decimal {
	return perDay.Mul(decimal.NewFromInt(days)).Round(2)
}

// assessFine materializes the fine for a loan as of now. It creates the
// fine at most once; an existing unpaid fine is brought up to date and a
// paid one is left alone.
func (s *Service) assessFine(ctx context.Context, tx Repository, loan Loan, now time.Time) (*Fine, bool, error) {
	days := overdueDays(loan.DueAt, now)
	if days < 1 {
		return nil, false, nil
	}
	amount := fineAmount(days, s.policy.FinePerDay)

	existing, err := tx.FineForLoan(ctx, loan.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		f := &Fine{LoanID: loan.ID, Amount: amount, CreatedAt: now}
		if err := tx.InsertFine(ctx, f); err != nil {
			return nil, false, err
		}
		return f, true, nil
	}
	if !existing.IsPaid && !existing.Amount.Equal(amount) {
		if err := tx.UpdateFineAmount(ctx, existing.ID, amount); err != nil {
			return nil, false, err
		}
		existing.Amount = amount
	}
	return existing, false, nil
}

// CalculateFines is the periodic sweep over unreturned overdue loans:
// missing fines are created and unpaid ones grow with the elapsed days.
// Paid fines and returned loans are never touched. Runs are assumed not
// to overlap.
func (s *Service) CalculateFines(ctx context.Context) (FineBatchResult, error) {
	now := s.clock.Now()
	var (
		res FineBatchResult
		evs []events.Event
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		res, evs = FineBatchResult{}, nil

		overdue, err := tx.OverdueLoans(ctx, now)
		if err != nil {
			return err
		}
		for _, o := range overdue {
			days := overdueDays(o.DueAt, now)
			if days < 1 {
				continue
			}
			amount := fineAmount(days, s.policy.FinePerDay)

			switch {
			case o.Fine == nil:
				f := &Fine{LoanID: o.ID, Amount: amount, CreatedAt: now}
				if err := tx.InsertFine(ctx, f); err != nil {
					return err
				}
				res.Created++
				evs = append(evs, events.Event{
					Type:       events.TypeFineAssessed,
					Key:        "loan-" + o.ULID,
					OccurredAt: now,
					Payload: map[string]any{
						"loan_id":  o.ULID,
						"amount":   amount.String(),
						"currency": s.policy.Currency,
					},
				})
			case !o.Fine.IsPaid && !o.Fine.Amount.Equal(amount):
				if err := tx.UpdateFineAmount(ctx, o.Fine.ID, amount); err != nil {
					return err
				}
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return FineBatchResult{}, err
	}

	log.Printf("[INFO] fines calculated: created=%d updated=%d", res.Created, res.Updated)
	s.publish(ctx, evs)
	return res, nil
}

func (s *Service) PayFine(ctx context.Context, fineID int64) (FineResponse, error) {
	now := s.clock.Now()
	var out FineResponse
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		f, err := tx.FineForUpdate(ctx, fineID)
		if err != nil {
			return err
		}
		if f == nil {
			return ErrNotFound("fine not found")
		}
		if f.IsPaid {
			return ErrConflict("fine already paid")
		}
		if err := tx.MarkFinePaid(ctx, f.ID, now); err != nil {
			return err
		}
		f.IsPaid = true
		f.PaidAt = &now
		out = s.fineResponse(FineView{Fine: *f})
		return nil
	})
	if err != nil {
		return FineResponse{}, err
	}
	log.Printf("[INFO] fine %d paid amount=%s", fineID, out.Amount.String())
	return out, nil
}

func (s *Service) ListFines(ctx context.Context, f FineFilter, p Page) ([]FineResponse, int64, Page, error) {
	p = normalizePage(p)
	items, total, err := s.repo.ListFines(ctx, f, p)
	if err != nil {
		return nil, 0, p, err
	}
	out := make([]FineResponse, 0, len(items))
	for _, v := range items {
		out = append(out, s.fineResponse(v))
	}
	return out, total, p, nil
}

func normalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
