package circulation

import (
	"context"

	"github.com/shopspring/decimal"
)

const (
	recentReturnsLimit = 10
	recentLoansLimit   = 20
)

// StudentDashboard gathers everything a reader sees on their home page.
func (s *Service) StudentDashboard(ctx context.Context, userID int64) (DashboardResponse, error) {
	now := s.clock.Now()

	active, err := s.repo.UserLoans(ctx, userID, false, 0)
	if err != nil {
		return DashboardResponse{}, err
	}
	returned, err := s.repo.UserLoans(ctx, userID, true, recentReturnsLimit)
	if err != nil {
		return DashboardResponse{}, err
	}
	borrower, err := s.repo.BorrowerByID(ctx, userID)
	if err != nil {
		return DashboardResponse{}, err
	}
	if borrower == nil {
		return DashboardResponse{}, ErrNotFound("user not found")
	}
	unpaid := false
	fines, _, err := s.repo.ListFines(ctx, FineFilter{Username: borrower.Username, Paid: &unpaid}, Page{Order: "asc"})
	if err != nil {
		return DashboardResponse{}, err
	}
	reservations, err := s.MyReservations(ctx, userID)
	if err != nil {
		return DashboardResponse{}, err
	}

	out := DashboardResponse{
		ActiveLoans:   make([]LoanResponse, 0, len(active)),
		RecentReturns: make([]LoanResponse, 0, len(returned)),
		UnpaidFines:   make([]FineResponse, 0, len(fines)),
		UnpaidTotal:   decimal.Zero,
		Currency:      s.policy.Currency,
		Reservations:  reservations,
	}
	for _, l := range active {
		out.ActiveLoans = append(out.ActiveLoans, s.loanResponse(l, now))
	}
	for _, l := range returned {
		out.RecentReturns = append(out.RecentReturns, s.loanResponse(l, now))
	}
	for _, f := range fines {
		out.UnpaidFines = append(out.UnpaidFines, s.fineResponse(f))
		out.UnpaidTotal = out.UnpaidTotal.Add(f.Amount)
	}
	return out, nil
}

// StaffSummary is the librarian overview: stock counts, recent and
// overdue loans, outstanding fines.
func (s *Service) StaffSummary(ctx context.Context) (StaffSummaryResponse, error) {
	now := s.clock.Now()

	counts, err := s.repo.StaffCounts(ctx)
	if err != nil {
		return StaffSummaryResponse{}, err
	}
	recent, _, err := s.repo.ListLoans(ctx, LoanFilter{Now: now}, Page{Limit: recentLoansLimit, Order: "desc"})
	if err != nil {
		return StaffSummaryResponse{}, err
	}
	overdue, _, err := s.repo.ListLoans(ctx, LoanFilter{OverdueOnly: true, Now: now}, Page{Limit: 200, Order: "asc"})
	if err != nil {
		return StaffSummaryResponse{}, err
	}
	unpaid := false
	fines, _, err := s.repo.ListFines(ctx, FineFilter{Paid: &unpaid}, Page{Limit: 200, Order: "desc"})
	if err != nil {
		return StaffSummaryResponse{}, err
	}

	out := StaffSummaryResponse{
		TotalBooks:     counts.Books,
		TotalInstances: counts.Instances,
		OnLoan:         counts.OnLoan,
		RecentLoans:    make([]LoanResponse, 0, len(recent)),
		OverdueLoans:   make([]LoanResponse, 0, len(overdue)),
		UnpaidFines:    make([]FineResponse, 0, len(fines)),
	}
	for _, l := range recent {
		out.RecentLoans = append(out.RecentLoans, s.loanResponse(l, now))
	}
	for _, l := range overdue {
		out.OverdueLoans = append(out.OverdueLoans, s.loanResponse(l, now))
	}
	for _, f := range fines {
		out.UnpaidFines = append(out.UnpaidFines, s.fineResponse(f))
	}
	return out, nil
}

func (s *Service) ListLoans(ctx context.Context, f LoanFilter, p Page) ([]LoanResponse, int64, Page, error) {
	p = normalizePage(p)
	f.Now = s.clock.Now()
	items, total, err := s.repo.ListLoans(ctx, f, p)
	if err != nil {
		return nil, 0, p, err
	}
	out := make([]LoanResponse, 0, len(items))
	for _, l := range items {
		out = append(out, s.loanResponse(l, f.Now))
	}
	return out, total, p, nil
}
