package circulation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steppe-library/internal/platform/events"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	repo  *memRepo
	svc   *Service
	clock *testClock
	pub   *recordingPublisher
	book  int64
	alice int64
	bob   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	clock := &testClock{now: t0}
	pub := &recordingPublisher{}
	svc := NewService(repo, Policy{
		LoanPeriodDays: 14,
		FinePerDay:     decimal.NewFromInt(500),
		Currency:       "KZT",
		ExpiryWindow:   48 * time.Hour,
	}, pub).WithClock(clock)
	svc.id = &seqIDs{}

	f := &fixture{repo: repo, svc: svc, clock: clock, pub: pub}
	f.book = repo.addBook("Абай жолы")
	f.alice = repo.addUser("alice")
	f.bob = repo.addUser("bob")
	return f
}

func (f *fixture) issue(t *testing.T, code, username string) LoanResponse {
	t.Helper()
	l, err := f.svc.IssueLoan(context.Background(), IssueLoanRequest{InventoryNumber: code, Username: username})
	require.NoError(t, err)
	return l
}

func codeOf(t *testing.T, err error) Code {
	t.Helper()
	require.Error(t, err)
	return CodeOf(err)
}

// ===== pure rules =====

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		via      Trigger
		want     bool
	}{
		{StatusAvailable, StatusOnLoan, TriggerIssue, true},
		{StatusReserved, StatusOnLoan, TriggerIssue, true},
		{StatusOnLoan, StatusOnLoan, TriggerIssue, false},
		{StatusLost, StatusOnLoan, TriggerIssue, false},
		{StatusOnLoan, StatusAvailable, TriggerReturn, true},
		{StatusOnLoan, StatusReserved, TriggerReturn, true},
		{StatusAvailable, StatusReserved, TriggerReturn, false},
		{StatusAvailable, StatusLost, TriggerOverride, true},
		{StatusOnLoan, StatusLost, TriggerOverride, true},
		{StatusLost, StatusAvailable, TriggerReturn, true},
		{StatusLost, StatusReserved, TriggerReturn, true},
		{StatusLost, StatusOnLoan, TriggerOverride, false},
		{StatusLost, StatusAvailable, TriggerOverride, true},
		{StatusReserved, StatusAvailable, TriggerRelease, true},
		{StatusAvailable, StatusOnLoan, TriggerOverride, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.via), "%s -> %s via %s", tt.from, tt.to, tt.via)
	}
}

func TestOverdueDaysAndFineAmount(t *testing.T) {
	due := t0
	assert.EqualValues(t, 0, overdueDays(due, due.Add(-time.Hour)))
	assert.EqualValues(t, 0, overdueDays(due, due))
	assert.EqualValues(t, 0, overdueDays(due, due.Add(23*time.Hour)))
	assert.EqualValues(t, 1, overdueDays(due, due.Add(24*time.Hour)))
	assert.EqualValues(t, 6, overdueDays(due, due.Add(6*24*time.Hour+5*time.Hour)))

	assert.True(t, decimal.NewFromInt(3000).Equal(fineAmount(6, decimal.NewFromInt(500))))
	assert.True(t, decimal.RequireFromString("7.50").Equal(fineAmount(3, decimal.RequireFromString("2.5"))))
}

func TestQueuePositions_FollowCreationOrder(t *testing.T) {
	base := t0
	queue := []ReservationView{
		{Reservation: Reservation{ID: 30, CreatedAt: base.Add(2 * time.Minute), IsActive: true}},
		{Reservation: Reservation{ID: 10, CreatedAt: base, IsActive: true}},
		{Reservation: Reservation{ID: 21, CreatedAt: base.Add(time.Minute), IsActive: true}},
		{Reservation: Reservation{ID: 20, CreatedAt: base.Add(time.Minute), IsActive: true}},
	}
	pos := queuePositions(queue)
	assert.Equal(t, map[int64]int{10: 1, 20: 2, 21: 3, 30: 4}, pos)

	// cancelling one closes the gap without reordering the rest
	queue[3].IsActive = false
	pos = queuePositions(queue)
	assert.Equal(t, map[int64]int{10: 1, 21: 2, 30: 3}, pos)
}

func TestNextPending_SkipsNotified(t *testing.T) {
	queue := []ReservationView{
		{Reservation: Reservation{ID: 1, CreatedAt: t0, IsActive: true, Notified: true}},
		{Reservation: Reservation{ID: 2, CreatedAt: t0.Add(time.Second), IsActive: true}},
	}
	next := nextPending(queue)
	require.NotNil(t, next)
	assert.EqualValues(t, 2, next.ID)

	assert.Nil(t, nextPending(queue[:1]))
}

func TestExpiry(t *testing.T) {
	notifiedAt := t0
	r := Reservation{Notified: true, NotifiedAt: &notifiedAt}

	at, expired := expiry(r, 48*time.Hour, t0.Add(47*time.Hour))
	require.NotNil(t, at)
	assert.Equal(t, t0.Add(48*time.Hour), *at)
	assert.False(t, expired)

	_, expired = expiry(r, 48*time.Hour, t0.Add(49*time.Hour))
	assert.True(t, expired)

	at, expired = expiry(Reservation{}, 48*time.Hour, t0.Add(100*time.Hour))
	assert.Nil(t, at)
	assert.False(t, expired)
}

// ===== issue =====

func TestIssueLoan_AvailableCopyGoesOnLoan(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)

	loan := f.issue(t, "STEPPE-LIB:INV-0001", "alice")

	assert.Equal(t, t0.Add(14*24*time.Hour), loan.DueAt)
	assert.Equal(t, t0, loan.IssuedAt)
	assert.Equal(t, "alice", loan.Username)
	assert.EqualValues(t, 14, loan.DaysRemaining)
	assert.Equal(t, StatusOnLoan, f.repo.instance("INV-0001").Status)
	assert.Equal(t, []string{events.TypeLoanIssued}, f.pub.types())
}

func TestIssueLoan_NonAvailableRejectedWithoutChange(t *testing.T) {
	for _, st := range []Status{StatusOnLoan, StatusLost, StatusReserved} {
		t.Run(string(st), func(t *testing.T) {
			f := newFixture(t)
			f.repo.addInstance(f.book, "INV-0001", st)
			before := f.repo.st.clone()

			_, err := f.svc.IssueLoan(context.Background(), IssueLoanRequest{InventoryNumber: "INV-0001", Username: "alice"})
			assert.Equal(t, CodeInstanceUnavailable, codeOf(t, err))
			assert.Equal(t, before, f.repo.st)
			assert.Empty(t, f.pub.events)
		})
	}
}

func TestIssueLoan_Preconditions(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	ctx := context.Background()

	_, err := f.svc.IssueLoan(ctx, IssueLoanRequest{InventoryNumber: "INV-404", Username: "alice"})
	assert.Equal(t, CodeNotFound, codeOf(t, err))

	_, err = f.svc.IssueLoan(ctx, IssueLoanRequest{InventoryNumber: "INV-0001", Username: "nobody"})
	assert.Equal(t, CodeNotFound, codeOf(t, err))

	_, err = f.svc.IssueLoan(ctx, IssueLoanRequest{InventoryNumber: " ", Username: "alice"})
	assert.Equal(t, CodeInvalidArgument, codeOf(t, err))

	assert.Equal(t, StatusAvailable, f.repo.instance("INV-0001").Status)
	assert.Empty(t, f.repo.st.loans)
}

func TestIssueLoan_ReservedCopyOnlyForNotifiedHolder(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	ctx := context.Background()

	f.issue(t, "INV-0001", "alice")
	res, err := f.svc.Reserve(ctx, f.bob, f.book)
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)
	require.Equal(t, StatusReserved, f.repo.instance("INV-0001").Status)

	_, err = f.svc.IssueLoan(ctx, IssueLoanRequest{InventoryNumber: "INV-0001", Username: "alice"})
	assert.Equal(t, CodeInstanceUnavailable, codeOf(t, err))

	loan := f.issue(t, "INV-0001", "bob")
	assert.Equal(t, "bob", loan.Username)
	assert.Equal(t, StatusOnLoan, f.repo.instance("INV-0001").Status)
	assert.False(t, f.repo.st.reservations[res.ReservationID].IsActive)
}

func TestIssueLoan_DeactivatesBorrowersReservation(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusOnLoan)
	ctx := context.Background()

	res, err := f.svc.Reserve(ctx, f.bob, f.book)
	require.NoError(t, err)

	f.repo.addInstance(f.book, "INV-0002", StatusAvailable)
	f.issue(t, "INV-0002", "bob")
	assert.False(t, f.repo.st.reservations[res.ReservationID].IsActive)
}

func TestIssueLoan_StorageRejectsSecondActiveLoan(t *testing.T) {
	f := newFixture(t)
	id := f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	// a loan already open on the copy despite the status saying otherwise
	f.repo.st.loans[99] = Loan{ID: 99, BorrowerID: f.bob, InstanceID: id, DueAt: t0}

	_, err := f.svc.IssueLoan(context.Background(), IssueLoanRequest{InventoryNumber: "INV-0001", Username: "alice"})
	assert.Equal(t, CodeInstanceUnavailable, codeOf(t, err))
	assert.Equal(t, StatusAvailable, f.repo.instance("INV-0001").Status)
	assert.Len(t, f.repo.st.loans, 1)
}

// ===== return & fines =====

func TestReturnLoan_OnTimeCreatesNoFine(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	f.clock.advance(10 * 24 * time.Hour)

	res, err := f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)
	assert.Nil(t, res.Fine)
	assert.False(t, res.FineCreated)
	assert.Nil(t, res.Reservation)
	assert.True(t, res.Loan.IsReturned)
	assert.Equal(t, StatusAvailable, res.Status)
	assert.Equal(t, StatusAvailable, f.repo.instance("INV-0001").Status)
	assert.Empty(t, f.repo.st.fines)
}

func TestReturnLoan_SixDaysOverdueFinesThreeThousandOnce(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	f.clock.advance(20 * 24 * time.Hour)

	res, err := f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)
	require.NotNil(t, res.Fine)
	assert.True(t, res.FineCreated)
	assert.True(t, decimal.NewFromInt(3000).Equal(res.Fine.Amount))
	assert.EqualValues(t, 6, res.Loan.DaysOverdue)
	assert.Contains(t, f.pub.types(), events.TypeFineAssessed)

	var loan Loan
	for _, l := range f.repo.st.loans {
		loan = l
	}
	require.Len(t, f.repo.finesFor(loan.ID), 1)

	// running the assessment again for the same loan does not add a fine
	fine, created, err := f.svc.assessFine(context.Background(), f.repo, loan, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, res.Fine.FineID, fine.ID)
	assert.Len(t, f.repo.finesFor(loan.ID), 1)

	_, err = f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-0001"})
	assert.Equal(t, CodeNoActiveLoan, codeOf(t, err))
	assert.Len(t, f.repo.st.fines, 1)
}

func TestReturnLoan_UpdatesBatchFineToFinalAmount(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")

	f.clock.advance(16 * 24 * time.Hour)
	batch, err := f.svc.CalculateFines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Created)

	f.clock.advance(2 * 24 * time.Hour)
	res, err := f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)
	require.NotNil(t, res.Fine)
	assert.False(t, res.FineCreated)
	assert.True(t, decimal.NewFromInt(2000).Equal(res.Fine.Amount))
	assert.Len(t, f.repo.st.fines, 1)
}

func TestReturnLoan_Failures(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)

	_, err := f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-404"})
	assert.Equal(t, CodeNotFound, codeOf(t, err))

	_, err = f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-0001"})
	assert.Equal(t, CodeNoActiveLoan, codeOf(t, err))
}

func TestReturnLoan_NotifiesHeadOfQueue(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	carol := f.repo.addUser("carol")
	ctx := context.Background()

	f.issue(t, "INV-0001", "alice")
	bobRes, err := f.svc.Reserve(ctx, f.bob, f.book)
	require.NoError(t, err)
	assert.Equal(t, 1, bobRes.QueuePosition)
	f.clock.advance(time.Minute)
	carolRes, err := f.svc.Reserve(ctx, carol, f.book)
	require.NoError(t, err)
	assert.Equal(t, 2, carolRes.QueuePosition)

	f.clock.advance(time.Hour)
	res, err := f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)

	require.NotNil(t, res.Reservation)
	assert.Equal(t, bobRes.ReservationID, res.Reservation.ReservationID)
	assert.Equal(t, "bob", res.Reservation.Username)
	assert.True(t, res.Reservation.Notified)
	assert.Equal(t, StatusReserved, res.Status)
	assert.Equal(t, StatusReserved, f.repo.instance("INV-0001").Status)

	bob := f.repo.st.reservations[bobRes.ReservationID]
	assert.True(t, bob.Notified)
	require.NotNil(t, bob.NotifiedAt)
	assert.Equal(t, f.clock.Now(), *bob.NotifiedAt)
	assert.False(t, f.repo.st.reservations[carolRes.ReservationID].Notified)
	assert.Contains(t, f.pub.types(), events.TypeReservationNotified)
}

func TestReturnLoan_RollsBackEverythingOnFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	_, err := f.svc.Reserve(context.Background(), f.bob, f.book)
	require.NoError(t, err)
	f.clock.advance(20 * 24 * time.Hour)
	before := f.repo.st.clone()
	published := len(f.pub.events)

	f.repo.failMarkNotified = errBoom
	_, err = f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-0001"})
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, before, f.repo.st)
	assert.Equal(t, StatusOnLoan, f.repo.instance("INV-0001").Status)
	assert.Empty(t, f.repo.st.fines)
	assert.Len(t, f.pub.events, published)
}

func TestReturnLoan_PublishFailureDoesNotFailReturn(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	f.pub.err = errBoom

	_, err := f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, f.repo.instance("INV-0001").Status)
}

func TestCalculateFines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, code := range []string{"INV-1", "INV-2", "INV-3", "INV-4"} {
		f.repo.addInstance(f.book, code, StatusAvailable)
	}
	f.repo.addUser("carol")
	f.repo.addUser("dave")

	f.issue(t, "INV-1", "alice") // stays out, fine grows
	f.issue(t, "INV-2", "bob")   // returned late, fine frozen
	f.issue(t, "INV-3", "carol") // fine paid, frozen
	f.clock.advance(5 * 24 * time.Hour)
	f.issue(t, "INV-4", "dave") // not yet due

	f.clock.advance(12 * 24 * time.Hour) // first three are 3 days late
	res, err := f.svc.CalculateFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, FineBatchResult{Created: 3}, res)

	_, err = f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-2"})
	require.NoError(t, err)
	unpaid := false
	fines, _, _, err := f.svc.ListFines(ctx, FineFilter{Username: "carol", Paid: &unpaid}, Page{})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	_, err = f.svc.PayFine(ctx, fines[0].FineID)
	require.NoError(t, err)

	// same moment again: nothing to do
	res, err = f.svc.CalculateFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, FineBatchResult{}, res)

	f.clock.advance(2 * 24 * time.Hour)
	res, err = f.svc.CalculateFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, FineBatchResult{Updated: 1}, res)

	amounts := map[string]decimal.Decimal{}
	all, _, _, err := f.svc.ListFines(ctx, FineFilter{}, Page{})
	require.NoError(t, err)
	for _, fr := range all {
		amounts[fr.Username] = fr.Amount
	}
	assert.True(t, decimal.NewFromInt(2500).Equal(amounts["alice"]), amounts["alice"].String())
	assert.True(t, decimal.NewFromInt(1500).Equal(amounts["bob"]), amounts["bob"].String())
	assert.True(t, decimal.NewFromInt(1500).Equal(amounts["carol"]), amounts["carol"].String())
	_, ok := amounts["dave"]
	assert.False(t, ok)
}

func TestPayFine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	f.clock.advance(15 * 24 * time.Hour)
	res, err := f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)
	require.NotNil(t, res.Fine)

	paid, err := f.svc.PayFine(ctx, res.Fine.FineID)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, f.clock.Now(), *paid.PaidAt)

	_, err = f.svc.PayFine(ctx, res.Fine.FineID)
	assert.Equal(t, CodeConflict, codeOf(t, err))
	_, err = f.svc.PayFine(ctx, 12345)
	assert.Equal(t, CodeNotFound, codeOf(t, err))

	// settled: borrowing works again
	f.issue(t, "INV-0001", "alice")
}

// ===== unpaid fines block =====

func TestUnpaidFineBlocksBorrowAndReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	f.clock.advance(16 * 24 * time.Hour)
	_, err := f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)

	other := f.repo.addBook("Other")
	f.repo.addInstance(other, "INV-0002", StatusOnLoan)
	before := f.repo.st.clone()

	_, err = f.svc.IssueLoan(ctx, IssueLoanRequest{InventoryNumber: "INV-0001", Username: "alice"})
	assert.Equal(t, CodeUnpaidFines, codeOf(t, err))
	_, err = f.svc.Reserve(ctx, f.alice, other)
	assert.Equal(t, CodeUnpaidFines, codeOf(t, err))

	assert.Equal(t, before, f.repo.st)
}

// ===== reservations =====

func TestReserve_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)

	_, err := f.svc.Reserve(ctx, f.bob, f.book)
	assert.Equal(t, CodeCopiesAvailable, codeOf(t, err))

	_, err = f.svc.Reserve(ctx, f.bob, 9999)
	assert.Equal(t, CodeNotFound, codeOf(t, err))

	f.issue(t, "INV-0001", "alice")
	_, err = f.svc.Reserve(ctx, f.bob, f.book)
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, f.bob, f.book)
	assert.Equal(t, CodeDuplicateReservation, codeOf(t, err))
	assert.Len(t, f.repo.st.reservations, 1)
}

func TestCancelReservation_PositionsCompact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusOnLoan)
	carol := f.repo.addUser("carol")
	dave := f.repo.addUser("dave")

	var ids []int64
	for _, u := range []int64{f.bob, carol, dave} {
		r, err := f.svc.Reserve(ctx, u, f.book)
		require.NoError(t, err)
		ids = append(ids, r.ReservationID)
		f.clock.advance(time.Minute)
	}

	err := f.svc.CancelReservation(ctx, f.alice, false, ids[1])
	assert.Equal(t, CodeForbidden, codeOf(t, err))

	require.NoError(t, f.svc.CancelReservation(ctx, carol, false, ids[1]))
	err = f.svc.CancelReservation(ctx, carol, false, ids[1])
	assert.Equal(t, CodeConflict, codeOf(t, err))

	queue, err := f.svc.BookQueue(ctx, f.book)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, ids[0], queue[0].ReservationID)
	assert.Equal(t, 1, queue[0].QueuePosition)
	assert.Equal(t, ids[2], queue[1].ReservationID)
	assert.Equal(t, 2, queue[1].QueuePosition)

	mine, err := f.svc.MyReservations(ctx, dave)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, 2, mine[0].QueuePosition)
}

func TestCancelNotifiedReservation_PassesCopyOn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	carol := f.repo.addUser("carol")

	f.issue(t, "INV-0001", "alice")
	bobRes, err := f.svc.Reserve(ctx, f.bob, f.book)
	require.NoError(t, err)
	f.clock.advance(time.Minute)
	carolRes, err := f.svc.Reserve(ctx, carol, f.book)
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelReservation(ctx, f.bob, false, bobRes.ReservationID))
	assert.True(t, f.repo.st.reservations[carolRes.ReservationID].Notified)
	assert.Equal(t, StatusReserved, f.repo.instance("INV-0001").Status)

	// the last waiting reader gives up: the copy goes back on the shelf
	require.NoError(t, f.svc.CancelReservation(ctx, carol, false, carolRes.ReservationID))
	assert.Equal(t, StatusAvailable, f.repo.instance("INV-0001").Status)
}

func TestMyReservations_ShowsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	_, err := f.svc.Reserve(ctx, f.bob, f.book)
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)

	f.clock.advance(49 * time.Hour)
	mine, err := f.svc.MyReservations(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, mine[0].Notified)
	assert.True(t, mine[0].IsExpired)
	// expiry is informational only
	assert.Equal(t, StatusReserved, f.repo.instance("INV-0001").Status)
}

// ===== override & dashboards =====

func TestOverrideStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.repo.addInstance(f.book, "INV-0002", StatusOnLoan)

	res, err := f.svc.OverrideStatus(ctx, "INV-0001", StatusOverrideRequest{Status: "lost"})
	require.NoError(t, err)
	assert.Equal(t, StatusLost, res.Status)
	assert.Equal(t, StatusLost, f.repo.instance("INV-0001").Status)

	_, err = f.svc.OverrideStatus(ctx, "INV-0001", StatusOverrideRequest{Status: "available"})
	require.NoError(t, err)

	_, err = f.svc.OverrideStatus(ctx, "INV-0002", StatusOverrideRequest{Status: "available"})
	assert.Equal(t, CodeConflict, codeOf(t, err))
	_, err = f.svc.OverrideStatus(ctx, "INV-0001", StatusOverrideRequest{Status: "borrowed"})
	assert.Equal(t, CodeInvalidArgument, codeOf(t, err))
	_, err = f.svc.OverrideStatus(ctx, "INV-404", StatusOverrideRequest{Status: "lost"})
	assert.Equal(t, CodeNotFound, codeOf(t, err))
}

func TestOverrideStatus_CopyLostByBorrower(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	bobRes, err := f.svc.Reserve(ctx, f.bob, f.book)
	require.NoError(t, err)

	res, err := f.svc.OverrideStatus(ctx, "INV-0001", StatusOverrideRequest{Status: "lost"})
	require.NoError(t, err)
	assert.Equal(t, StatusLost, res.Status)
	assert.Equal(t, StatusLost, f.repo.instance("INV-0001").Status)

	// the loan stays open and nobody is told a copy is waiting
	loan, err := f.repo.ActiveLoanForUpdate(ctx, "inst-INV-0001")
	require.NoError(t, err)
	require.NotNil(t, loan)
	assert.False(t, f.repo.st.reservations[bobRes.ReservationID].Notified)
	assert.NotContains(t, f.pub.types(), events.TypeReservationNotified)

	// the sweep keeps charging the borrower
	f.clock.advance(20 * 24 * time.Hour)
	batch, err := f.svc.CalculateFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, FineBatchResult{Created: 1}, batch)

	_, err = f.svc.IssueLoan(ctx, IssueLoanRequest{InventoryNumber: "INV-0001", Username: "bob"})
	assert.Equal(t, CodeInstanceUnavailable, codeOf(t, err))

	// putting it back on the shelf by hand would orphan the open loan
	_, err = f.svc.OverrideStatus(ctx, "INV-0001", StatusOverrideRequest{Status: "available"})
	assert.Equal(t, CodeConflict, codeOf(t, err))
	assert.Equal(t, StatusLost, f.repo.instance("INV-0001").Status)

	// the copy turns up and is returned through the desk
	f.clock.advance(24 * time.Hour)
	ret, err := f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)
	require.NotNil(t, ret.Fine)
	assert.True(t, decimal.NewFromInt(3500).Equal(ret.Fine.Amount))
	assert.False(t, ret.FineCreated)
	require.NotNil(t, ret.Reservation)
	assert.Equal(t, bobRes.ReservationID, ret.Reservation.ReservationID)
	assert.Equal(t, StatusReserved, ret.Status)
	assert.Equal(t, StatusReserved, f.repo.instance("INV-0001").Status)
}

func TestLostCopyWithoutLoanCanBeRestored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	_, err := f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)

	_, err = f.svc.OverrideStatus(ctx, "INV-0001", StatusOverrideRequest{Status: "lost"})
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	assert.Equal(t, CodeNoActiveLoan, codeOf(t, err))

	_, err = f.svc.OverrideStatus(ctx, "INV-0001", StatusOverrideRequest{Status: "available"})
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, f.repo.instance("INV-0001").Status)
}

func TestLoanResponse_ReturnedLateIsNotOverdue(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	f.clock.advance(17 * 24 * time.Hour)

	loans, _, _, err := f.svc.ListLoans(context.Background(), LoanFilter{Username: "alice"}, Page{})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.True(t, loans[0].IsOverdue)

	ret, err := f.svc.ReturnLoan(context.Background(), ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)
	assert.False(t, ret.Loan.IsOverdue)
	assert.EqualValues(t, 3, ret.Loan.DaysOverdue)
}

func TestStudentDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.repo.addInstance(f.book, "INV-0002", StatusAvailable)

	f.issue(t, "INV-0001", "alice")
	f.clock.advance(17 * 24 * time.Hour)
	_, err := f.svc.ReturnLoan(ctx, ReturnLoanRequest{InventoryNumber: "INV-0001"})
	require.NoError(t, err)

	// a second loan issued before the fine existed is still out
	f.repo.st.loans[500] = Loan{ID: 500, ULID: "X", BorrowerID: f.alice, InstanceID: "inst-INV-0002", IssuedAt: f.clock.Now(), DueAt: f.clock.Now().Add(-2 * 24 * time.Hour)}

	d, err := f.svc.StudentDashboard(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, d.ActiveLoans, 1)
	assert.True(t, d.ActiveLoans[0].IsOverdue)
	assert.EqualValues(t, 2, d.ActiveLoans[0].DaysOverdue)
	require.Len(t, d.RecentReturns, 1)
	require.Len(t, d.UnpaidFines, 1)
	assert.True(t, decimal.NewFromInt(1500).Equal(d.UnpaidTotal))
	assert.Equal(t, "KZT", d.Currency)
	assert.Empty(t, d.Reservations)

	_, err = f.svc.StudentDashboard(ctx, 4242)
	assert.Equal(t, CodeNotFound, codeOf(t, err))
}

func TestStaffSummary(t *testing.T) {
	f := newFixture(t)
	f.repo.addInstance(f.book, "INV-0001", StatusAvailable)
	f.repo.addInstance(f.book, "INV-0002", StatusAvailable)
	f.issue(t, "INV-0001", "alice")
	f.clock.advance(20 * 24 * time.Hour)

	s, err := f.svc.StaffSummary(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.TotalBooks)
	assert.EqualValues(t, 2, s.TotalInstances)
	assert.EqualValues(t, 1, s.OnLoan)
	assert.Len(t, s.RecentLoans, 1)
	require.Len(t, s.OverdueLoans, 1)
	assert.EqualValues(t, 6, s.OverdueLoans[0].DaysOverdue)
	assert.Empty(t, s.UnpaidFines)
}
