package circulation

import (
	"context"
	"errors"
	"sort"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"steppe-library/internal/platform/events"
)

type memState struct {
	books        map[int64]string
	users        map[int64]Borrower
	instances    map[string]Instance
	loans        map[int64]Loan
	fines        map[int64]Fine
	reservations map[int64]Reservation
	seq          int64
}

func (s memState) clone() memState {
	out := memState{
		books:        map[int64]string{},
		users:        map[int64]Borrower{},
		instances:    map[string]Instance{},
		loans:        map[int64]Loan{},
		fines:        map[int64]Fine{},
		reservations: map[int64]Reservation{},
		seq:          s.seq,
	}
	for k, v := range s.books {
		out.books[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.instances {
		out.instances[k] = v
	}
	for k, v := range s.loans {
		out.loans[k] = v
	}
	for k, v := range s.fines {
		out.fines[k] = v
	}
	for k, v := range s.reservations {
		out.reservations[k] = v
	}
	return out
}

// memRepo is an in-memory Repository. RunInTx snapshots the state and
// restores it when fn fails, so rollback behaviour can be asserted.
type memRepo struct {
	st memState

	failMarkNotified error
}

func newMemRepo() *memRepo {
	return &memRepo{st: memState{}.clone()}
}

func (m *memRepo) next() int64 {
	m.st.seq++
	return m.st.seq
}

var errDuplicate = &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}

func (m *memRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	snap := m.st.clone()
	if err := fn(ctx, m); err != nil {
		m.st = snap
		return err
	}
	return nil
}

// ----- seeding helpers -----

func (m *memRepo) addBook(title string) int64 {
	id := m.next()
	m.st.books[id] = title
	return id
}

func (m *memRepo) addUser(username string) int64 {
	id := m.next()
	m.st.users[id] = Borrower{ID: id, Username: username}
	return id
}

func (m *memRepo) addInstance(bookID int64, code string, st Status) string {
	id := "inst-" + code
	m.st.instances[id] = Instance{ID: id, BookID: bookID, InventoryNumber: code, Status: st}
	return id
}

func (m *memRepo) instance(code string) Instance {
	for _, in := range m.st.instances {
		if in.InventoryNumber == code {
			return in
		}
	}
	return Instance{}
}

func (m *memRepo) finesFor(loanID int64) []Fine {
	var out []Fine
	for _, f := range m.st.fines {
		if f.LoanID == loanID {
			out = append(out, f)
		}
	}
	return out
}

// ----- instances -----

func (m *memRepo) InstanceByCodeForUpdate(_ context.Context, code string) (*Instance, error) {
	for _, in := range m.st.instances {
		if in.InventoryNumber == code {
			cp := in
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ReservedInstancesForUpdate(_ context.Context, bookID int64) ([]Instance, error) {
	out := []Instance{}
	for _, in := range m.st.instances {
		if in.BookID == bookID && in.Status == StatusReserved {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InventoryNumber < out[j].InventoryNumber })
	return out, nil
}

func (m *memRepo) SetInstanceStatus(_ context.Context, instanceID string, st Status) error {
	in, ok := m.st.instances[instanceID]
	if !ok {
		return ErrNotFound("instance not found")
	}
	in.Status = st
	m.st.instances[instanceID] = in
	return nil
}

func (m *memRepo) BookExists(_ context.Context, bookID int64) (bool, error) {
	_, ok := m.st.books[bookID]
	return ok, nil
}

func (m *memRepo) AvailableCopies(_ context.Context, bookID int64) (int64, error) {
	var n int64
	for _, in := range m.st.instances {
		if in.BookID == bookID && in.Status == StatusAvailable {
			n++
		}
	}
	return n, nil
}

// ----- borrowers -----

func (m *memRepo) BorrowerByUsername(_ context.Context, username string) (*Borrower, error) {
	for _, u := range m.st.users {
		if u.Username == username {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) BorrowerByID(_ context.Context, id int64) (*Borrower, error) {
	u, ok := m.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// ----- loans -----

func (m *memRepo) InsertLoan(_ context.Context, l *Loan) error {
	for _, x := range m.st.loans {
		if x.InstanceID == l.InstanceID && !x.IsReturned {
			return errDuplicate
		}
	}
	l.ID = m.next()
	m.st.loans[l.ID] = *l
	return nil
}

func (m *memRepo) ActiveLoanForUpdate(_ context.Context, instanceID string) (*Loan, error) {
	for _, l := range m.st.loans {
		if l.InstanceID == instanceID && !l.IsReturned {
			cp := l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) CloseLoan(_ context.Context, loanID int64, at time.Time) error {
	l, ok := m.st.loans[loanID]
	if !ok || l.IsReturned {
		return ErrConflict("loan already returned")
	}
	l.IsReturned = true
	l.ReturnedAt = &at
	m.st.loans[loanID] = l
	return nil
}

func (m *memRepo) loanView(l Loan) LoanView {
	in := m.st.instances[l.InstanceID]
	return LoanView{
		Loan:            l,
		Username:        m.st.users[l.BorrowerID].Username,
		InventoryNumber: in.InventoryNumber,
		BookID:          in.BookID,
		BookTitle:       m.st.books[in.BookID],
	}
}

func (m *memRepo) sortedLoans() []Loan {
	out := make([]Loan, 0, len(m.st.loans))
	for _, l := range m.st.loans {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memRepo) UserLoans(_ context.Context, userID int64, returned bool, limit int) ([]LoanView, error) {
	out := []LoanView{}
	for _, l := range m.sortedLoans() {
		if l.BorrowerID == userID && l.IsReturned == returned {
			out = append(out, m.loanView(l))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) ListLoans(_ context.Context, f LoanFilter, p Page) ([]LoanView, int64, error) {
	out := []LoanView{}
	for _, l := range m.sortedLoans() {
		v := m.loanView(l)
		if f.Username != "" && v.Username != f.Username {
			continue
		}
		if (f.ActiveOnly || f.OverdueOnly) && l.IsReturned {
			continue
		}
		if f.OverdueOnly && !l.DueAt.Before(f.Now) {
			continue
		}
		out = append(out, v)
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) StaffCounts(context.Context) (StaffCounts, error) {
	c := StaffCounts{Books: int64(len(m.st.books)), Instances: int64(len(m.st.instances))}
	for _, in := range m.st.instances {
		if in.Status == StatusOnLoan {
			c.OnLoan++
		}
	}
	return c, nil
}

// ----- fines -----

func (m *memRepo) UnpaidFineTotal(_ context.Context, userID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, f := range m.st.fines {
		if !f.IsPaid && m.st.loans[f.LoanID].BorrowerID == userID {
			total = total.Add(f.Amount)
		}
	}
	return total, nil
}

func (m *memRepo) FineForLoan(_ context.Context, loanID int64) (*Fine, error) {
	for _, f := range m.st.fines {
		if f.LoanID == loanID {
			cp := f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) FineForUpdate(_ context.Context, fineID int64) (*Fine, error) {
	f, ok := m.st.fines[fineID]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *memRepo) InsertFine(_ context.Context, f *Fine) error {
	for _, x := range m.st.fines {
		if x.LoanID == f.LoanID {
			return errDuplicate
		}
	}
	f.ID = m.next()
	m.st.fines[f.ID] = *f
	return nil
}

func (m *memRepo) UpdateFineAmount(_ context.Context, fineID int64, amount decimal.Decimal) error {
	f := m.st.fines[fineID]
	if !f.IsPaid {
		f.Amount = amount
		m.st.fines[fineID] = f
	}
	return nil
}

func (m *memRepo) MarkFinePaid(_ context.Context, fineID int64, at time.Time) error {
	f, ok := m.st.fines[fineID]
	if !ok || f.IsPaid {
		return ErrConflict("fine already paid")
	}
	f.IsPaid = true
	f.PaidAt = &at
	m.st.fines[fineID] = f
	return nil
}

func (m *memRepo) OverdueLoans(_ context.Context, now time.Time) ([]OverdueLoan, error) {
	out := []OverdueLoan{}
	for _, l := range m.sortedLoans() {
		if l.IsReturned || !l.DueAt.Before(now) {
			continue
		}
		o := OverdueLoan{Loan: l}
		if f, _ := m.FineForLoan(context.Background(), l.ID); f != nil {
			o.Fine = f
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memRepo) ListFines(_ context.Context, f FineFilter, _ Page) ([]FineView, int64, error) {
	ids := make([]int64, 0, len(m.st.fines))
	for id := range m.st.fines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := []FineView{}
	for _, id := range ids {
		fine := m.st.fines[id]
		lv := m.loanView(m.st.loans[fine.LoanID])
		if f.Username != "" && lv.Username != f.Username {
			continue
		}
		if f.Paid != nil && fine.IsPaid != *f.Paid {
			continue
		}
		out = append(out, FineView{Fine: fine, LoanULID: lv.ULID, Username: lv.Username, BookTitle: lv.BookTitle, DueAt: lv.DueAt})
	}
	return out, int64(len(out)), nil
}

// ----- reservations -----

func (m *memRepo) reservationView(r Reservation) ReservationView {
	return ReservationView{Reservation: r, Username: m.st.users[r.UserID].Username, BookTitle: m.st.books[r.BookID]}
}

func (m *memRepo) ActiveReservations(_ context.Context, bookID int64) ([]ReservationView, error) {
	out := []ReservationView{}
	for _, r := range m.st.reservations {
		if r.BookID == bookID && r.IsActive {
			out = append(out, m.reservationView(r))
		}
	}
	return sortQueue(out), nil
}

func (m *memRepo) ActiveReservationFor(_ context.Context, userID, bookID int64) (*Reservation, error) {
	for _, r := range m.st.reservations {
		if r.UserID == userID && r.BookID == bookID && r.IsActive {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ReservationForUpdate(_ context.Context, id int64) (*Reservation, error) {
	r, ok := m.st.reservations[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memRepo) InsertReservation(ctx context.Context, r *Reservation) error {
	if dup, _ := m.ActiveReservationFor(ctx, r.UserID, r.BookID); dup != nil {
		return errDuplicate
	}
	r.ID = m.next()
	r.IsActive = true
	m.st.reservations[r.ID] = *r
	return nil
}

func (m *memRepo) DeactivateReservation(_ context.Context, id int64) error {
	r := m.st.reservations[id]
	r.IsActive = false
	m.st.reservations[id] = r
	return nil
}

func (m *memRepo) MarkNotified(_ context.Context, id int64, at time.Time) error {
	if m.failMarkNotified != nil {
		return m.failMarkNotified
	}
	r := m.st.reservations[id]
	if r.Notified {
		return ErrConflict("reservation already notified")
	}
	r.Notified = true
	r.NotifiedAt = &at
	m.st.reservations[id] = r
	return nil
}

func (m *memRepo) UserReservations(_ context.Context, userID int64) ([]ReservationView, error) {
	out := []ReservationView{}
	for _, r := range m.st.reservations {
		if r.UserID == userID && r.IsActive {
			out = append(out, m.reservationView(r))
		}
	}
	return sortQueue(out), nil
}

// ----- clock, ids, events -----

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type seqIDs struct{ n int }

func (g *seqIDs) NewULID(time.Time) string {
	g.n++
	return "LOAN" + string(rune('A'+g.n-1))
}

type recordingPublisher struct {
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

var errBoom = errors.New("boom")
