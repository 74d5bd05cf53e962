package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"steppe-library/internal/platform/db"
)

// Repository is everything circulation reads and writes. Lookups return
// (nil, nil) when the row does not exist. Methods ending in ForUpdate
// lock the rows they return and only make sense inside RunInTx.
type Repository interface {
	// RunInTx runs fn against a transactional repository; an error from
	// fn rolls every write back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	InstanceByCodeForUpdate(ctx context.Context, code string) (*Instance, error)
	ReservedInstancesForUpdate(ctx context.Context, bookID int64) ([]Instance, error)
	SetInstanceStatus(ctx context.Context, instanceID string, st Status) error
	BookExists(ctx context.Context, bookID int64) (bool, error)
	AvailableCopies(ctx context.Context, bookID int64) (int64, error)

	BorrowerByUsername(ctx context.Context, username string) (*Borrower, error)
	BorrowerByID(ctx context.Context, id int64) (*Borrower, error)

	InsertLoan(ctx context.Context, l *Loan) error
	ActiveLoanForUpdate(ctx context.Context, instanceID string) (*Loan, error)
	CloseLoan(ctx context.Context, loanID int64, at time.Time) error
	UserLoans(ctx context.Context, userID int64, returned bool, limit int) ([]LoanView, error)
	ListLoans(ctx context.Context, f LoanFilter, p Page) ([]LoanView, int64, error)
	StaffCounts(ctx context.Context) (StaffCounts, error)

	UnpaidFineTotal(ctx context.Context, userID int64) (decimal.Decimal, error)
	FineForLoan(ctx context.Context, loanID int64) (*Fine, error)
	FineForUpdate(ctx context.Context, fineID int64) (*Fine, error)
	InsertFine(ctx context.Context, f *Fine) error
	UpdateFineAmount(ctx context.Context, fineID int64, amount decimal.Decimal) error
	MarkFinePaid(ctx context.Context, fineID int64, at time.Time) error
	OverdueLoans(ctx context.Context, now time.Time) ([]OverdueLoan, error)
	ListFines(ctx context.Context, f FineFilter, p Page) ([]FineView, int64, error)

	// ActiveReservations returns a book's queue in FIFO order
	// (created_at, then id).
	ActiveReservations(ctx context.Context, bookID int64) ([]ReservationView, error)
	ActiveReservationFor(ctx context.Context, userID, bookID int64) (*Reservation, error)
	ReservationForUpdate(ctx context.Context, id int64) (*Reservation, error)
	InsertReservation(ctx context.Context, r *Reservation) error
	DeactivateReservation(ctx context.Context, id int64) error
	MarkNotified(ctx context.Context, id int64, at time.Time) error
	UserReservations(ctx context.Context, userID int64) ([]ReservationView, error)
}

type Store struct {
	conn *sql.DB
	q    db.DBTX
}

func NewStore(conn *sql.DB) *Store { return &Store{conn: conn, q: conn} }

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(ctx, s)
	}
	return db.RunInTx(ctx, s.conn, &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		func(ctx context.Context, tx db.DBTX) error {
			return fn(ctx, &Store{conn: s.conn, q: tx})
		})
}

// ===== instances =====

func (s *Store) InstanceByCodeForUpdate(ctx context.Context, code string) (*Instance, error) {
	const q = `
	SELECT instance_id, book_id, inventory_number, status
	FROM book_instances WHERE inventory_number = ? FOR UPDATE`
	var in Instance
	if err := s.q.QueryRowContext(ctx, q, code).Scan(&in.ID, &in.BookID, &in.InventoryNumber, &in.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock instance: %w", err)
	}
	return &in, nil
}

func (s *Store) ReservedInstancesForUpdate(ctx context.Context, bookID int64) ([]Instance, error) {
	const q = `
	SELECT instance_id, book_id, inventory_number, status
	FROM book_instances WHERE book_id = ? AND status = 'reserved'
	ORDER BY inventory_number FOR UPDATE`
	rows, err := s.q.QueryContext(ctx, q, bookID)
	if err != nil {
		return nil, fmt.Errorf("lock reserved instances: %w", err)
	}
	defer rows.Close()

	out := []Instance{}
	for rows.Next() {
		var in Instance
		if err := rows.Scan(&in.ID, &in.BookID, &in.InventoryNumber, &in.Status); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) SetInstanceStatus(ctx context.Context, instanceID string, st Status) error {
	res, err := s.q.ExecContext(ctx, `UPDATE book_instances SET status = ? WHERE instance_id = ?`, st, instanceID)
	if err != nil {
		return fmt.Errorf("set instance status: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		// unchanged rows report 0 on MySQL; make sure the copy exists
		var one int
		err := s.q.QueryRowContext(ctx, `SELECT 1 FROM book_instances WHERE instance_id = ?`, instanceID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound("instance not found")
		}
		return err
	}
	return nil
}

func (s *Store) BookExists(ctx context.Context, bookID int64) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM books WHERE book_id = ?`, bookID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("book exists: %w", err)
	}
	return true, nil
}

func (s *Store) AvailableCopies(ctx context.Context, bookID int64) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM book_instances WHERE book_id = ? AND status = 'available'`, bookID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("available copies: %w", err)
	}
	return n, nil
}

// ===== borrowers =====

const borrowerCols = `user_id, username, first_name, last_name, is_disabled`

func (s *Store) scanBorrower(row *sql.Row) (*Borrower, error) {
	var b Borrower
	if err := row.Scan(&b.ID, &b.Username, &b.FirstName, &b.LastName, &b.IsDisabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get borrower: %w", err)
	}
	return &b, nil
}

func (s *Store) BorrowerByUsername(ctx context.Context, username string) (*Borrower, error) {
	return s.scanBorrower(s.q.QueryRowContext(ctx, `SELECT `+borrowerCols+` FROM users WHERE username = ?`, username))
}

func (s *Store) BorrowerByID(ctx context.Context, id int64) (*Borrower, error) {
	return s.scanBorrower(s.q.QueryRowContext(ctx, `SELECT `+borrowerCols+` FROM users WHERE user_id = ?`, id))
}

// ===== loans =====

func (s *Store) InsertLoan(ctx context.Context, l *Loan) error {
	const q = `
	INSERT INTO loans (loan_ulid, borrower_id, instance_id, issued_at, due_at, is_returned)
	VALUES (?, ?, ?, ?, ?, 0)`
	res, err := s.q.ExecContext(ctx, q, l.ULID, l.BorrowerID, l.InstanceID, l.IssuedAt, l.DueAt)
	if err != nil {
		return err
	}
	l.ID, err = res.LastInsertId()
	return err
}

const loanCols = `l.loan_id, l.loan_ulid, l.borrower_id, l.instance_id, l.issued_at, l.due_at, l.returned_at, l.is_returned`

func scanLoan(sc interface{ Scan(...any) error }, l *Loan, extra ...any) error {
	var returnedAt sql.NullTime
	dest := append([]any{&l.ID, &l.ULID, &l.BorrowerID, &l.InstanceID, &l.IssuedAt, &l.DueAt, &returnedAt, &l.IsReturned}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return err
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		l.ReturnedAt = &t
	}
	return nil
}

func (s *Store) ActiveLoanForUpdate(ctx context.Context, instanceID string) (*Loan, error) {
	q := `SELECT ` + loanCols + ` FROM loans l WHERE l.instance_id = ? AND l.is_returned = 0 FOR UPDATE`
	var l Loan
	if err := scanLoan(s.q.QueryRowContext(ctx, q, instanceID), &l); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("active loan: %w", err)
	}
	return &l, nil
}

func (s *Store) CloseLoan(ctx context.Context, loanID int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE loans SET is_returned = 1, returned_at = ? WHERE loan_id = ? AND is_returned = 0`, at, loanID)
	if err != nil {
		return fmt.Errorf("close loan: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrConflict("loan already returned")
	}
	return nil
}

const loanViewFrom = `
	FROM loans l
	JOIN users u ON u.user_id = l.borrower_id
	JOIN book_instances bi ON bi.instance_id = l.instance_id
	JOIN books b ON b.book_id = bi.book_id`

func (s *Store) queryLoanViews(ctx context.Context, q string, args ...any) ([]LoanView, error) {
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	out := []LoanView{}
	for rows.Next() {
		var v LoanView
		if err := scanLoan(rows, &v.Loan, &v.Username, &v.InventoryNumber, &v.BookID, &v.BookTitle); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UserLoans(ctx context.Context, userID int64, returned bool, limit int) ([]LoanView, error) {
	order := "l.due_at ASC"
	if returned {
		order = "l.returned_at DESC"
	}
	q := `SELECT ` + loanCols + `, u.username, bi.inventory_number, b.book_id, b.title` + loanViewFrom + `
	WHERE l.borrower_id = ? AND l.is_returned = ?
	ORDER BY ` + order
	args := []any{userID, returned}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryLoanViews(ctx, q, args...)
}

func (s *Store) ListLoans(ctx context.Context, f LoanFilter, p Page) ([]LoanView, int64, error) {
	var where strings.Builder
	args := []any{}
	where.WriteString(" WHERE 1=1")
	if f.Username != "" {
		where.WriteString(" AND u.username = ?")
		args = append(args, f.Username)
	}
	if f.ActiveOnly || f.OverdueOnly {
		where.WriteString(" AND l.is_returned = 0")
	}
	if f.OverdueOnly {
		where.WriteString(" AND l.due_at < ?")
		args = append(args, f.Now)
	}

	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	q := `SELECT ` + loanCols + `, u.username, bi.inventory_number, b.book_id, b.title` + loanViewFrom +
		where.String() + " ORDER BY l.issued_at " + order + ", l.loan_id " + order + " LIMIT ? OFFSET ?"
	items, err := s.queryLoanViews(ctx, q, append(append([]any{}, args...), p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*)`+loanViewFrom+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count loans: %w", err)
	}
	return items, total, nil
}

func (s *Store) StaffCounts(ctx context.Context) (StaffCounts, error) {
	const q = `
	SELECT
	  (SELECT COUNT(*) FROM books),
	  (SELECT COUNT(*) FROM book_instances),
	  (SELECT COUNT(*) FROM book_instances WHERE status = 'on_loan')`
	var c StaffCounts
	if err := s.q.QueryRowContext(ctx, q).Scan(&c.Books, &c.Instances, &c.OnLoan); err != nil {
		return StaffCounts{}, fmt.Errorf("staff counts: %w", err)
	}
	return c, nil
}

// ===== fines =====

func (s *Store) UnpaidFineTotal(ctx context.Context, userID int64) (decimal.Decimal, error) {
	const q = `
	SELECT COALESCE(SUM(f.amount), 0)
	FROM fines f JOIN loans l ON l.loan_id = f.loan_id
	WHERE l.borrower_id = ? AND f.is_paid = 0`
	var total decimal.Decimal
	if err := s.q.QueryRowContext(ctx, q, userID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("unpaid fines: %w", err)
	}
	return total, nil
}

const fineCols = `f.fine_id, f.loan_id, f.amount, f.is_paid, f.paid_at, f.created_at`

func scanFine(sc interface{ Scan(...any) error }, f *Fine, extra ...any) error {
	var paidAt sql.NullTime
	dest := append([]any{&f.ID, &f.LoanID, &f.Amount, &f.IsPaid, &paidAt, &f.CreatedAt}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return err
	}
	if paidAt.Valid {
		t := paidAt.Time
		f.PaidAt = &t
	}
	return nil
}

func (s *Store) getFine(ctx context.Context, q string, arg any) (*Fine, error) {
	var f Fine
	if err := scanFine(s.q.QueryRowContext(ctx, q, arg), &f); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fine: %w", err)
	}
	return &f, nil
}

func (s *Store) FineForLoan(ctx context.Context, loanID int64) (*Fine, error) {
	return s.getFine(ctx, `SELECT `+fineCols+` FROM fines f WHERE f.loan_id = ?`, loanID)
}

func (s *Store) FineForUpdate(ctx context.Context, fineID int64) (*Fine, error) {
	return s.getFine(ctx, `SELECT `+fineCols+` FROM fines f WHERE f.fine_id = ? FOR UPDATE`, fineID)
}

func (s *Store) InsertFine(ctx context.Context, f *Fine) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO fines (loan_id, amount, is_paid, created_at) VALUES (?, ?, 0, ?)`,
		f.LoanID, f.Amount, f.CreatedAt)
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

func (s *Store) UpdateFineAmount(ctx context.Context, fineID int64, amount decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, `UPDATE fines SET amount = ? WHERE fine_id = ? AND is_paid = 0`, amount, fineID)
	if err != nil {
		return fmt.Errorf("update fine: %w", err)
	}
	return nil
}

func (s *Store) MarkFinePaid(ctx context.Context, fineID int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `UPDATE fines SET is_paid = 1, paid_at = ? WHERE fine_id = ? AND is_paid = 0`, at, fineID)
	if err != nil {
		return fmt.Errorf("pay fine: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrConflict("fine already paid")
	}
	return nil
}

func (s *Store) OverdueLoans(ctx context.Context, now time.Time) ([]OverdueLoan, error) {
	q := `SELECT ` + loanCols + `,
	  f.fine_id, f.amount, f.is_paid, f.created_at
	FROM loans l
	LEFT JOIN fines f ON f.loan_id = l.loan_id
	WHERE l.is_returned = 0 AND l.due_at < ?
	ORDER BY l.due_at`
	rows, err := s.q.QueryContext(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("overdue loans: %w", err)
	}
	defer rows.Close()

	out := []OverdueLoan{}
	for rows.Next() {
		var (
			o         OverdueLoan
			fineID    sql.NullInt64
			amount    decimal.NullDecimal
			isPaid    sql.NullBool
			createdAt sql.NullTime
		)
		if err := scanLoan(rows, &o.Loan, &fineID, &amount, &isPaid, &createdAt); err != nil {
			return nil, err
		}
		if fineID.Valid {
			o.Fine = &Fine{
				ID:        fineID.Int64,
				LoanID:    o.Loan.ID,
				Amount:    amount.Decimal,
				IsPaid:    isPaid.Bool,
				CreatedAt: createdAt.Time,
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const fineViewFrom = `
	FROM fines f
	JOIN loans l ON l.loan_id = f.loan_id
	JOIN users u ON u.user_id = l.borrower_id
	JOIN book_instances bi ON bi.instance_id = l.instance_id
	JOIN books b ON b.book_id = bi.book_id`

func (s *Store) ListFines(ctx context.Context, f FineFilter, p Page) ([]FineView, int64, error) {
	var where strings.Builder
	args := []any{}
	where.WriteString(" WHERE 1=1")
	if f.Username != "" {
		where.WriteString(" AND u.username = ?")
		args = append(args, f.Username)
	}
	if f.Paid != nil {
		where.WriteString(" AND f.is_paid = ?")
		args = append(args, *f.Paid)
	}

	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	q := `SELECT ` + fineCols + `, l.loan_ulid, u.username, b.title, l.due_at` + fineViewFrom +
		where.String() + " ORDER BY f.created_at " + order + ", f.fine_id " + order
	qargs := append([]any{}, args...)
	if p.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		qargs = append(qargs, p.Limit, p.Offset)
	}

	rows, err := s.q.QueryContext(ctx, q, qargs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list fines: %w", err)
	}
	defer rows.Close()

	out := []FineView{}
	for rows.Next() {
		var v FineView
		if err := scanFine(rows, &v.Fine, &v.LoanULID, &v.Username, &v.BookTitle, &v.DueAt); err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*)`+fineViewFrom+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count fines: %w", err)
	}
	return out, total, nil
}

// ===== reservations =====

const reservationCols = `r.reservation_id, r.user_id, r.book_id, r.created_at, r.is_active, r.notified, r.notified_at`

func scanReservation(sc interface{ Scan(...any) error }, r *Reservation, extra ...any) error {
	var notifiedAt sql.NullTime
	dest := append([]any{&r.ID, &r.UserID, &r.BookID, &r.CreatedAt, &r.IsActive, &r.Notified, &notifiedAt}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return err
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		r.NotifiedAt = &t
	}
	return nil
}

func (s *Store) queryReservationViews(ctx context.Context, q string, args ...any) ([]ReservationView, error) {
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	out := []ReservationView{}
	for rows.Next() {
		var v ReservationView
		if err := scanReservation(rows, &v.Reservation, &v.Username, &v.BookTitle); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const reservationViewFrom = `
	FROM reservations r
	JOIN users u ON u.user_id = r.user_id
	JOIN books b ON b.book_id = r.book_id`

func (s *Store) ActiveReservations(ctx context.Context, bookID int64) ([]ReservationView, error) {
	q := `SELECT ` + reservationCols + `, u.username, b.title` + reservationViewFrom + `
	WHERE r.book_id = ? AND r.is_active = 1
	ORDER BY r.created_at, r.reservation_id`
	if _, ok := s.q.(*sql.Tx); ok {
		q += " FOR UPDATE"
	}
	return s.queryReservationViews(ctx, q, bookID)
}

func (s *Store) UserReservations(ctx context.Context, userID int64) ([]ReservationView, error) {
	q := `SELECT ` + reservationCols + `, u.username, b.title` + reservationViewFrom + `
	WHERE r.user_id = ? AND r.is_active = 1
	ORDER BY r.created_at, r.reservation_id`
	return s.queryReservationViews(ctx, q, userID)
}

func (s *Store) getReservation(ctx context.Context, q string, args ...any) (*Reservation, error) {
	var r Reservation
	if err := scanReservation(s.q.QueryRowContext(ctx, q, args...), &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return &r, nil
}

func (s *Store) ActiveReservationFor(ctx context.Context, userID, bookID int64) (*Reservation, error) {
	return s.getReservation(ctx,
		`SELECT `+reservationCols+` FROM reservations r WHERE r.user_id = ? AND r.book_id = ? AND r.is_active = 1`,
		userID, bookID)
}

func (s *Store) ReservationForUpdate(ctx context.Context, id int64) (*Reservation, error) {
	return s.getReservation(ctx,
		`SELECT `+reservationCols+` FROM reservations r WHERE r.reservation_id = ? FOR UPDATE`, id)
}

func (s *Store) InsertReservation(ctx context.Context, r *Reservation) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO reservations (user_id, book_id, created_at, is_active, notified) VALUES (?, ?, ?, 1, 0)`,
		r.UserID, r.BookID, r.CreatedAt)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (s *Store) DeactivateReservation(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx, `UPDATE reservations SET is_active = 0 WHERE reservation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate reservation: %w", err)
	}
	return nil
}

func (s *Store) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE reservations SET notified = 1, notified_at = ? WHERE reservation_id = ? AND notified = 0`, at, id)
	if err != nil {
		return fmt.Errorf("notify reservation: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrConflict("reservation already notified")
	}
	return nil
}
