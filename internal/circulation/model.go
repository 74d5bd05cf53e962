package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

type Instance struct {
	ID              string
	BookID          int64
	InventoryNumber string
	Status          Status
}

type Borrower struct {
	ID         int64
	Username   string
	FirstName  string
	LastName   string
	IsDisabled bool
}

type Loan struct {
	ID         int64
	ULID       string
	BorrowerID int64
	InstanceID string
	IssuedAt   time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
	IsReturned bool
}

type Fine struct {
	ID        int64
	LoanID    int64
	Amount    decimal.Decimal
	IsPaid    bool
	PaidAt    *time.Time
	CreatedAt time.Time
}

type Reservation struct {
	ID         int64
	UserID     int64
	BookID     int64
	CreatedAt  time.Time
	IsActive   bool
	Notified   bool
	NotifiedAt *time.Time
}

// LoanView is a loan joined with what screens need to show it.
type LoanView struct {
	Loan
	Username        string
	InventoryNumber string
	BookID          int64
	BookTitle       string
}

type FineView struct {
	Fine
	LoanULID  string
	Username  string
	BookTitle string
	DueAt     time.Time
}

type ReservationView struct {
	Reservation
	Username  string
	BookTitle string
}

// OverdueLoan is an unreturned loan past due together with its fine, if
// one was already assessed.
type OverdueLoan struct {
	Loan
	Fine *Fine
}

type StaffCounts struct {
	Books     int64
	Instances int64
	OnLoan    int64
}

// Policy holds the configurable circulation rules.
type Policy struct {
	LoanPeriodDays int
	FinePerDay     decimal.Decimal
	Currency       string
	ExpiryWindow   time.Duration
}

type LoanFilter struct {
	Username    string
	ActiveOnly  bool
	OverdueOnly bool
	Now         time.Time
}

type FineFilter struct {
	Username string
	Paid     *bool
}

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" or "desc"
}
