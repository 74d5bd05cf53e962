package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// ===== Requests =====

type IssueLoanRequest struct {
	InventoryNumber string `json:"inventory_number" binding:"required"`
	Username        string `json:"username" binding:"required"`
}

type ReturnLoanRequest struct {
	InventoryNumber string `json:"inventory_number" binding:"required"`
}

type StatusOverrideRequest struct {
	Status string `json:"status" binding:"required"`
}

// ===== Responses =====

type LoanResponse struct {
	LoanID          string     `json:"loan_id"`
	Username        string     `json:"username,omitempty"`
	InventoryNumber string     `json:"inventory_number"`
	BookID          int64      `json:"book_id,omitempty"`
	BookTitle       string     `json:"book_title,omitempty"`
	IssuedAt        time.Time  `json:"issued_at"`
	DueAt           time.Time  `json:"due_at"`
	ReturnedAt      *time.Time `json:"returned_at,omitempty"`
	IsReturned      bool       `json:"is_returned"`
	IsOverdue       bool       `json:"is_overdue"`
	DaysOverdue     int64      `json:"days_overdue"`
	DaysRemaining   int64      `json:"days_remaining"`
}

type FineResponse struct {
	FineID    int64           `json:"fine_id"`
	LoanID    string          `json:"loan_id,omitempty"`
	Username  string          `json:"username,omitempty"`
	BookTitle string          `json:"book_title,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	IsPaid    bool            `json:"is_paid"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type ReservationResponse struct {
	ReservationID int64      `json:"reservation_id"`
	BookID        int64      `json:"book_id"`
	BookTitle     string     `json:"book_title,omitempty"`
	Username      string     `json:"username,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	QueuePosition int        `json:"queue_position"`
	Notified      bool       `json:"notified"`
	NotifiedAt    *time.Time `json:"notified_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	IsExpired     bool       `json:"is_expired"`
}

type ReturnResponse struct {
	Loan        LoanResponse         `json:"loan"`
	Fine        *FineResponse        `json:"fine,omitempty"`
	FineCreated bool                 `json:"fine_created"`
	Reservation *ReservationResponse `json:"reservation,omitempty"`
	Status      Status               `json:"instance_status"`
}

type InstanceStatusResponse struct {
	InventoryNumber string `json:"inventory_number"`
	BookID          int64  `json:"book_id"`
	Status          Status `json:"status"`
}

type FineBatchResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

type DashboardResponse struct {
	ActiveLoans   []LoanResponse        `json:"active_loans"`
	RecentReturns []LoanResponse        `json:"recent_returns"`
	UnpaidFines   []FineResponse        `json:"unpaid_fines"`
	UnpaidTotal   decimal.Decimal       `json:"unpaid_total"`
	Currency      string                `json:"currency"`
	Reservations  []ReservationResponse `json:"reservations"`
}

type StaffSummaryResponse struct {
	TotalBooks     int64          `json:"total_books"`
	TotalInstances int64          `json:"total_instances"`
	OnLoan         int64          `json:"on_loan"`
	RecentLoans    []LoanResponse `json:"recent_loans"`
	OverdueLoans   []LoanResponse `json:"overdue_loans"`
	UnpaidFines    []FineResponse `json:"unpaid_fines"`
}
