package circulation

import "fmt"

// Status is the circulation state of one physical copy.
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusOnLoan    Status = "on_loan"
	StatusLost      Status = "lost"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusAvailable, StatusReserved, StatusOnLoan, StatusLost:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Trigger names the flow asking for a status change.
type Trigger string

const (
	TriggerIssue    Trigger = "issue"
	TriggerReturn   Trigger = "return"
	TriggerOverride Trigger = "override"
	TriggerRelease  Trigger = "release"
)

type edge struct {
	from, to Status
	via      Trigger
}

var transitions = map[edge]struct{}{
	{StatusAvailable, StatusOnLoan, TriggerIssue}: {},
	{StatusReserved, StatusOnLoan, TriggerIssue}:  {},

	{StatusOnLoan, StatusAvailable, TriggerReturn}: {},
	{StatusOnLoan, StatusReserved, TriggerReturn}:  {},
	// a copy written off while on loan turned up and is handed back
	{StatusLost, StatusAvailable, TriggerReturn}: {},
	{StatusLost, StatusReserved, TriggerReturn}:  {},

	// Manual librarian corrections. Lost is reachable from anywhere; a
	// copy lost by its borrower keeps its loan open.
	{StatusAvailable, StatusLost, TriggerOverride}:     {},
	{StatusReserved, StatusLost, TriggerOverride}:      {},
	{StatusOnLoan, StatusLost, TriggerOverride}:        {},
	{StatusLost, StatusAvailable, TriggerOverride}:     {},
	{StatusReserved, StatusAvailable, TriggerOverride}: {},

	// the hold on a reserved copy was cancelled and nobody else waits
	{StatusReserved, StatusAvailable, TriggerRelease}: {},
}

// CanTransition reports whether from -> to is legal for the trigger.
func CanTransition(from, to Status, via Trigger) bool {
	_, ok := transitions[edge{from, to, via}]
	return ok
}
