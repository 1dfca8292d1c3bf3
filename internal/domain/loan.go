package domain

import "time"

type LoanState string

const (
	LoanStatePending    LoanState = "pending"
	LoanStateApproved   LoanState = "approved"
	LoanStateInProgress LoanState = "in_progress"
	LoanStateOverdue    LoanState = "overdue"
	LoanStateReturned   LoanState = "returned"
	LoanStateRejected   LoanState = "rejected"
	LoanStateLost       LoanState = "lost"
)

// OpenLoanStates are the non-terminal states. A copy has at most one loan
// in any of them.
var OpenLoanStates = []LoanState{
	LoanStatePending,
	LoanStateApproved,
	LoanStateInProgress,
	LoanStateOverdue,
}

func (s LoanState) Valid() bool {
	switch s {
	case LoanStatePending, LoanStateApproved, LoanStateInProgress, LoanStateOverdue,
		LoanStateReturned, LoanStateRejected, LoanStateLost:
		return true
	}
	return false
}

// Open reports whether the state is non-terminal.
func (s LoanState) Open() bool {
	switch s {
	case LoanStatePending, LoanStateApproved, LoanStateInProgress, LoanStateOverdue:
		return true
	}
	return false
}

// Possessing reports whether the borrower holds (or is cleared to hold) the copy.
func (s LoanState) Possessing() bool {
	switch s {
	case LoanStateApproved, LoanStateInProgress, LoanStateOverdue:
		return true
	}
	return false
}

type LoanMode string

const (
	LoanModeInLibrary LoanMode = "in_library"
	LoanModeHome      LoanMode = "home"
)

func (m LoanMode) Valid() bool {
	return m == LoanModeInLibrary || m == LoanModeHome
}

type LoanOrigin string

const (
	LoanOriginDirect      LoanOrigin = "direct"
	LoanOriginReservation LoanOrigin = "reservation"
)

// Borrower is the snapshot of the borrower taken when the loan is created.
// It is kept even when a patron account exists.
type Borrower struct {
	Name       string     `json:"name"`
	NationalID string     `json:"national_id"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	Age        int32      `json:"age"`
	Phone      string     `json:"phone"`
	Address    string     `json:"address"`
}

type Loan struct {
	ID       int32      `json:"id"`
	TitleID  int32      `json:"title_id"`
	CopyID   *int32     `json:"copy_id,omitempty"` // nil while a reservation is queued
	PatronID *int32     `json:"patron_id,omitempty"`
	Origin   LoanOrigin `json:"origin"`
	Mode     LoanMode   `json:"mode"`
	State    LoanState  `json:"state"`
	Borrower Borrower   `json:"borrower"`

	IssuedBy   int32  `json:"issued_by"`
	ApprovedBy *int32 `json:"approved_by,omitempty"`
	ReceivedBy *int32 `json:"received_by,omitempty"`

	StartDate       time.Time  `json:"start_date"`
	EndDate         time.Time  `json:"end_date"`
	TotalDays       int32      `json:"total_days"`
	ReturnedOn      *time.Time `json:"returned_on,omitempty"`
	ApprovedOn      *time.Time `json:"approved_on,omitempty"`
	RejectedOn      *time.Time `json:"rejected_on,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	DaysOverdue     int32      `json:"days_overdue"`
	Notes           string     `json:"notes,omitempty"`

	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
}

// LoanSummary is the active-loan digest embedded in catalog copy listings.
type LoanSummary struct {
	LoanID       int32     `json:"loan_id"`
	State        LoanState `json:"state"`
	BorrowerName string    `json:"borrower_name"`
	EndDate      time.Time `json:"end_date"`
}

func (l *Loan) Summary() *LoanSummary {
	return &LoanSummary{
		LoanID:       l.ID,
		State:        l.State,
		BorrowerName: l.Borrower.Name,
		EndDate:      l.EndDate,
	}
}
