package service

import (
	"context"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

// Clock supplies the current instant. Tests pin it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC.
var SystemClock Clock = systemClock{}

type CatalogService interface {
	ListTitles(ctx context.Context, filter repository.CatalogFilter) ([]domain.TitleSummary, int32, error)
	GetTitle(ctx context.Context, titleID int32) (*domain.Title, error)
	CopiesOf(ctx context.Context, titleID int32) ([]domain.CopyWithLoan, error)
	StockOf(ctx context.Context, titleID int32) (domain.Stock, error)
	NextAvailableCopy(ctx context.Context, titleID int32) (*domain.Copy, error)
}

type AvailabilityService interface {
	// EstimatedAvailability returns now when a copy is on the shelves, the
	// projected release date when every copy is out, or nil when no copy is
	// expected back.
	EstimatedAvailability(ctx context.Context, titleID int32) (*time.Time, error)
}

type DirectLoanRequest struct {
	CopyID    int32
	Borrower  domain.Borrower
	Mode      domain.LoanMode
	StartDate time.Time
	EndDate   time.Time
	Notes     string
}

// ReservationRequest targets a title, either directly or through one of its
// copies. A named copy is preferred when it is free.
type ReservationRequest struct {
	PatronID  int32
	TitleID   int32
	CopyID    int32
	Mode      domain.LoanMode
	StartDate time.Time
	EndDate   time.Time
	Notes     string
}

type LoanService interface {
	CreateDirectLoan(ctx context.Context, actor domain.Actor, req DirectLoanRequest) (*domain.Loan, error)
	CreateReservation(ctx context.Context, actor domain.Actor, req ReservationRequest) (*domain.Loan, error)
	Approve(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error)
	Reject(ctx context.Context, actor domain.Actor, loanID int32, reason string) (*domain.Loan, error)
	Activate(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error)
	MarkReturned(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error)
	MarkLost(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error)
	MarkOverdue(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error)
	CancelReservation(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error)

	GetLoan(ctx context.Context, loanID int32) (*domain.Loan, error)
	ListPatronLoans(ctx context.Context, patronID int32, page, pageSize int32) ([]domain.Loan, int32, error)
	ListLoansByState(ctx context.Context, state domain.LoanState, page, pageSize int32) ([]domain.Loan, int32, error)
	// ListDueLoans returns in-progress loans whose end date has passed.
	ListDueLoans(ctx context.Context) ([]domain.Loan, error)
}

type SanctionService interface {
	// RefreshPatron applies lazy sanction expiry in its own unit of work and
	// returns the current patron.
	RefreshPatron(ctx context.Context, patronID int32) (*domain.Patron, error)
	LiftSanction(ctx context.Context, actor domain.Actor, patronID int32) (*domain.Patron, error)
}

// CopyRegistration describes one physical copy to add. The title is taken
// from TitleID when set, otherwise found or created from Name and Author.
type CopyRegistration struct {
	TitleID       int32
	Name          string
	Author        string
	InventoryCode string
	CategoryID    int32
	CollectionID  *int32
	Condition     domain.CopyCondition
	LocationID    *int32
}

type InventoryService interface {
	RegisterCopy(ctx context.Context, actor domain.Actor, reg CopyRegistration) (*domain.Copy, error)
	// RegisterCopies adds all copies or none.
	RegisterCopies(ctx context.Context, actor domain.Actor, regs []CopyRegistration) ([]domain.Copy, error)
	UpdateCondition(ctx context.Context, actor domain.Actor, copyID int32, condition domain.CopyCondition) (*domain.Copy, error)
	Relocate(ctx context.Context, actor domain.Actor, copyID int32, locationID *int32) (*domain.Copy, error)
	DiscardToCommunity(ctx context.Context, actor domain.Actor, copyID int32) (*domain.Copy, error)
	DeleteCopy(ctx context.Context, actor domain.Actor, copyID int32) error
}

type PatronService interface {
	RegisterPatron(ctx context.Context, actor domain.Actor, p *domain.Patron) error
	GetPatron(ctx context.Context, patronID int32) (*domain.Patron, error)
	SetActive(ctx context.Context, actor domain.Actor, patronID int32, active bool) (*domain.Patron, error)
}

type NotificationService interface {
	SendReservationApproved(ctx context.Context, email, name, title string, loan *domain.Loan) error
	SendReservationRejected(ctx context.Context, email, name, title, reason string) error
	SendSanctionNotice(ctx context.Context, email, name, reason string, expiry time.Time) error
	SendOverdueReminder(ctx context.Context, email, name, title string, loan *domain.Loan) error
}
