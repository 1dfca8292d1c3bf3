package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository/memory"
	"library-circulation-backend/internal/service"
)

var (
	staff = domain.StaffActor(100)
	day0  = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendReservationApproved(ctx context.Context, email, name, title string, loan *domain.Loan) error {
	args := m.Called(ctx, email, name, title, loan)
	return args.Error(0)
}

func (m *MockNotifier) SendReservationRejected(ctx context.Context, email, name, title, reason string) error {
	args := m.Called(ctx, email, name, title, reason)
	return args.Error(0)
}

func (m *MockNotifier) SendSanctionNotice(ctx context.Context, email, name, reason string, expiry time.Time) error {
	args := m.Called(ctx, email, name, reason, expiry)
	return args.Error(0)
}

func (m *MockNotifier) SendOverdueReminder(ctx context.Context, email, name, title string, loan *domain.Loan) error {
	args := m.Called(ctx, email, name, title, loan)
	return args.Error(0)
}

// quietNotifier accepts every notification.
func quietNotifier() *MockNotifier {
	n := new(MockNotifier)
	n.On("SendReservationApproved", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	n.On("SendReservationRejected", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	n.On("SendSanctionNotice", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	n.On("SendOverdueReminder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return n
}

type env struct {
	ctx       context.Context
	store     *memory.Store
	clock     *fixedClock
	notifier  *MockNotifier
	catalog   service.CatalogService
	avail     service.AvailabilityService
	loans     service.LoanService
	sanctions service.SanctionService
	inventory service.InventoryService
	patrons   service.PatronService
}

func newEnvWithNotifier(t *testing.T, n *MockNotifier) *env {
	t.Helper()
	store := memory.NewStore()
	clock := &fixedClock{t: day0.Add(9 * time.Hour)}
	sanctions := service.NewSanctionService(store, clock, n)
	return &env{
		ctx:       context.Background(),
		store:     store,
		clock:     clock,
		notifier:  n,
		catalog:   service.NewCatalogService(store),
		avail:     service.NewAvailabilityService(store, clock),
		loans:     service.NewLoanService(store, clock, sanctions, n),
		sanctions: sanctions,
		inventory: service.NewInventoryService(store, clock),
		patrons:   service.NewPatronService(store, clock, sanctions),
	}
}

func newEnv(t *testing.T) *env {
	return newEnvWithNotifier(t, quietNotifier())
}

func (e *env) addCopy(t *testing.T, name, author string) *domain.Copy {
	t.Helper()
	loc := int32(1)
	c, err := e.inventory.RegisterCopy(e.ctx, staff, service.CopyRegistration{
		Name: name, Author: author, CategoryID: 1, LocationID: &loc,
	})
	require.NoError(t, err)
	return c
}

func (e *env) addPatron(t *testing.T, nationalID string) *domain.Patron {
	t.Helper()
	p := &domain.Patron{NationalID: nationalID, Email: nationalID + "@example.org", Name: "Patron " + nationalID}
	require.NoError(t, e.patrons.RegisterPatron(e.ctx, staff, p))
	return p
}

func (e *env) reserve(p *domain.Patron, titleID int32, from, to time.Time) (*domain.Loan, error) {
	return e.loans.CreateReservation(e.ctx, domain.PatronActor(p.ID), service.ReservationRequest{
		PatronID:  p.ID,
		TitleID:   titleID,
		Mode:      domain.LoanModeHome,
		StartDate: from,
		EndDate:   to,
	})
}

func (e *env) directLoan(copyID int32, from, to time.Time) (*domain.Loan, error) {
	return e.loans.CreateDirectLoan(e.ctx, staff, service.DirectLoanRequest{
		CopyID:    copyID,
		Borrower:  domain.Borrower{Name: "Walk-in", NationalID: "W-1"},
		StartDate: from,
		EndDate:   to,
	})
}

func (e *env) sanction(t *testing.T, p *domain.Patron, expiryDay int) {
	t.Helper()
	stored, err := e.store.Repos().Patrons.GetByID(e.ctx, p.ID)
	require.NoError(t, err)
	until := day(expiryDay)
	stored.Sanctioned = true
	stored.SanctionExpiry = &until
	stored.SanctionReason = "overdue loan of 40 days for X"
	require.NoError(t, e.store.Repos().Patrons.Update(e.ctx, stored))
}

func (e *env) copy(t *testing.T, id int32) *domain.Copy {
	t.Helper()
	c, err := e.store.Repos().Copies.GetByID(e.ctx, id)
	require.NoError(t, err)
	return c
}

func (e *env) stock(t *testing.T, titleID int32) domain.Stock {
	t.Helper()
	s, err := e.catalog.StockOf(e.ctx, titleID)
	require.NoError(t, err)
	return s
}

func guardOf(t *testing.T, err error) *domain.GuardViolation {
	t.Helper()
	gv, ok := err.(*domain.GuardViolation)
	require.Truef(t, ok, "expected a guard violation, got %v", err)
	return gv
}
