package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/service"
	"library-circulation-backend/internal/utils"
)

// The three walkthroughs share one copy C of title T by author A.
func TestLoanLifecycle_Walkthrough(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	p1 := e.addPatron(t, "P1")
	p2 := e.addPatron(t, "P2")

	l1, err := e.reserve(p1, c.TitleID, day(0), day(5))
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatePending, l1.State)
	if assert.NotNil(t, l1.CopyID) {
		assert.Equal(t, c.ID, *l1.CopyID)
	}
	assert.Equal(t, domain.Stock{Total: 1, Available: 1}, e.stock(t, c.TitleID))

	l1, err = e.loans.Approve(e.ctx, staff, l1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStateApproved, l1.State)
	assert.Equal(t, domain.CopyStateLoaned, e.copy(t, c.ID).State)
	assert.Equal(t, domain.Stock{Total: 1, Loaned: 1}, e.stock(t, c.TitleID))

	_, err = e.reserve(p2, c.TitleID, day(1), day(3))
	assert.ErrorIs(t, err, domain.ErrDateBeforeEstimatedAvailability)
	gv := guardOf(t, err)
	if assert.NotNil(t, gv.EstimatedAvailability) {
		assert.True(t, day(10).Equal(*gv.EstimatedAvailability), "estimated %s", gv.EstimatedAvailability)
	}

	t.Run("OverdueSanctionsPatron", func(t *testing.T) {
		_, err := e.loans.Activate(e.ctx, staff, l1.ID)
		require.NoError(t, err)

		e.clock.Set(day(5 + 45).Add(10 * time.Hour))
		l, err := e.loans.MarkOverdue(e.ctx, domain.SystemActor, l1.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStateOverdue, l.State)
		assert.Equal(t, int32(45), l.DaysOverdue)

		p, err := e.store.Repos().Patrons.GetByID(e.ctx, p1.ID)
		require.NoError(t, err)
		assert.True(t, p.Sanctioned)
		if assert.NotNil(t, p.SanctionExpiry) {
			assert.True(t, utils.AddMonths(e.clock.Now(), 3).Equal(*p.SanctionExpiry))
		}
		assert.Equal(t, "overdue loan of 45 days for T", p.SanctionReason)
	})

	t.Run("LostWhileOverdue", func(t *testing.T) {
		l, err := e.loans.MarkLost(e.ctx, staff, l1.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStateLost, l.State)
		if assert.NotNil(t, l.ReceivedBy) {
			assert.Equal(t, staff.ID, *l.ReceivedBy)
		}
		assert.Equal(t, domain.CopyStateLost, e.copy(t, c.ID).State)
		assert.Equal(t, domain.Stock{Total: 1, Lost: 1}, e.stock(t, c.TitleID))
	})
}

func TestApprove_SecondCallFails(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	p := e.addPatron(t, "P1")
	l, err := e.reserve(p, c.TitleID, day(0), day(5))
	require.NoError(t, err)

	_, err = e.loans.Approve(e.ctx, staff, l.ID)
	require.NoError(t, err)
	_, err = e.loans.Approve(e.ctx, staff, l.ID)
	assert.ErrorIs(t, err, domain.ErrNotPending)

	stored := e.copy(t, c.ID)
	assert.Equal(t, domain.CopyStateLoaned, stored.State)
	assert.Equal(t, int32(1), stored.Version)
}

func TestApprove_ConcurrentCallsFlipCopyOnce(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	p := e.addPatron(t, "P1")
	l, err := e.reserve(p, c.TitleID, day(0), day(5))
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		errs      []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.loans.Approve(e.ctx, staff, l.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	for _, err := range errs {
		assert.ErrorIs(t, err, domain.ErrNotPending)
	}
	assert.Equal(t, int32(1), e.copy(t, c.ID).Version)
}

func TestCreateDirectLoan(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")

	t.Run("Success", func(t *testing.T) {
		l, err := e.directLoan(c.ID, day(0), day(6))
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStateInProgress, l.State)
		assert.Equal(t, domain.LoanOriginDirect, l.Origin)
		assert.Equal(t, int32(7), l.TotalDays)
		assert.Equal(t, staff.ID, l.IssuedBy)
		assert.Nil(t, l.PatronID)
		assert.Equal(t, domain.CopyStateLoaned, e.copy(t, c.ID).State)
	})

	t.Run("CopyAlreadyLoaned", func(t *testing.T) {
		_, err := e.directLoan(c.ID, day(0), day(6))
		assert.ErrorIs(t, err, domain.ErrCopyUnavailable)
	})

	t.Run("CopyHeldByPendingReservation", func(t *testing.T) {
		other := e.addCopy(t, "U", "B")
		p := e.addPatron(t, "P1")
		_, err := e.reserve(p, other.TitleID, day(0), day(2))
		require.NoError(t, err)

		_, err = e.directLoan(other.ID, day(0), day(6))
		assert.ErrorIs(t, err, domain.ErrCopyUnavailable)
		assert.Equal(t, domain.CopyStateInLibrary, e.copy(t, other.ID).State)
	})

	t.Run("InvalidPeriod", func(t *testing.T) {
		other := e.addCopy(t, "V", "C")
		_, err := e.directLoan(other.ID, day(5), day(1))
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("PatronCannotIssue", func(t *testing.T) {
		_, err := e.loans.CreateDirectLoan(e.ctx, domain.PatronActor(1), service.DirectLoanRequest{CopyID: c.ID})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestDirectLoan_ConcurrentOnSameCopy(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.directLoan(c.ID, day(0), day(3))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrCopyUnavailable)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestCreateReservation_Guards(t *testing.T) {
	e := newEnv(t)
	p := e.addPatron(t, "P1")
	titles := make([]*domain.Copy, 4)
	for i, name := range []string{"One", "Two", "Three", "Four"} {
		titles[i] = e.addCopy(t, name, "A")
	}

	t.Run("Duplicate", func(t *testing.T) {
		_, err := e.reserve(p, titles[0].TitleID, day(0), day(2))
		require.NoError(t, err)
		_, err = e.reserve(p, titles[0].TitleID, day(3), day(4))
		assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	})

	t.Run("LoanLimit", func(t *testing.T) {
		_, err := e.reserve(p, titles[1].TitleID, day(0), day(2))
		require.NoError(t, err)
		_, err = e.reserve(p, titles[2].TitleID, day(0), day(2))
		require.NoError(t, err)
		_, err = e.reserve(p, titles[3].TitleID, day(0), day(2))
		assert.ErrorIs(t, err, domain.ErrPatronLoanLimitExceeded)
	})

	t.Run("OtherPatronsIdentity", func(t *testing.T) {
		other := e.addPatron(t, "P2")
		_, err := e.loans.CreateReservation(e.ctx, domain.PatronActor(other.ID), service.ReservationRequest{
			PatronID: p.ID, TitleID: titles[3].TitleID, StartDate: day(0), EndDate: day(1),
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("Inactive", func(t *testing.T) {
		other := e.addPatron(t, "P3")
		_, err := e.patrons.SetActive(e.ctx, staff, other.ID, false)
		require.NoError(t, err)
		_, err = e.reserve(other, titles[3].TitleID, day(0), day(1))
		assert.ErrorIs(t, err, domain.ErrPatronInactive)
	})

	t.Run("UnknownTitle", func(t *testing.T) {
		other := e.addPatron(t, "P4")
		_, err := e.reserve(other, 999, day(0), day(1))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("NoCopyExpectedBack", func(t *testing.T) {
		lost := e.addCopy(t, "Gone", "A")
		l, err := e.directLoan(lost.ID, day(0), day(1))
		require.NoError(t, err)
		_, err = e.loans.MarkLost(e.ctx, staff, l.ID)
		require.NoError(t, err)

		other := e.addPatron(t, "P5")
		_, err = e.reserve(other, lost.TitleID, day(30), day(31))
		assert.ErrorIs(t, err, domain.ErrCopyUnavailable)
	})
}

func TestCreateReservation_Sanctions(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	p := e.addPatron(t, "P1")

	t.Run("ActiveSanctionBlocks", func(t *testing.T) {
		e.sanction(t, p, 10)
		_, err := e.reserve(p, c.TitleID, day(0), day(2))
		assert.ErrorIs(t, err, domain.ErrPatronSanctioned)
	})

	t.Run("ExpiredSanctionIsClearedFirst", func(t *testing.T) {
		e.sanction(t, p, -1)
		l, err := e.reserve(p, c.TitleID, day(0), day(2))
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStatePending, l.State)

		stored, err := e.store.Repos().Patrons.GetByID(e.ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, stored.Sanctioned)
		assert.Nil(t, stored.SanctionExpiry)
		assert.Empty(t, stored.SanctionReason)
	})

	t.Run("ClearedEvenWhenRefused", func(t *testing.T) {
		e.sanction(t, p, -1)
		_, err := e.reserve(p, c.TitleID, day(0), day(2))
		assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

		stored, err := e.store.Repos().Patrons.GetByID(e.ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, stored.Sanctioned)
	})
}

func TestQueuedReservation(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	p1 := e.addPatron(t, "P1")
	p2 := e.addPatron(t, "P2")

	held, err := e.directLoan(c.ID, day(0), day(5))
	require.NoError(t, err)

	queued, err := e.reserve(p1, c.TitleID, day(10), day(12))
	require.NoError(t, err)
	assert.Nil(t, queued.CopyID)

	t.Run("ApproveWithoutFreeCopy", func(t *testing.T) {
		_, err := e.loans.Approve(e.ctx, staff, queued.ID)
		assert.ErrorIs(t, err, domain.ErrCopyUnavailable)
	})

	t.Run("ApproveBindsReturnedCopy", func(t *testing.T) {
		_, err := e.loans.MarkReturned(e.ctx, staff, held.ID)
		require.NoError(t, err)

		l, err := e.loans.Approve(e.ctx, staff, queued.ID)
		require.NoError(t, err)
		if assert.NotNil(t, l.CopyID) {
			assert.Equal(t, c.ID, *l.CopyID)
		}
		assert.Equal(t, domain.CopyStateLoaned, e.copy(t, c.ID).State)
	})

	t.Run("SecondPatronEstimatedFromApprovedLoan", func(t *testing.T) {
		_, err := e.reserve(p2, c.TitleID, day(13), day(14))
		gv := guardOf(t, err)
		assert.Equal(t, domain.CodeDateBeforeEstimatedAvailability, gv.Code)
		assert.True(t, day(17).Equal(*gv.EstimatedAvailability))
	})
}

func TestReject(t *testing.T) {
	n := quietNotifier()
	e := newEnvWithNotifier(t, n)
	c := e.addCopy(t, "T", "A")
	p := e.addPatron(t, "P1")
	l, err := e.reserve(p, c.TitleID, day(0), day(2))
	require.NoError(t, err)

	t.Run("BlankReason", func(t *testing.T) {
		_, err := e.loans.Reject(e.ctx, staff, l.ID, "   ")
		assert.ErrorIs(t, err, domain.ErrMissingReason)
	})

	t.Run("Success", func(t *testing.T) {
		rejected, err := e.loans.Reject(e.ctx, staff, l.ID, " damaged cover ")
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStateRejected, rejected.State)
		assert.Equal(t, "damaged cover", rejected.RejectionReason)
		assert.NotNil(t, rejected.RejectedOn)
		assert.Equal(t, domain.CopyStateInLibrary, e.copy(t, c.ID).State)
		assert.Equal(t, int32(0), e.copy(t, c.ID).Version)
		n.AssertCalled(t, "SendReservationRejected", mock.Anything, p.Email, p.Name, "T", "damaged cover")
	})

	t.Run("NotPending", func(t *testing.T) {
		_, err := e.loans.Reject(e.ctx, staff, l.ID, "again")
		assert.ErrorIs(t, err, domain.ErrNotPending)
	})
}

func TestCancelReservation(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	owner := e.addPatron(t, "P1")
	other := e.addPatron(t, "P2")
	l, err := e.reserve(owner, c.TitleID, day(0), day(2))
	require.NoError(t, err)

	_, err = e.loans.CancelReservation(e.ctx, domain.PatronActor(other.ID), l.ID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	cancelled, err := e.loans.CancelReservation(e.ctx, domain.PatronActor(owner.ID), l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStateRejected, cancelled.State)
	assert.Equal(t, service.CancellationReason, cancelled.RejectionReason)

	_, err = e.loans.CancelReservation(e.ctx, domain.PatronActor(owner.ID), l.ID)
	assert.ErrorIs(t, err, domain.ErrNotPending)

	_, err = e.reserve(owner, c.TitleID, day(3), day(4))
	assert.NoError(t, err, "a cancelled reservation no longer counts as open")
}

func TestStateGuards(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	p := e.addPatron(t, "P1")
	l, err := e.reserve(p, c.TitleID, day(0), day(2))
	require.NoError(t, err)

	_, err = e.loans.Activate(e.ctx, staff, l.ID)
	assert.ErrorIs(t, err, domain.ErrNotApproved)
	_, err = e.loans.MarkReturned(e.ctx, staff, l.ID)
	assert.ErrorIs(t, err, domain.ErrNotActive)
	_, err = e.loans.MarkLost(e.ctx, staff, l.ID)
	assert.ErrorIs(t, err, domain.ErrNotActive)
	_, err = e.loans.MarkOverdue(e.ctx, staff, l.ID)
	assert.ErrorIs(t, err, domain.ErrNotInProgress)

	_, err = e.loans.Approve(e.ctx, domain.PatronActor(p.ID), l.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.loans.Approve(e.ctx, staff, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkOverdue(t *testing.T) {
	e := newEnv(t)
	p := e.addPatron(t, "P1")

	activeLoan := func(t *testing.T, name string) *domain.Loan {
		c := e.addCopy(t, name, "A")
		l, err := e.reserve(p, c.TitleID, day(0), day(5))
		require.NoError(t, err)
		_, err = e.loans.Approve(e.ctx, staff, l.ID)
		require.NoError(t, err)
		l, err = e.loans.Activate(e.ctx, staff, l.ID)
		require.NoError(t, err)
		return l
	}

	t.Run("NotYetOverdue", func(t *testing.T) {
		l := activeLoan(t, "Due")
		e.clock.Set(day(5).Add(20 * time.Hour))
		_, err := e.loans.MarkOverdue(e.ctx, staff, l.ID)
		assert.ErrorIs(t, err, domain.ErrNotYetOverdue)

		e.clock.Set(day(6))
		l, err = e.loans.MarkOverdue(e.ctx, staff, l.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(1), l.DaysOverdue)

		returned, err := e.loans.MarkReturned(e.ctx, staff, l.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStateReturned, returned.State)
		assert.NotNil(t, returned.ReturnedOn)
		assert.Equal(t, domain.CopyStateInLibrary, e.copy(t, *returned.CopyID).State)
	})

	t.Run("ThirtyDaysDoesNotSanction", func(t *testing.T) {
		e.clock.Set(day0)
		l := activeLoan(t, "Thirty")
		e.clock.Set(day(35))
		l, err := e.loans.MarkOverdue(e.ctx, domain.SystemActor, l.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(30), l.DaysOverdue)

		stored, err := e.store.Repos().Patrons.GetByID(e.ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, stored.Sanctioned)
	})

	t.Run("ThirtyOneDaysSanctions", func(t *testing.T) {
		e.clock.Set(day0)
		l := activeLoan(t, "ThirtyOne")
		e.clock.Set(day(36))
		_, err := e.loans.MarkOverdue(e.ctx, domain.SystemActor, l.ID)
		require.NoError(t, err)

		stored, err := e.store.Repos().Patrons.GetByID(e.ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, stored.Sanctioned)
		assert.True(t, utils.AddMonths(day(36), 3).Equal(*stored.SanctionExpiry))
		e.notifier.AssertCalled(t, "SendSanctionNotice", mock.Anything, p.Email, p.Name, stored.SanctionReason, *stored.SanctionExpiry)
	})

	t.Run("PatronCannotMarkOverdue", func(t *testing.T) {
		_, err := e.loans.MarkOverdue(e.ctx, domain.PatronActor(p.ID), 1)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestMarkOverdue_DirectLoanNeverSanctions(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	l, err := e.directLoan(c.ID, day(0), day(1))
	require.NoError(t, err)

	e.clock.Set(day(100))
	l, err = e.loans.MarkOverdue(e.ctx, domain.SystemActor, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(99), l.DaysOverdue)
}

func TestAuditEvents(t *testing.T) {
	e := newEnv(t)
	c := e.addCopy(t, "T", "A")
	p := e.addPatron(t, "P1")
	l, err := e.reserve(p, c.TitleID, day(0), day(2))
	require.NoError(t, err)

	_, err = e.loans.Approve(e.ctx, staff, l.ID)
	require.NoError(t, err)
	_, err = e.loans.Approve(e.ctx, staff, l.ID)
	require.Error(t, err)

	events, err := e.store.Repos().Audit.ListByEntity(e.ctx, domain.AuditEntityLoan, l.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "create_reservation", events[0].Action)
	assert.Equal(t, "approve", events[1].Action)
	assert.Equal(t, "pending", events[1].FromState)
	assert.Equal(t, "approved", events[1].ToState)
	assert.Equal(t, staff, events[1].Actor)
	assert.NotEmpty(t, events[1].ID)

	copyEvents, err := e.store.Repos().Audit.ListByEntity(e.ctx, domain.AuditEntityCopy, c.ID)
	require.NoError(t, err)
	require.Len(t, copyEvents, 2)
	assert.Equal(t, "register", copyEvents[0].Action)
	assert.Equal(t, "loaned", copyEvents[1].ToState)
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	n := new(MockNotifier)
	n.On("SendReservationApproved", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp down"))
	e := newEnvWithNotifier(t, n)
	c := e.addCopy(t, "T", "A")
	p := e.addPatron(t, "P1")
	l, err := e.reserve(p, c.TitleID, day(0), day(2))
	require.NoError(t, err)

	approved, err := e.loans.Approve(e.ctx, staff, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStateApproved, approved.State)
	n.AssertNumberOfCalls(t, "SendReservationApproved", 1)
}

func TestListLoans(t *testing.T) {
	e := newEnv(t)
	p := e.addPatron(t, "P1")
	for _, name := range []string{"One", "Two", "Three"} {
		c := e.addCopy(t, name, "A")
		_, err := e.reserve(p, c.TitleID, day(0), day(2))
		require.NoError(t, err)
	}

	loans, count, err := e.loans.ListPatronLoans(e.ctx, p.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), count)
	assert.Len(t, loans, 2)

	pending, count, err := e.loans.ListLoansByState(e.ctx, domain.LoanStatePending, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), count)
	assert.Len(t, pending, 3)

	_, _, err = e.loans.ListLoansByState(e.ctx, "bogus", 1, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	got, err := e.loans.GetLoan(e.ctx, loans[0].ID)
	require.NoError(t, err)
	assert.Equal(t, loans[0].ID, got.ID)
}

func TestListDueLoans(t *testing.T) {
	e := newEnv(t)
	c1 := e.addCopy(t, "One", "A")
	c2 := e.addCopy(t, "Two", "A")
	due, err := e.directLoan(c1.ID, day(0), day(2))
	require.NoError(t, err)
	_, err = e.directLoan(c2.ID, day(0), day(4))
	require.NoError(t, err)

	e.clock.Set(day(3).Add(8 * time.Hour))
	loans, err := e.loans.ListDueLoans(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, due.ID, loans[0].ID)
}
