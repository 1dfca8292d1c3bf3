package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
	"library-circulation-backend/internal/utils"
)

// CancellationReason is stored on reservations withdrawn by their patron.
const CancellationReason = "cancelled by patron"

type loanService struct {
	runner
	sanctions SanctionService
	notifier  NotificationService
}

func NewLoanService(store repository.Store, clock Clock, sanctions SanctionService, notifier NotificationService) LoanService {
	return &loanService{
		runner:    runner{store: store, clock: clock},
		sanctions: sanctions,
		notifier:  notifier,
	}
}

type loanPeriod struct {
	start, end time.Time
	days       int32
}

func validatePeriod(start, end time.Time) (loanPeriod, error) {
	if start.IsZero() || end.IsZero() {
		return loanPeriod{}, domain.NewInvalidArgument("start and end dates are required")
	}
	start, end = utils.DateOf(start), utils.DateOf(end)
	days, err := utils.InclusiveDays(start, end)
	if err != nil {
		return loanPeriod{}, domain.NewInvalidArgument(err.Error())
	}
	return loanPeriod{start: start, end: end, days: days}, nil
}

func validateMode(mode domain.LoanMode) (domain.LoanMode, error) {
	if mode == "" {
		return domain.LoanModeHome, nil
	}
	if !mode.Valid() {
		return "", domain.NewInvalidArgument("unknown loan mode " + string(mode))
	}
	return mode, nil
}

// lockFreeCopy locks c and confirms it is on the shelves with no open loan.
func lockFreeCopy(ctx context.Context, u *unit, copyID int32) (*domain.Copy, bool, error) {
	c, err := u.Copies.GetForUpdate(ctx, copyID)
	if err != nil {
		return nil, false, err
	}
	if !c.Shelved() {
		return c, false, nil
	}
	open, err := u.Loans.ListOpenByCopy(ctx, copyID)
	if err != nil {
		return nil, false, err
	}
	return c, len(open) == 0, nil
}

// bindFreeCopy locks the first free copy of a title in catalog order,
// trying preferred first when it is set. It returns nil when every copy is
// taken.
func bindFreeCopy(ctx context.Context, u *unit, titleID, preferred int32) (*domain.Copy, error) {
	if preferred > 0 {
		c, free, err := lockFreeCopy(ctx, u, preferred)
		if err != nil {
			return nil, err
		}
		if free {
			return c, nil
		}
	}
	copies, _, err := copiesOf(ctx, u.Repositories, titleID)
	if err != nil {
		return nil, err
	}
	for i := range copies {
		cand := &copies[i]
		if cand.ID == preferred || !cand.Shelved() || cand.ActiveLoan != nil {
			continue
		}
		c, free, err := lockFreeCopy(ctx, u, cand.ID)
		if err != nil {
			return nil, err
		}
		if free {
			return c, nil
		}
	}
	return nil, nil
}

// setCopyState moves the loan's copy from one state to another under lock.
// A copy that is not in the expected state is a consistency violation.
func setCopyState(ctx context.Context, u *unit, loan *domain.Loan, from, to domain.CopyState) (*domain.Copy, error) {
	if loan.CopyID == nil {
		return nil, fmt.Errorf("loan %d has no copy: %w", loan.ID, domain.ErrConsistency)
	}
	c, err := u.Copies.GetForUpdate(ctx, *loan.CopyID)
	if err != nil {
		return nil, err
	}
	if c.State != from {
		return nil, fmt.Errorf("copy %d is %s, expected %s for loan %d: %w", c.ID, c.State, from, loan.ID, domain.ErrConsistency)
	}
	if from == to {
		return c, nil
	}
	if err := u.Copies.UpdateState(ctx, c, to); err != nil {
		return nil, err
	}
	u.record(domain.AuditEntityCopy, c.ID, "copy_state", string(from), string(to),
		map[string]string{"loan_id": idString(loan.ID)})
	return c, nil
}

func (s *loanService) transition(ctx context.Context, u *unit, loan *domain.Loan, action string, from domain.LoanState, metadata map[string]string) error {
	if err := u.Loans.Update(ctx, loan); err != nil {
		return storeErr(err)
	}
	u.record(domain.AuditEntityLoan, loan.ID, action, string(from), string(loan.State), metadata)
	return nil
}

func (s *loanService) CreateDirectLoan(ctx context.Context, actor domain.Actor, req DirectLoanRequest) (*domain.Loan, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	period, err := validatePeriod(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	mode, err := validateMode(req.Mode)
	if err != nil {
		return nil, err
	}
	borrower := req.Borrower
	borrower.Name = strings.TrimSpace(borrower.Name)
	if borrower.Name == "" {
		return nil, domain.NewInvalidArgument("borrower name is required")
	}
	if borrower.BirthDate != nil {
		borrower.Age = domain.AgeOn(*borrower.BirthDate, period.start)
	}

	var loan *domain.Loan
	err = s.run(ctx, "LoanService.CreateDirectLoan", actor, func(ctx context.Context, u *unit) error {
		c, free, err := lockFreeCopy(ctx, u, req.CopyID)
		if err != nil {
			return err
		}
		if !free {
			return domain.Guard(domain.CodeCopyUnavailable, fmt.Sprintf("copy %s is not available for loan", c.InventoryCode))
		}
		if err := u.Copies.UpdateState(ctx, c, domain.CopyStateLoaned); err != nil {
			return err
		}

		copyID := c.ID
		loan = &domain.Loan{
			TitleID:   c.TitleID,
			CopyID:    &copyID,
			Origin:    domain.LoanOriginDirect,
			Mode:      mode,
			State:     domain.LoanStateInProgress,
			Borrower:  borrower,
			IssuedBy:  actor.ID,
			StartDate: period.start,
			EndDate:   period.end,
			TotalDays: period.days,
			Notes:     req.Notes,
		}
		if err := u.Loans.Create(ctx, loan); err != nil {
			return storeErr(err)
		}
		u.record(domain.AuditEntityCopy, c.ID, "copy_state", string(domain.CopyStateInLibrary), string(domain.CopyStateLoaned),
			map[string]string{"loan_id": idString(loan.ID)})
		u.record(domain.AuditEntityLoan, loan.ID, "create_direct_loan", "", string(loan.State),
			map[string]string{"copy_id": idString(c.ID)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *loanService) CreateReservation(ctx context.Context, actor domain.Actor, req ReservationRequest) (*domain.Loan, error) {
	switch actor.Kind {
	case domain.ActorPatron:
		if actor.ID != req.PatronID {
			return nil, domain.Guard(domain.CodeForbidden, "patrons can only reserve for themselves")
		}
	case domain.ActorStaff:
	default:
		return nil, domain.Guard(domain.CodeForbidden, "reservations are made by patrons or staff")
	}
	if req.TitleID <= 0 && req.CopyID <= 0 {
		return nil, domain.NewInvalidArgument("a title or copy is required")
	}
	period, err := validatePeriod(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	mode, err := validateMode(req.Mode)
	if err != nil {
		return nil, err
	}

	// Lazy expiry commits on its own so a cleared sanction sticks even when
	// the reservation is refused.
	if _, err := s.sanctions.RefreshPatron(ctx, req.PatronID); err != nil {
		return nil, err
	}

	var loan *domain.Loan
	err = s.run(ctx, "LoanService.CreateReservation", actor, func(ctx context.Context, u *unit) error {
		patron, err := u.Patrons.GetForUpdate(ctx, req.PatronID)
		if err != nil {
			return err
		}
		if !patron.Active {
			return domain.Guard(domain.CodePatronInactive, "patron account is inactive")
		}
		if _, err := evaluateSanctionExpiry(ctx, u, patron); err != nil {
			return err
		}
		if patron.Sanctioned {
			reason := "patron is sanctioned"
			if patron.SanctionExpiry != nil {
				reason = fmt.Sprintf("patron is sanctioned until %s: %s", utils.FormatDate(*patron.SanctionExpiry), patron.SanctionReason)
			}
			return domain.Guard(domain.CodePatronSanctioned, reason)
		}

		titleID := req.TitleID
		if req.CopyID > 0 {
			c, err := u.Copies.GetByID(ctx, req.CopyID)
			if err != nil {
				return err
			}
			if titleID > 0 && titleID != c.TitleID {
				return domain.NewInvalidArgument("copy does not belong to the requested title")
			}
			titleID = c.TitleID
		}
		title, err := u.Titles.GetByID(ctx, titleID)
		if err != nil {
			return err
		}

		open, err := u.Loans.ListOpenByPatron(ctx, patron.ID)
		if err != nil {
			return err
		}
		if len(open) >= domain.MaxOpenLoansPerPatron {
			return domain.Guard(domain.CodePatronLoanLimitExceeded,
				fmt.Sprintf("patron already has %d open loans", len(open)))
		}
		for i := range open {
			if open[i].TitleID == titleID {
				return domain.Guard(domain.CodeDuplicateRequest,
					fmt.Sprintf("patron already has loan %d open for %q", open[i].ID, title.Name))
			}
		}

		copies, titleLoans, err := copiesOf(ctx, u.Repositories, titleID)
		if err != nil {
			return err
		}
		stock := stockOf(copies)
		if stock.Available == 0 {
			est := domain.EstimateAvailability(stock, titleLoans, u.now)
			if est == nil {
				return domain.Guard(domain.CodeCopyUnavailable,
					fmt.Sprintf("no copy of %q is expected to become available", title.Name))
			}
			if period.start.Before(utils.DateOf(*est)) {
				gv := domain.Guard(domain.CodeDateBeforeEstimatedAvailability,
					fmt.Sprintf("%q is expected to be available from %s", title.Name, utils.FormatDate(*est)))
				gv.EstimatedAvailability = est
				return gv
			}
		}

		c, err := bindFreeCopy(ctx, u, titleID, req.CopyID)
		if err != nil {
			return err
		}
		issuedBy := int32(0)
		if actor.Kind == domain.ActorStaff {
			issuedBy = actor.ID
		}
		patronID := patron.ID
		loan = &domain.Loan{
			TitleID:   titleID,
			PatronID:  &patronID,
			Origin:    domain.LoanOriginReservation,
			Mode:      mode,
			State:     domain.LoanStatePending,
			Borrower:  patron.Snapshot(period.start),
			IssuedBy:  issuedBy,
			StartDate: period.start,
			EndDate:   period.end,
			TotalDays: period.days,
			Notes:     req.Notes,
		}
		metadata := map[string]string{"title_id": idString(titleID)}
		if c != nil {
			copyID := c.ID
			loan.CopyID = &copyID
			metadata["copy_id"] = idString(c.ID)
		} else {
			metadata["queued"] = "true"
		}
		if err := u.Loans.Create(ctx, loan); err != nil {
			return storeErr(err)
		}
		u.record(domain.AuditEntityLoan, loan.ID, "create_reservation", "", string(loan.State), metadata)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// loanOp loads a loan under lock and applies a transition to it.
func (s *loanService) loanOp(ctx context.Context, method string, actor domain.Actor, loanID int32, fn func(ctx context.Context, u *unit, loan *domain.Loan) error) (*domain.Loan, error) {
	var loan *domain.Loan
	err := s.run(ctx, method, actor, func(ctx context.Context, u *unit) error {
		l, err := u.Loans.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if err := fn(ctx, u, l); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *loanService) Approve(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return s.loanOp(ctx, "LoanService.Approve", actor, loanID, func(ctx context.Context, u *unit, loan *domain.Loan) error {
		if loan.State != domain.LoanStatePending {
			return domain.Guard(domain.CodeNotPending, fmt.Sprintf("loan %d is %s", loan.ID, loan.State))
		}

		if loan.CopyID == nil {
			c, err := bindFreeCopy(ctx, u, loan.TitleID, 0)
			if err != nil {
				return err
			}
			if c == nil {
				return domain.Guard(domain.CodeCopyUnavailable, "no copy of the title is free to bind")
			}
			copyID := c.ID
			loan.CopyID = &copyID
		}
		if _, err := setCopyState(ctx, u, loan, domain.CopyStateInLibrary, domain.CopyStateLoaned); err != nil {
			return err
		}

		from := loan.State
		approver := actor.ID
		now := u.now
		loan.State = domain.LoanStateApproved
		loan.ApprovedBy = &approver
		loan.ApprovedOn = &now
		if err := s.transition(ctx, u, loan, "approve", from, map[string]string{"copy_id": idString(*loan.CopyID)}); err != nil {
			return err
		}
		return s.notifyPatron(ctx, u, loan, "reservation_approved", func(ctx context.Context, email, name, title string) error {
			return s.notifier.SendReservationApproved(ctx, email, name, title, loan)
		})
	})
}

func (s *loanService) Reject(ctx context.Context, actor domain.Actor, loanID int32, reason string) (*domain.Loan, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	return s.loanOp(ctx, "LoanService.Reject", actor, loanID, func(ctx context.Context, u *unit, loan *domain.Loan) error {
		if loan.State != domain.LoanStatePending {
			return domain.Guard(domain.CodeNotPending, fmt.Sprintf("loan %d is %s", loan.ID, loan.State))
		}
		if reason == "" {
			return domain.Guard(domain.CodeMissingReason, "a rejection reason is required")
		}
		from := loan.State
		now := u.now
		loan.State = domain.LoanStateRejected
		loan.RejectedOn = &now
		loan.RejectionReason = reason
		if err := s.transition(ctx, u, loan, "reject", from, map[string]string{"reason": reason}); err != nil {
			return err
		}
		return s.notifyPatron(ctx, u, loan, "reservation_rejected", func(ctx context.Context, email, name, title string) error {
			return s.notifier.SendReservationRejected(ctx, email, name, title, reason)
		})
	})
}

func (s *loanService) Activate(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return s.loanOp(ctx, "LoanService.Activate", actor, loanID, func(ctx context.Context, u *unit, loan *domain.Loan) error {
		if loan.State != domain.LoanStateApproved {
			return domain.Guard(domain.CodeNotApproved, fmt.Sprintf("loan %d is %s", loan.ID, loan.State))
		}
		if _, err := setCopyState(ctx, u, loan, domain.CopyStateLoaned, domain.CopyStateLoaned); err != nil {
			return err
		}
		from := loan.State
		loan.State = domain.LoanStateInProgress
		return s.transition(ctx, u, loan, "activate", from, nil)
	})
}

func (s *loanService) MarkReturned(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return s.loanOp(ctx, "LoanService.MarkReturned", actor, loanID, func(ctx context.Context, u *unit, loan *domain.Loan) error {
		if loan.State != domain.LoanStateInProgress && loan.State != domain.LoanStateOverdue {
			return domain.Guard(domain.CodeNotActive, fmt.Sprintf("loan %d is %s", loan.ID, loan.State))
		}
		if _, err := setCopyState(ctx, u, loan, domain.CopyStateLoaned, domain.CopyStateInLibrary); err != nil {
			return err
		}
		from := loan.State
		receiver := actor.ID
		now := u.now
		loan.State = domain.LoanStateReturned
		loan.ReturnedOn = &now
		loan.ReceivedBy = &receiver
		return s.transition(ctx, u, loan, "mark_returned", from, nil)
	})
}

func (s *loanService) MarkLost(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return s.loanOp(ctx, "LoanService.MarkLost", actor, loanID, func(ctx context.Context, u *unit, loan *domain.Loan) error {
		if !loan.State.Possessing() {
			return domain.Guard(domain.CodeNotActive, fmt.Sprintf("loan %d is %s", loan.ID, loan.State))
		}
		if _, err := setCopyState(ctx, u, loan, domain.CopyStateLoaned, domain.CopyStateLost); err != nil {
			return err
		}
		from := loan.State
		receiver := actor.ID
		loan.State = domain.LoanStateLost
		loan.ReceivedBy = &receiver
		return s.transition(ctx, u, loan, "mark_lost", from, nil)
	})
}

func (s *loanService) MarkOverdue(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error) {
	if actor.Kind != domain.ActorStaff && actor.Kind != domain.ActorSystem {
		return nil, domain.Guard(domain.CodeForbidden, "staff or system only operation")
	}
	return s.loanOp(ctx, "LoanService.MarkOverdue", actor, loanID, func(ctx context.Context, u *unit, loan *domain.Loan) error {
		if loan.State != domain.LoanStateInProgress {
			return domain.Guard(domain.CodeNotInProgress, fmt.Sprintf("loan %d is %s", loan.ID, loan.State))
		}
		days := utils.DaysBetween(loan.EndDate, u.now)
		if days <= 0 {
			return domain.Guard(domain.CodeNotYetOverdue,
				fmt.Sprintf("loan %d is due on %s", loan.ID, utils.FormatDate(loan.EndDate)))
		}

		from := loan.State
		loan.State = domain.LoanStateOverdue
		loan.DaysOverdue = days
		if err := s.transition(ctx, u, loan, "mark_overdue", from, map[string]string{"days_overdue": idString(days)}); err != nil {
			return err
		}

		if days <= domain.SanctionThresholdDays || loan.PatronID == nil {
			return nil
		}
		patron, err := u.Patrons.GetForUpdate(ctx, *loan.PatronID)
		if err != nil {
			return err
		}
		title, err := u.Titles.GetByID(ctx, loan.TitleID)
		if err != nil {
			return err
		}
		return applySanction(ctx, u, s.notifier, patron, title.Name, days)
	})
}

func (s *loanService) CancelReservation(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error) {
	if actor.Kind != domain.ActorPatron {
		return nil, domain.Guard(domain.CodeForbidden, "only the patron can cancel a reservation")
	}
	return s.loanOp(ctx, "LoanService.CancelReservation", actor, loanID, func(ctx context.Context, u *unit, loan *domain.Loan) error {
		if loan.PatronID == nil || *loan.PatronID != actor.ID {
			return domain.Guard(domain.CodeNotOwner, fmt.Sprintf("loan %d does not belong to the patron", loan.ID))
		}
		if loan.State != domain.LoanStatePending {
			return domain.Guard(domain.CodeNotPending, fmt.Sprintf("loan %d is %s", loan.ID, loan.State))
		}
		from := loan.State
		now := u.now
		loan.State = domain.LoanStateRejected
		loan.RejectedOn = &now
		loan.RejectionReason = CancellationReason
		return s.transition(ctx, u, loan, "cancel_reservation", from, nil)
	})
}

// notifyPatron queues a notification to the loan's patron, if it has one.
func (s *loanService) notifyPatron(ctx context.Context, u *unit, loan *domain.Loan, kind string, send func(ctx context.Context, email, name, title string) error) error {
	if loan.PatronID == nil {
		return nil
	}
	patron, err := u.Patrons.GetByID(ctx, *loan.PatronID)
	if err != nil {
		return err
	}
	title, err := u.Titles.GetByID(ctx, loan.TitleID)
	if err != nil {
		return err
	}
	email, name, titleName := patron.Email, patron.Name, title.Name
	u.notify(kind, func(ctx context.Context) error {
		return send(ctx, email, name, titleName)
	})
	return nil
}

func (s *loanService) GetLoan(ctx context.Context, loanID int32) (*domain.Loan, error) {
	return s.store.Repos().Loans.GetByID(ctx, loanID)
}

func (s *loanService) ListPatronLoans(ctx context.Context, patronID int32, page, pageSize int32) ([]domain.Loan, int32, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.store.Repos().Loans.ListByPatron(ctx, patronID, page, pageSize)
}

func (s *loanService) ListLoansByState(ctx context.Context, state domain.LoanState, page, pageSize int32) ([]domain.Loan, int32, error) {
	if !state.Valid() {
		return nil, 0, domain.NewInvalidArgument("unknown loan state " + string(state))
	}
	page, pageSize = normalizePage(page, pageSize)
	return s.store.Repos().Loans.ListByState(ctx, state, page, pageSize)
}

func (s *loanService) ListDueLoans(ctx context.Context) ([]domain.Loan, error) {
	return s.store.Repos().Loans.ListDue(ctx, utils.DateOf(s.clock.Now()))
}
