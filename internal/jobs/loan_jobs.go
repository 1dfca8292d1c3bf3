package jobs

import (
	"context"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/utils"
)

const reminderPageSize = 100

// MarkOverdueLoans moves every in-progress loan past its end date to
// overdue. Each loan goes through the loan service so the sanction engine
// runs for it.
func (jr *JobRunner) MarkOverdueLoans() {
	jr.runWithRecovery("MarkOverdueLoans", func() {
		marked, skipped, err := jr.markOverdueLoans(context.Background())
		if err != nil {
			logger.Error("Failed to list due loans", "error", err)
			return
		}
		logger.Info("Marked loans as overdue", "count", marked, "skipped", skipped)
	})
}

func (jr *JobRunner) markOverdueLoans(ctx context.Context) (marked, skipped int, err error) {
	due, err := jr.services.Loans.ListDueLoans(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, l := range due {
		loan, err := jr.services.Loans.MarkOverdue(ctx, domain.SystemActor, l.ID)
		if err != nil {
			// Another caller may have moved the loan since it was listed.
			logger.Warn("Failed to mark loan overdue", "loan_id", l.ID, "error", err)
			skipped++
			continue
		}
		marked++
		logger.Debug("Marked loan as overdue",
			"loan_id", loan.ID,
			"end_date", utils.FormatDate(loan.EndDate),
			"days_overdue", loan.DaysOverdue)
	}
	return marked, skipped, nil
}

// SendOverdueReminders emails every patron holding an overdue loan.
func (jr *JobRunner) SendOverdueReminders() {
	jr.runWithRecovery("SendOverdueReminders", func() {
		sent, err := jr.sendOverdueReminders(context.Background())
		if err != nil {
			logger.Error("Failed to list overdue loans", "error", err)
			return
		}
		logger.Info("Sent overdue reminders", "count", sent)
	})
}

func (jr *JobRunner) sendOverdueReminders(ctx context.Context) (int, error) {
	now := jr.services.Clock.Now()
	sent := 0
	for page := int32(1); ; page++ {
		loans, total, err := jr.services.Loans.ListLoansByState(ctx, domain.LoanStateOverdue, page, reminderPageSize)
		if err != nil {
			return sent, err
		}
		for i := range loans {
			if jr.remind(ctx, &loans[i], now) {
				sent++
			}
		}
		if len(loans) == 0 || page*reminderPageSize >= total {
			return sent, nil
		}
	}
}

// remind sends one reminder with the days overdue counted up to now.
func (jr *JobRunner) remind(ctx context.Context, loan *domain.Loan, now time.Time) bool {
	if loan.PatronID == nil {
		return false
	}
	patron, err := jr.services.Patrons.GetPatron(ctx, *loan.PatronID)
	if err != nil {
		logger.Warn("Failed to load patron for reminder", "loan_id", loan.ID, "error", err)
		return false
	}
	title, err := jr.services.Catalog.GetTitle(ctx, loan.TitleID)
	if err != nil {
		logger.Warn("Failed to load title for reminder", "loan_id", loan.ID, "error", err)
		return false
	}
	current := *loan
	current.DaysOverdue = utils.DaysBetween(loan.EndDate, now)
	if err := jr.services.Notifier.SendOverdueReminder(ctx, patron.Email, patron.Name, title.Name, &current); err != nil {
		logger.Warn("Failed to send overdue reminder", "loan_id", loan.ID, "patron_id", patron.ID, "error", err)
		return false
	}
	return true
}
