package service

import (
	"context"
	"fmt"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
	"library-circulation-backend/internal/utils"
)

type sanctionService struct {
	runner
	notifier NotificationService
}

func NewSanctionService(store repository.Store, clock Clock, notifier NotificationService) SanctionService {
	return &sanctionService{runner: runner{store: store, clock: clock}, notifier: notifier}
}

// evaluateSanctionExpiry clears a lapsed sanction on p. It reports whether
// anything changed.
func evaluateSanctionExpiry(ctx context.Context, u *unit, p *domain.Patron) (bool, error) {
	if !p.SanctionExpired(u.now) {
		return false, nil
	}
	expiry := p.SanctionExpiry.Format(time.RFC3339)
	p.ClearSanction()
	if err := u.Patrons.Update(ctx, p); err != nil {
		return false, err
	}
	u.record(domain.AuditEntityPatron, p.ID, "sanction_expired", "sanctioned", "clear",
		map[string]string{"expired_on": expiry})
	return true, nil
}

// applySanction sanctions the borrower of a loan that has been overdue for
// more than the threshold. A second sanction replaces the first.
func applySanction(ctx context.Context, u *unit, notifier NotificationService, p *domain.Patron, titleName string, daysOverdue int32) error {
	from := "clear"
	if p.Sanctioned {
		from = "sanctioned"
	}
	expiry := utils.AddMonths(u.now, domain.SanctionMonths)
	p.Sanctioned = true
	p.SanctionExpiry = &expiry
	p.SanctionReason = fmt.Sprintf("overdue loan of %d days for %s", daysOverdue, titleName)
	if err := u.Patrons.Update(ctx, p); err != nil {
		return err
	}
	u.record(domain.AuditEntityPatron, p.ID, "sanction_applied", from, "sanctioned", map[string]string{
		"reason":       p.SanctionReason,
		"expiry":       expiry.Format(time.RFC3339),
		"days_overdue": idString(daysOverdue),
	})

	email, name, reason := p.Email, p.Name, p.SanctionReason
	u.notify("sanction", func(ctx context.Context) error {
		return notifier.SendSanctionNotice(ctx, email, name, reason, expiry)
	})
	return nil
}

func (s *sanctionService) RefreshPatron(ctx context.Context, patronID int32) (*domain.Patron, error) {
	var patron *domain.Patron
	err := s.run(ctx, "SanctionService.RefreshPatron", domain.SystemActor, func(ctx context.Context, u *unit) error {
		p, err := u.Patrons.GetForUpdate(ctx, patronID)
		if err != nil {
			return err
		}
		if _, err := evaluateSanctionExpiry(ctx, u, p); err != nil {
			return err
		}
		patron = p
		return nil
	})
	return patron, err
}

func (s *sanctionService) LiftSanction(ctx context.Context, actor domain.Actor, patronID int32) (*domain.Patron, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	var patron *domain.Patron
	err := s.run(ctx, "SanctionService.LiftSanction", actor, func(ctx context.Context, u *unit) error {
		p, err := u.Patrons.GetForUpdate(ctx, patronID)
		if err != nil {
			return err
		}
		if p.Sanctioned {
			reason := p.SanctionReason
			p.ClearSanction()
			if err := u.Patrons.Update(ctx, p); err != nil {
				return err
			}
			u.record(domain.AuditEntityPatron, p.ID, "sanction_lifted", "sanctioned", "clear",
				map[string]string{"reason": reason})
		}
		patron = p
		return nil
	})
	return patron, err
}
