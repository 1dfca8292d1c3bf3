package service

import (
	"context"
	"errors"
	"strings"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

type patronService struct {
	runner
	sanctions SanctionService
}

func NewPatronService(store repository.Store, clock Clock, sanctions SanctionService) PatronService {
	return &patronService{runner: runner{store: store, clock: clock}, sanctions: sanctions}
}

func (s *patronService) RegisterPatron(ctx context.Context, actor domain.Actor, p *domain.Patron) error {
	if err := requireStaff(actor); err != nil {
		return err
	}
	p.NationalID = strings.TrimSpace(p.NationalID)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Name = strings.TrimSpace(p.Name)
	if p.NationalID == "" || p.Name == "" {
		return domain.NewInvalidArgument("national id and name are required")
	}
	if !strings.Contains(p.Email, "@") {
		return domain.NewInvalidArgument("a valid email is required")
	}
	p.Active = true
	p.ClearSanction()

	return s.run(ctx, "PatronService.RegisterPatron", actor, func(ctx context.Context, u *unit) error {
		if err := u.Patrons.Create(ctx, p); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return domain.NewInvalidArgument("a patron with this national id or email already exists")
			}
			return err
		}
		u.record(domain.AuditEntityPatron, p.ID, "register", "", "active", nil)
		return nil
	})
}

// GetPatron returns the patron after lazy sanction expiry.
func (s *patronService) GetPatron(ctx context.Context, patronID int32) (*domain.Patron, error) {
	return s.sanctions.RefreshPatron(ctx, patronID)
}

func (s *patronService) SetActive(ctx context.Context, actor domain.Actor, patronID int32, active bool) (*domain.Patron, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	var patron *domain.Patron
	err := s.run(ctx, "PatronService.SetActive", actor, func(ctx context.Context, u *unit) error {
		p, err := u.Patrons.GetForUpdate(ctx, patronID)
		if err != nil {
			return err
		}
		if p.Active != active {
			from, to := activeLabel(p.Active), activeLabel(active)
			p.Active = active
			if err := u.Patrons.Update(ctx, p); err != nil {
				return err
			}
			u.record(domain.AuditEntityPatron, p.ID, "set_active", from, to, nil)
		}
		patron = p
		return nil
	})
	return patron, err
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}
