package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

const inventoryCodePrefix = "INV-"

type inventoryService struct {
	runner
}

func NewInventoryService(store repository.Store, clock Clock) InventoryService {
	return &inventoryService{runner: runner{store: store, clock: clock}}
}

func newInventoryCode(t time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return inventoryCodePrefix + id.String(), nil
}

// resolveTitle returns the registration's title, creating it when no title
// with the same normalized name and author exists yet.
func resolveTitle(ctx context.Context, u *unit, reg CopyRegistration) (*domain.Title, error) {
	if reg.TitleID > 0 {
		return u.Titles.GetByID(ctx, reg.TitleID)
	}
	name, author := strings.TrimSpace(reg.Name), strings.TrimSpace(reg.Author)
	if name == "" || author == "" {
		return nil, domain.NewInvalidArgument("title name and author are required")
	}
	key := domain.TitleKey(name, author)
	t, err := u.Titles.GetByKey(ctx, key)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	t = &domain.Title{Name: name, Author: author, Key: key}
	if err := u.Titles.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func registerCopy(ctx context.Context, u *unit, reg CopyRegistration) (*domain.Copy, error) {
	title, err := resolveTitle(ctx, u, reg)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(reg.InventoryCode)
	if code == "" {
		if code, err = newInventoryCode(u.now); err != nil {
			return nil, err
		}
	}
	condition := reg.Condition
	if condition == "" {
		condition = domain.CopyConditionGood
	}
	c := &domain.Copy{
		InventoryCode: code,
		TitleID:       title.ID,
		CategoryID:    reg.CategoryID,
		CollectionID:  reg.CollectionID,
		Condition:     condition,
		LocationID:    reg.LocationID,
		State:         domain.CopyStateInLibrary,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := u.Copies.Create(ctx, c); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.NewInvalidArgument(fmt.Sprintf("inventory code %s is already registered", code))
		}
		return nil, err
	}
	u.record(domain.AuditEntityCopy, c.ID, "register", "", string(c.State),
		map[string]string{"inventory_code": c.InventoryCode, "title_id": idString(title.ID)})
	return c, nil
}

func (s *inventoryService) RegisterCopy(ctx context.Context, actor domain.Actor, reg CopyRegistration) (*domain.Copy, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	var out *domain.Copy
	err := s.run(ctx, "InventoryService.RegisterCopy", actor, func(ctx context.Context, u *unit) error {
		c, err := registerCopy(ctx, u, reg)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *inventoryService) RegisterCopies(ctx context.Context, actor domain.Actor, regs []CopyRegistration) ([]domain.Copy, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return nil, domain.NewInvalidArgument("no copies to register")
	}
	var out []domain.Copy
	err := s.run(ctx, "InventoryService.RegisterCopies", actor, func(ctx context.Context, u *unit) error {
		out = make([]domain.Copy, 0, len(regs))
		for i, reg := range regs {
			c, err := registerCopy(ctx, u, reg)
			if err != nil {
				return fmt.Errorf("copy %d: %w", i+1, err)
			}
			out = append(out, *c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *inventoryService) editCopy(ctx context.Context, method string, actor domain.Actor, copyID int32, fn func(ctx context.Context, u *unit, c *domain.Copy) error) (*domain.Copy, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	var out *domain.Copy
	err := s.run(ctx, method, actor, func(ctx context.Context, u *unit) error {
		c, err := u.Copies.GetForUpdate(ctx, copyID)
		if err != nil {
			return err
		}
		if err := fn(ctx, u, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *inventoryService) UpdateCondition(ctx context.Context, actor domain.Actor, copyID int32, condition domain.CopyCondition) (*domain.Copy, error) {
	if !condition.Valid() {
		return nil, domain.NewInvalidArgument("unknown copy condition " + string(condition))
	}
	return s.editCopy(ctx, "InventoryService.UpdateCondition", actor, copyID, func(ctx context.Context, u *unit, c *domain.Copy) error {
		from := c.Condition
		c.Condition = condition
		if err := u.Copies.UpdateDetails(ctx, c); err != nil {
			return err
		}
		u.record(domain.AuditEntityCopy, c.ID, "update_condition", string(c.State), string(c.State),
			map[string]string{"from": string(from), "to": string(condition)})
		return nil
	})
}

func (s *inventoryService) Relocate(ctx context.Context, actor domain.Actor, copyID int32, locationID *int32) (*domain.Copy, error) {
	return s.editCopy(ctx, "InventoryService.Relocate", actor, copyID, func(ctx context.Context, u *unit, c *domain.Copy) error {
		if c.State == domain.CopyStateCommunityDiscard && locationID != nil {
			return domain.NewInvalidArgument("a copy discarded to the community collection cannot have a location")
		}
		c.LocationID = locationID
		if err := u.Copies.UpdateDetails(ctx, c); err != nil {
			return err
		}
		location := "none"
		if locationID != nil {
			location = idString(*locationID)
		}
		u.record(domain.AuditEntityCopy, c.ID, "relocate", string(c.State), string(c.State),
			map[string]string{"location_id": location})
		return nil
	})
}

func ensureNoOpenLoan(ctx context.Context, u *unit, c *domain.Copy) error {
	open, err := u.Loans.ListOpenByCopy(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return domain.Guard(domain.CodeCopyHasOpenLoan,
			fmt.Sprintf("copy %s has open loan %d", c.InventoryCode, open[0].ID))
	}
	return nil
}

func (s *inventoryService) DiscardToCommunity(ctx context.Context, actor domain.Actor, copyID int32) (*domain.Copy, error) {
	return s.editCopy(ctx, "InventoryService.DiscardToCommunity", actor, copyID, func(ctx context.Context, u *unit, c *domain.Copy) error {
		if !c.Shelved() {
			return domain.Guard(domain.CodeCopyNotInLibrary,
				fmt.Sprintf("copy %s is %s", c.InventoryCode, c.State))
		}
		if err := ensureNoOpenLoan(ctx, u, c); err != nil {
			return err
		}
		from := c.State
		if err := u.Copies.UpdateState(ctx, c, domain.CopyStateCommunityDiscard); err != nil {
			return err
		}
		u.record(domain.AuditEntityCopy, c.ID, "discard", string(from), string(c.State), nil)
		return nil
	})
}

func (s *inventoryService) DeleteCopy(ctx context.Context, actor domain.Actor, copyID int32) error {
	_, err := s.editCopy(ctx, "InventoryService.DeleteCopy", actor, copyID, func(ctx context.Context, u *unit, c *domain.Copy) error {
		if err := ensureNoOpenLoan(ctx, u, c); err != nil {
			return err
		}
		if err := u.Copies.Delete(ctx, c.ID); err != nil {
			return err
		}
		u.record(domain.AuditEntityCopy, c.ID, "delete", string(c.State), "",
			map[string]string{"inventory_code": c.InventoryCode})
		return nil
	})
	return err
}
