package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

func conflict(entity, constraint string) error {
	return fmt.Errorf("%s: %w: %s", entity, domain.ErrConflict, constraint)
}

func paginate[T any](items []T, page, pageSize int32) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := int((page - 1) * pageSize)
	if start >= len(items) {
		return nil
	}
	end := start + int(pageSize)
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type titleRepository struct {
	a   access
	now func() time.Time
}

func (r *titleRepository) Create(ctx context.Context, t *domain.Title) error {
	return r.a.write(func(s *state) error {
		for _, existing := range s.titles {
			if existing.Key == t.Key {
				return conflict("title", "titles_title_key_key")
			}
		}
		s.lastTitleID++
		t.ID = s.lastTitleID
		t.CreatedOn = r.now()
		s.titles[t.ID] = *t
		return nil
	})
}

func (r *titleRepository) GetByID(ctx context.Context, id int32) (*domain.Title, error) {
	var out *domain.Title
	err := r.a.read(func(s *state) error {
		t, ok := s.titles[id]
		if !ok {
			return domain.NotFound("title", id)
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *titleRepository) GetByKey(ctx context.Context, key string) (*domain.Title, error) {
	var out *domain.Title
	err := r.a.read(func(s *state) error {
		for _, t := range s.titles {
			if t.Key == key {
				t := t
				out = &t
				return nil
			}
		}
		return domain.NotFound("title", key)
	})
	return out, err
}

type copyRepository struct {
	a   access
	now func() time.Time
}

func (r *copyRepository) Create(ctx context.Context, c *domain.Copy) error {
	return r.a.write(func(s *state) error {
		if _, ok := s.titles[c.TitleID]; !ok {
			return domain.NotFound("title", c.TitleID)
		}
		for _, existing := range s.copies {
			if existing.InventoryCode == c.InventoryCode {
				return conflict("copy", "copies_inventory_code_key")
			}
		}
		if err := c.Validate(); err != nil {
			return err
		}
		now := r.now()
		s.lastCopyID++
		c.ID = s.lastCopyID
		c.Version = 0
		c.CreatedOn = now
		c.UpdatedOn = now
		s.copies[c.ID] = cloneCopy(*c)
		return nil
	})
}

func (r *copyRepository) get(id int32) (*domain.Copy, error) {
	var out *domain.Copy
	err := r.a.read(func(s *state) error {
		c, ok := s.copies[id]
		if !ok {
			return domain.NotFound("copy", id)
		}
		c = cloneCopy(c)
		out = &c
		return nil
	})
	return out, err
}

func (r *copyRepository) GetByID(ctx context.Context, id int32) (*domain.Copy, error) {
	return r.get(id)
}

// GetForUpdate needs no row lock: a unit of work holds the store lock.
func (r *copyRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Copy, error) {
	return r.get(id)
}

func (r *copyRepository) ListByTitle(ctx context.Context, titleID int32) ([]domain.Copy, error) {
	var out []domain.Copy
	err := r.a.read(func(s *state) error {
		for _, c := range s.copies {
			if c.TitleID == titleID {
				out = append(out, cloneCopy(c))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].InventoryCode < out[j].InventoryCode })
	return out, err
}

func (r *copyRepository) UpdateState(ctx context.Context, c *domain.Copy, to domain.CopyState) error {
	return r.a.write(func(s *state) error {
		stored, ok := s.copies[c.ID]
		if !ok || stored.State != c.State || stored.Version != c.Version {
			return fmt.Errorf("copy %d changed concurrently (expected %s v%d): %w", c.ID, c.State, c.Version, domain.ErrConsistency)
		}
		location := ptr(c.LocationID)
		if to == domain.CopyStateCommunityDiscard {
			location = nil
		}
		now := r.now()
		stored.State = to
		stored.LocationID = location
		stored.Version++
		stored.UpdatedOn = now
		s.copies[c.ID] = stored

		c.State = to
		c.LocationID = ptr(location)
		c.Version = stored.Version
		c.UpdatedOn = now
		return nil
	})
}

func (r *copyRepository) UpdateDetails(ctx context.Context, c *domain.Copy) error {
	return r.a.write(func(s *state) error {
		stored, ok := s.copies[c.ID]
		if !ok {
			return domain.NotFound("copy", c.ID)
		}
		if stored.State == domain.CopyStateCommunityDiscard && c.LocationID != nil {
			return domain.NewInvalidArgument("a copy discarded to the community collection cannot have a location")
		}
		stored.CategoryID = c.CategoryID
		stored.CollectionID = ptr(c.CollectionID)
		stored.Condition = c.Condition
		stored.LocationID = ptr(c.LocationID)
		stored.UpdatedOn = r.now()
		s.copies[c.ID] = stored
		return nil
	})
}

func (r *copyRepository) Delete(ctx context.Context, id int32) error {
	return r.a.write(func(s *state) error {
		if _, ok := s.copies[id]; !ok {
			return domain.NotFound("copy", id)
		}
		delete(s.copies, id)
		for lid, l := range s.loans {
			if l.CopyID != nil && *l.CopyID == id {
				l.CopyID = nil
				s.loans[lid] = l
			}
		}
		return nil
	})
}

type loanRepository struct {
	a   access
	now func() time.Time
}

// checkOpenPerCopy mirrors the loans_one_open_per_copy unique index.
func checkOpenPerCopy(s *state, l *domain.Loan) error {
	if l.CopyID == nil || !l.State.Open() {
		return nil
	}
	for id, other := range s.loans {
		if id == l.ID || other.CopyID == nil || !other.State.Open() {
			continue
		}
		if *other.CopyID == *l.CopyID {
			return conflict("loan", "loans_one_open_per_copy")
		}
	}
	return nil
}

func (r *loanRepository) Create(ctx context.Context, l *domain.Loan) error {
	return r.a.write(func(s *state) error {
		if _, ok := s.titles[l.TitleID]; !ok {
			return domain.NotFound("title", l.TitleID)
		}
		l.ID = 0
		if err := checkOpenPerCopy(s, l); err != nil {
			return err
		}
		now := r.now()
		s.lastLoanID++
		l.ID = s.lastLoanID
		l.CreatedOn = now
		l.UpdatedOn = now
		s.loans[l.ID] = cloneLoan(*l)
		return nil
	})
}

func (r *loanRepository) get(id int32) (*domain.Loan, error) {
	var out *domain.Loan
	err := r.a.read(func(s *state) error {
		l, ok := s.loans[id]
		if !ok {
			return domain.NotFound("loan", id)
		}
		l = cloneLoan(l)
		out = &l
		return nil
	})
	return out, err
}

func (r *loanRepository) GetByID(ctx context.Context, id int32) (*domain.Loan, error) {
	return r.get(id)
}

func (r *loanRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Loan, error) {
	return r.get(id)
}

func (r *loanRepository) Update(ctx context.Context, l *domain.Loan) error {
	return r.a.write(func(s *state) error {
		stored, ok := s.loans[l.ID]
		if !ok {
			return domain.NotFound("loan", l.ID)
		}
		if err := checkOpenPerCopy(s, l); err != nil {
			return err
		}
		stored.CopyID = ptr(l.CopyID)
		stored.State = l.State
		stored.ApprovedBy = ptr(l.ApprovedBy)
		stored.ReceivedBy = ptr(l.ReceivedBy)
		stored.ReturnedOn = ptr(l.ReturnedOn)
		stored.ApprovedOn = ptr(l.ApprovedOn)
		stored.RejectedOn = ptr(l.RejectedOn)
		stored.RejectionReason = l.RejectionReason
		stored.DaysOverdue = l.DaysOverdue
		stored.Notes = l.Notes
		stored.UpdatedOn = r.now()
		s.loans[l.ID] = stored
		l.UpdatedOn = stored.UpdatedOn
		return nil
	})
}

func (r *loanRepository) filter(keep func(l *domain.Loan) bool, less func(a, b *domain.Loan) bool) ([]domain.Loan, error) {
	var out []domain.Loan
	err := r.a.read(func(s *state) error {
		for _, l := range s.loans {
			if keep(&l) {
				out = append(out, cloneLoan(l))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out, err
}

func byID(a, b *domain.Loan) bool { return a.ID < b.ID }

func byEndDate(a, b *domain.Loan) bool {
	if !a.EndDate.Equal(b.EndDate) {
		return a.EndDate.Before(b.EndDate)
	}
	return a.ID < b.ID
}

func (r *loanRepository) ListOpenByTitle(ctx context.Context, titleID int32) ([]domain.Loan, error) {
	return r.filter(func(l *domain.Loan) bool { return l.TitleID == titleID && l.State.Open() }, byEndDate)
}

func (r *loanRepository) ListOpenByCopy(ctx context.Context, copyID int32) ([]domain.Loan, error) {
	return r.filter(func(l *domain.Loan) bool {
		return l.CopyID != nil && *l.CopyID == copyID && l.State.Open()
	}, byID)
}

func (r *loanRepository) ListOpenByPatron(ctx context.Context, patronID int32) ([]domain.Loan, error) {
	return r.filter(func(l *domain.Loan) bool {
		return l.PatronID != nil && *l.PatronID == patronID && l.State.Open()
	}, byID)
}

func (r *loanRepository) ListByPatron(ctx context.Context, patronID int32, page, pageSize int32) ([]domain.Loan, int32, error) {
	loans, err := r.filter(func(l *domain.Loan) bool {
		return l.PatronID != nil && *l.PatronID == patronID
	}, func(a, b *domain.Loan) bool {
		if !a.CreatedOn.Equal(b.CreatedOn) {
			return a.CreatedOn.After(b.CreatedOn)
		}
		return a.ID > b.ID
	})
	if err != nil {
		return nil, 0, err
	}
	return paginate(loans, page, pageSize), int32(len(loans)), nil
}

func (r *loanRepository) ListByState(ctx context.Context, st domain.LoanState, page, pageSize int32) ([]domain.Loan, int32, error) {
	loans, err := r.filter(func(l *domain.Loan) bool { return l.State == st }, byEndDate)
	if err != nil {
		return nil, 0, err
	}
	return paginate(loans, page, pageSize), int32(len(loans)), nil
}

func (r *loanRepository) ListDue(ctx context.Context, before time.Time) ([]domain.Loan, error) {
	return r.filter(func(l *domain.Loan) bool {
		return l.State == domain.LoanStateInProgress && l.EndDate.Before(before)
	}, byEndDate)
}

type patronRepository struct {
	a   access
	now func() time.Time
}

func (r *patronRepository) Create(ctx context.Context, p *domain.Patron) error {
	return r.a.write(func(s *state) error {
		for _, existing := range s.patrons {
			if existing.NationalID == p.NationalID {
				return conflict("patron", "patrons_national_id_key")
			}
			if existing.Email == p.Email {
				return conflict("patron", "patrons_email_key")
			}
		}
		now := r.now()
		s.lastPatronID++
		p.ID = s.lastPatronID
		p.CreatedOn = now
		p.UpdatedOn = now
		s.patrons[p.ID] = clonePatron(*p)
		return nil
	})
}

func (r *patronRepository) get(id int32) (*domain.Patron, error) {
	var out *domain.Patron
	err := r.a.read(func(s *state) error {
		p, ok := s.patrons[id]
		if !ok {
			return domain.NotFound("patron", id)
		}
		p = clonePatron(p)
		out = &p
		return nil
	})
	return out, err
}

func (r *patronRepository) GetByID(ctx context.Context, id int32) (*domain.Patron, error) {
	return r.get(id)
}

func (r *patronRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Patron, error) {
	return r.get(id)
}

func (r *patronRepository) Update(ctx context.Context, p *domain.Patron) error {
	return r.a.write(func(s *state) error {
		stored, ok := s.patrons[p.ID]
		if !ok {
			return domain.NotFound("patron", p.ID)
		}
		for id, existing := range s.patrons {
			if id != p.ID && existing.Email == p.Email {
				return conflict("patron", "patrons_email_key")
			}
		}
		stored.Email = p.Email
		stored.Name = p.Name
		stored.Phone = p.Phone
		stored.Address = p.Address
		stored.Active = p.Active
		stored.Sanctioned = p.Sanctioned
		stored.SanctionExpiry = ptr(p.SanctionExpiry)
		stored.SanctionReason = p.SanctionReason
		stored.UpdatedOn = r.now()
		s.patrons[p.ID] = stored
		p.UpdatedOn = stored.UpdatedOn
		return nil
	})
}

type auditRepository struct {
	a access
}

func (r *auditRepository) Append(ctx context.Context, e *domain.AuditEvent) error {
	return r.a.write(func(s *state) error {
		s.audit = append(s.audit, cloneAudit(*e))
		return nil
	})
}

func (r *auditRepository) ListByEntity(ctx context.Context, entity domain.AuditEntity, entityID int32) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	err := r.a.read(func(s *state) error {
		for _, e := range s.audit {
			if e.EntityType == entity && e.EntityID == entityID {
				out = append(out, cloneAudit(e))
			}
		}
		return nil
	})
	return out, err
}

type catalogRepository struct {
	a access
}

type summaryAcc struct {
	summary  domain.TitleSummary
	freeID   int32
	freeCode string
	minAny   int32
}

func queryMatches(t domain.Title, q string) bool {
	q = strings.ToLower(q)
	return q == "" || strings.Contains(strings.ToLower(t.Name), q) || strings.Contains(strings.ToLower(t.Author), q)
}

func copyMatches(c domain.Copy, f repository.CatalogFilter) bool {
	if f.CategoryID > 0 && c.CategoryID != f.CategoryID {
		return false
	}
	if f.CollectionID > 0 && (c.CollectionID == nil || *c.CollectionID != f.CollectionID) {
		return false
	}
	return true
}

// ListTitleSummaries selects titles by query and by having a copy in the
// filtered category and collection, then counts every copy of each title.
func (r *catalogRepository) ListTitleSummaries(ctx context.Context, f repository.CatalogFilter) ([]domain.TitleSummary, int32, error) {
	groups := make(map[int32]*summaryAcc)
	err := r.a.read(func(s *state) error {
		held := make(map[int32]bool)
		for _, l := range s.loans {
			if l.CopyID != nil && l.State.Open() {
				held[*l.CopyID] = true
			}
		}
		selected := make(map[int32]bool)
		for _, c := range s.copies {
			if t, ok := s.titles[c.TitleID]; ok && queryMatches(t, f.Query) && copyMatches(c, f) {
				selected[t.ID] = true
			}
		}

		for _, c := range s.copies {
			if !selected[c.TitleID] {
				continue
			}
			g, ok := groups[c.TitleID]
			if !ok {
				t := s.titles[c.TitleID]
				g = &summaryAcc{summary: domain.TitleSummary{TitleID: t.ID, Name: t.Name, Author: t.Author}}
				groups[t.ID] = g
			}
			switch c.State {
			case domain.CopyStateInLibrary:
				g.summary.Stock.Available++
				if !held[c.ID] && (g.freeID == 0 || c.InventoryCode < g.freeCode) {
					g.freeID, g.freeCode = c.ID, c.InventoryCode
				}
			case domain.CopyStateLoaned:
				g.summary.Stock.Loaned++
			case domain.CopyStateLost:
				g.summary.Stock.Lost++
			}
			if c.State != domain.CopyStateCommunityDiscard {
				g.summary.Stock.Total++
			}
			if g.minAny == 0 || c.ID < g.minAny {
				g.minAny = c.ID
			}
			if c.CreatedOn.After(g.summary.LastRegisteredOn) {
				g.summary.LastRegisteredOn = c.CreatedOn
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]domain.TitleSummary, 0, len(groups))
	for _, g := range groups {
		g.summary.RepresentativeCopyID = g.minAny
		if g.freeID != 0 {
			g.summary.RepresentativeCopyID = g.freeID
		}
		out = append(out, g.summary)
	}
	sort.Slice(out, catalogLess(out, f.Order))
	return paginate(out, f.Page, f.PageSize), int32(len(out)), nil
}

func catalogLess(items []domain.TitleSummary, order repository.CatalogOrder) func(i, j int) bool {
	return func(i, j int) bool {
		a, b := &items[i], &items[j]
		switch order {
		case repository.CatalogOrderTitle:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.TitleID < b.TitleID
		case repository.CatalogOrderAuthor:
			if a.Author != b.Author {
				return a.Author < b.Author
			}
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.TitleID < b.TitleID
		case repository.CatalogOrderAvailable:
			if a.Stock.Available != b.Stock.Available {
				return a.Stock.Available > b.Stock.Available
			}
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.TitleID < b.TitleID
		default:
			if !a.LastRegisteredOn.Equal(b.LastRegisteredOn) {
				return a.LastRegisteredOn.After(b.LastRegisteredOn)
			}
			return a.TitleID > b.TitleID
		}
	}
}
