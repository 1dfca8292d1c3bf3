// Package memory is an in-process Store. It backs the development mode
// (database.driver: memory) and the service tests.
//
// WithinTx holds the store's write lock for the whole unit of work and hands
// fn repositories over a private clone of the data. The clone replaces the
// live data only when fn returns nil, so a failed unit leaves nothing behind.
// Repositories returned by Repos lock per call. They must not be used from
// inside a WithinTx callback.
package memory

import (
	"context"
	"sync"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

type state struct {
	titles  map[int32]domain.Title
	copies  map[int32]domain.Copy
	loans   map[int32]domain.Loan
	patrons map[int32]domain.Patron
	audit   []domain.AuditEvent

	lastTitleID  int32
	lastCopyID   int32
	lastLoanID   int32
	lastPatronID int32
}

func newState() *state {
	return &state{
		titles:  make(map[int32]domain.Title),
		copies:  make(map[int32]domain.Copy),
		loans:   make(map[int32]domain.Loan),
		patrons: make(map[int32]domain.Patron),
	}
}

func (s *state) clone() *state {
	cp := &state{
		titles:       make(map[int32]domain.Title, len(s.titles)),
		copies:       make(map[int32]domain.Copy, len(s.copies)),
		loans:        make(map[int32]domain.Loan, len(s.loans)),
		patrons:      make(map[int32]domain.Patron, len(s.patrons)),
		audit:        append([]domain.AuditEvent(nil), s.audit...),
		lastTitleID:  s.lastTitleID,
		lastCopyID:   s.lastCopyID,
		lastLoanID:   s.lastLoanID,
		lastPatronID: s.lastPatronID,
	}
	for id, t := range s.titles {
		cp.titles[id] = t
	}
	for id, c := range s.copies {
		cp.copies[id] = cloneCopy(c)
	}
	for id, l := range s.loans {
		cp.loans[id] = cloneLoan(l)
	}
	for id, p := range s.patrons {
		cp.patrons[id] = clonePatron(p)
	}
	return cp
}

func ptr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneCopy(c domain.Copy) domain.Copy {
	c.CollectionID = ptr(c.CollectionID)
	c.LocationID = ptr(c.LocationID)
	return c
}

func cloneLoan(l domain.Loan) domain.Loan {
	l.CopyID = ptr(l.CopyID)
	l.PatronID = ptr(l.PatronID)
	l.ApprovedBy = ptr(l.ApprovedBy)
	l.ReceivedBy = ptr(l.ReceivedBy)
	l.ReturnedOn = ptr(l.ReturnedOn)
	l.ApprovedOn = ptr(l.ApprovedOn)
	l.RejectedOn = ptr(l.RejectedOn)
	l.Borrower.BirthDate = ptr(l.Borrower.BirthDate)
	return l
}

func clonePatron(p domain.Patron) domain.Patron {
	p.BirthDate = ptr(p.BirthDate)
	p.SanctionExpiry = ptr(p.SanctionExpiry)
	return p
}

func cloneAudit(e domain.AuditEvent) domain.AuditEvent {
	if e.Metadata != nil {
		m := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			m[k] = v
		}
		e.Metadata = m
	}
	return e
}

// access runs fn against the data a repository is bound to.
type access interface {
	read(fn func(s *state) error) error
	write(fn func(s *state) error) error
}

type storeAccess struct{ store *Store }

func (a storeAccess) read(fn func(s *state) error) error {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	return fn(a.store.state)
}

func (a storeAccess) write(fn func(s *state) error) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	return fn(a.store.state)
}

type txAccess struct{ st *state }

func (a txAccess) read(fn func(s *state) error) error  { return fn(a.st) }
func (a txAccess) write(fn func(s *state) error) error { return fn(a.st) }

type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{state: newState(), now: time.Now}
}

func (s *Store) repositories(a access) repository.Repositories {
	return repository.Repositories{
		Titles:  &titleRepository{a: a, now: s.now},
		Copies:  &copyRepository{a: a, now: s.now},
		Loans:   &loanRepository{a: a, now: s.now},
		Patrons: &patronRepository{a: a, now: s.now},
		Audit:   &auditRepository{a: a},
		Catalog: &catalogRepository{a: a},
	}
}

func (s *Store) Repos() repository.Repositories {
	return s.repositories(storeAccess{store: s})
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, s.repositories(txAccess{st: work})); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Close() error { return nil }
