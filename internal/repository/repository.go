package repository

import (
	"context"
	"time"

	"library-circulation-backend/internal/domain"
)

type TitleRepository interface {
	Create(ctx context.Context, title *domain.Title) error
	GetByID(ctx context.Context, id int32) (*domain.Title, error)
	GetByKey(ctx context.Context, key string) (*domain.Title, error)
}

type CopyRepository interface {
	Create(ctx context.Context, c *domain.Copy) error
	GetByID(ctx context.Context, id int32) (*domain.Copy, error)
	// GetForUpdate reads the copy and holds a row lock on it until the
	// surrounding unit of work ends.
	GetForUpdate(ctx context.Context, id int32) (*domain.Copy, error)
	ListByTitle(ctx context.Context, titleID int32) ([]domain.Copy, error)
	// UpdateState is a compare-and-swap on (state, version). It returns
	// domain.ErrConsistency when the stored copy no longer matches.
	UpdateState(ctx context.Context, c *domain.Copy, to domain.CopyState) error
	UpdateDetails(ctx context.Context, c *domain.Copy) error
	Delete(ctx context.Context, id int32) error
}

type LoanRepository interface {
	Create(ctx context.Context, loan *domain.Loan) error
	GetByID(ctx context.Context, id int32) (*domain.Loan, error)
	GetForUpdate(ctx context.Context, id int32) (*domain.Loan, error)
	Update(ctx context.Context, loan *domain.Loan) error
	ListOpenByTitle(ctx context.Context, titleID int32) ([]domain.Loan, error)
	ListOpenByCopy(ctx context.Context, copyID int32) ([]domain.Loan, error)
	ListOpenByPatron(ctx context.Context, patronID int32) ([]domain.Loan, error)
	ListByPatron(ctx context.Context, patronID int32, page, pageSize int32) ([]domain.Loan, int32, error)
	ListByState(ctx context.Context, state domain.LoanState, page, pageSize int32) ([]domain.Loan, int32, error)
	// ListDue returns in-progress loans whose end date is before the given day.
	ListDue(ctx context.Context, before time.Time) ([]domain.Loan, error)
}

type PatronRepository interface {
	Create(ctx context.Context, p *domain.Patron) error
	GetByID(ctx context.Context, id int32) (*domain.Patron, error)
	GetForUpdate(ctx context.Context, id int32) (*domain.Patron, error)
	Update(ctx context.Context, p *domain.Patron) error
}

type AuditRepository interface {
	Append(ctx context.Context, event *domain.AuditEvent) error
	ListByEntity(ctx context.Context, entity domain.AuditEntity, entityID int32) ([]domain.AuditEvent, error)
}

// CatalogOrder selects the ordering of the title listing.
type CatalogOrder string

const (
	CatalogOrderNewest    CatalogOrder = "newest"
	CatalogOrderTitle     CatalogOrder = "title"
	CatalogOrderAuthor    CatalogOrder = "author"
	CatalogOrderAvailable CatalogOrder = "available"
)

type CatalogFilter struct {
	Query        string
	CategoryID   int32
	CollectionID int32
	Order        CatalogOrder
	Page         int32
	PageSize     int32
}

// CatalogRepository is the read model over copies grouped by title.
type CatalogRepository interface {
	ListTitleSummaries(ctx context.Context, filter CatalogFilter) ([]domain.TitleSummary, int32, error)
}

// Repositories are the repositories bound to one unit of work.
type Repositories struct {
	Titles  TitleRepository
	Copies  CopyRepository
	Loans   LoanRepository
	Patrons PatronRepository
	Audit   AuditRepository
	Catalog CatalogRepository
}

// Transactor runs fn as one atomic unit: every write made through the
// Repositories it receives commits together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Store is a persistence backend: auto-committing repositories for reads
// plus a Transactor for guarded writes.
type Store interface {
	Transactor
	Repos() Repositories
	Close() error
}
