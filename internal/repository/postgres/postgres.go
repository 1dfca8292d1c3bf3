package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every repository runs
// unchanged inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Store struct {
	db *sql.DB
	repository.TitleRepository
	repository.CopyRepository
	repository.LoanRepository
	repository.PatronRepository
	repository.AuditRepository
	repository.CatalogRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                db,
		TitleRepository:   NewTitleRepository(db),
		CopyRepository:    NewCopyRepository(db),
		LoanRepository:    NewLoanRepository(db),
		PatronRepository:  NewPatronRepository(db),
		AuditRepository:   NewAuditRepository(db),
		CatalogRepository: NewCatalogRepository(db),
	}
}

func newRepositories(q DBTX) repository.Repositories {
	return repository.Repositories{
		Titles:  NewTitleRepository(q),
		Copies:  NewCopyRepository(q),
		Loans:   NewLoanRepository(q),
		Patrons: NewPatronRepository(q),
		Audit:   NewAuditRepository(q),
		Catalog: NewCatalogRepository(q),
	}
}

// Repos returns auto-committing repositories backed by the pool.
func (s *Store) Repos() repository.Repositories {
	return repository.Repositories{
		Titles:  s.TitleRepository,
		Copies:  s.CopyRepository,
		Loans:   s.LoanRepository,
		Patrons: s.PatronRepository,
		Audit:   s.AuditRepository,
		Catalog: s.CatalogRepository,
	}
}

// WithinTx starts a READ COMMITTED transaction and hands fn repositories bound
// to it. Row locks taken with GetForUpdate serialize concurrent writers on
// the same copy, loan or patron. fn returning nil commits; anything else
// rolls back.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, newRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	logger.DatabaseCall("migrate", "schema.sql")
	_, err := s.db.ExecContext(ctx, schemaSQL)
	logger.DatabaseResult("migrate", 0, err)
	return err
}

const uniqueViolation = "23505"

// mapError translates driver errors into domain errors.
func mapError(err error, entity string, id any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(entity, id)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", entity, domain.ErrConflict, pqErr.Constraint)
	}
	return err
}

func stateStrings[S ~string](states []S) pq.StringArray {
	out := make(pq.StringArray, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func pageOffset(page, pageSize int32) int32 {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
