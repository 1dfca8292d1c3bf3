package postgres

import (
	"context"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

const loanColumns = `id, title_id, copy_id, patron_id, origin, mode, state,
	borrower_name, borrower_national_id, borrower_birth_date, borrower_age, borrower_phone, borrower_address,
	issued_by, approved_by, received_by, start_date, end_date, total_days,
	returned_on, approved_on, rejected_on, rejection_reason, days_overdue, notes, created_on, updated_on`

type loanRepository struct {
	db DBTX
}

func NewLoanRepository(db DBTX) repository.LoanRepository {
	return &loanRepository{db: db}
}

func scanLoan(row scanner) (*domain.Loan, error) {
	l := &domain.Loan{}
	b := &l.Borrower
	err := row.Scan(&l.ID, &l.TitleID, &l.CopyID, &l.PatronID, &l.Origin, &l.Mode, &l.State,
		&b.Name, &b.NationalID, &b.BirthDate, &b.Age, &b.Phone, &b.Address,
		&l.IssuedBy, &l.ApprovedBy, &l.ReceivedBy, &l.StartDate, &l.EndDate, &l.TotalDays,
		&l.ReturnedOn, &l.ApprovedOn, &l.RejectedOn, &l.RejectionReason, &l.DaysOverdue, &l.Notes, &l.CreatedOn, &l.UpdatedOn)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *loanRepository) list(ctx context.Context, query string, args ...any) ([]domain.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}

func (r *loanRepository) Create(ctx context.Context, l *domain.Loan) error {
	b := l.Borrower
	now := time.Now()
	query := `INSERT INTO loans (title_id, copy_id, patron_id, origin, mode, state,
	              borrower_name, borrower_national_id, borrower_birth_date, borrower_age, borrower_phone, borrower_address,
	              issued_by, start_date, end_date, total_days, notes, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
	          RETURNING id, created_on, updated_on`
	err := r.db.QueryRowContext(ctx, query, l.TitleID, l.CopyID, l.PatronID, l.Origin, l.Mode, l.State,
		b.Name, b.NationalID, b.BirthDate, b.Age, b.Phone, b.Address,
		l.IssuedBy, l.StartDate, l.EndDate, l.TotalDays, l.Notes, now).
		Scan(&l.ID, &l.CreatedOn, &l.UpdatedOn)
	return mapError(err, "loan", l.CopyID)
}

func (r *loanRepository) GetByID(ctx context.Context, id int32) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	l, err := scanLoan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "loan", id)
	}
	return l, nil
}

func (r *loanRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`
	l, err := scanLoan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "loan", id)
	}
	return l, nil
}

func (r *loanRepository) Update(ctx context.Context, l *domain.Loan) error {
	query := `UPDATE loans SET copy_id = $1, state = $2, approved_by = $3, received_by = $4,
	              returned_on = $5, approved_on = $6, rejected_on = $7, rejection_reason = $8,
	              days_overdue = $9, notes = $10, updated_on = $11
	          WHERE id = $12`
	now := time.Now()
	res, err := r.db.ExecContext(ctx, query, l.CopyID, l.State, l.ApprovedBy, l.ReceivedBy,
		l.ReturnedOn, l.ApprovedOn, l.RejectedOn, l.RejectionReason,
		l.DaysOverdue, l.Notes, now, l.ID)
	if err != nil {
		return mapError(err, "loan", l.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("loan", l.ID)
	}
	l.UpdatedOn = now
	return nil
}

func (r *loanRepository) ListOpenByTitle(ctx context.Context, titleID int32) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE title_id = $1 AND state = ANY($2) ORDER BY end_date, id`
	return r.list(ctx, query, titleID, stateStrings(domain.OpenLoanStates))
}

func (r *loanRepository) ListOpenByCopy(ctx context.Context, copyID int32) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE copy_id = $1 AND state = ANY($2) ORDER BY id`
	return r.list(ctx, query, copyID, stateStrings(domain.OpenLoanStates))
}

func (r *loanRepository) ListOpenByPatron(ctx context.Context, patronID int32) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE patron_id = $1 AND state = ANY($2) ORDER BY id`
	return r.list(ctx, query, patronID, stateStrings(domain.OpenLoanStates))
}

func (r *loanRepository) ListByPatron(ctx context.Context, patronID int32, page, pageSize int32) ([]domain.Loan, int32, error) {
	var count int32
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM loans WHERE patron_id = $1`, patronID).Scan(&count); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + loanColumns + ` FROM loans WHERE patron_id = $1 ORDER BY created_on DESC, id DESC LIMIT $2 OFFSET $3`
	loans, err := r.list(ctx, query, patronID, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, 0, err
	}
	return loans, count, nil
}

func (r *loanRepository) ListByState(ctx context.Context, state domain.LoanState, page, pageSize int32) ([]domain.Loan, int32, error) {
	var count int32
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM loans WHERE state = $1`, state).Scan(&count); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + loanColumns + ` FROM loans WHERE state = $1 ORDER BY end_date, id LIMIT $2 OFFSET $3`
	loans, err := r.list(ctx, query, state, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, 0, err
	}
	return loans, count, nil
}

func (r *loanRepository) ListDue(ctx context.Context, before time.Time) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE state = $1 AND end_date < $2 ORDER BY end_date, id`
	return r.list(ctx, query, domain.LoanStateInProgress, before)
}
