package postgres

import (
	"context"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

const patronColumns = `id, national_id, email, name, birth_date, phone, address, active, sanctioned, sanction_expiry, sanction_reason, created_on, updated_on`

type patronRepository struct {
	db DBTX
}

func NewPatronRepository(db DBTX) repository.PatronRepository {
	return &patronRepository{db: db}
}

func scanPatron(row scanner) (*domain.Patron, error) {
	p := &domain.Patron{}
	err := row.Scan(&p.ID, &p.NationalID, &p.Email, &p.Name, &p.BirthDate, &p.Phone, &p.Address, &p.Active,
		&p.Sanctioned, &p.SanctionExpiry, &p.SanctionReason, &p.CreatedOn, &p.UpdatedOn)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *patronRepository) Create(ctx context.Context, p *domain.Patron) error {
	query := `INSERT INTO patrons (national_id, email, name, birth_date, phone, address, active, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id, created_on, updated_on`
	err := r.db.QueryRowContext(ctx, query, p.NationalID, p.Email, p.Name, p.BirthDate, p.Phone, p.Address, p.Active, time.Now()).
		Scan(&p.ID, &p.CreatedOn, &p.UpdatedOn)
	return mapError(err, "patron", p.Email)
}

func (r *patronRepository) GetByID(ctx context.Context, id int32) (*domain.Patron, error) {
	query := `SELECT ` + patronColumns + ` FROM patrons WHERE id = $1`
	p, err := scanPatron(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "patron", id)
	}
	return p, nil
}

func (r *patronRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Patron, error) {
	query := `SELECT ` + patronColumns + ` FROM patrons WHERE id = $1 FOR UPDATE`
	p, err := scanPatron(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "patron", id)
	}
	return p, nil
}

func (r *patronRepository) Update(ctx context.Context, p *domain.Patron) error {
	query := `UPDATE patrons SET email = $1, name = $2, phone = $3, address = $4, active = $5,
	              sanctioned = $6, sanction_expiry = $7, sanction_reason = $8, updated_on = $9
	          WHERE id = $10`
	now := time.Now()
	res, err := r.db.ExecContext(ctx, query, p.Email, p.Name, p.Phone, p.Address, p.Active,
		p.Sanctioned, p.SanctionExpiry, p.SanctionReason, now, p.ID)
	if err != nil {
		return mapError(err, "patron", p.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("patron", p.ID)
	}
	p.UpdatedOn = now
	return nil
}
