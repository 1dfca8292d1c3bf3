package postgres

import (
	"context"
	"fmt"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/repository"
)

const copyColumns = `id, inventory_code, title_id, category_id, collection_id, condition, location_id, state, version, created_on, updated_on`

type copyRepository struct {
	db DBTX
}

func NewCopyRepository(db DBTX) repository.CopyRepository {
	return &copyRepository{db: db}
}

func scanCopy(row scanner) (*domain.Copy, error) {
	c := &domain.Copy{}
	err := row.Scan(&c.ID, &c.InventoryCode, &c.TitleID, &c.CategoryID, &c.CollectionID, &c.Condition, &c.LocationID, &c.State, &c.Version, &c.CreatedOn, &c.UpdatedOn)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *copyRepository) Create(ctx context.Context, c *domain.Copy) error {
	query := `INSERT INTO copies (inventory_code, title_id, category_id, collection_id, condition, location_id, state, version, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8) RETURNING id, created_on, updated_on`
	err := r.db.QueryRowContext(ctx, query, c.InventoryCode, c.TitleID, c.CategoryID, c.CollectionID, c.Condition, c.LocationID, c.State, time.Now()).
		Scan(&c.ID, &c.CreatedOn, &c.UpdatedOn)
	return mapError(err, "copy", c.InventoryCode)
}

func (r *copyRepository) GetByID(ctx context.Context, id int32) (*domain.Copy, error) {
	query := `SELECT ` + copyColumns + ` FROM copies WHERE id = $1`
	c, err := scanCopy(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "copy", id)
	}
	return c, nil
}

func (r *copyRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Copy, error) {
	query := `SELECT ` + copyColumns + ` FROM copies WHERE id = $1 FOR UPDATE`
	c, err := scanCopy(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "copy", id)
	}
	return c, nil
}

func (r *copyRepository) ListByTitle(ctx context.Context, titleID int32) ([]domain.Copy, error) {
	query := `SELECT ` + copyColumns + ` FROM copies WHERE title_id = $1 ORDER BY inventory_code`
	rows, err := r.db.QueryContext(ctx, query, titleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var copies []domain.Copy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, err
		}
		copies = append(copies, *c)
	}
	return copies, rows.Err()
}

func (r *copyRepository) UpdateState(ctx context.Context, c *domain.Copy, to domain.CopyState) error {
	location := c.LocationID
	if to == domain.CopyStateCommunityDiscard {
		location = nil
	}
	now := time.Now()
	query := `UPDATE copies SET state = $1, location_id = $2, version = version + 1, updated_on = $3
	          WHERE id = $4 AND state = $5 AND version = $6`
	logger.DatabaseCall("copy.UpdateState", query, "copy_id", c.ID, "from", c.State, "to", to)
	res, err := r.db.ExecContext(ctx, query, to, location, now, c.ID, c.State, c.Version)
	if err != nil {
		logger.DatabaseResult("copy.UpdateState", 0, err)
		return err
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("copy.UpdateState", n, err)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("copy %d changed concurrently (expected %s v%d): %w", c.ID, c.State, c.Version, domain.ErrConsistency)
	}
	c.State = to
	c.LocationID = location
	c.Version++
	c.UpdatedOn = now
	return nil
}

func (r *copyRepository) UpdateDetails(ctx context.Context, c *domain.Copy) error {
	query := `UPDATE copies SET category_id = $1, collection_id = $2, condition = $3, location_id = $4, updated_on = $5 WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query, c.CategoryID, c.CollectionID, c.Condition, c.LocationID, time.Now(), c.ID)
	if err != nil {
		return mapError(err, "copy", c.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("copy", c.ID)
	}
	return nil
}

func (r *copyRepository) Delete(ctx context.Context, id int32) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM copies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("copy", id)
	}
	return nil
}
