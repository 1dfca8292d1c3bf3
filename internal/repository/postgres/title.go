package postgres

import (
	"context"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

type titleRepository struct {
	db DBTX
}

func NewTitleRepository(db DBTX) repository.TitleRepository {
	return &titleRepository{db: db}
}

func (r *titleRepository) Create(ctx context.Context, t *domain.Title) error {
	query := `INSERT INTO titles (name, author, title_key, created_on) VALUES ($1, $2, $3, $4) RETURNING id, created_on`
	err := r.db.QueryRowContext(ctx, query, t.Name, t.Author, t.Key, time.Now()).Scan(&t.ID, &t.CreatedOn)
	return mapError(err, "title", t.Key)
}

func (r *titleRepository) GetByID(ctx context.Context, id int32) (*domain.Title, error) {
	t := &domain.Title{}
	query := `SELECT id, name, author, title_key, created_on FROM titles WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.Author, &t.Key, &t.CreatedOn)
	if err != nil {
		return nil, mapError(err, "title", id)
	}
	return t, nil
}

func (r *titleRepository) GetByKey(ctx context.Context, key string) (*domain.Title, error) {
	t := &domain.Title{}
	query := `SELECT id, name, author, title_key, created_on FROM titles WHERE title_key = $1`
	err := r.db.QueryRowContext(ctx, query, key).Scan(&t.ID, &t.Name, &t.Author, &t.Key, &t.CreatedOn)
	if err != nil {
		return nil, mapError(err, "title", key)
	}
	return t, nil
}
