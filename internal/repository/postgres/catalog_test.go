package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"library-circulation-backend/internal/repository"
	"library-circulation-backend/internal/repository/postgres"
)

var summaryColumns = []string{"id", "name", "author", "total", "available", "loaned", "lost", "representative_copy_id", "last_registered_on"}

func TestCatalogRepository_ListTitleSummaries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewCatalogRepository(db)
	ctx := context.Background()

	t.Run("FilteredByQuery", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(SELECT .*ILIKE '%hobbit%'.*\) AS "sub"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`SELECT .*FILTER \(WHERE c.state = 'in_library'\).*l.state IN \('pending', 'approved', 'in_progress', 'overdue'\).*ILIKE '%hobbit%'.*GROUP BY .*ORDER BY "t"."name" ASC.*LIMIT 10`).
			WillReturnRows(sqlmock.NewRows(summaryColumns).AddRow(1, "The Hobbit", "Tolkien", 3, 1, 1, 1, 4, time.Now()))

		items, count, err := repo.ListTitleSummaries(ctx, repository.CatalogFilter{
			Query:    "hobbit",
			Order:    repository.CatalogOrderTitle,
			Page:     1,
			PageSize: 10,
		})
		assert.NoError(t, err)
		assert.Equal(t, int32(1), count)
		if assert.Len(t, items, 1) {
			s := items[0]
			assert.Equal(t, "The Hobbit", s.Name)
			assert.Equal(t, int32(4), s.RepresentativeCopyID)
			assert.Equal(t, s.Stock.Total, s.Stock.Available+s.Stock.Loaned+s.Stock.Lost)
		}
	})

	t.Run("DefaultOrderNewestFirst", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(SELECT`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`ORDER BY "last_registered_on" DESC, "t"."id" DESC`).
			WillReturnRows(sqlmock.NewRows(summaryColumns))

		items, count, err := repo.ListTitleSummaries(ctx, repository.CatalogFilter{Page: 1, PageSize: 20})
		assert.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, items)
	})

	t.Run("CategoryFilterSelectsTitles", func(t *testing.T) {
		mock.ExpectQuery(`EXISTS \(SELECT 1 FROM "copies" AS "fc" WHERE .*"fc"."category_id" = 5`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`EXISTS \(SELECT 1 FROM "copies" AS "fc" WHERE .*"fc"."category_id" = 5`).
			WillReturnRows(sqlmock.NewRows(summaryColumns))

		_, _, err := repo.ListTitleSummaries(ctx, repository.CatalogFilter{CategoryID: 5, Page: 1, PageSize: 20})
		assert.NoError(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
