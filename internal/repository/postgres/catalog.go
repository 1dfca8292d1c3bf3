package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/repository"
)

const dialectPostgres = "postgres"

type catalogRepository struct {
	db DBTX
}

func NewCatalogRepository(db DBTX) repository.CatalogRepository {
	return &catalogRepository{db: db}
}

// buildSummaryQuery groups copies by title. Discarded copies count towards
// no bucket. The representative copy is the first free copy by inventory
// code (shelved with no open loan), or the lowest-id copy when none is free.
// Category and collection filters select titles; stock always counts every
// copy of a selected title.
func buildSummaryQuery(filter repository.CatalogFilter) *goqu.SelectDataset {
	ds := goqu.Dialect(dialectPostgres).
		From(goqu.T("titles").As("t")).
		Join(goqu.T("copies").As("c"), goqu.On(goqu.I("c.title_id").Eq(goqu.I("t.id")))).
		Select(
			goqu.I("t.id"),
			goqu.I("t.name"),
			goqu.I("t.author"),
			goqu.L(`COUNT(c.id) FILTER (WHERE c.state <> ?)`, string(domain.CopyStateCommunityDiscard)).As("total"),
			goqu.L(`COUNT(c.id) FILTER (WHERE c.state = ?)`, string(domain.CopyStateInLibrary)).As("available"),
			goqu.L(`COUNT(c.id) FILTER (WHERE c.state = ?)`, string(domain.CopyStateLoaned)).As("loaned"),
			goqu.L(`COUNT(c.id) FILTER (WHERE c.state = ?)`, string(domain.CopyStateLost)).As("lost"),
			goqu.L(`COALESCE((ARRAY_AGG(c.id ORDER BY c.inventory_code) FILTER (WHERE c.state = ? AND NOT EXISTS (SELECT 1 FROM loans l WHERE l.copy_id = c.id AND l.state IN ?)))[1], MIN(c.id))`,
				string(domain.CopyStateInLibrary), []string(stateStrings(domain.OpenLoanStates))).As("representative_copy_id"),
			goqu.MAX("c.created_on").As("last_registered_on"),
		).
		GroupBy(goqu.I("t.id"), goqu.I("t.name"), goqu.I("t.author"))

	var where []exp.Expression
	if filter.Query != "" {
		pattern := "%" + filter.Query + "%"
		where = append(where, goqu.Or(
			goqu.I("t.name").ILike(pattern),
			goqu.I("t.author").ILike(pattern),
		))
	}
	if filter.CategoryID > 0 || filter.CollectionID > 0 {
		match := []exp.Expression{goqu.I("fc.title_id").Eq(goqu.I("t.id"))}
		if filter.CategoryID > 0 {
			match = append(match, goqu.I("fc.category_id").Eq(filter.CategoryID))
		}
		if filter.CollectionID > 0 {
			match = append(match, goqu.I("fc.collection_id").Eq(filter.CollectionID))
		}
		where = append(where, goqu.L("EXISTS ?", goqu.Dialect(dialectPostgres).From(goqu.T("copies").As("fc")).
			Select(goqu.L("1")).
			Where(match...)))
	}
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	return ds
}

func orderFor(order repository.CatalogOrder) []exp.OrderedExpression {
	switch order {
	case repository.CatalogOrderTitle:
		return []exp.OrderedExpression{goqu.I("t.name").Asc(), goqu.I("t.id").Asc()}
	case repository.CatalogOrderAuthor:
		return []exp.OrderedExpression{goqu.I("t.author").Asc(), goqu.I("t.name").Asc(), goqu.I("t.id").Asc()}
	case repository.CatalogOrderAvailable:
		return []exp.OrderedExpression{goqu.I("available").Desc(), goqu.I("t.name").Asc(), goqu.I("t.id").Asc()}
	default:
		return []exp.OrderedExpression{goqu.I("last_registered_on").Desc(), goqu.I("t.id").Desc()}
	}
}

func (r *catalogRepository) ListTitleSummaries(ctx context.Context, filter repository.CatalogFilter) ([]domain.TitleSummary, int32, error) {
	base := buildSummaryQuery(filter)

	countSQL, _, err := goqu.Dialect(dialectPostgres).
		From(base.As("sub")).
		Select(goqu.COUNT(goqu.Star())).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build catalog count query: %w", err)
	}

	var count int32
	logger.DatabaseCall("catalog.Count", countSQL)
	if err := r.db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		logger.DatabaseResult("catalog.Count", 0, err)
		return nil, 0, err
	}

	listSQL, _, err := base.
		Order(orderFor(filter.Order)...).
		Limit(uint(filter.PageSize)).
		Offset(uint(pageOffset(filter.Page, filter.PageSize))).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build catalog query: %w", err)
	}

	logger.DatabaseCall("catalog.List", listSQL)
	rows, err := r.db.QueryContext(ctx, listSQL)
	if err != nil {
		logger.DatabaseResult("catalog.List", 0, err)
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.TitleSummary
	for rows.Next() {
		var s domain.TitleSummary
		if err := rows.Scan(&s.TitleID, &s.Name, &s.Author,
			&s.Stock.Total, &s.Stock.Available, &s.Stock.Loaned, &s.Stock.Lost,
			&s.RepresentativeCopyID, &s.LastRegisteredOn); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	logger.DatabaseResult("catalog.List", int64(len(out)), nil)
	return out, count, nil
}
