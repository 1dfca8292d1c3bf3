package service

import (
	"context"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, pageSize int32) (int32, int32) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

type catalogService struct {
	store repository.Store
}

func NewCatalogService(store repository.Store) CatalogService {
	return &catalogService{store: store}
}

func (s *catalogService) ListTitles(ctx context.Context, filter repository.CatalogFilter) ([]domain.TitleSummary, int32, error) {
	switch filter.Order {
	case "":
		filter.Order = repository.CatalogOrderNewest
	case repository.CatalogOrderNewest, repository.CatalogOrderTitle, repository.CatalogOrderAuthor, repository.CatalogOrderAvailable:
	default:
		return nil, 0, domain.NewInvalidArgument("unknown order " + string(filter.Order))
	}
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)

	items, count, err := s.store.Repos().Catalog.ListTitleSummaries(ctx, filter)
	if err != nil {
		logger.Error("Failed to list titles", "error", err)
		return nil, 0, err
	}
	return items, count, nil
}

func (s *catalogService) GetTitle(ctx context.Context, titleID int32) (*domain.Title, error) {
	return s.store.Repos().Titles.GetByID(ctx, titleID)
}

func (s *catalogService) CopiesOf(ctx context.Context, titleID int32) ([]domain.CopyWithLoan, error) {
	copies, _, err := copiesOf(ctx, s.store.Repos(), titleID)
	return copies, err
}

func (s *catalogService) StockOf(ctx context.Context, titleID int32) (domain.Stock, error) {
	copies, _, err := copiesOf(ctx, s.store.Repos(), titleID)
	if err != nil {
		return domain.Stock{}, err
	}
	return stockOf(copies), nil
}

func (s *catalogService) NextAvailableCopy(ctx context.Context, titleID int32) (*domain.Copy, error) {
	copies, _, err := copiesOf(ctx, s.store.Repos(), titleID)
	if err != nil {
		return nil, err
	}
	return domain.NextAvailableCopy(copies), nil
}

// copiesOf lists a title's copies in catalog order, each with the summary of
// its open loan, together with the title's open loans.
func copiesOf(ctx context.Context, repos repository.Repositories, titleID int32) ([]domain.CopyWithLoan, []domain.Loan, error) {
	if _, err := repos.Titles.GetByID(ctx, titleID); err != nil {
		return nil, nil, err
	}
	copies, err := repos.Copies.ListByTitle(ctx, titleID)
	if err != nil {
		return nil, nil, err
	}
	open, err := repos.Loans.ListOpenByTitle(ctx, titleID)
	if err != nil {
		return nil, nil, err
	}

	byCopy := make(map[int32]*domain.LoanSummary, len(open))
	for i := range open {
		if open[i].CopyID != nil {
			byCopy[*open[i].CopyID] = open[i].Summary()
		}
	}
	out := make([]domain.CopyWithLoan, len(copies))
	for i := range copies {
		out[i] = domain.CopyWithLoan{Copy: copies[i], ActiveLoan: byCopy[copies[i].ID]}
	}
	domain.SortCopies(out)
	return out, open, nil
}

func stockOf(copies []domain.CopyWithLoan) domain.Stock {
	plain := make([]domain.Copy, len(copies))
	for i := range copies {
		plain[i] = copies[i].Copy
	}
	return domain.StockOf(plain)
}

type availabilityService struct {
	store repository.Store
	clock Clock
}

func NewAvailabilityService(store repository.Store, clock Clock) AvailabilityService {
	return &availabilityService{store: store, clock: clock}
}

func (s *availabilityService) EstimatedAvailability(ctx context.Context, titleID int32) (*time.Time, error) {
	return estimateAvailability(ctx, s.store.Repos(), titleID, s.clock.Now())
}

func estimateAvailability(ctx context.Context, repos repository.Repositories, titleID int32, now time.Time) (*time.Time, error) {
	copies, open, err := copiesOf(ctx, repos, titleID)
	if err != nil {
		return nil, err
	}
	return domain.EstimateAvailability(stockOf(copies), open, now), nil
}
