package categories

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
)

// Service owns category CRUD with a read-through cache in front of listings.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService constructs the category service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

type listPayload struct {
	Categories []Category `json:"categories"`
	Total      int        `json:"total"`
}

// List serves from the cache when possible; cache failures degrade to the
// database rather than failing the request.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Category, int, error) {
	key, err := s.cache.BuildKey(ctx, "categories", "list",
		filters.Search, filters.SortBy, filters.SortDir,
		strconv.Itoa(filters.Page), strconv.Itoa(filters.Limit))
	if err != nil {
		s.logger.Warn("category cache key", slog.Any("error", err))
		return s.repo.List(ctx, filters)
	}

	var payload listPayload
	err = s.cache.FetchJSON(ctx, key, &payload, func(ctx context.Context) (any, error) {
		rows, total, err := s.repo.List(ctx, filters)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []Category{}
		}
		return listPayload{Categories: rows, Total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return payload.Categories, payload.Total, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Category, error) {
	if id <= 0 {
		return Category{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, category Category) (Category, error) {
	if err := validate(category); err != nil {
		return Category{}, err
	}
	created, err := s.repo.Create(ctx, category)
	if err != nil {
		return Category{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, category Category) error {
	if id <= 0 {
		return ErrNotFound
	}
	if err := validate(category); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, id, category); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("category cache bump", slog.Any("error", err))
	}
}

func validate(category Category) error {
	if category.Code == "" {
		return errors.New("categories: code required")
	}
	if category.Name == "" {
		return errors.New("categories: name required")
	}
	return nil
}
