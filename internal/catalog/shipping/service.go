package shipping

import (
	"context"
	"errors"
)

// Service owns shipping-area CRUD.
type Service struct {
	repo Repository
}

// NewService constructs the shipping service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context) ([]Area, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Area, error) {
	if id <= 0 {
		return Area{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, area Area) (Area, error) {
	if err := validate(area); err != nil {
		return Area{}, err
	}
	return s.repo.Create(ctx, area)
}

func (s *Service) Update(ctx context.Context, id int64, area Area) error {
	if id <= 0 {
		return ErrNotFound
	}
	if err := validate(area); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, area)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, id)
}

func validate(area Area) error {
	if area.Name == "" {
		return errors.New("shipping: name required")
	}
	if area.Cost < 0 {
		return errors.New("shipping: cost cannot be negative")
	}
	return nil
}
