package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"scrap-pickup-api/models"
)

// ScrapTypePatch is a partial scrap type.
type ScrapTypePatch struct {
	Name        *string  `json:"name"`
	PricePerKg  *float64 `json:"pricePerKg"`
	Category    *string  `json:"category"`
	Description *string  `json:"description"`
}

var defaultScrapTypes = []models.ScrapType{
	{Name: "Paper", PricePerKg: 12, Category: "Paper", Description: "Newspapers, books and cardboard"},
	{Name: "Plastic", PricePerKg: 10, Category: "Plastic", Description: "Bottles, containers and packaging"},
	{Name: "Iron", PricePerKg: 28, Category: "Metal", Description: "Iron and steel scrap"},
	{Name: "Copper", PricePerKg: 420, Category: "Metal", Description: "Wires, pipes and fittings"},
	{Name: "Aluminium", PricePerKg: 110, Category: "Metal", Description: "Cans, utensils and frames"},
	{Name: "Electronics", PricePerKg: 35, Category: "E-waste", Description: "Phones, computers and small appliances"},
}

func (s *Service) ListScrapTypes(ctx context.Context) ([]models.ScrapType, error) {
	return s.store.ScrapTypes.List(ctx, nil)
}

func (s *Service) CreateScrapType(ctx context.Context, st models.ScrapType) (models.ScrapType, error) {
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return models.ScrapType{}, fmt.Errorf("%w: scrap type name is required", models.ErrInvalidInput)
	}
	if st.PricePerKg < 0 {
		return models.ScrapType{}, fmt.Errorf("%w: pricePerKg cannot be negative", models.ErrInvalidInput)
	}
	st.ID = 0
	return s.store.ScrapTypes.Add(ctx, st)
}

func (s *Service) UpdateScrapType(ctx context.Context, id models.ID, patch ScrapTypePatch) (models.ScrapType, error) {
	return s.store.ScrapTypes.Update(ctx, id, func(st *models.ScrapType) error {
		if patch.Name != nil {
			if strings.TrimSpace(*patch.Name) == "" {
				return fmt.Errorf("%w: scrap type name cannot be empty", models.ErrInvalidInput)
			}
			st.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.PricePerKg != nil {
			if *patch.PricePerKg < 0 {
				return fmt.Errorf("%w: pricePerKg cannot be negative", models.ErrInvalidInput)
			}
			st.PricePerKg = *patch.PricePerKg
		}
		if patch.Category != nil {
			st.Category = *patch.Category
		}
		if patch.Description != nil {
			st.Description = *patch.Description
		}
		return nil
	})
}

func (s *Service) DeleteScrapType(ctx context.Context, id models.ID) error {
	return s.store.ScrapTypes.Delete(ctx, id)
}

// SeedDefaults writes the default price list when the collection is empty.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	existing, err := s.store.ScrapTypes.List(ctx, nil)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, st := range defaultScrapTypes {
		if _, err := s.store.ScrapTypes.Add(ctx, st); err != nil {
			return i, err
		}
	}
	s.log.Info("seeded default scrap types", zap.Int("count", len(defaultScrapTypes)))
	return len(defaultScrapTypes), nil
}
