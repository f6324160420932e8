// Package catalog manages dealers and the scrap type price list.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"scrap-pickup-api/metrics"
	"scrap-pickup-api/models"
	"scrap-pickup-api/statemachine"
	"scrap-pickup-api/store"
)

// DealerUsers keeps user accounts in step with dealer records.
type DealerUsers interface {
	EnsureDealerUser(ctx context.Context, dealer models.Dealer) (created, updated bool, err error)
	DowngradeDealerUsers(ctx context.Context, dealerID models.ID) (int, error)
}

type Service struct {
	store *store.Store
	users DealerUsers
	log   *zap.Logger
}

func NewService(st *store.Store, users DealerUsers, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, users: users, log: log}
}

// DealerPatch is a partial dealer. Nil fields are left untouched.
type DealerPatch struct {
	Name          *string       `json:"name"`
	Phone         *models.Phone `json:"phone"`
	Email         *string       `json:"email"`
	ServiceAreas  []string      `json:"serviceAreas"`
	Specialties   []string      `json:"specialties"`
	Rating        *float64      `json:"rating"`
	CompletedJobs *int          `json:"completedJobs"`
	Active        *bool         `json:"active"`
}

func (s *Service) ListDealers(ctx context.Context) ([]models.Dealer, error) {
	return s.store.Dealers.List(ctx, nil)
}

func (s *Service) GetDealer(ctx context.Context, id models.ID) (models.Dealer, error) {
	return s.store.Dealers.Get(ctx, id)
}

// CreateDealer adds a dealer and its dealer-role user. A second dealer with
// the same phone is a conflict.
func (s *Service) CreateDealer(ctx context.Context, d models.Dealer) (models.Dealer, error) {
	phone, err := models.NormalizePhone(string(d.Phone))
	if err != nil {
		return models.Dealer{}, err
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return models.Dealer{}, fmt.Errorf("%w: dealer name is required", models.ErrInvalidInput)
	}
	if err := s.checkPhoneFree(ctx, phone, 0); err != nil {
		return models.Dealer{}, err
	}

	d.ID = 0
	d.Phone = models.Phone(phone)
	if d.ServiceAreas == nil {
		d.ServiceAreas = []string{}
	}
	if d.Specialties == nil {
		d.Specialties = []string{}
	}
	created, err := s.store.Dealers.Add(ctx, d)
	if err != nil {
		return models.Dealer{}, err
	}
	s.syncUser(ctx, created)
	return created, nil
}

// UpdateDealer merges patch into dealer id.
func (s *Service) UpdateDealer(ctx context.Context, id models.ID, patch DealerPatch) (models.Dealer, error) {
	var phone string
	if patch.Phone != nil {
		var err error
		phone, err = patch.Phone.Normalized()
		if err != nil {
			return models.Dealer{}, err
		}
		if err := s.checkPhoneFree(ctx, phone, id); err != nil {
			return models.Dealer{}, err
		}
	}

	updated, err := s.store.Dealers.Update(ctx, id, func(d *models.Dealer) error {
		if patch.Name != nil {
			if strings.TrimSpace(*patch.Name) == "" {
				return fmt.Errorf("%w: dealer name cannot be empty", models.ErrInvalidInput)
			}
			d.Name = strings.TrimSpace(*patch.Name)
		}
		if phone != "" {
			d.Phone = models.Phone(phone)
		}
		if patch.Email != nil {
			d.Email = *patch.Email
		}
		if patch.ServiceAreas != nil {
			d.ServiceAreas = patch.ServiceAreas
		}
		if patch.Specialties != nil {
			d.Specialties = patch.Specialties
		}
		if patch.Rating != nil {
			d.Rating = *patch.Rating
		}
		if patch.CompletedJobs != nil {
			d.CompletedJobs = *patch.CompletedJobs
		}
		if patch.Active != nil {
			d.Active = *patch.Active
		}
		return nil
	})
	if err != nil {
		return models.Dealer{}, err
	}
	if phone != "" {
		// also releases the user still on the previous phone
		s.syncUser(ctx, updated)
	}
	return updated, nil
}

// DeleteDealer removes the dealer and turns its users back into customers.
// A dealer with a pickup en route cannot be deleted; requests it was merely
// assigned go back to Pending. Users are downgraded before the dealer goes so
// no user is ever left pointing at a missing dealer.
func (s *Service) DeleteDealer(ctx context.Context, id models.ID) error {
	if _, err := s.store.Dealers.Get(ctx, id); err != nil {
		return err
	}
	held, err := s.store.Requests.List(ctx, store.ByDealer(id))
	if err != nil {
		return err
	}
	for _, r := range held {
		if r.Status == models.StatusEnRoute {
			return fmt.Errorf("dealer %d has request %d en route: %w", id, r.ID, models.ErrConflict)
		}
	}

	released := 0
	for _, r := range held {
		if r.Status != models.StatusAssigned {
			continue
		}
		if err := statemachine.CanTransition(r.Status, models.StatusPending, models.RoleAdmin); err != nil {
			return err
		}
		if _, err := s.store.Requests.Update(ctx, r.ID, func(r *models.Request) error {
			r.Status = models.StatusPending
			r.DealerID = nil
			return nil
		}); err != nil {
			return fmt.Errorf("release request %d: %w", r.ID, err)
		}
		metrics.RecordTransition(string(models.StatusAssigned), string(models.StatusPending), string(models.RoleAdmin))
		released++
	}

	n, err := s.users.DowngradeDealerUsers(ctx, id)
	if err != nil {
		return fmt.Errorf("downgrade users of dealer %d: %w", id, err)
	}
	if err := s.store.Dealers.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("dealer deleted",
		zap.Int64("dealer_id", int64(id)),
		zap.Int("users_downgraded", n),
		zap.Int("requests_released", released))
	return nil
}

func (s *Service) checkPhoneFree(ctx context.Context, phone string, self models.ID) error {
	existing, err := s.store.Dealers.List(ctx, store.Eq(store.FieldPhone, phone))
	if err != nil {
		return err
	}
	for _, d := range existing {
		if d.ID != self {
			return fmt.Errorf("dealer %d already uses phone %s: %w", d.ID, phone, models.ErrConflict)
		}
	}
	return nil
}

// syncUser is best effort; the reconcile job repairs anything missed here.
func (s *Service) syncUser(ctx context.Context, d models.Dealer) {
	if s.users == nil {
		return
	}
	if _, _, err := s.users.EnsureDealerUser(ctx, d); err != nil {
		s.log.Warn("could not sync dealer user", zap.Int64("dealer_id", int64(d.ID)), zap.Error(err))
	}
}
