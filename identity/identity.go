// Package identity resolves actors from bearer tokens and phone numbers and
// keeps users linked to the dealers that share their phone.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scrap-pickup-api/models"
	"scrap-pickup-api/store"
)

// Profile carries the optional fields accepted at login.
type Profile struct {
	Name     string
	Language string
}

// Service is the identity store.
type Service struct {
	store  *store.Store
	cache  TokenCache
	log    *zap.Logger
	admins map[string]bool

	// mu serializes user creation so one phone never yields two users
	mu sync.Mutex
}

// NewService builds the identity store. Phones in adminPhones that fail to
// normalize are logged and ignored.
func NewService(st *store.Store, cache TokenCache, adminPhones []string, log *zap.Logger) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	admins := make(map[string]bool, len(adminPhones))
	for _, raw := range adminPhones {
		phone, err := models.NormalizePhone(raw)
		if err != nil {
			log.Warn("ignoring admin phone", zap.String("phone", raw), zap.Error(err))
			continue
		}
		admins[phone] = true
	}
	return &Service{store: st, cache: cache, log: log, admins: admins}
}

// MintToken returns a new random opaque bearer token.
func MintToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ResolveByToken returns the user holding token.
func (s *Service) ResolveByToken(ctx context.Context, token string) (models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.User{}, fmt.Errorf("empty token: %w", models.ErrUnauthorized)
	}

	phone, ok, err := s.cache.Lookup(ctx, token)
	if err != nil {
		s.log.Warn("token cache lookup failed", zap.Error(err))
	}
	if ok {
		user, found, err := s.store.Users.Find(ctx, store.Eq(store.FieldPhone, phone))
		if err != nil {
			return models.User{}, err
		}
		if found && user.Token == token {
			return user, nil
		}
		s.forget(ctx, token)
	}

	user, found, err := s.store.Users.Find(ctx, store.Eq(store.FieldToken, token))
	if err != nil {
		return models.User{}, err
	}
	if !found {
		return models.User{}, fmt.Errorf("token: %w", models.ErrNotFound)
	}
	s.remember(ctx, user)
	return user, nil
}

// ResolveByPhone normalizes raw and returns the user with that phone.
func (s *Service) ResolveByPhone(ctx context.Context, raw string) (models.User, error) {
	phone, err := models.NormalizePhone(raw)
	if err != nil {
		return models.User{}, err
	}
	user, found, err := s.store.Users.Find(ctx, store.Eq(store.FieldPhone, phone))
	if err != nil {
		return models.User{}, err
	}
	if !found {
		return models.User{}, fmt.Errorf("user %s: %w", phone, models.ErrNotFound)
	}
	return user, nil
}

// CreateOrGetUser returns the user for raw, creating a customer when none
// exists. A new user whose phone matches a dealer is linked to it, and one
// listed as an admin phone becomes admin. created reports whether a record
// was added.
func (s *Service) CreateOrGetUser(ctx context.Context, raw string, profile Profile) (user models.User, created bool, err error) {
	phone, err := models.NormalizePhone(raw)
	if err != nil {
		return models.User{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.store.Users.Find(ctx, store.Eq(store.FieldPhone, phone))
	if err != nil {
		return models.User{}, false, err
	}
	if found {
		if existing.Token != "" {
			return existing, false, nil
		}
		updated, err := s.store.Users.Update(ctx, existing.ID, func(u *models.User) error {
			u.Token = MintToken()
			return nil
		})
		if err != nil {
			return models.User{}, false, err
		}
		s.remember(ctx, updated)
		return updated, false, nil
	}

	user = models.User{
		Phone:    models.Phone(phone),
		Role:     models.RoleCustomer,
		Token:    MintToken(),
		Name:     strings.TrimSpace(profile.Name),
		Language: strings.TrimSpace(profile.Language),
	}
	switch {
	case s.admins[phone]:
		user.Role = models.RoleAdmin
	default:
		dealer, ok, err := s.store.Dealers.Find(ctx, store.Eq(store.FieldPhone, phone))
		if err != nil {
			return models.User{}, false, err
		}
		if ok {
			user.Role = models.RoleDealer
			user.DealerID = dealer.ID.Ptr()
			s.log.Info("linked new user to dealer",
				zap.String("phone", phone), zap.Int64("dealer_id", int64(dealer.ID)))
		}
	}

	user, err = s.store.Users.Add(ctx, user)
	if err != nil {
		return models.User{}, false, err
	}
	s.remember(ctx, user)
	return user, true, nil
}

// SetRole changes the role of the user with phone raw, creating the user when
// it does not exist yet. A dealer role needs the dealer sharing the phone;
// dealerID, when given, must name that dealer. Other roles clear dealerId.
func (s *Service) SetRole(ctx context.Context, raw string, role models.UserRole, dealerID *models.ID) (models.User, error) {
	phone, err := models.NormalizePhone(raw)
	if err != nil {
		return models.User{}, err
	}
	switch role {
	case models.RoleCustomer, models.RoleDealer, models.RoleAdmin, models.RoleUnset:
	default:
		return models.User{}, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, role)
	}

	var link *models.ID
	if role == models.RoleDealer {
		link, err = s.dealerFor(ctx, phone, dealerID)
		if err != nil {
			return models.User{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.store.Users.Find(ctx, store.Eq(store.FieldPhone, phone))
	if err != nil {
		return models.User{}, err
	}
	if !found {
		user, err := s.store.Users.Add(ctx, models.User{
			Phone:    models.Phone(phone),
			Role:     role,
			DealerID: link,
			Token:    MintToken(),
		})
		if err != nil {
			return models.User{}, err
		}
		s.remember(ctx, user)
		return user, nil
	}

	return s.store.Users.Update(ctx, existing.ID, func(u *models.User) error {
		u.Role = role
		u.DealerID = link
		if u.Token == "" {
			u.Token = MintToken()
		}
		return nil
	})
}

func (s *Service) dealerFor(ctx context.Context, phone string, dealerID *models.ID) (*models.ID, error) {
	if dealerID != nil && *dealerID > 0 {
		dealer, err := s.store.Dealers.Get(ctx, *dealerID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: dealer %d does not exist", models.ErrInvalidInput, *dealerID)
		}
		if err != nil {
			return nil, err
		}
		if !dealer.Phone.Matches(phone) {
			return nil, fmt.Errorf("%w: dealer %d uses another phone", models.ErrInvalidInput, dealer.ID)
		}
		return dealer.ID.Ptr(), nil
	}
	dealer, ok, err := s.store.Dealers.Find(ctx, store.Eq(store.FieldPhone, phone))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: dealer role needs a dealerId or a dealer with phone %s", models.ErrInvalidInput, phone)
	}
	return dealer.ID.Ptr(), nil
}

// LinkDealer gives a dealer-role user without a dealerId the id of the dealer
// sharing its phone and persists it. linked is false when nothing changed.
func (s *Service) LinkDealer(ctx context.Context, user models.User) (models.User, bool, error) {
	if user.Role != models.RoleDealer || user.DealerID != nil {
		return user, false, nil
	}
	dealer, ok, err := s.store.Dealers.Find(ctx, store.Eq(store.FieldPhone, string(user.Phone)))
	if err != nil || !ok {
		return user, false, err
	}
	updated, err := s.store.Users.Update(ctx, user.ID, func(u *models.User) error {
		u.DealerID = dealer.ID.Ptr()
		return nil
	})
	if err != nil {
		return user, false, err
	}
	s.log.Info("lazily linked dealer user",
		zap.Int64("user_id", int64(user.ID)), zap.Int64("dealer_id", int64(dealer.ID)))
	return updated, true, nil
}

// EnsureDealerUser makes sure a dealer-role user with a token exists for
// dealer, and that no user on another phone still acts for it. Admin users
// sharing the phone are left alone.
func (s *Service) EnsureDealerUser(ctx context.Context, dealer models.Dealer) (created, updated bool, err error) {
	phone, err := models.NormalizePhone(string(dealer.Phone))
	if err != nil {
		return false, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	released, err := s.releaseStale(ctx, dealer.ID, phone)
	if err != nil {
		return false, false, fmt.Errorf("release stale users of dealer %d: %w", dealer.ID, err)
	}
	created, updated, err = s.ensureDealerUser(ctx, dealer, phone)
	return created, updated || released > 0, err
}

func (s *Service) ensureDealerUser(ctx context.Context, dealer models.Dealer, phone string) (created, updated bool, err error) {
	user, found, err := s.store.Users.Find(ctx, store.Eq(store.FieldPhone, phone))
	if err != nil {
		return false, false, err
	}
	if !found {
		user, err = s.store.Users.Add(ctx, models.User{
			Phone:    models.Phone(phone),
			Role:     models.RoleDealer,
			DealerID: dealer.ID.Ptr(),
			Token:    MintToken(),
			Name:     dealer.Name,
		})
		if err != nil {
			return false, false, err
		}
		s.remember(ctx, user)
		return true, false, nil
	}
	if user.Role == models.RoleAdmin {
		return false, false, nil
	}
	if user.Role == models.RoleDealer && models.SameID(user.DealerID, dealer.ID.Ptr()) && user.Token != "" {
		return false, false, nil
	}

	_, err = s.store.Users.Update(ctx, user.ID, func(u *models.User) error {
		u.Role = models.RoleDealer
		u.DealerID = dealer.ID.Ptr()
		if u.Token == "" {
			u.Token = MintToken()
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return false, true, nil
}

// releaseStale turns users linked to dealerID on a phone other than the
// dealer's back into customers. Callers hold mu.
func (s *Service) releaseStale(ctx context.Context, dealerID models.ID, phone string) (int, error) {
	users, err := s.UsersForDealer(ctx, dealerID)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, u := range users {
		if u.Phone.Matches(phone) {
			continue
		}
		if _, err := s.store.Users.Update(ctx, u.ID, unlinkDealer); err != nil {
			return released, err
		}
		s.log.Info("released stale dealer user",
			zap.Int64("user_id", int64(u.ID)), zap.Int64("dealer_id", int64(dealerID)))
		released++
	}
	return released, nil
}

func unlinkDealer(u *models.User) error {
	if u.Role == models.RoleDealer {
		u.Role = models.RoleCustomer
	}
	u.DealerID = nil
	return nil
}

// UsersForDealer lists users whose dealerId is dealerID.
func (s *Service) UsersForDealer(ctx context.Context, dealerID models.ID) ([]models.User, error) {
	return s.store.Users.List(ctx, store.ByDealer(dealerID))
}

// RepointDealer moves every user linked to from over to to.
func (s *Service) RepointDealer(ctx context.Context, from, to models.ID) (int, error) {
	users, err := s.UsersForDealer(ctx, from)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, u := range users {
		if _, err := s.store.Users.Update(ctx, u.ID, func(u *models.User) error {
			u.DealerID = to.Ptr()
			return nil
		}); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// DowngradeDealerUsers turns users linked to dealerID back into customers.
func (s *Service) DowngradeDealerUsers(ctx context.Context, dealerID models.ID) (int, error) {
	users, err := s.UsersForDealer(ctx, dealerID)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, u := range users {
		if _, err := s.store.Users.Update(ctx, u.ID, unlinkDealer); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (s *Service) remember(ctx context.Context, user models.User) {
	if user.Token == "" {
		return
	}
	if err := s.cache.Remember(ctx, user.Token, string(user.Phone)); err != nil {
		s.log.Warn("token cache write failed", zap.Error(err))
	}
}

func (s *Service) forget(ctx context.Context, token string) {
	if err := s.cache.Forget(ctx, token); err != nil {
		s.log.Warn("token cache delete failed", zap.Error(err))
	}
}
