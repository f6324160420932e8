// Package authz decides which requests an actor may see or change.
package authz

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"scrap-pickup-api/models"
	"scrap-pickup-api/store"
)

// DealerLinker resolves a dealer-role user's missing dealerId.
type DealerLinker interface {
	LinkDealer(ctx context.Context, user models.User) (models.User, bool, error)
}

// EnsureDealerLink runs the lazy dealer link for dealer actors without a
// dealerId. Failures are logged and the actor is returned unchanged, which
// leaves it seeing nothing.
func EnsureDealerLink(ctx context.Context, linker DealerLinker, actor models.User, log *zap.Logger) models.User {
	if actor.Role != models.RoleDealer || actor.DealerID != nil || linker == nil {
		return actor
	}
	linked, ok, err := linker.LinkDealer(ctx, actor)
	if err != nil {
		log.Warn("dealer link failed", zap.Int64("user_id", int64(actor.ID)), zap.Error(err))
		return actor
	}
	if !ok {
		log.Info("dealer user has no matching dealer", zap.Int64("user_id", int64(actor.ID)))
	}
	return linked
}

type scopeKind int

const (
	scopeNone scopeKind = iota
	scopeAll
	scopeDealer
	scopePhone
)

// Scope is the set of requests visible to one actor.
type Scope struct {
	kind     scopeKind
	dealerID models.ID
	phone    string
}

// ScopeFor computes visibility: admins see everything, dealers the requests
// assigned to them, everyone else the requests filed under their phone.
func ScopeFor(actor models.User) Scope {
	switch actor.EffectiveRole() {
	case models.RoleAdmin:
		return Scope{kind: scopeAll}
	case models.RoleDealer:
		if actor.DealerID == nil {
			return Scope{kind: scopeNone}
		}
		return Scope{kind: scopeDealer, dealerID: *actor.DealerID}
	default:
		phone, err := models.NormalizePhone(string(actor.Phone))
		if err != nil {
			return Scope{kind: scopeNone}
		}
		return Scope{kind: scopePhone, phone: phone}
	}
}

// StoreFilter returns the filter pushing the scope down to the backend. ok is
// false when the scope is empty and no query is needed.
func (s Scope) StoreFilter() (f *store.Filter, ok bool) {
	switch s.kind {
	case scopeAll:
		return nil, true
	case scopeDealer:
		return store.ByDealer(s.dealerID), true
	case scopePhone:
		return store.Eq(store.FieldPhone, s.phone), true
	}
	return nil, false
}

// Allows reports whether req is inside the scope.
func (s Scope) Allows(req models.Request) bool {
	switch s.kind {
	case scopeAll:
		return true
	case scopeDealer:
		return req.AssignedTo(s.dealerID)
	case scopePhone:
		return req.Phone.Matches(s.phone)
	}
	return false
}

// CanMutate checks that actor may change req at all. Field-level rules are
// applied by the lifecycle engine.
func CanMutate(actor models.User, req models.Request) error {
	switch actor.EffectiveRole() {
	case models.RoleAdmin:
		return nil
	case models.RoleDealer:
		if actor.DealerID == nil || !req.AssignedTo(*actor.DealerID) {
			return fmt.Errorf("request %d is not assigned to this dealer: %w", req.ID, models.ErrForbidden)
		}
		return nil
	default:
		if !ScopeFor(actor).Allows(req) {
			return fmt.Errorf("request %d belongs to another customer: %w", req.ID, models.ErrForbidden)
		}
		return nil
	}
}

// CanCreate checks that actor may file a request under phone. Customers may
// only file under their own phone; dealers may not file at all.
func CanCreate(actor models.User, phone string) error {
	switch actor.EffectiveRole() {
	case models.RoleAdmin:
		return nil
	case models.RoleDealer:
		return fmt.Errorf("dealers cannot create requests: %w", models.ErrForbidden)
	default:
		if !actor.Phone.Matches(phone) {
			return fmt.Errorf("request phone does not match the caller: %w", models.ErrForbidden)
		}
		return nil
	}
}
