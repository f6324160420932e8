package statemachine

import (
	"errors"
	"testing"

	"scrap-pickup-api/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name  string
		from  models.RequestStatus
		to    models.RequestStatus
		actor models.UserRole
		allow bool
	}{
		{name: "admin assigns", from: models.StatusPending, to: models.StatusAssigned, actor: models.RoleAdmin, allow: true},
		{name: "dealer cannot self assign", from: models.StatusPending, to: models.StatusAssigned, actor: models.RoleDealer, allow: false},
		{name: "dealer accepts", from: models.StatusAssigned, to: models.StatusEnRoute, actor: models.RoleDealer, allow: true},
		{name: "dealer declines", from: models.StatusAssigned, to: models.StatusPending, actor: models.RoleDealer, allow: true},
		{name: "dealer completes", from: models.StatusEnRoute, to: models.StatusCompleted, actor: models.RoleDealer, allow: true},
		{name: "dealer skips en route", from: models.StatusAssigned, to: models.StatusCompleted, actor: models.RoleDealer, allow: false},
		{name: "customer cannot accept", from: models.StatusAssigned, to: models.StatusEnRoute, actor: models.RoleCustomer, allow: false},
		{name: "completed is terminal for admin", from: models.StatusCompleted, to: models.StatusAssigned, actor: models.RoleAdmin, allow: false},
		{name: "completed cannot reopen", from: models.StatusCompleted, to: models.StatusPending, actor: models.RoleAdmin, allow: false},
		{name: "en route cannot go back", from: models.StatusEnRoute, to: models.StatusPending, actor: models.RoleDealer, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CanTransition(tc.from, tc.to, tc.actor)
			if tc.allow && err != nil {
				t.Fatalf("CanTransition(%q, %q, %q) = %v, want nil", tc.from, tc.to, tc.actor, err)
			}
			if !tc.allow && !errors.Is(err, models.ErrInvalidTransition) {
				t.Fatalf("CanTransition(%q, %q, %q) = %v, want ErrInvalidTransition", tc.from, tc.to, tc.actor, err)
			}
		})
	}
}

func TestCompletedIsTheOnlyTerminalState(t *testing.T) {
	terminal := TerminalStates()
	if len(terminal) != 1 || terminal[0] != models.StatusCompleted {
		t.Fatalf("expected only Completed to be terminal, got %v", terminal)
	}
	if len(ValidTransitionsFrom(models.StatusCompleted)) != 0 {
		t.Fatalf("expected no transitions from Completed")
	}
}

func TestHoldsDealer(t *testing.T) {
	if HoldsDealer(models.StatusPending) {
		t.Fatalf("Pending must not hold a dealer")
	}
	for _, s := range []models.RequestStatus{models.StatusAssigned, models.StatusEnRoute, models.StatusCompleted} {
		if !HoldsDealer(s) {
			t.Fatalf("%s must hold a dealer", s)
		}
	}
}

func TestTransitionErrorCarriesValidNext(t *testing.T) {
	err := CanTransition(models.StatusAssigned, models.StatusCompleted, models.RoleDealer)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	next := te.ValidNext()
	want := map[models.RequestStatus]bool{models.StatusAssigned: true, models.StatusEnRoute: true, models.StatusPending: true}
	if len(next) != len(want) {
		t.Fatalf("unexpected next states %v", next)
	}
	for _, s := range next {
		if !want[s] {
			t.Fatalf("unexpected next state %s", s)
		}
	}
}
