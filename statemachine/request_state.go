package statemachine

import (
	"fmt"
	"strings"

	"scrap-pickup-api/models"
)

// Transition defines a valid state change and who can perform it
type Transition struct {
	From  models.RequestStatus `json:"from"`
	To    models.RequestStatus `json:"to"`
	Actor models.UserRole      `json:"actor"`
}

// validTransitions is the authoritative state machine definition
var validTransitions = []Transition{
	// Admin assigns a dealer to a fresh request
	{From: models.StatusPending, To: models.StatusAssigned, Actor: models.RoleAdmin},
	// Admin hands an assigned request to a different dealer
	{From: models.StatusAssigned, To: models.StatusAssigned, Actor: models.RoleAdmin},
	// Dealer accepts and heads out
	{From: models.StatusAssigned, To: models.StatusEnRoute, Actor: models.RoleDealer},
	{From: models.StatusAssigned, To: models.StatusEnRoute, Actor: models.RoleAdmin},
	// Dealer declines; the request goes back to the pool
	{From: models.StatusAssigned, To: models.StatusPending, Actor: models.RoleDealer},
	{From: models.StatusAssigned, To: models.StatusPending, Actor: models.RoleAdmin},
	// Pickup done
	{From: models.StatusEnRoute, To: models.StatusCompleted, Actor: models.RoleDealer},
	{From: models.StatusEnRoute, To: models.StatusCompleted, Actor: models.RoleAdmin},
}

type transitionKey struct {
	From  models.RequestStatus
	To    models.RequestStatus
	Actor models.UserRole
}

var transitionMap = func() map[transitionKey]bool {
	m := make(map[transitionKey]bool)
	for _, t := range validTransitions {
		m[transitionKey{t.From, t.To, t.Actor}] = true
	}
	return m
}()

// ValidTransitionsFrom returns all valid next states from a given state
func ValidTransitionsFrom(status models.RequestStatus) []models.RequestStatus {
	nexts := []models.RequestStatus{}
	seen := map[models.RequestStatus]bool{}
	for _, t := range validTransitions {
		if t.From == status && !seen[t.To] {
			nexts = append(nexts, t.To)
			seen[t.To] = true
		}
	}
	return nexts
}

// TransitionError reports a refused status change. It matches
// models.ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From  models.RequestStatus
	To    models.RequestStatus
	Actor models.UserRole
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s is not allowed for %s; valid transitions from %s are: %s",
		models.ErrInvalidTransition, e.From, e.To, e.Actor, e.From, describeValidFrom(e.From))
}

func (e *TransitionError) Unwrap() error { return models.ErrInvalidTransition }

// ValidNext lists the states reachable from the refused state.
func (e *TransitionError) ValidNext() []models.RequestStatus {
	return ValidTransitionsFrom(e.From)
}

// CanTransition checks if a given actor can move from one state to another.
func CanTransition(from, to models.RequestStatus, actor models.UserRole) error {
	if transitionMap[transitionKey{From: from, To: to, Actor: actor}] {
		return nil
	}
	return &TransitionError{From: from, To: to, Actor: actor}
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status models.RequestStatus) bool {
	return len(ValidTransitionsFrom(status)) == 0
}

// HoldsDealer reports whether a request in this status must carry a dealerId.
func HoldsDealer(status models.RequestStatus) bool {
	switch status {
	case models.StatusAssigned, models.StatusEnRoute, models.StatusCompleted:
		return true
	}
	return false
}

// TerminalStates lists every status with no outgoing transition.
func TerminalStates() []models.RequestStatus {
	var out []models.RequestStatus
	for _, s := range []models.RequestStatus{models.StatusPending, models.StatusAssigned, models.StatusEnRoute, models.StatusCompleted} {
		if IsTerminal(s) {
			out = append(out, s)
		}
	}
	return out
}

func describeValidFrom(status models.RequestStatus) string {
	nexts := ValidTransitionsFrom(status)
	if len(nexts) == 0 {
		return "none (terminal state)"
	}
	names := make([]string, len(nexts))
	for i, s := range nexts {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// GetAllTransitions returns the full state machine for documentation
func GetAllTransitions() []Transition {
	out := make([]Transition, len(validTransitions))
	copy(out, validTransitions)
	return out
}
