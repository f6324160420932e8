// Package lifecycle creates pickup requests and moves them through the
// status state machine on behalf of an authorized actor.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"scrap-pickup-api/authz"
	"scrap-pickup-api/metrics"
	"scrap-pickup-api/models"
	"scrap-pickup-api/statemachine"
	"scrap-pickup-api/store"
)

const dateLayout = "2006-01-02"

// Engine owns request creation, updates and listing.
type Engine struct {
	store  *store.Store
	linker authz.DealerLinker
	log    *zap.Logger
	now    func() time.Time
}

func NewEngine(st *store.Store, linker authz.DealerLinker, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: st, linker: linker, log: log, now: time.Now}
}

// RequestView is a request enriched for display.
type RequestView struct {
	models.Request
	DealerName string `json:"dealerName,omitempty"`
}

// ListFilter narrows a listing inside the actor's scope.
type ListFilter struct {
	Phone  string
	Status models.RequestStatus
}

// Patch is a partial request. Nil fields are left untouched.
type Patch struct {
	CustomerName  *string               `json:"customerName"`
	Phone         *models.Phone         `json:"phone"`
	Address       *string               `json:"address"`
	Lat           *float64              `json:"lat"`
	Lng           *float64              `json:"lng"`
	ScrapTypes    []models.ScrapLine    `json:"scrapTypes"`
	PreferredDate *string               `json:"preferredDate"`
	PreferredTime *string               `json:"preferredTime"`
	Instructions  *string               `json:"instructions"`
	RequestDate   *string               `json:"requestDate"`
	Images        []models.Image        `json:"images"`
	Status        *models.RequestStatus `json:"status"`
	DealerID      *models.ID            `json:"dealerId"`
}

func (p Patch) touchesDetails() bool {
	return p.CustomerName != nil || p.Address != nil || p.Lat != nil || p.Lng != nil ||
		p.ScrapTypes != nil || p.PreferredDate != nil || p.PreferredTime != nil ||
		p.Instructions != nil || p.RequestDate != nil || p.Images != nil
}

// Actor links a dealer actor to its dealer record when the link is missing.
func (e *Engine) Actor(ctx context.Context, actor models.User) models.User {
	return authz.EnsureDealerLink(ctx, e.linker, actor, e.log)
}

// CreateRequest files a new Pending request. Id, status and dealerId in
// payload are ignored.
func (e *Engine) CreateRequest(ctx context.Context, actor models.User, payload models.Request) (models.Request, error) {
	phone, err := models.NormalizePhone(string(payload.Phone))
	if err != nil {
		return models.Request{}, err
	}
	if err := authz.CanCreate(actor, phone); err != nil {
		return models.Request{}, err
	}
	if err := validateLines(payload.ScrapTypes); err != nil {
		return models.Request{}, err
	}
	if strings.TrimSpace(payload.Address) == "" {
		return models.Request{}, fmt.Errorf("%w: address is required", models.ErrInvalidInput)
	}

	req := payload
	req.ID = 0
	req.Phone = models.Phone(phone)
	req.Status = models.StatusPending
	req.DealerID = nil
	if strings.TrimSpace(req.RequestDate) == "" {
		req.RequestDate = e.now().Format(dateLayout)
	}
	req.ScrapTypes, err = e.applyRates(ctx, req.ScrapTypes)
	if err != nil {
		return models.Request{}, err
	}

	created, err := e.store.Requests.Add(ctx, req)
	if err != nil {
		return models.Request{}, err
	}
	e.log.Info("request created",
		zap.Int64("request_id", int64(created.ID)),
		zap.String("phone", phone),
		zap.String("actor_role", string(actor.EffectiveRole())))
	return created, nil
}

func validateLines(lines []models.ScrapLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one scrap type is required", models.ErrInvalidInput)
	}
	for i, l := range lines {
		if strings.TrimSpace(l.Type) == "" {
			return fmt.Errorf("%w: scrapTypes[%d] has no type", models.ErrInvalidInput, i)
		}
		if l.Quantity < 0 {
			return fmt.Errorf("%w: scrapTypes[%d] has a negative quantity", models.ErrInvalidInput, i)
		}
	}
	return nil
}

// applyRates fills appliedRate from the catalog for lines that lack one.
func (e *Engine) applyRates(ctx context.Context, lines []models.ScrapLine) ([]models.ScrapLine, error) {
	types, err := e.store.ScrapTypes.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	rates := make(map[string]float64, len(types))
	for _, st := range types {
		rates[strings.ToLower(strings.TrimSpace(st.Name))] = st.PricePerKg
	}
	out := make([]models.ScrapLine, len(lines))
	for i, l := range lines {
		out[i] = l
		if l.AppliedRate != nil {
			continue
		}
		if rate, ok := rates[strings.ToLower(strings.TrimSpace(l.Type))]; ok {
			out[i].AppliedRate = &rate
		}
	}
	return out, nil
}

// GetRequest returns one request if the actor may see it.
func (e *Engine) GetRequest(ctx context.Context, actor models.User, id models.ID) (RequestView, error) {
	actor = e.Actor(ctx, actor)
	req, err := e.store.Requests.Get(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	if !authz.ScopeFor(actor).Allows(req) {
		return RequestView{}, fmt.Errorf("request %d: %w", id, models.ErrForbidden)
	}
	names, err := e.dealerNames(ctx)
	if err != nil {
		return RequestView{}, err
	}
	return view(req, names), nil
}

// ListRequests returns the requests visible to actor, newest first.
func (e *Engine) ListRequests(ctx context.Context, actor models.User, filter ListFilter) ([]RequestView, error) {
	actor = e.Actor(ctx, actor)
	scope := authz.ScopeFor(actor)
	storeFilter, ok := scope.StoreFilter()
	if !ok {
		return []RequestView{}, nil
	}

	var phone string
	if filter.Phone != "" {
		var err error
		phone, err = models.NormalizePhone(filter.Phone)
		if err != nil {
			return nil, err
		}
		if storeFilter == nil {
			storeFilter = store.Eq(store.FieldPhone, phone)
		}
	}

	reqs, err := e.store.Requests.List(ctx, storeFilter)
	if err != nil {
		return nil, err
	}
	names, err := e.dealerNames(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		if !scope.Allows(r) {
			continue
		}
		if phone != "" && !r.Phone.Matches(phone) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, view(r, names))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RequestDate != out[j].RequestDate {
			return out[i].RequestDate > out[j].RequestDate
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (e *Engine) dealerNames(ctx context.Context) (map[models.ID]string, error) {
	dealers, err := e.store.Dealers.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make(map[models.ID]string, len(dealers))
	for _, d := range dealers {
		names[d.ID] = d.Name
	}
	return names, nil
}

func view(r models.Request, names map[models.ID]string) RequestView {
	v := RequestView{Request: r}
	if r.DealerID != nil {
		v.DealerName = names[*r.DealerID]
	}
	return v
}

// AssignDealer hands a request to a dealer. Admin only.
func (e *Engine) AssignDealer(ctx context.Context, actor models.User, id, dealerID models.ID) (models.Request, error) {
	if actor.EffectiveRole() != models.RoleAdmin {
		return models.Request{}, fmt.Errorf("only admins assign dealers: %w", models.ErrForbidden)
	}
	status := models.StatusAssigned
	return e.UpdateRequest(ctx, actor, id, Patch{Status: &status, DealerID: &dealerID})
}

// UpdateRequest merges patch into request id. Customers may edit the
// descriptive fields of their own request, dealers may only move the status
// of requests assigned to them, and admins may change anything. Status and
// dealer changes always go through the state machine.
func (e *Engine) UpdateRequest(ctx context.Context, actor models.User, id models.ID, patch Patch) (models.Request, error) {
	actor = e.Actor(ctx, actor)
	role := actor.EffectiveRole()

	var move *change
	updated, err := e.store.Requests.Update(ctx, id, func(req *models.Request) error {
		if err := authz.CanMutate(actor, *req); err != nil {
			return err
		}
		if err := checkFields(role, *req, patch); err != nil {
			return err
		}
		c, err := e.plan(ctx, role, *req, patch)
		if err != nil {
			return err
		}
		if err := e.mergeDetails(ctx, req, patch, role); err != nil {
			return err
		}
		if c != nil {
			req.Status = c.to
			req.DealerID = c.dealer
			move = c
		}
		return nil
	})
	if err != nil {
		return models.Request{}, err
	}

	if move != nil {
		metrics.RecordTransition(string(move.from), string(move.to), string(role))
		e.log.Info("request status changed",
			zap.Int64("request_id", int64(id)),
			zap.String("from", string(move.from)),
			zap.String("to", string(move.to)),
			zap.String("actor_role", string(role)))
		if move.to == models.StatusCompleted && move.dealer != nil {
			e.creditDealer(ctx, *move.dealer)
		}
	}
	return updated, nil
}

// checkFields rejects fields the role may not touch. Values equal to the
// stored ones are tolerated so clients can send back whole records.
func checkFields(role models.UserRole, req models.Request, p Patch) error {
	if role == models.RoleAdmin {
		return nil
	}
	statusChange := p.Status != nil && *p.Status != req.Status
	dealerChange := p.DealerID != nil && !models.SameID(p.DealerID, req.DealerID)
	phoneChange := p.Phone != nil && !p.Phone.Matches(string(req.Phone))

	switch role {
	case models.RoleDealer:
		if p.touchesDetails() || phoneChange {
			return fmt.Errorf("dealers may only change the status: %w", models.ErrForbidden)
		}
		if dealerChange {
			return fmt.Errorf("dealers cannot reassign requests: %w", models.ErrForbidden)
		}
	default:
		if statusChange || dealerChange {
			return fmt.Errorf("customers cannot change status or dealer: %w", models.ErrForbidden)
		}
		if phoneChange {
			return fmt.Errorf("the request phone cannot be changed: %w", models.ErrForbidden)
		}
	}
	return nil
}

type change struct {
	from, to models.RequestStatus
	dealer   *models.ID
}

// plan works out the status move implied by patch, or nil when there is none.
func (e *Engine) plan(ctx context.Context, role models.UserRole, req models.Request, p Patch) (*change, error) {
	to := req.Status
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, *p.Status)
		}
		to = *p.Status
	}
	dealer := req.DealerID
	dealerChanged := p.DealerID != nil && !models.SameID(p.DealerID, req.DealerID)
	if dealerChanged {
		dealer = p.DealerID
		if p.Status == nil && req.Status == models.StatusPending {
			to = models.StatusAssigned
		}
	}

	if to == req.Status && !dealerChanged {
		return nil, nil
	}
	if err := statemachine.CanTransition(req.Status, to, role); err != nil {
		return nil, err
	}
	if dealerChanged && to != models.StatusAssigned {
		return nil, fmt.Errorf("%w: the dealer can only change while assigning", models.ErrInvalidTransition)
	}

	switch {
	case !statemachine.HoldsDealer(to):
		dealer = nil
	case dealer == nil || *dealer <= 0:
		return nil, fmt.Errorf("%w: status %s needs a dealerId", models.ErrInvalidInput, to)
	case dealerChanged:
		if _, err := e.store.Dealers.Get(ctx, *dealer); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("%w: dealer %d does not exist", models.ErrInvalidInput, *dealer)
			}
			return nil, err
		}
	}
	return &change{from: req.Status, to: to, dealer: dealer}, nil
}

func (e *Engine) mergeDetails(ctx context.Context, req *models.Request, p Patch, role models.UserRole) error {
	if p.CustomerName != nil {
		req.CustomerName = *p.CustomerName
	}
	if p.Address != nil {
		if strings.TrimSpace(*p.Address) == "" {
			return fmt.Errorf("%w: address cannot be empty", models.ErrInvalidInput)
		}
		req.Address = *p.Address
	}
	if p.Lat != nil {
		req.Lat = p.Lat
	}
	if p.Lng != nil {
		req.Lng = p.Lng
	}
	if p.ScrapTypes != nil {
		if err := validateLines(p.ScrapTypes); err != nil {
			return err
		}
		lines, err := e.applyRates(ctx, p.ScrapTypes)
		if err != nil {
			return err
		}
		req.ScrapTypes = lines
	}
	if p.PreferredDate != nil {
		req.PreferredDate = *p.PreferredDate
	}
	if p.PreferredTime != nil {
		req.PreferredTime = *p.PreferredTime
	}
	if p.Instructions != nil {
		req.Instructions = *p.Instructions
	}
	if p.RequestDate != nil {
		req.RequestDate = *p.RequestDate
	}
	if p.Images != nil {
		req.Images = p.Images
	}
	if p.Phone != nil && role == models.RoleAdmin {
		phone, err := p.Phone.Normalized()
		if err != nil {
			return err
		}
		req.Phone = models.Phone(phone)
	}
	return nil
}

// creditDealer bumps completedJobs. Failures are logged; the transition
// already happened.
func (e *Engine) creditDealer(ctx context.Context, dealerID models.ID) {
	_, err := e.store.Dealers.Update(ctx, dealerID, func(d *models.Dealer) error {
		d.CompletedJobs++
		return nil
	})
	if err != nil {
		e.log.Warn("could not credit dealer for completed job",
			zap.Int64("dealer_id", int64(dealerID)), zap.Error(err))
	}
}
