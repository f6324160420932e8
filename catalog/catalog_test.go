package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"scrap-pickup-api/identity"
	"scrap-pickup-api/models"
	"scrap-pickup-api/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	b, err := store.OpenFileBackend(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	st := store.New(b)
	return NewService(st, identity.NewService(st, nil, nil, nil), nil), st
}

func TestCreateDealerCreatesDealerUser(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	dealer, err := svc.CreateDealer(ctx, models.Dealer{Name: " Green Metals ", Phone: "+91 98765 43210", Active: true})
	if err != nil {
		t.Fatalf("CreateDealer: %v", err)
	}
	if dealer.ID <= 0 || dealer.Name != "Green Metals" || dealer.Phone != "9876543210" {
		t.Fatalf("unexpected dealer %+v", dealer)
	}

	user, ok, err := st.Users.Find(ctx, store.Eq(store.FieldPhone, "9876543210"))
	if err != nil || !ok {
		t.Fatalf("expected dealer user, ok=%v err=%v", ok, err)
	}
	if user.Role != models.RoleDealer || !models.SameID(user.DealerID, dealer.ID.Ptr()) || user.Token == "" {
		t.Fatalf("unexpected dealer user %+v", user)
	}
}

func TestCreateDealerRejectsDuplicatePhone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateDealer(ctx, models.Dealer{Name: "A", Phone: "9876543210"}); err != nil {
		t.Fatalf("CreateDealer: %v", err)
	}
	_, err := svc.CreateDealer(ctx, models.Dealer{Name: "B", Phone: "09876543210"})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := svc.CreateDealer(ctx, models.Dealer{Name: "C", Phone: "555"}); !errors.Is(err, models.ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
	if _, err := svc.CreateDealer(ctx, models.Dealer{Phone: "9123456789"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without a name, got %v", err)
	}
}

func TestUpdateDealer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.CreateDealer(ctx, models.Dealer{Name: "A", Phone: "9876543210"})
	b, _ := svc.CreateDealer(ctx, models.Dealer{Name: "B", Phone: "9123456789"})

	rating := 4.5
	updated, err := svc.UpdateDealer(ctx, a.ID, DealerPatch{Rating: &rating, ServiceAreas: []string{"Indiranagar"}})
	if err != nil {
		t.Fatalf("UpdateDealer: %v", err)
	}
	if updated.Rating != 4.5 || updated.Name != "A" || len(updated.ServiceAreas) != 1 {
		t.Fatalf("expected shallow merge, got %+v", updated)
	}

	taken := models.Phone(b.Phone)
	if _, err := svc.UpdateDealer(ctx, a.ID, DealerPatch{Phone: &taken}); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict moving onto another dealer's phone, got %v", err)
	}
	same := models.Phone("98765 43210")
	if _, err := svc.UpdateDealer(ctx, a.ID, DealerPatch{Phone: &same}); err != nil {
		t.Fatalf("expected a dealer to keep its own phone, got %v", err)
	}
	if _, err := svc.UpdateDealer(ctx, 999, DealerPatch{Rating: &rating}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteDealerDowngradesUsers(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	dealer, err := svc.CreateDealer(ctx, models.Dealer{Name: "A", Phone: "9876543210"})
	if err != nil {
		t.Fatalf("CreateDealer: %v", err)
	}
	if err := svc.DeleteDealer(ctx, dealer.ID); err != nil {
		t.Fatalf("DeleteDealer: %v", err)
	}
	user, ok, err := st.Users.Find(ctx, store.Eq(store.FieldPhone, "9876543210"))
	if err != nil || !ok {
		t.Fatalf("expected user to survive, ok=%v err=%v", ok, err)
	}
	if user.Role != models.RoleCustomer || user.DealerID != nil {
		t.Fatalf("expected downgraded user, got %+v", user)
	}
	if err := svc.DeleteDealer(ctx, dealer.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScrapTypes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n, err := svc.SeedDefaults(ctx)
	if err != nil || n == 0 {
		t.Fatalf("expected defaults seeded, got %d err=%v", n, err)
	}
	again, err := svc.SeedDefaults(ctx)
	if err != nil || again != 0 {
		t.Fatalf("expected seeding to skip a populated catalog, got %d err=%v", again, err)
	}

	created, err := svc.CreateScrapType(ctx, models.ScrapType{Name: "Brass", PricePerKg: 300, Category: "Metal"})
	if err != nil {
		t.Fatalf("CreateScrapType: %v", err)
	}
	price := 320.0
	updated, err := svc.UpdateScrapType(ctx, created.ID, ScrapTypePatch{PricePerKg: &price})
	if err != nil || updated.PricePerKg != 320 || updated.Name != "Brass" {
		t.Fatalf("unexpected update %+v err=%v", updated, err)
	}
	negative := -1.0
	if _, err := svc.UpdateScrapType(ctx, created.ID, ScrapTypePatch{PricePerKg: &negative}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := svc.DeleteScrapType(ctx, created.ID); err != nil {
		t.Fatalf("DeleteScrapType: %v", err)
	}
	all, _ := svc.ListScrapTypes(ctx)
	if len(all) != n {
		t.Fatalf("expected %d scrap types, got %d", n, len(all))
	}
}

func TestUpdateDealerPhoneMovesDealerUser(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	dealer, err := svc.CreateDealer(ctx, models.Dealer{Name: "Green Metals", Phone: "9876543210"})
	if err != nil {
		t.Fatalf("CreateDealer: %v", err)
	}
	phone := models.Phone("9123456789")
	if _, err := svc.UpdateDealer(ctx, dealer.ID, DealerPatch{Phone: &phone}); err != nil {
		t.Fatalf("UpdateDealer: %v", err)
	}

	linked, err := st.Users.List(ctx, store.ByDealer(dealer.ID))
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(linked) != 1 || linked[0].Phone != "9123456789" || linked[0].Role != models.RoleDealer {
		t.Fatalf("expected only the new phone to act for dealer %d, got %+v", dealer.ID, linked)
	}
	old, ok, err := st.Users.Find(ctx, store.Eq(store.FieldPhone, "9876543210"))
	if err != nil || !ok {
		t.Fatalf("expected old user kept, ok=%v err=%v", ok, err)
	}
	if old.Role != models.RoleCustomer || old.DealerID != nil {
		t.Fatalf("expected old phone downgraded, got %+v", old)
	}
}

func TestDeleteDealerReleasesAssignedRequests(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	dealer, err := svc.CreateDealer(ctx, models.Dealer{Name: "A", Phone: "9876543210"})
	if err != nil {
		t.Fatalf("CreateDealer: %v", err)
	}
	assigned, err := st.Requests.Add(ctx, models.Request{Phone: "9884412345", Status: models.StatusAssigned, DealerID: dealer.ID.Ptr()})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}
	enRoute, err := st.Requests.Add(ctx, models.Request{Phone: "9884412345", Status: models.StatusEnRoute, DealerID: dealer.ID.Ptr()})
	if err != nil {
		t.Fatalf("add request: %v", err)
	}

	if err := svc.DeleteDealer(ctx, dealer.ID); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict while a pickup is en route, got %v", err)
	}
	if _, err := st.Dealers.Get(ctx, dealer.ID); err != nil {
		t.Fatalf("expected dealer kept after refusal: %v", err)
	}
	if r, _ := st.Requests.Get(ctx, assigned.ID); r.Status != models.StatusAssigned {
		t.Fatalf("expected refusal to leave requests alone, got %+v", r)
	}

	if _, err := st.Requests.Update(ctx, enRoute.ID, func(r *models.Request) error {
		r.Status = models.StatusCompleted
		return nil
	}); err != nil {
		t.Fatalf("complete request: %v", err)
	}
	if err := svc.DeleteDealer(ctx, dealer.ID); err != nil {
		t.Fatalf("DeleteDealer: %v", err)
	}
	released, err := st.Requests.Get(ctx, assigned.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if released.Status != models.StatusPending || released.DealerID != nil {
		t.Fatalf("expected assigned request back in Pending, got %+v", released)
	}
	done, _ := st.Requests.Get(ctx, enRoute.ID)
	if done.Status != models.StatusCompleted || !done.AssignedTo(dealer.ID) {
		t.Fatalf("expected completed request kept as history, got %+v", done)
	}
}
