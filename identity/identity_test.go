package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"scrap-pickup-api/models"
	"scrap-pickup-api/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	b, err := store.OpenFileBackend(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatalf("open file backend: %v", err)
	}
	return store.New(b)
}

func TestCreateOrGetUserIsIdempotentPerPhone(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()

	first, created, err := svc.CreateOrGetUser(ctx, "+91 98844-12345", Profile{Name: "Asha"})
	if err != nil {
		t.Fatalf("CreateOrGetUser: %v", err)
	}
	if !created || first.Role != models.RoleCustomer || first.Token == "" {
		t.Fatalf("unexpected first user %+v created=%v", first, created)
	}
	if first.Phone != "9884412345" {
		t.Fatalf("expected normalized phone, got %q", first.Phone)
	}

	second, created, err := svc.CreateOrGetUser(ctx, "9884412345", Profile{})
	if err != nil {
		t.Fatalf("second CreateOrGetUser: %v", err)
	}
	if created || second.ID != first.ID || second.Token != first.Token {
		t.Fatalf("expected the existing user back, got %+v created=%v", second, created)
	}
}

func TestCreateOrGetUserConcurrentLoginsMakeOneUser(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.CreateOrGetUser(ctx, "9884412345", Profile{}); err != nil {
				t.Errorf("CreateOrGetUser: %v", err)
			}
		}()
	}
	wg.Wait()

	users, err := st.Users.List(ctx, nil)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected exactly one user, got %d", len(users))
	}
}

func TestCreateOrGetUserRejectsShortPhone(t *testing.T) {
	svc := NewService(newTestStore(t), nil, nil, nil)
	_, _, err := svc.CreateOrGetUser(context.Background(), "12345", Profile{})
	if !errors.Is(err, models.ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
}

func TestCreateOrGetUserLinksMatchingDealer(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	dealer, err := st.Dealers.Add(ctx, models.Dealer{ID: 1001, Name: "Green Metals", Phone: "9876543210", Active: true})
	if err != nil {
		t.Fatalf("add dealer: %v", err)
	}

	svc := NewService(st, nil, nil, nil)
	user, _, err := svc.CreateOrGetUser(ctx, "098765 43210", Profile{})
	if err != nil {
		t.Fatalf("CreateOrGetUser: %v", err)
	}
	if user.Role != models.RoleDealer || user.DealerID == nil || *user.DealerID != dealer.ID {
		t.Fatalf("expected dealer link to %d, got %+v", dealer.ID, user)
	}
}

func TestCreateOrGetUserGrantsAdminPhones(t *testing.T) {
	svc := NewService(newTestStore(t), nil, []string{"9000000001", "bogus"}, nil)
	user, _, err := svc.CreateOrGetUser(context.Background(), "9000000001", Profile{})
	if err != nil {
		t.Fatalf("CreateOrGetUser: %v", err)
	}
	if user.Role != models.RoleAdmin {
		t.Fatalf("expected admin, got %s", user.Role)
	}
}

func TestResolveByToken(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()

	user, _, err := svc.CreateOrGetUser(ctx, "9884412345", Profile{})
	if err != nil {
		t.Fatalf("CreateOrGetUser: %v", err)
	}

	got, err := svc.ResolveByToken(ctx, user.Token)
	if err != nil {
		t.Fatalf("ResolveByToken: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, got.ID)
	}

	if _, err := svc.ResolveByToken(ctx, "not-a-token"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.ResolveByToken(ctx, ""); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveByTokenUsesRedisCache(t *testing.T) {
	s := miniredis.RunT(t)
	cache, err := NewRedisTokenCache("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisTokenCache: %v", err)
	}
	defer cache.Close()

	st := newTestStore(t)
	svc := NewService(st, cache, nil, nil)
	ctx := context.Background()

	user, _, err := svc.CreateOrGetUser(ctx, "9884412345", Profile{})
	if err != nil {
		t.Fatalf("CreateOrGetUser: %v", err)
	}
	cached, err := s.Get("token:" + user.Token)
	if err != nil {
		t.Fatalf("expected token cached: %v", err)
	}
	if cached != "9884412345" {
		t.Fatalf("expected cached phone, got %q", cached)
	}
	if ttl := s.TTL("token:" + user.Token); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	got, err := svc.ResolveByToken(ctx, user.Token)
	if err != nil || got.ID != user.ID {
		t.Fatalf("ResolveByToken via cache: %+v %v", got, err)
	}
}

func TestResolveByTokenIgnoresStaleCacheEntry(t *testing.T) {
	s := miniredis.RunT(t)
	cache, err := NewRedisTokenCache("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisTokenCache: %v", err)
	}
	defer cache.Close()

	st := newTestStore(t)
	svc := NewService(st, cache, nil, nil)
	ctx := context.Background()

	if _, _, err := svc.CreateOrGetUser(ctx, "9884412345", Profile{}); err != nil {
		t.Fatalf("CreateOrGetUser: %v", err)
	}
	// a token that no longer belongs to the phone it points at
	if err := s.Set("token:revoked", "9884412345"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if _, err := svc.ResolveByToken(ctx, "revoked"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stale cache entry, got %v", err)
	}
	if s.Exists("token:revoked") {
		t.Fatalf("expected stale entry to be dropped")
	}
}

func TestNewRedisTokenCacheFailsWhenUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	if _, err := NewRedisTokenCache("redis://"+addr, time.Hour); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestSetRole(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()

	dealer, err := st.Dealers.Add(ctx, models.Dealer{Name: "Yard", Phone: "9876543210"})
	if err != nil {
		t.Fatalf("add dealer: %v", err)
	}
	if _, _, err := svc.CreateOrGetUser(ctx, "9123456789", Profile{}); err != nil {
		t.Fatalf("CreateOrGetUser: %v", err)
	}

	if _, err := svc.SetRole(ctx, "9123456789", models.RoleDealer, dealer.ID.Ptr()); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a dealer on another phone, got %v", err)
	}
	if _, err := svc.SetRole(ctx, "9123456789", models.RoleDealer, nil); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without a dealer on the phone, got %v", err)
	}
	if _, err := svc.SetRole(ctx, "9876543210", models.RoleDealer, models.ID(4242).Ptr()); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing dealer, got %v", err)
	}
	if _, err := svc.SetRole(ctx, "9123456789", "superuser", nil); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}

	created, err := svc.SetRole(ctx, "9876543210", models.RoleDealer, dealer.ID.Ptr())
	if err != nil {
		t.Fatalf("SetRole on new phone: %v", err)
	}
	if created.Role != models.RoleDealer || created.Token == "" || !models.SameID(created.DealerID, dealer.ID.Ptr()) {
		t.Fatalf("expected provisioned dealer user, got %+v", created)
	}

	user, err := svc.SetRole(ctx, "9876543210", models.RoleCustomer, nil)
	if err != nil {
		t.Fatalf("SetRole customer: %v", err)
	}
	if user.DealerID != nil {
		t.Fatalf("expected dealerId cleared for customer, got %d", *user.DealerID)
	}
}

func TestEnsureDealerUserReleasesOldPhone(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()

	dealer, err := st.Dealers.Add(ctx, models.Dealer{Name: "Yard", Phone: "9876543210"})
	if err != nil {
		t.Fatalf("add dealer: %v", err)
	}
	if _, _, err := svc.EnsureDealerUser(ctx, dealer); err != nil {
		t.Fatalf("EnsureDealerUser: %v", err)
	}
	old, err := svc.ResolveByPhone(ctx, "9876543210")
	if err != nil {
		t.Fatalf("ResolveByPhone: %v", err)
	}

	dealer.Phone = "9123456789"
	if err := st.Dealers.Put(ctx, dealer); err != nil {
		t.Fatalf("put dealer: %v", err)
	}
	created, updated, err := svc.EnsureDealerUser(ctx, dealer)
	if err != nil {
		t.Fatalf("EnsureDealerUser after phone change: %v", err)
	}
	if !created || !updated {
		t.Fatalf("expected a new user and a released one, got created=%v updated=%v", created, updated)
	}

	linked, err := svc.UsersForDealer(ctx, dealer.ID)
	if err != nil {
		t.Fatalf("UsersForDealer: %v", err)
	}
	if len(linked) != 1 || linked[0].Phone != "9123456789" || linked[0].Role != models.RoleDealer {
		t.Fatalf("expected only the new phone linked, got %+v", linked)
	}

	released, err := svc.ResolveByToken(ctx, old.Token)
	if err != nil {
		t.Fatalf("ResolveByToken: %v", err)
	}
	if released.Role != models.RoleCustomer || released.DealerID != nil {
		t.Fatalf("expected old phone downgraded to customer, got %+v", released)
	}

	if c, u, err := svc.EnsureDealerUser(ctx, dealer); err != nil || c || u {
		t.Fatalf("expected a second call to change nothing, got created=%v updated=%v err=%v", c, u, err)
	}
}

func TestEnsureDealerUser(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, []string{"9000000001"}, nil)
	ctx := context.Background()

	dealer, err := st.Dealers.Add(ctx, models.Dealer{Name: "Yard", Phone: "9876543210"})
	if err != nil {
		t.Fatalf("add dealer: %v", err)
	}

	created, updated, err := svc.EnsureDealerUser(ctx, dealer)
	if err != nil || !created || updated {
		t.Fatalf("expected creation, got created=%v updated=%v err=%v", created, updated, err)
	}
	created, updated, err = svc.EnsureDealerUser(ctx, dealer)
	if err != nil || created || updated {
		t.Fatalf("expected no-op on second run, got created=%v updated=%v err=%v", created, updated, err)
	}

	admin, _, err := svc.CreateOrGetUser(ctx, "9000000001", Profile{})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	adminDealer, err := st.Dealers.Add(ctx, models.Dealer{Name: "Admin Yard", Phone: "9000000001"})
	if err != nil {
		t.Fatalf("add dealer: %v", err)
	}
	if created, updated, err := svc.EnsureDealerUser(ctx, adminDealer); err != nil || created || updated {
		t.Fatalf("expected admin to be left alone, got created=%v updated=%v err=%v", created, updated, err)
	}
	still, err := st.Users.Get(ctx, admin.ID)
	if err != nil || still.Role != models.RoleAdmin {
		t.Fatalf("expected admin role kept, got %+v err=%v", still, err)
	}
}

func TestLinkDealer(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()

	unlinked, err := st.Users.Add(ctx, models.User{Phone: "9876543210", Role: models.RoleDealer, Token: "t"})
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	if _, linked, err := svc.LinkDealer(ctx, unlinked); err != nil || linked {
		t.Fatalf("expected no link without a dealer, linked=%v err=%v", linked, err)
	}

	dealer, err := st.Dealers.Add(ctx, models.Dealer{Name: "Yard", Phone: "9876543210"})
	if err != nil {
		t.Fatalf("add dealer: %v", err)
	}
	user, linked, err := svc.LinkDealer(ctx, unlinked)
	if err != nil || !linked {
		t.Fatalf("expected link, linked=%v err=%v", linked, err)
	}
	if !models.SameID(user.DealerID, dealer.ID.Ptr()) {
		t.Fatalf("expected dealerId %d, got %+v", dealer.ID, user.DealerID)
	}
	stored, _ := st.Users.Get(ctx, unlinked.ID)
	if !models.SameID(stored.DealerID, dealer.ID.Ptr()) {
		t.Fatalf("expected link persisted")
	}
}

func TestDowngradeDealerUsers(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()

	if _, err := st.Users.Add(ctx, models.User{Phone: "9876543210", Role: models.RoleDealer, DealerID: models.ID(7).Ptr()}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	n, err := svc.DowngradeDealerUsers(ctx, 7)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 downgrade, got %d err=%v", n, err)
	}
	user, err := svc.ResolveByPhone(ctx, "9876543210")
	if err != nil {
		t.Fatalf("ResolveByPhone: %v", err)
	}
	if user.Role != models.RoleCustomer || user.DealerID != nil {
		t.Fatalf("expected customer without dealer, got %+v", user)
	}
}
