package registry

import (
	"context"
	"testing"
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

type countingStore struct {
	tenants     map[string]store.TenantRecord
	users       map[string]store.UserRecord
	tenantCalls int
	userCalls   int
}

func (s *countingStore) GetTenant(_ context.Context, id string) (store.TenantRecord, bool, error) {
	s.tenantCalls++
	rec, ok := s.tenants[id]
	return rec, ok, nil
}

func (s *countingStore) GetUser(_ context.Context, id string) (store.UserRecord, bool, error) {
	s.userCalls++
	rec, ok := s.users[id]
	return rec, ok, nil
}

func TestTenantCacheHit(t *testing.T) {
	st := &countingStore{tenants: map[string]store.TenantRecord{"acme": {ID: "acme"}}}
	reg := New(st, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := reg.Tenant(context.Background(), "acme"); err != nil {
			t.Fatalf("Tenant: %v", err)
		}
	}
	if st.tenantCalls != 1 {
		t.Fatalf("expected 1 store call, got %d", st.tenantCalls)
	}
}

func TestTenantCacheExpiry(t *testing.T) {
	st := &countingStore{tenants: map[string]store.TenantRecord{"acme": {ID: "acme"}}}
	reg := New(st, 30*time.Second)
	current := time.Now()
	reg.now = func() time.Time { return current }

	if _, err := reg.Tenant(context.Background(), "acme"); err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	current = current.Add(31 * time.Second)
	if _, err := reg.Tenant(context.Background(), "acme"); err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if st.tenantCalls != 2 {
		t.Fatalf("expected refetch after TTL, got %d calls", st.tenantCalls)
	}
}

func TestUnknownTenantNeverCached(t *testing.T) {
	st := &countingStore{tenants: map[string]store.TenantRecord{}}
	reg := New(st, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := reg.Tenant(context.Background(), "ghost")
		if fault.KindOf(err) != fault.KindUnknownTenant {
			t.Fatalf("expected unknown tenant fault, got %v", err)
		}
	}
	if st.tenantCalls != 2 {
		t.Fatalf("misses must not be cached; got %d calls", st.tenantCalls)
	}
}

func TestTenantEmptyID(t *testing.T) {
	reg := New(&countingStore{}, time.Minute)
	_, err := reg.Tenant(context.Background(), "")
	if fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

func TestInvalidateDropsTenantAndUsers(t *testing.T) {
	st := &countingStore{
		tenants: map[string]store.TenantRecord{"acme": {ID: "acme"}},
		users:   map[string]store.UserRecord{"u1": {ID: "u1", TenantID: "acme"}},
	}
	reg := New(st, time.Minute)

	if _, err := reg.Tenant(context.Background(), "acme"); err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if _, err := reg.User(context.Background(), "u1"); err != nil {
		t.Fatalf("User: %v", err)
	}

	reg.Invalidate("acme")

	if _, err := reg.Tenant(context.Background(), "acme"); err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if _, err := reg.User(context.Background(), "u1"); err != nil {
		t.Fatalf("User: %v", err)
	}
	if st.tenantCalls != 2 || st.userCalls != 2 {
		t.Fatalf("invalidate did not evict: tenant=%d user=%d calls", st.tenantCalls, st.userCalls)
	}
}

func TestZeroTTLDisablesCache(t *testing.T) {
	st := &countingStore{tenants: map[string]store.TenantRecord{"acme": {ID: "acme"}}}
	reg := New(st, 0)

	for i := 0; i < 2; i++ {
		if _, err := reg.Tenant(context.Background(), "acme"); err != nil {
			t.Fatalf("Tenant: %v", err)
		}
	}
	if st.tenantCalls != 2 {
		t.Fatalf("zero TTL must bypass cache, got %d calls", st.tenantCalls)
	}
}
