package guard

import (
	"context"
	"testing"
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/registry"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

type stubStore struct {
	tenants map[string]store.TenantRecord
	users   map[string]store.UserRecord
}

func (s *stubStore) GetTenant(_ context.Context, id string) (store.TenantRecord, bool, error) {
	rec, ok := s.tenants[id]
	return rec, ok, nil
}

func (s *stubStore) GetUser(_ context.Context, id string) (store.UserRecord, bool, error) {
	rec, ok := s.users[id]
	return rec, ok, nil
}

func newTestGuard() *Guard {
	st := &stubStore{
		tenants: map[string]store.TenantRecord{
			"acme": {ID: "acme", DisplayName: "Acme"},
		},
		users: map[string]store.UserRecord{},
	}
	return New(registry.New(st, time.Minute))
}

func TestResolveTenantClaim(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		body     string
		want     string
		wantKind fault.Kind
	}{
		{"header only", "acme", "", "acme", 0},
		{"body only", "", "acme", "acme", 0},
		{"both agree", "acme", "acme", "acme", 0},
		{"both missing", "", "", "", fault.KindValidation},
		{"disagree", "acme", "globex", "", fault.KindTenantMismatch},
		{"whitespace trimmed", " acme ", "", "acme", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveTenantClaim(tc.header, tc.body)
			if tc.wantKind != 0 {
				if err == nil {
					t.Fatal("expected error")
				}
				if fault.KindOf(err) != tc.wantKind {
					t.Fatalf("kind = %v, want %v", fault.KindOf(err), tc.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAdmitBindsUserToTenant(t *testing.T) {
	g := newTestGuard()
	user := store.UserRecord{ID: "u1", TenantID: "acme", Role: "reader"}

	claim, err := g.Admit(context.Background(), "acme", "", user)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if claim.Tenant.ID != "acme" || claim.User.ID != "u1" {
		t.Fatalf("unexpected claim: %+v", claim)
	}
}

func TestAdmitRejectsForeignUser(t *testing.T) {
	g := newTestGuard()
	user := store.UserRecord{ID: "u2", TenantID: "globex", Role: "admin"}

	_, err := g.Admit(context.Background(), "acme", "", user)
	if fault.KindOf(err) != fault.KindTenantMismatch {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
}

func TestAdmitUnknownTenant(t *testing.T) {
	g := newTestGuard()
	user := store.UserRecord{ID: "u1", TenantID: "ghost", Role: "reader"}

	_, err := g.Admit(context.Background(), "ghost", "", user)
	if fault.KindOf(err) != fault.KindUnknownTenant {
		t.Fatalf("expected unknown tenant, got %v", err)
	}
}

func TestFilterChunks(t *testing.T) {
	in := []store.ChunkSearchResult{
		{TenantID: "acme", ChunkID: "a"},
		{TenantID: "globex", ChunkID: "b"},
		{TenantID: "acme", ChunkID: "c"},
	}
	out := FilterChunks("acme", in)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	for _, res := range out {
		if res.TenantID != "acme" {
			t.Fatalf("foreign chunk %q leaked through filter", res.ChunkID)
		}
	}
}

func TestFilterCustomers(t *testing.T) {
	in := []store.CustomerRecord{
		{ID: "c1", TenantID: "acme"},
		{ID: "c2", TenantID: "globex"},
	}
	out := FilterCustomers("acme", in)
	if len(out) != 1 || out[0].ID != "c1" {
		t.Fatalf("unexpected filter output: %+v", out)
	}
}
