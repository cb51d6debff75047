package journey

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

type journeyStoreStub struct {
	customers  map[string]store.CustomerRecord
	milestones map[string][]store.MilestoneRecord

	setStageCalls  []string
	setStatusCalls []string
}

func (s *journeyStoreStub) GetCustomer(_ context.Context, tenantID, customerID string) (store.CustomerRecord, bool, error) {
	rec, ok := s.customers[customerID]
	if !ok || rec.TenantID != tenantID {
		return store.CustomerRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *journeyStoreStub) ListCustomers(_ context.Context, tenantID string) ([]store.CustomerRecord, error) {
	var out []store.CustomerRecord
	for _, rec := range s.customers {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *journeyStoreStub) SetCustomerStage(_ context.Context, tenantID, customerID, stage, statusSummary string) error {
	rec := s.customers[customerID]
	rec.CurrentStage = stage
	if statusSummary != "" {
		rec.StatusSummary = statusSummary
	}
	s.customers[customerID] = rec
	s.setStageCalls = append(s.setStageCalls, customerID+":"+stage)
	return nil
}

func (s *journeyStoreStub) CreateCustomer(_ context.Context, rec store.CustomerRecord) (store.CustomerRecord, error) {
	s.customers[rec.ID] = rec
	return rec, nil
}

func (s *journeyStoreStub) CreateMilestone(_ context.Context, rec store.MilestoneRecord) (store.MilestoneRecord, error) {
	rec.ID = "m" + rec.Name
	s.milestones[rec.CustomerID] = append(s.milestones[rec.CustomerID], rec)
	return rec, nil
}

func (s *journeyStoreStub) ListMilestones(_ context.Context, customerID string) ([]store.MilestoneRecord, error) {
	return s.milestones[customerID], nil
}

func (s *journeyStoreStub) UpdateMilestoneStatus(_ context.Context, milestoneID, status string) error {
	s.setStatusCalls = append(s.setStatusCalls, milestoneID+":"+status)
	return nil
}

func newStub() *journeyStoreStub {
	return &journeyStoreStub{
		customers: map[string]store.CustomerRecord{
			"c1": {ID: "c1", TenantID: "acme", Name: "Initech", CurrentStage: StagePlanning},
		},
		milestones: map[string][]store.MilestoneRecord{},
	}
}

func TestStageProgressionOrder(t *testing.T) {
	want := []string{"Onboarding", "Planning", "Implementation", "Testing", "Go-Live", "Post-Launch"}
	got := Stages()
	if len(got) != len(want) {
		t.Fatalf("got %d stages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d = %q, want %q", i, got[i], want[i])
		}
	}
	for i := 1; i < len(want); i++ {
		if StageIndex(want[i-1]) >= StageIndex(want[i]) {
			t.Fatalf("%s must order before %s", want[i-1], want[i])
		}
	}
}

func TestCanonicalStage(t *testing.T) {
	got, ok := CanonicalStage("go-live")
	if !ok || got != StageGoLive {
		t.Fatalf("CanonicalStage(go-live) = %q, %v", got, ok)
	}
	if _, ok := CanonicalStage("Shipping"); ok {
		t.Fatal("unknown stage must not canonicalize")
	}
}

func TestSetStageRejectsUnknown(t *testing.T) {
	svc := NewService(nil, newStub())
	_, err := svc.SetStage(context.Background(), "acme", "c1", "Shipping", "")
	if fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

func TestSetStageBackwardsAllowed(t *testing.T) {
	st := newStub()
	svc := NewService(nil, st)
	view, err := svc.SetStage(context.Background(), "acme", "c1", "onboarding", "restarting discovery")
	if err != nil {
		t.Fatalf("SetStage: %v", err)
	}
	if view.Customer.CurrentStage != StageOnboarding {
		t.Fatalf("stage = %q, want Onboarding", view.Customer.CurrentStage)
	}
}

func TestSetStageForeignTenant(t *testing.T) {
	svc := NewService(nil, newStub())
	_, err := svc.SetStage(context.Background(), "globex", "c1", StageTesting, "")
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("foreign tenant must see not-found, got %v", err)
	}
}

func TestSetMilestoneStatusValidation(t *testing.T) {
	st := newStub()
	st.milestones["c1"] = []store.MilestoneRecord{{ID: "m1", CustomerID: "c1", Name: "Kickoff", Status: store.MilestoneStatusPlanned}}
	svc := NewService(nil, st)

	if err := svc.SetMilestoneStatus(context.Background(), "acme", "c1", "m1", "done"); fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("unknown status must fail validation, got %v", err)
	}
	if err := svc.SetMilestoneStatus(context.Background(), "acme", "c1", "m9", store.MilestoneStatusCompleted); fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("unowned milestone must be not-found, got %v", err)
	}
	if err := svc.SetMilestoneStatus(context.Background(), "acme", "c1", "m1", store.MilestoneStatusCompleted); err != nil {
		t.Fatalf("SetMilestoneStatus: %v", err)
	}
	if len(st.setStatusCalls) != 1 || st.setStatusCalls[0] != "m1:completed" {
		t.Fatalf("unexpected status calls: %v", st.setStatusCalls)
	}
}

func TestNarrateView(t *testing.T) {
	done := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	planned := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	view := CustomerView{
		Customer: store.CustomerRecord{Name: "Initech", CurrentStage: StageImplementation, StatusSummary: "API integration underway."},
		Milestones: []store.MilestoneRecord{
			{Name: "Kickoff", Status: store.MilestoneStatusCompleted, CompletionDate: &done},
			{Name: "UAT", Status: store.MilestoneStatusPlanned, PlannedDate: &planned},
		},
	}
	text := NarrateView(view)
	for _, want := range []string{"Initech", "Implementation", "API integration underway.", "Kickoff: completed (2026-03-01)", "UAT: planned (planned 2026-05-01)"} {
		if !strings.Contains(text, want) {
			t.Errorf("narration missing %q:\n%s", want, text)
		}
	}
}

func TestCreateStartsAtOnboarding(t *testing.T) {
	st := newStub()
	svc := NewService(nil, st)
	rec, err := svc.Create(context.Background(), "acme", "Globex")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.CurrentStage != StageOnboarding {
		t.Fatalf("new customer stage = %q, want Onboarding", rec.CurrentStage)
	}
	if rec.ID == "" {
		t.Fatal("customer id must be generated")
	}
}
