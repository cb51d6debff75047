// Package journey models the customer implementation lifecycle: an ordered
// stage progression plus per-customer milestones.
package journey

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/guard"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// Canonical stage names, in progression order.
const (
	StageOnboarding     = "Onboarding"
	StagePlanning       = "Planning"
	StageImplementation = "Implementation"
	StageTesting        = "Testing"
	StageGoLive         = "Go-Live"
	StagePostLaunch     = "Post-Launch"
)

var stageOrder = []string{
	StageOnboarding,
	StagePlanning,
	StageImplementation,
	StageTesting,
	StageGoLive,
	StagePostLaunch,
}

// Stages returns the canonical progression, earliest first.
func Stages() []string {
	out := make([]string, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// StageIndex returns a stage's position in the progression, or -1 for an
// unknown stage name.
func StageIndex(stage string) int {
	for i, s := range stageOrder {
		if strings.EqualFold(s, stage) {
			return i
		}
	}
	return -1
}

// CanonicalStage normalizes case, returning the canonical spelling.
func CanonicalStage(stage string) (string, bool) {
	i := StageIndex(stage)
	if i < 0 {
		return "", false
	}
	return stageOrder[i], true
}

// StoreAPI captures the store surface the journey service uses.
type StoreAPI interface {
	GetCustomer(ctx context.Context, tenantID, customerID string) (store.CustomerRecord, bool, error)
	ListCustomers(ctx context.Context, tenantID string) ([]store.CustomerRecord, error)
	SetCustomerStage(ctx context.Context, tenantID, customerID, stage, statusSummary string) error
	CreateCustomer(ctx context.Context, rec store.CustomerRecord) (store.CustomerRecord, error)
	CreateMilestone(ctx context.Context, rec store.MilestoneRecord) (store.MilestoneRecord, error)
	ListMilestones(ctx context.Context, customerID string) ([]store.MilestoneRecord, error)
	UpdateMilestoneStatus(ctx context.Context, milestoneID, status string) error
}

// CustomerView is a customer plus its milestones, ready for responses.
type CustomerView struct {
	Customer   store.CustomerRecord
	Milestones []store.MilestoneRecord
}

// Service answers journey reads and applies stage and milestone updates.
type Service struct {
	logger *log.Logger
	store  StoreAPI
}

func NewService(logger *log.Logger, st StoreAPI) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[JOURNEY] ", log.LstdFlags)
	}
	return &Service{logger: logger, store: st}
}

// Customer returns one customer with milestones, scoped to the tenant.
func (s *Service) Customer(ctx context.Context, tenantID, customerID string) (CustomerView, error) {
	rec, found, err := s.store.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		return CustomerView{}, fault.Wrap(fault.KindUpstream, "journey.Customer", err)
	}
	if !found || rec.TenantID != tenantID {
		return CustomerView{}, fault.Newf(fault.KindNotFound, "journey.Customer", "customer %s not found", customerID)
	}
	ms, err := s.store.ListMilestones(ctx, customerID)
	if err != nil {
		return CustomerView{}, fault.Wrap(fault.KindUpstream, "journey.Customer", err)
	}
	sortMilestones(ms)
	return CustomerView{Customer: rec, Milestones: ms}, nil
}

// List returns all customers of a tenant, filtered again on the way out.
func (s *Service) List(ctx context.Context, tenantID string) ([]store.CustomerRecord, error) {
	recs, err := s.store.ListCustomers(ctx, tenantID)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, "journey.List", err)
	}
	return guard.FilterCustomers(tenantID, recs), nil
}

// Create registers a customer at the start of the progression.
func (s *Service) Create(ctx context.Context, tenantID, name string) (store.CustomerRecord, error) {
	if strings.TrimSpace(name) == "" {
		return store.CustomerRecord{}, fault.New(fault.KindValidation, "journey.Create", "customer name required")
	}
	rec, err := s.store.CreateCustomer(ctx, store.CustomerRecord{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Name:         name,
		CurrentStage: StageOnboarding,
	})
	if err != nil {
		return store.CustomerRecord{}, fault.Wrap(fault.KindUpstream, "journey.Create", err)
	}
	return rec, nil
}

// SetStage moves a customer to a stage. Any stage transition is allowed,
// including backwards moves, but the name must be canonical.
func (s *Service) SetStage(ctx context.Context, tenantID, customerID, stage, statusSummary string) (CustomerView, error) {
	canonical, ok := CanonicalStage(stage)
	if !ok {
		return CustomerView{}, fault.Newf(fault.KindValidation, "journey.SetStage", "unknown stage %q", stage)
	}
	if _, _, err := s.requireCustomer(ctx, tenantID, customerID); err != nil {
		return CustomerView{}, err
	}
	if err := s.store.SetCustomerStage(ctx, tenantID, customerID, canonical, statusSummary); err != nil {
		return CustomerView{}, fault.Wrap(fault.KindUpstream, "journey.SetStage", err)
	}
	s.logger.Printf("customer %s moved to stage %s", customerID, canonical)
	return s.Customer(ctx, tenantID, customerID)
}

// AddMilestone appends a planned milestone to a customer.
func (s *Service) AddMilestone(ctx context.Context, tenantID, customerID, name string, plannedDate *time.Time) (store.MilestoneRecord, error) {
	if strings.TrimSpace(name) == "" {
		return store.MilestoneRecord{}, fault.New(fault.KindValidation, "journey.AddMilestone", "milestone name required")
	}
	if _, _, err := s.requireCustomer(ctx, tenantID, customerID); err != nil {
		return store.MilestoneRecord{}, err
	}
	rec, err := s.store.CreateMilestone(ctx, store.MilestoneRecord{
		CustomerID:  customerID,
		Name:        name,
		Status:      store.MilestoneStatusPlanned,
		PlannedDate: plannedDate,
	})
	if err != nil {
		return store.MilestoneRecord{}, fault.Wrap(fault.KindUpstream, "journey.AddMilestone", err)
	}
	return rec, nil
}

// SetMilestoneStatus updates a milestone's status. The store stamps the
// completion date in the same statement when the status becomes completed,
// so a completed milestone always carries a completion date.
func (s *Service) SetMilestoneStatus(ctx context.Context, tenantID, customerID, milestoneID, status string) error {
	switch status {
	case store.MilestoneStatusPlanned, store.MilestoneStatusInProgress, store.MilestoneStatusCompleted:
	default:
		return fault.Newf(fault.KindValidation, "journey.SetMilestoneStatus", "unknown milestone status %q", status)
	}
	if _, _, err := s.requireCustomer(ctx, tenantID, customerID); err != nil {
		return err
	}
	ms, err := s.store.ListMilestones(ctx, customerID)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "journey.SetMilestoneStatus", err)
	}
	owned := false
	for _, m := range ms {
		if m.ID == milestoneID {
			owned = true
			break
		}
	}
	if !owned {
		return fault.Newf(fault.KindNotFound, "journey.SetMilestoneStatus", "milestone %s not found", milestoneID)
	}
	if err := s.store.UpdateMilestoneStatus(ctx, milestoneID, status); err != nil {
		return fault.Wrap(fault.KindUpstream, "journey.SetMilestoneStatus", err)
	}
	return nil
}

// Narrate renders a customer's status as chat-ready text.
func (s *Service) Narrate(ctx context.Context, tenantID, customerID string) (string, error) {
	view, err := s.Customer(ctx, tenantID, customerID)
	if err != nil {
		return "", err
	}
	return NarrateView(view), nil
}

// NarrateView formats a customer view as plain prose.
func NarrateView(view CustomerView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is currently in the %s stage.", view.Customer.Name, view.Customer.CurrentStage)
	if view.Customer.StatusSummary != "" {
		fmt.Fprintf(&b, " %s", view.Customer.StatusSummary)
	}
	if len(view.Milestones) > 0 {
		b.WriteString("\nMilestones:")
		for _, m := range view.Milestones {
			fmt.Fprintf(&b, "\n- %s: %s", m.Name, m.Status)
			if m.Status == store.MilestoneStatusCompleted && m.CompletionDate != nil {
				fmt.Fprintf(&b, " (%s)", m.CompletionDate.Format("2006-01-02"))
			} else if m.PlannedDate != nil {
				fmt.Fprintf(&b, " (planned %s)", m.PlannedDate.Format("2006-01-02"))
			}
		}
	}
	return b.String()
}

func (s *Service) requireCustomer(ctx context.Context, tenantID, customerID string) (store.CustomerRecord, bool, error) {
	rec, found, err := s.store.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		return store.CustomerRecord{}, false, fault.Wrap(fault.KindUpstream, "journey", err)
	}
	if !found || rec.TenantID != tenantID {
		return store.CustomerRecord{}, false, fault.Newf(fault.KindNotFound, "journey", "customer %s not found", customerID)
	}
	return rec, true, nil
}

// sortMilestones orders planned date ascending, nil dates last, then name.
func sortMilestones(ms []store.MilestoneRecord) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		switch {
		case a.PlannedDate == nil && b.PlannedDate == nil:
			return a.Name < b.Name
		case a.PlannedDate == nil:
			return false
		case b.PlannedDate == nil:
			return true
		case !a.PlannedDate.Equal(*b.PlannedDate):
			return a.PlannedDate.Before(*b.PlannedDate)
		default:
			return a.Name < b.Name
		}
	})
}
