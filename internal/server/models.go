package server

import (
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/journey"
	"github.com/CloudBridgeTechnologies/cloudable/internal/knowledge"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// HTTPError is the uniform error body.
type HTTPError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// TokenResponse carries a JWT for Bearer flows.
type TokenResponse struct {
	Token string `json:"token"`
}

type AuthSignupRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChatRequest struct {
	TenantID   string `json:"tenant_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Message    string `json:"message"`
}

// ChatResponse reports which subsystem answered alongside the reply.
type ChatResponse struct {
	Reply        string               `json:"reply"`
	Route        string               `json:"route"`
	SessionID    string               `json:"session_id,omitempty"`
	Attributions []knowledge.Result   `json:"attributions,omitempty"`
}

type KBQueryRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Query    string `json:"query"`
	TopK     int    `json:"top_k,omitempty"`
	Keyword  bool   `json:"keyword,omitempty"`
}

type KBQueryResponse struct {
	Results   []knowledge.Result `json:"results"`
	NoContent bool               `json:"no_content"`
}

type UploadURLRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Filename string `json:"filename"`
}

type UploadURLResponse struct {
	DocumentID string    `json:"document_id"`
	StorageKey string    `json:"storage_key"`
	UploadURL  string    `json:"upload_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type SyncRequest struct {
	TenantID   string `json:"tenant_id,omitempty"`
	StorageKey string `json:"storage_key"`
}

type JobStatusView struct {
	Kind        string     `json:"kind"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type DocumentStatusResponse struct {
	DocumentID    string          `json:"document_id"`
	Filename      string          `json:"filename"`
	Lifecycle     string          `json:"lifecycle"`
	SummaryStatus string          `json:"summary_status"`
	IndexStatus   string          `json:"index_status"`
	Jobs          []JobStatusView `json:"jobs"`
}

type SummaryResponse struct {
	DocumentID string    `json:"document_id"`
	Summary    string    `json:"summary"`
	Model      string    `json:"model"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type MilestoneView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	PlannedDate    *time.Time `json:"planned_date,omitempty"`
	CompletionDate *time.Time `json:"completion_date,omitempty"`
}

type CustomerStatusRequest struct {
	TenantID   string `json:"tenant_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

type CustomerStatusResponse struct {
	CustomerID    string          `json:"customer_id"`
	Name          string          `json:"name"`
	CurrentStage  string          `json:"current_stage"`
	StageOrder    int             `json:"stage_order"`
	StatusSummary string          `json:"status_summary,omitempty"`
	LastUpdated   time.Time       `json:"last_updated"`
	Milestones    []MilestoneView `json:"milestones"`
}

type CreateCustomerRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Name     string `json:"name"`
}

type SetStageRequest struct {
	TenantID      string `json:"tenant_id,omitempty"`
	Stage         string `json:"stage"`
	StatusSummary string `json:"status_summary,omitempty"`
}

type AddMilestoneRequest struct {
	TenantID    string     `json:"tenant_id,omitempty"`
	Name        string     `json:"name"`
	PlannedDate *time.Time `json:"planned_date,omitempty"`
}

type SetMilestoneStatusRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Status   string `json:"status"`
}

func jobViews(jobs []store.IngestionJobRecord) []JobStatusView {
	out := make([]JobStatusView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobStatusView{
			Kind:        j.Kind,
			State:       j.State,
			Attempts:    j.Attempts,
			Error:       j.Error,
			CompletedAt: j.CompletedAt,
		})
	}
	return out
}

func milestoneViews(ms []store.MilestoneRecord) []MilestoneView {
	out := make([]MilestoneView, 0, len(ms))
	for _, m := range ms {
		out = append(out, MilestoneView{
			ID:             m.ID,
			Name:           m.Name,
			Status:         m.Status,
			PlannedDate:    m.PlannedDate,
			CompletionDate: m.CompletionDate,
		})
	}
	return out
}

func customerStatusResponse(rec store.CustomerRecord, ms []store.MilestoneRecord) CustomerStatusResponse {
	return CustomerStatusResponse{
		CustomerID:    rec.ID,
		Name:          rec.Name,
		CurrentStage:  rec.CurrentStage,
		StageOrder:    journey.StageIndex(rec.CurrentStage),
		StatusSummary: rec.StatusSummary,
		LastUpdated:   rec.LastUpdated,
		Milestones:    milestoneViews(ms),
	}
}
