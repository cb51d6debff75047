package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/guard"
	"github.com/CloudBridgeTechnologies/cloudable/internal/ingest"
	"github.com/CloudBridgeTechnologies/cloudable/internal/knowledge"
	"github.com/CloudBridgeTechnologies/cloudable/internal/rbac"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

type KnowledgeHandler struct {
	Guard        *guard.Guard
	Engine       *knowledge.Engine
	Coordinator  *ingest.Coordinator
	Store        *store.Store
	QueryTimeout time.Duration
}

func (h *KnowledgeHandler) Register(g *echo.Group) {
	g.POST("/query", h.query)
	g.POST("/upload-url", h.uploadURL)
	g.POST("/sync", h.sync)
	g.GET("/documents/:id", h.documentStatus)
}

func (h *KnowledgeHandler) query(c echo.Context) error {
	var req KBQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpQueryKnowledge)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if h.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.QueryTimeout)
		defer cancel()
	}
	var resp knowledge.Response
	if req.Keyword {
		resp, err = h.Engine.QueryKeyword(ctx, claim.Tenant.ID, req.Query, req.TopK)
	} else {
		resp, err = h.Engine.Query(ctx, claim.Tenant.ID, req.Query, req.TopK)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, KBQueryResponse{Results: resp.Results, NoContent: resp.NoContent})
}

func (h *KnowledgeHandler) uploadURL(c echo.Context) error {
	var req UploadURLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpIssueUploadURL)
	if err != nil {
		return err
	}
	grant, err := h.Coordinator.IssueUploadURL(c.Request().Context(), claim.Tenant.ID, req.Filename)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, UploadURLResponse{
		DocumentID: grant.DocumentID,
		StorageKey: grant.StorageKey,
		UploadURL:  grant.UploadURL,
		ExpiresAt:  grant.ExpiresAt,
	})
}

func (h *KnowledgeHandler) sync(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpTriggerIngestion)
	if err != nil {
		return err
	}
	status, err := h.Coordinator.Sync(c.Request().Context(), claim.Tenant.ID, req.StorageKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, documentStatusResponse(status))
}

func (h *KnowledgeHandler) documentStatus(c echo.Context) error {
	claim, err := authorize(c, h.Guard, "", rbac.OpQueryKnowledge)
	if err != nil {
		return err
	}
	status, err := h.Coordinator.Status(c.Request().Context(), claim.Tenant.ID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, documentStatusResponse(status))
}

func documentStatusResponse(status ingest.DocumentStatus) DocumentStatusResponse {
	return DocumentStatusResponse{
		DocumentID:    status.Document.ID,
		Filename:      status.Document.Filename,
		Lifecycle:     status.Lifecycle,
		SummaryStatus: status.Document.SummaryStatus,
		IndexStatus:   status.Document.IndexStatus,
		Jobs:          jobViews(status.Jobs),
	}
}

// SummaryHandler serves per-document summaries addressed by tenant and
// document id. The path tenant is one more claim to reconcile, not a grant.
type SummaryHandler struct {
	Guard *guard.Guard
	Store *store.Store
}

func (h *SummaryHandler) Register(g *echo.Group) {
	g.GET("/:tenant/:document", h.summary)
}

func (h *SummaryHandler) summary(c echo.Context) error {
	claim, err := authorize(c, h.Guard, c.Param("tenant"), rbac.OpQueryKnowledge)
	if err != nil {
		return err
	}
	rec, found, err := h.Store.GetSummary(c.Request().Context(), claim.Tenant.ID, c.Param("document"))
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "server.summary", err)
	}
	if !found {
		return fault.Newf(fault.KindNotFound, "server.summary", "no summary for document %s", c.Param("document"))
	}
	return c.JSON(http.StatusOK, SummaryResponse{
		DocumentID: rec.DocumentID,
		Summary:    rec.Summary,
		Model:      rec.Model,
		UpdatedAt:  rec.UpdatedAt,
	})
}
