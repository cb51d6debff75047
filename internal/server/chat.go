package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/guard"
	"github.com/CloudBridgeTechnologies/cloudable/internal/journey"
	"github.com/CloudBridgeTechnologies/cloudable/internal/knowledge"
	"github.com/CloudBridgeTechnologies/cloudable/internal/rbac"
	"github.com/CloudBridgeTechnologies/cloudable/internal/router"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
	"github.com/CloudBridgeTechnologies/cloudable/provider"
)

type ChatHandler struct {
	Guard    *guard.Guard
	Router   *router.Router
	Engine   *knowledge.Engine
	Journeys *journey.Service
	Store    *store.Store
	Provider provider.Provider
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("", h.chat)
}

// chat classifies the message and dispatches: personal questions read the
// caller's journey, everything else is answered from the tenant's knowledge
// base. Classification happens per message; the session carries no routing
// state.
func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpChat)
	if err != nil {
		return err
	}
	if req.Message == "" {
		return fault.New(fault.KindValidation, "server.chat", "message required")
	}
	ctx := c.Request().Context()

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := h.Store.CreateSession(ctx, store.SessionRecord{
			ID:       uuid.NewString(),
			TenantID: claim.Tenant.ID,
			UserID:   claim.User.ID,
			TraceID:  uuid.NewString(),
		})
		if err != nil {
			return fault.Wrap(fault.KindUpstream, "server.chat", err)
		}
		sessionID = sess.ID
	} else {
		// A supplied session must exist under this tenant; it grants nothing.
		if _, found, err := h.Store.GetSession(ctx, claim.Tenant.ID, sessionID); err != nil {
			return fault.Wrap(fault.KindUpstream, "server.chat", err)
		} else if !found {
			return fault.Newf(fault.KindNotFound, "server.chat", "session %s not found", sessionID)
		}
	}

	dest := h.Router.Classify(req.Message)
	if dest == router.DestJourney {
		reply, err := h.answerJourney(c, claim, req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, ChatResponse{Reply: reply, Route: string(dest), SessionID: sessionID})
	}

	resp, err := h.Engine.Query(ctx, claim.Tenant.ID, req.Message, 0)
	if err != nil {
		return err
	}
	if resp.NoContent {
		return c.JSON(http.StatusOK, ChatResponse{
			Reply:     "There is nothing in your organization's knowledge base yet.",
			Route:     string(dest),
			SessionID: sessionID,
		})
	}
	passages := make([]provider.Passage, 0, len(resp.Results))
	for _, r := range resp.Results {
		passages = append(passages, provider.Passage{Text: r.Text, Source: r.Source, Score: r.Score})
	}
	answer, err := h.Provider.Answer(ctx, req.Message, passages)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, "server.chat", err)
	}
	return c.JSON(http.StatusOK, ChatResponse{
		Reply:        answer,
		Route:        string(dest),
		SessionID:    sessionID,
		Attributions: resp.Results,
	})
}

// answerJourney narrates the customer's journey. Without a customer id the
// caller is told what to supply rather than guessing across the tenant.
func (h *ChatHandler) answerJourney(c echo.Context, claim guard.Claim, req ChatRequest) (string, error) {
	ctx := c.Request().Context()
	if req.CustomerID != "" {
		return h.Journeys.Narrate(ctx, claim.Tenant.ID, req.CustomerID)
	}
	customers, err := h.Journeys.List(ctx, claim.Tenant.ID)
	if err != nil {
		return "", err
	}
	if len(customers) == 1 {
		return h.Journeys.Narrate(ctx, claim.Tenant.ID, customers[0].ID)
	}
	return "Which customer are you asking about? Include a customer_id in your request.", nil
}
