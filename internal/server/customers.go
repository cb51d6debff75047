package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CloudBridgeTechnologies/cloudable/internal/guard"
	"github.com/CloudBridgeTechnologies/cloudable/internal/journey"
	"github.com/CloudBridgeTechnologies/cloudable/internal/rbac"
)

type CustomerHandler struct {
	Guard    *guard.Guard
	Journeys *journey.Service
}

// RegisterStatus mounts the read-only status surface. The POST form takes
// the customer id in the body; the GET forms exist for direct linking.
func (h *CustomerHandler) RegisterStatus(g *echo.Group) {
	g.POST("", h.status)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

// Register mounts customer lifecycle mutations.
func (h *CustomerHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.PUT("/:id/stage", h.setStage)
	g.POST("/:id/milestones", h.addMilestone)
	g.PUT("/:id/milestones/:mid", h.setMilestoneStatus)
}

func (h *CustomerHandler) status(c echo.Context) error {
	var req CustomerStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpReadCustomerStatus)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if req.CustomerID != "" {
		view, err := h.Journeys.Customer(ctx, claim.Tenant.ID, req.CustomerID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, customerStatusResponse(view.Customer, view.Milestones))
	}
	customers, err := h.Journeys.List(ctx, claim.Tenant.ID)
	if err != nil {
		return err
	}
	out := make([]CustomerStatusResponse, 0, len(customers))
	for _, rec := range customers {
		out = append(out, customerStatusResponse(rec, nil))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CustomerHandler) list(c echo.Context) error {
	claim, err := authorize(c, h.Guard, "", rbac.OpReadCustomerStatus)
	if err != nil {
		return err
	}
	customers, err := h.Journeys.List(c.Request().Context(), claim.Tenant.ID)
	if err != nil {
		return err
	}
	out := make([]CustomerStatusResponse, 0, len(customers))
	for _, rec := range customers {
		out = append(out, customerStatusResponse(rec, nil))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CustomerHandler) get(c echo.Context) error {
	claim, err := authorize(c, h.Guard, "", rbac.OpReadCustomerStatus)
	if err != nil {
		return err
	}
	view, err := h.Journeys.Customer(c.Request().Context(), claim.Tenant.ID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, customerStatusResponse(view.Customer, view.Milestones))
}

func (h *CustomerHandler) create(c echo.Context) error {
	var req CreateCustomerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpMutateCustomerStatus)
	if err != nil {
		return err
	}
	rec, err := h.Journeys.Create(c.Request().Context(), claim.Tenant.ID, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, customerStatusResponse(rec, nil))
}

func (h *CustomerHandler) setStage(c echo.Context) error {
	var req SetStageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpMutateCustomerStatus)
	if err != nil {
		return err
	}
	view, err := h.Journeys.SetStage(c.Request().Context(), claim.Tenant.ID, c.Param("id"), req.Stage, req.StatusSummary)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, customerStatusResponse(view.Customer, view.Milestones))
}

func (h *CustomerHandler) addMilestone(c echo.Context) error {
	var req AddMilestoneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpMutateCustomerStatus)
	if err != nil {
		return err
	}
	rec, err := h.Journeys.AddMilestone(c.Request().Context(), claim.Tenant.ID, c.Param("id"), req.Name, req.PlannedDate)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, MilestoneView{
		ID:             rec.ID,
		Name:           rec.Name,
		Status:         rec.Status,
		PlannedDate:    rec.PlannedDate,
		CompletionDate: rec.CompletionDate,
	})
}

func (h *CustomerHandler) setMilestoneStatus(c echo.Context) error {
	var req SetMilestoneStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := authorize(c, h.Guard, req.TenantID, rbac.OpMutateCustomerStatus)
	if err != nil {
		return err
	}
	if err := h.Journeys.SetMilestoneStatus(c.Request().Context(), claim.Tenant.ID, c.Param("id"), c.Param("mid"), req.Status); err != nil {
		return err
	}
	view, err := h.Journeys.Customer(c.Request().Context(), claim.Tenant.ID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, customerStatusResponse(view.Customer, view.Milestones))
}
