package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CloudBridgeTechnologies/cloudable/internal/ingest"
)

// UploadHandler is the write sink behind issued upload URLs. It is not
// behind the JWT middleware: the signed token in the query string is the
// sole credential, scoped to one storage key and one expiry.
type UploadHandler struct {
	Coordinator *ingest.Coordinator
}

func (h *UploadHandler) Register(g *echo.Group) {
	g.PUT("/upload", h.put)
}

func (h *UploadHandler) put(c echo.Context) error {
	key := c.QueryParam("key")
	token := c.QueryParam("token")
	if key == "" || token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key and token are required")
	}
	if err := h.Coordinator.AcceptUpload(c.Request().Context(), key, token, c.Request().Body); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
