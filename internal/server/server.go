// Package server wires the HTTP API: tenant-claim validation, RBAC, chat
// routing, knowledge queries, ingestion control and customer status.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/CloudBridgeTechnologies/cloudable/config"
	"github.com/CloudBridgeTechnologies/cloudable/internal/blob"
	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/guard"
	"github.com/CloudBridgeTechnologies/cloudable/internal/ingest"
	"github.com/CloudBridgeTechnologies/cloudable/internal/journey"
	"github.com/CloudBridgeTechnologies/cloudable/internal/knowledge"
	"github.com/CloudBridgeTechnologies/cloudable/internal/queue/streams"
	"github.com/CloudBridgeTechnologies/cloudable/internal/rbac"
	"github.com/CloudBridgeTechnologies/cloudable/internal/registry"
	"github.com/CloudBridgeTechnologies/cloudable/internal/router"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
	"github.com/CloudBridgeTechnologies/cloudable/provider"
)

// faultStatus maps the error taxonomy onto HTTP status codes. One kind,
// one status; handlers never pick codes themselves.
func faultStatus(kind fault.Kind) int {
	switch kind {
	case fault.KindUnknownTenant:
		return http.StatusNotFound
	case fault.KindTenantMismatch:
		return http.StatusBadRequest
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindUpstream:
		return http.StatusBadGateway
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Run builds every dependency and serves the API until the listener stops.
func Run(cfg *appconfig.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		kind := ""
		var fe *fault.Error
		if errors.As(err, &fe) {
			code = faultStatus(fe.Kind)
			kind = fe.Kind.String()
		} else if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg, Kind: kind})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization", "X-Tenant-ID"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	if err := cfg.Databases.Postgres.Validate(); err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, cfg.Databases.Postgres.DSN())
	if err != nil {
		return err
	}
	_ = Migrate("file://migrations", cfg.Databases.Postgres.DSN(), "up", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Databases.Redis.Addr(),
		Password: cfg.Databases.Redis.Pass,
		DB:       cfg.Databases.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
	}

	reg := registry.New(st, cfg.Registry.CacheTTL)
	gd := guard.New(reg)

	prov, err := provider.New(cfg.Providers)
	if err != nil {
		return err
	}

	blobs, err := blob.New(cfg.Storage.DataDir, []byte(cfg.Storage.SigningSecret), cfg.Storage.UploadURLTTL)
	if err != nil {
		return err
	}

	publisher := streams.NewPublisher(rdb)
	coordLogger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	coordinator := ingest.NewCoordinator(coordLogger, st, blobs, publisher, cfg.Ingestion.Stream, cfg.Storage.PublicBaseURL)

	keyword := knowledge.NewKeywordIndex()
	engine := knowledge.New(st, prov, keyword, cfg.Knowledge.MaxResults, cfg.Knowledge.MaxQueryChars)

	rt, err := router.New(cfg.Router.PersonalPatterns, cfg.Router.OrganizationalPatterns)
	if err != nil {
		return err
	}

	journeys := journey.NewService(log.New(log.Writer(), "[JOURNEY] ", log.LstdFlags), st)

	secret := cfg.General.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (general.jwt_secret)")
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Registry: reg, Secret: []byte(secret)}
	auth.Register(api.Group("/auth"))

	// The upload sink authenticates with the signed token, not a JWT.
	uh := &UploadHandler{Coordinator: coordinator}
	uh.Register(api.Group("/kb"))

	protect := func(g *echo.Group) {
		g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, []byte(secret), reg) })
	}

	kh := &KnowledgeHandler{
		Guard:        gd,
		Engine:       engine,
		Coordinator:  coordinator,
		Store:        st,
		QueryTimeout: cfg.Knowledge.QueryTimeout,
	}
	kb := api.Group("/kb")
	protect(kb)
	kh.Register(kb)

	sh := &SummaryHandler{Guard: gd, Store: st}
	sg := api.Group("/summary")
	protect(sg)
	sh.Register(sg)

	ch := &ChatHandler{
		Guard:    gd,
		Router:   rt,
		Engine:   engine,
		Journeys: journeys,
		Store:    st,
		Provider: prov,
	}
	chat := api.Group("/chat")
	protect(chat)
	ch.Register(chat)

	cust := &CustomerHandler{Guard: gd, Journeys: journeys}
	cg := api.Group("/customer-status")
	protect(cg)
	cust.RegisterStatus(cg)
	cc := api.Group("/customers")
	protect(cc)
	cust.Register(cc)

	reaper := &Reaper{
		Store:  st,
		Rdb:    rdb,
		Pub:    publisher,
		Stream: cfg.Ingestion.Stream,
		Cron:   cfg.Ingestion.ReaperCron,
		After:  cfg.Ingestion.StuckAfter,
		Stop:   make(chan struct{}),
	}
	reaper.Start()

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// authorize resolves the tenant claim, admits the caller and checks the
// RBAC matrix, in that order. Any failure stops the request before the
// handler body runs.
func authorize(c echo.Context, gd *guard.Guard, bodyTenant string, op rbac.Operation) (guard.Claim, error) {
	user, ok := currentUser(c)
	if !ok {
		return guard.Claim{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	claim, err := gd.Admit(c.Request().Context(), c.Request().Header.Get("X-Tenant-ID"), bodyTenant, user)
	if err != nil {
		return guard.Claim{}, err
	}
	if err := rbac.Authorize(rbac.Role(claim.User.Role), op); err != nil {
		return guard.Claim{}, err
	}
	return claim, nil
}
