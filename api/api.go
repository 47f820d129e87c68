package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semanticallynull/dockingengine-backend/customer"
	"github.com/semanticallynull/dockingengine-backend/internal/auth0"
	"github.com/semanticallynull/dockingengine-backend/internal/middleware"
	"github.com/semanticallynull/dockingengine-backend/internal/o11y"
	"github.com/semanticallynull/dockingengine-backend/station"
)

type API struct {
	r     *gin.Engine
	reg   *station.Registry
	sr    *station.Repository
	cr    *customer.Repository
	roles *customer.CachedRoles
	mover *station.Mover
	auth0 auth0.Client
	obs   *o11y.Observability
}

type Config struct {
	Auth0Domain     string
	Audience        string
	MetricsUsername string
	MetricsPassword string
}

func New(reg *station.Registry, sr *station.Repository, cr *customer.Repository,
	roles *customer.CachedRoles, a0 auth0.Client, obs *o11y.Observability, cfg Config) *API {

	a := &API{
		r:     gin.New(),
		reg:   reg,
		sr:    sr,
		cr:    cr,
		roles: roles,
		mover: station.NewMover(roles, obs.Logger),
		auth0: a0,
		obs:   obs,
	}

	a.r.Use(gin.Recovery())
	a.r.Use(middleware.Tracing())
	a.r.Use(middleware.Logging(obs.Logger))
	a.r.Use(middleware.Metrics(obs.Registry))
	a.r.Use(middleware.RateLimiter(20, 40))

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	a.r.GET("/metrics",
		gin.BasicAuth(gin.Accounts{cfg.MetricsUsername: cfg.MetricsPassword}),
		gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})))

	listingCache := cache.New(30*time.Second, time.Minute)
	a.r.GET("/stations", middleware.Cache(listingCache, 30*time.Second), a.stationsHandler)
	a.r.GET("/stations/:id", a.stationHandler)

	protected := a.r.Group("/")
	protected.Use(middleware.EnsureValidToken(cfg.Auth0Domain, cfg.Audience))
	{
		protected.POST("/stations/:id/reservations", a.reserveHandler)
		protected.DELETE("/stations/:id/reservations", a.cancelReservationHandler)
		protected.POST("/stations/:id/checkout", a.checkoutHandler)
		protected.POST("/stations/:id/return", a.returnHandler)
		protected.POST("/stations/:id/docks/:dockId/out-of-service", a.dockOutOfServiceHandler)
		protected.POST("/stations/:id/docks/:dockId/restore", a.dockRestoreHandler)
		protected.POST("/moves", a.moveHandler)
		protected.POST("/profile", a.updateProfileHandler)
		protected.POST("/push-subscriptions", a.pushSubscriptionHandler)
	}

	return a
}

func (a *API) Router() *gin.Engine {
	return a.r
}

// currentCustomer resolves the authenticated caller, creating the customer
// record on first sight.
func (a *API) currentCustomer(c *gin.Context) (*customer.Customer, bool) {
	logger := middleware.GetLogger(c)

	auth0ID, ok := middleware.GetAuth0ID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
		return nil, false
	}

	cust, err := a.cr.GetCustomerByAuth0ID(auth0ID)
	if err != nil {
		if !errors.Is(err, customer.ErrNotFound) {
			logger.Error("Failed to get customer", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return nil, false
		}
		cust, err = a.cr.CreateCustomer(auth0ID)
		if err != nil {
			logger.Error("Failed to save customer", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return nil, false
		}
	}
	return cust, true
}

// persist writes the station's snapshot after a successful mutation. A
// failed write is logged, not surfaced; the in-memory aggregate is the
// source of truth for the process lifetime.
func (a *API) persist(c *gin.Context, s *station.DockingStation) {
	if a.sr == nil {
		return
	}
	if err := a.sr.Save(c, s.Snapshot()); err != nil {
		middleware.GetLogger(c).Error("Failed to persist station snapshot",
			"station", s.Name, "error", err)
	}
}
