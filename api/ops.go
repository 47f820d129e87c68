package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	stripecustomer "github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"

	"github.com/semanticallynull/dockingengine-backend/bike"
	"github.com/semanticallynull/dockingengine-backend/customer"
	"github.com/semanticallynull/dockingengine-backend/internal/middleware"
	"github.com/semanticallynull/dockingengine-backend/station"
)

func callerFor(cust *customer.Customer) station.Caller {
	caller := station.Caller{ID: cust.ID}
	if cust.PushToken.Valid {
		caller.Token = cust.PushToken.String
	}
	return caller
}

type reserveRequest struct {
	BikeLabel string `json:"bikeLabel"`
}

func (a *API) reserveHandler(c *gin.Context) {
	s, ok := a.station(c)
	if !ok {
		return
	}
	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	// Body is optional; no bikeLabel means "hold any available bike".
	var req reserveRequest
	_ = c.ShouldBindJSON(&req)

	var bikeID *uuid.UUID
	if req.BikeLabel != "" {
		id, found := s.BikeIDByLabel(req.BikeLabel)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found at this station"})
			return
		}
		bikeID = &id
	}

	if err := s.ReserveBike(bikeID, callerFor(cust)); err != nil {
		respondOpError(c, err)
		return
	}
	a.persist(c, s)
	c.JSON(http.StatusCreated, toStationResponse(s, false))
}

func (a *API) cancelReservationHandler(c *gin.Context) {
	s, ok := a.station(c)
	if !ok {
		return
	}
	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	if err := s.CancelReservation(callerFor(cust)); err != nil {
		respondOpError(c, err)
		return
	}
	a.persist(c, s)
	c.JSON(http.StatusOK, toStationResponse(s, false))
}

type checkoutRequest struct {
	BikeLabel       string `json:"bikeLabel" binding:"required"`
	FromReservation bool   `json:"fromReservation"`
}

func (a *API) checkoutHandler(c *gin.Context) {
	s, ok := a.station(c)
	if !ok {
		return
	}
	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	bikeID, found := s.BikeIDByLabel(req.BikeLabel)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found at this station"})
		return
	}

	b, err := s.TakeBike(bikeID, req.FromReservation, callerFor(cust))
	if err != nil {
		respondOpError(c, err)
		return
	}
	a.reg.TrackTrip(b)
	a.persist(c, s)

	c.JSON(http.StatusOK, bikeResponse{
		ID:     b.ID,
		Label:  b.Label,
		Type:   b.Type,
		Status: b.Status.String(),
	})
}

type returnRequest struct {
	BikeLabel string `json:"bikeLabel" binding:"required"`
	DockID    string `json:"dockId"`
}

func (a *API) returnHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	s, ok := a.station(c)
	if !ok {
		return
	}
	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	b, found := a.reg.TripByLabel(req.BikeLabel)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "No trip in progress for this bike"})
		return
	}

	var dockID *uuid.UUID
	if req.DockID != "" {
		id, err := uuid.Parse(req.DockID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid dockId"})
			return
		}
		dockID = &id
	}

	if err := s.ReturnBike(b, dockID, callerFor(cust)); err != nil {
		respondOpError(c, err)
		return
	}
	a.reg.EndTrip(b.ID)
	a.persist(c, s)

	cost, err := b.ComputeCost(bike.StandardPlan, time.Now())
	if err != nil {
		logger.Error("Failed to price completed trip", "bike", b.Label, "error", err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	go a.invoiceTrip(logger, cust, b.Label, cost)

	c.JSON(http.StatusOK, cost)
}

// invoiceTrip bills a completed trip, creating the stripe customer on first
// billing. Runs off the request goroutine; a billing failure never fails the
// return.
func (a *API) invoiceTrip(logger *slog.Logger, cust *customer.Customer, label string, cost bike.Cost) {
	stripeID := cust.StripeID.String
	if !cust.StripeID.Valid {
		params := &stripe.CustomerParams{}
		if cust.Email.Valid {
			params.Email = stripe.String(cust.Email.String)
		}
		if cust.Name.Valid {
			params.Name = stripe.String(cust.Name.String)
		}
		sc, err := stripecustomer.New(params)
		if err != nil {
			logger.Error("Failed to create stripe customer", "error", err)
			return
		}
		stripeID = sc.ID
		if err := a.cr.AddStripeIDToCustomer(cust.Auth0ID, stripeID); err != nil {
			logger.Error("Failed to save stripe customer ID", "error", err)
		}
	}

	inParams := &stripe.InvoiceParams{
		Customer: stripe.String(stripeID),
	}
	in, err := invoice.New(inParams)
	if err != nil {
		logger.Error("Failed to create invoice", "error", err)
		return
	}

	lines := []*stripe.InvoiceAddLinesLineParams{
		{
			Amount:      stripe.Int64(cost.Base),
			Description: stripe.String(fmt.Sprintf("Trip on %s - base", label)),
		},
	}
	if cost.TimeCharge > 0 {
		lines = append(lines, &stripe.InvoiceAddLinesLineParams{
			Amount:      stripe.Int64(cost.TimeCharge),
			Description: stripe.String(fmt.Sprintf("Trip on %s - %d minutes", label, cost.Minutes)),
		})
	}
	if cost.Overtime > 0 {
		lines = append(lines, &stripe.InvoiceAddLinesLineParams{
			Amount:      stripe.Int64(cost.Overtime),
			Description: stripe.String(fmt.Sprintf("Trip on %s - %d minutes overtime", label, cost.OvertimeMinutes)),
		})
	}

	_, err = invoice.AddLines(in.ID, &stripe.InvoiceAddLinesParams{Lines: lines})
	if err != nil {
		logger.Error("Failed to add lines to invoice", "error", err)
		return
	}

	_, err = invoice.FinalizeInvoice(in.ID, &stripe.InvoiceFinalizeInvoiceParams{})
	if err != nil {
		logger.Error("Failed to finalize invoice", "error", err)
		return
	}
	if _, err = invoice.Pay(in.ID, nil); err != nil {
		logger.Error("Failed to pay invoice", "error", err)
	}
}

func (a *API) dockOutOfServiceHandler(c *gin.Context) {
	a.toggleDock(c, (*station.DockingStation).SetDockOutOfService)
}

func (a *API) dockRestoreHandler(c *gin.Context) {
	a.toggleDock(c, (*station.DockingStation).RestoreDock)
}

func (a *API) toggleDock(c *gin.Context, op func(*station.DockingStation, uuid.UUID) (bool, error)) {
	s, ok := a.station(c)
	if !ok {
		return
	}
	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	isOp, err := a.roles.IsOperator(c, cust.ID)
	if err != nil {
		middleware.GetLogger(c).Error("Failed to resolve role", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !isOp {
		c.JSON(http.StatusForbidden, gin.H{"code": "NOT_AUTHORIZED", "message": "Operator role required"})
		return
	}

	dockID, err := uuid.Parse(c.Param("dockId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid dockId"})
		return
	}

	changed, err := op(s, dockID)
	if err != nil {
		respondOpError(c, err)
		return
	}
	if changed {
		a.persist(c, s)
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed, "station": toStationResponse(s, true)})
}

// respondOpError maps domain outcomes onto HTTP codes.
func respondOpError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, station.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": err.Error()})
	case errors.Is(err, station.ErrRejected):
		c.JSON(http.StatusConflict, gin.H{"code": "REJECTED", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
