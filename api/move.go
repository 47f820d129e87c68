package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/dockingengine-backend/internal/middleware"
	"github.com/semanticallynull/dockingengine-backend/station"
)

type moveRequest struct {
	BikeLabel     string `json:"bikeLabel" binding:"required"`
	FromStationID string `json:"fromStationId" binding:"required"`
	ToStationID   string `json:"toStationId" binding:"required"`
	DockID        string `json:"dockId"`
}

func (a *API) moveHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cust, ok := a.currentCustomer(c)
	if !ok {
		return
	}

	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	srcID, err := uuid.Parse(req.FromStationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid fromStationId"})
		return
	}
	dstID, err := uuid.Parse(req.ToStationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid toStationId"})
		return
	}

	src, ok := a.reg.Get(srcID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "STATION_NOT_FOUND", "message": "Source station not found"})
		return
	}
	dst, ok := a.reg.Get(dstID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "STATION_NOT_FOUND", "message": "Destination station not found"})
		return
	}

	bikeID, found := src.BikeIDByLabel(req.BikeLabel)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found at source station"})
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

	result, err := a.mover.Move(c, cust.ID, bikeID, src, dst, dockID)
	switch result {
	case station.MoveSuccess:
		a.persist(c, src)
		a.persist(c, dst)
		c.JSON(http.StatusOK, gin.H{
			"result": result.String(),
			"from":   toStationResponse(src, false),
			"to":     toStationResponse(dst, false),
		})
	case station.MoveUnauthorized:
		c.JSON(http.StatusForbidden, gin.H{"code": "NOT_AUTHORIZED", "message": "Operator role required"})
	case station.MovePartialFailure:
		// The bike is in neither station until someone reconciles it; the
		// caller has to know that, loudly.
		logger.Error("Move left bike stranded", "bike", req.BikeLabel, "error", err)
		a.persist(c, src)
		resp := gin.H{"code": "PARTIAL_FAILURE", "message": err.Error()}
		if b, ok := station.StrandedBikeFromError(err); ok {
			a.reg.TrackTrip(b)
			resp["bikeLabel"] = b.Label
		}
		c.JSON(http.StatusConflict, resp)
	default:
		respondOpError(c, err)
	}
}
