package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/dockingengine-backend/bike"
	"github.com/semanticallynull/dockingengine-backend/station"
)

type stationResponse struct {
	ID                uuid.UUID      `json:"id"`
	Name              string         `json:"name"`
	Address           string         `json:"address"`
	Lat               float64        `json:"latitude"`
	Lng               float64        `json:"longitude"`
	Status            string         `json:"status"`
	Capacity          int            `json:"capacity"`
	FreeDocks         int            `json:"freeDocks"`
	OccupiedDocks     int            `json:"occupiedDocks"`
	ReservationActive bool           `json:"reservationActive"`
	Docks             []dockResponse `json:"docks,omitempty"`
}

type dockResponse struct {
	ID     uuid.UUID     `json:"id"`
	Status string        `json:"status"`
	Bike   *bikeResponse `json:"bike,omitempty"`
}

type bikeResponse struct {
	ID     uuid.UUID `json:"id"`
	Label  string    `json:"label"`
	Type   bike.Type `json:"type"`
	Status string    `json:"status"`
}

func toStationResponse(s *station.DockingStation, withDocks bool) stationResponse {
	resp := stationResponse{
		ID:                s.ID,
		Name:              s.Name,
		Address:           s.Address,
		Lat:               s.Location.P.X,
		Lng:               s.Location.P.Y,
		Status:            s.Status().String(),
		Capacity:          s.Capacity(),
		FreeDocks:         s.FreeDocks(),
		OccupiedDocks:     s.OccupiedDocks(),
		ReservationActive: s.ReservationActive(),
	}
	if !withDocks {
		return resp
	}
	for _, d := range s.Docks() {
		dr := dockResponse{ID: d.ID, Status: d.Status.String()}
		if d.Bike != nil {
			dr.Bike = &bikeResponse{
				ID:     d.Bike.ID,
				Label:  d.Bike.Label,
				Type:   d.Bike.Type,
				Status: d.Bike.Status.String(),
			}
		}
		resp.Docks = append(resp.Docks, dr)
	}
	return resp
}

func (a *API) stationsHandler(c *gin.Context) {
	stations := a.reg.All()
	responses := make([]stationResponse, 0, len(stations))
	for _, s := range stations {
		responses = append(responses, toStationResponse(s, false))
	}
	c.JSON(http.StatusOK, responses)
}

func (a *API) stationHandler(c *gin.Context) {
	s, ok := a.station(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toStationResponse(s, true))
}

// station resolves the :id path param to a live aggregate, writing the
// error response itself when it cannot.
func (a *API) station(c *gin.Context) (*station.DockingStation, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid station id"})
		return nil, false
	}
	s, ok := a.reg.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "STATION_NOT_FOUND", "message": "Station not found"})
		return nil, false
	}
	return s, true
}
