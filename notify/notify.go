// Package notify holds the push-notification contract the domain core
// depends on, plus the web-push delivery implementation.
package notify

import (
	"context"
	"fmt"
)

// Message is one notification. Token is the rider's delivery address (a
// serialized push subscription); it may be empty, in which case delivery
// implementations drop the message.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Token string `json:"-"`
}

// Notifier delivers a message. Implementations must be safe for concurrent
// use; the domain core calls Send without holding any station lock.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// OvertimeApproaching warns the rider minutes before the free-ride window
// closes.
func OvertimeApproaching(bikeLabel string, minutes int, token string) Message {
	return Message{
		Title: "Overtime approaching",
		Body:  fmt.Sprintf("Your trip on %s reaches overtime in %d minutes.", bikeLabel, minutes),
		Token: token,
	}
}

// OvertimeStarted tells the rider the surcharge is now accruing.
func OvertimeStarted(bikeLabel string, token string) Message {
	return Message{
		Title: "Overtime started",
		Body:  fmt.Sprintf("Your trip on %s is now in overtime and a surcharge applies.", bikeLabel),
		Token: token,
	}
}

// OvertimeAccruing carries the overtime cost accrued so far, in cents.
func OvertimeAccruing(bikeLabel string, overtimeCents int64, token string) Message {
	return Message{
		Title: "Overtime charge accruing",
		Body: fmt.Sprintf("Your trip on %s has accrued %d.%02d in overtime charges so far.",
			bikeLabel, overtimeCents/100, overtimeCents%100),
		Token: token,
	}
}

// ReservationExpiring warns the rider a hold is about to lapse. minutes == 0
// means it already has.
func ReservationExpiring(stationName string, minutes int, token string) Message {
	if minutes <= 0 {
		return Message{
			Title: "Reservation expired",
			Body:  fmt.Sprintf("Your reservation at %s has expired.", stationName),
			Token: token,
		}
	}
	return Message{
		Title: "Reservation expiring",
		Body:  fmt.Sprintf("Your reservation at %s expires in %d minutes.", stationName, minutes),
		Token: token,
	}
}

// TripEnded confirms a successful return.
func TripEnded(stationName string, token string) Message {
	return Message{
		Title: "Trip ended",
		Body:  fmt.Sprintf("Your bike was returned at %s. Thanks for riding!", stationName),
		Token: token,
	}
}
