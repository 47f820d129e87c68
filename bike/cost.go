package bike

import "time"

// Plan is a pricing plan. All amounts are in cents.
type Plan struct {
	Name string `json:"name"`

	// PedalBase is the flat charge for a pedal-bike trip.
	PedalBase int64 `json:"pedalBase"`
	// PedalOvertimeRate is charged per minute past the pedal threshold.
	PedalOvertimeRate int64 `json:"pedalOvertimeRate"`

	ElectricBase int64 `json:"electricBase"`
	// ElectricPerMinute is charged per elapsed minute of an e-bike trip.
	ElectricPerMinute int64 `json:"electricPerMinute"`
	// ElectricOvertimeRate is charged per minute past the e-bike threshold,
	// on top of the per-minute rate.
	ElectricOvertimeRate int64 `json:"electricOvertimeRate"`
}

// StandardPlan is the default tariff.
var StandardPlan = Plan{
	Name:                 "standard",
	PedalBase:            100,
	PedalOvertimeRate:    15,
	ElectricBase:         150,
	ElectricPerMinute:    15,
	ElectricOvertimeRate: 30,
}

// Cost is the breakdown of a trip charge, in cents.
type Cost struct {
	Minutes         int   `json:"minutes"`
	OvertimeMinutes int   `json:"overtimeMinutes"`
	Base            int64 `json:"base"`
	TimeCharge      int64 `json:"timeCharge"`
	Overtime        int64 `json:"overtime"`
	Total           int64 `json:"total"`
}

// ComputeCost prices the current trip (elapsed so far) or the trip that just
// completed. Outside those two windows it returns ErrNotApplicable.
func (b *Bicycle) ComputeCost(plan Plan, now time.Time) (Cost, error) {
	start, end, ok := b.tripWindow()
	if !ok {
		return Cost{}, ErrNotApplicable
	}
	if end.IsZero() {
		end = now
	}
	return CostFor(b.Type, plan, end.Sub(start)), nil
}

// CostFor prices an elapsed trip duration directly. Callers that know the
// trip window (or its length so far) can price it without holding the bike.
func CostFor(t Type, plan Plan, elapsed time.Duration) Cost {
	// Partial minutes round up, same as the billing line items.
	minutes := int((elapsed + time.Minute - 1) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}

	threshold := int(t.OvertimeThreshold() / time.Minute)
	over := minutes - threshold
	if over < 0 {
		over = 0
	}

	c := Cost{Minutes: minutes, OvertimeMinutes: over}
	switch t {
	case Electric:
		c.Base = plan.ElectricBase
		c.TimeCharge = int64(minutes) * plan.ElectricPerMinute
		c.Overtime = int64(over) * plan.ElectricOvertimeRate
	default:
		c.Base = plan.PedalBase
		c.Overtime = int64(over) * plan.PedalOvertimeRate
	}
	c.Total = c.Base + c.TimeCharge + c.Overtime
	return c
}
