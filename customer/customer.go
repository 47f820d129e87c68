package customer

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Role is what a caller is allowed to do. Operators may move bikes between
// stations and toggle docks; riders may not.
type Role string

const (
	RoleRider    Role = "rider"
	RoleOperator Role = "operator"
)

type Customer struct {
	ID       uuid.UUID
	Auth0ID  string         `db:"auth0_id"`
	StripeID sql.NullString `db:"stripe_id"`
	Email    sql.NullString `db:"email"`
	Name     sql.NullString `db:"name"`
	Role     Role           `db:"role"`
	// PushToken is the rider's serialized web-push subscription, handed to
	// the notifier as the delivery address.
	PushToken sql.NullString `db:"push_token"`
	CreatedAt time.Time      `db:"created_at"`
}
