package customer

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

var ErrNotFound = errors.New("customer not found")

func (r *Repository) GetCustomerByAuth0ID(auth0ID string) (*Customer, error) {
	var customer Customer
	err := r.db.Get(&customer, getCustomerByAuth0IDQuery, auth0ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}
	return &customer, nil
}

const getCustomerByAuth0IDQuery = "SELECT * FROM customers WHERE auth0_id = $1"

func (r *Repository) CreateCustomer(auth0ID string) (*Customer, error) {
	var customer Customer
	err := r.db.Get(&customer, createCustomerQuery, uuid.New(), auth0ID, RoleRider)
	return &customer, err
}

const createCustomerQuery = "INSERT INTO customers (id, auth0_id, role) VALUES ($1, $2, $3) RETURNING *"

func (r *Repository) AddStripeIDToCustomer(auth0ID, stripeID string) error {
	_, err := r.db.Exec(addStripeIDToCustomerQuery, stripeID, auth0ID)
	return err
}

const addStripeIDToCustomerQuery = "UPDATE customers SET stripe_id = $1 WHERE auth0_id = $2"

func (r *Repository) UpdateProfile(ctx context.Context, auth0ID, email, name string) error {
	_, err := r.db.ExecContext(ctx, updateProfileQuery, email, name, auth0ID)
	return err
}

const updateProfileQuery = `UPDATE customers SET email = NULLIF($1, ''), name = NULLIF($2, '') WHERE auth0_id = $3`

// SetPushToken stores the rider's serialized push subscription.
func (r *Repository) SetPushToken(ctx context.Context, auth0ID, token string) error {
	_, err := r.db.ExecContext(ctx, setPushTokenQuery, token, auth0ID)
	return err
}

const setPushTokenQuery = `UPDATE customers SET push_token = NULLIF($1, '') WHERE auth0_id = $2`

// ClearPushToken drops a subscription the push endpoint reported expired.
// Keyed by the token itself: expiry is detected on the delivery path, where
// only the token is known.
func (r *Repository) ClearPushToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, clearPushTokenQuery, token)
	return err
}

const clearPushTokenQuery = `UPDATE customers SET push_token = NULL WHERE push_token = $1`

// RoleOf resolves a customer's role by ID.
func (r *Repository) RoleOf(ctx context.Context, id uuid.UUID) (Role, error) {
	var role Role
	err := r.db.GetContext(ctx, &role, roleOfQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return role, err
}

const roleOfQuery = `SELECT role FROM customers WHERE id = $1`
