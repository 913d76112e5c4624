package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// Constraint names from migrations/000001_create_payments.up.sql
const (
	constraintBookingUnique     = "payments_booking_id_key"
	constraintOwnerActiveUnique = "payments_owner_active_uq"
)

// uniqueConstraint returns the violated constraint name if err is a unique violation,
// for either driver (lib/pq or pgx).
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
