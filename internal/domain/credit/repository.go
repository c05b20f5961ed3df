package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

const creditColumns = `
	id, user_id, amount, currency, status, source_type, source_reason,
	original_booking_id, original_payment_id, expires_at, reserved_at,
	used_at, used_booking_id, used_payment_id, metadata, created_at, updated_at`

// UpdatePatch carries the full post-transition values of the mutable
// columns. Amount and provenance columns are write-once and never patched.
type UpdatePatch struct {
	Status        Status
	ReservedAt    sql.NullTime
	UsedAt        sql.NullTime
	UsedBookingID sql.NullString
	UsedPaymentID sql.NullString
	Metadata      Metadata
}

// Repository defines credit data access. ConditionalUpdate is the only
// mutation primitive for existing rows.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Credit, error)
	Insert(ctx context.Context, c *Credit) error
	ListByUser(ctx context.Context, userID uuid.UUID, status Status) ([]Credit, error)
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expected []Status, patch UpdatePatch) (*Credit, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*UserCreditBalance, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the credit repository.
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Credit, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c Credit
	err := r.db.GetContext(ctx2, &c, `SELECT `+creditColumns+` FROM credits WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get credit: %v", ErrStorage, err)
	}
	return &c, nil
}

func (r *repository) Insert(ctx context.Context, c *Credit) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO credits (
			id, user_id, amount, currency, status, source_type, source_reason,
			original_booking_id, original_payment_id, expires_at, metadata,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		c.ID, c.UserID, c.Amount, c.Currency, c.Status, c.SourceType,
		c.SourceReason, c.OriginalBookingID, c.OriginalPaymentID,
		c.ExpiresAt, c.Metadata, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("%w: insert credit: %v", ErrStorage, err)
	}
	return nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, status Status) ([]Credit, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + creditColumns + ` FROM credits WHERE user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	credits := make([]Credit, 0)
	if err := r.db.SelectContext(ctx2, &credits, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list credits: %v", ErrStorage, err)
	}
	return credits, nil
}

// ConditionalUpdate applies the patch in a single atomic statement whose
// predicate re-checks the expected prior status set. Zero affected rows is
// a conflict, never retried here: the row either moved under us or is gone,
// and both outcomes block the caller's transition identically.
func (r *repository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected []Status, patch UpdatePatch) (*Credit, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	statuses := make([]string, len(expected))
	for i, s := range expected {
		statuses[i] = string(s)
	}

	var c Credit
	err := r.db.GetContext(ctx2, &c, `
		UPDATE credits SET
			status = $2,
			reserved_at = $3,
			used_at = $4,
			used_booking_id = $5,
			used_payment_id = $6,
			metadata = $7,
			updated_at = now()
		WHERE id = $1 AND status = ANY($8)
		RETURNING `+creditColumns,
		id, patch.Status, patch.ReservedAt, patch.UsedAt,
		patch.UsedBookingID, patch.UsedPaymentID, patch.Metadata,
		pq.Array(statuses),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: conditional update: %v", ErrStorage, err)
	}
	return &c, nil
}

func (r *repository) GetBalance(ctx context.Context, userID uuid.UUID) (*UserCreditBalance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var b UserCreditBalance
	err := r.db.GetContext(ctx2, &b, `
		SELECT user_id, available_amount, reserved_amount, used_amount, expired_amount, updated_at
		FROM user_credit_balances
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &UserCreditBalance{UserID: userID, UpdatedAt: time.Now()}, nil
		}
		return nil, fmt.Errorf("%w: get balance: %v", ErrStorage, err)
	}
	return &b, nil
}
