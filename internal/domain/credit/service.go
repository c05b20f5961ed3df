package credit

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Caller is the authorization context resolved once at the entry point and
// threaded into every state-machine call. A zero ID means no identity was
// resolved; Privileged callers are exempt from ownership and token checks.
type Caller struct {
	ID         uuid.UUID
	Privileged bool
}

func (c Caller) Authenticated() bool { return c.ID != uuid.Nil }

func (c Caller) String() string {
	if !c.Authenticated() {
		if c.Privileged {
			return "service"
		}
		return "anonymous"
	}
	return c.ID.String()
}

// CreateParams are the inputs for minting a credit.
type CreateParams struct {
	UserID            uuid.UUID
	Amount            float64
	Currency          string
	SourceType        string
	SourceReason      string
	OriginalBookingID string
	OriginalPaymentID string
	ExpiresAt         *time.Time
	Metadata          Metadata
}

// ReserveParams are the inputs for placing a reservation.
type ReserveParams struct {
	Token     string
	Note      string
	ExpiresAt *time.Time
}

// ConsumeParams are the inputs for consuming a credit.
type ConsumeParams struct {
	Token         string
	UsedBookingID string
	UsedPaymentID string
	Note          string
}

// Service enforces the credit lifecycle:
// available -> reserved -> available (release),
// available -> reserved -> used (consume), and
// available -> used (privileged direct consume). "used" is terminal.
type Service struct {
	repo  Repository
	cache *BalanceCache
}

func NewService(repo Repository, cache *BalanceCache) *Service {
	return &Service{repo: repo, cache: cache}
}

// List returns the target user's credits newest first, plus the aggregated
// balance. Owner-scoped callers are pinned to their own credits; privileged
// callers may target any user.
func (s *Service) List(ctx context.Context, caller Caller, targetUserID uuid.UUID, status Status) ([]Credit, *UserCreditBalance, error) {
	switch status {
	case "", StatusAvailable, StatusReserved, StatusUsed:
	default:
		return nil, nil, ErrInvalidStatus
	}

	owner := caller.ID
	if targetUserID != uuid.Nil && targetUserID != caller.ID {
		if !caller.Privileged {
			return nil, nil, ErrNotOwner
		}
		owner = targetUserID
	}
	if owner == uuid.Nil {
		return nil, nil, ErrUnauthenticated
	}

	credits, err := s.repo.ListByUser(ctx, owner, status)
	if err != nil {
		return nil, nil, err
	}

	balance, err := s.Balance(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	return credits, balance, nil
}

// Balance returns the externally-aggregated balance for a user, served from
// the cache when warm.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (*UserCreditBalance, error) {
	if cached := s.cache.Get(ctx, userID); cached != nil {
		return cached, nil
	}
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, balance)
	return balance, nil
}

// Create mints a credit with status available. Privileged-only.
func (s *Service) Create(ctx context.Context, caller Caller, p CreateParams) (*Credit, error) {
	if !caller.Privileged {
		return nil, ErrNotPrivileged
	}
	if p.UserID == uuid.Nil {
		return nil, ErrNotFound
	}
	if p.Amount <= 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(p.SourceType) == "" {
		return nil, ErrMissingSource
	}

	now := time.Now()
	c := &Credit{
		ID:                uuid.New(),
		UserID:            p.UserID,
		Amount:            p.Amount,
		Currency:          nullString(p.Currency),
		Status:            StatusAvailable,
		SourceType:        strings.TrimSpace(p.SourceType),
		SourceReason:      nullString(p.SourceReason),
		OriginalBookingID: nullString(p.OriginalBookingID),
		OriginalPaymentID: nullString(p.OriginalPaymentID),
		ExpiresAt:         nullTime(p.ExpiresAt),
		Metadata:          p.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if c.Metadata == nil {
		c.Metadata = Metadata{}
	}

	if err := s.repo.Insert(ctx, c); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, c.UserID)

	log.Info().
		Str("action", "create").
		Str("credit_id", c.ID.String()).
		Str("user_id", c.UserID.String()).
		Str("caller", caller.String()).
		Float64("amount", c.Amount).
		Str("source_type", c.SourceType).
		Msg("credit minted")
	return c, nil
}

// Reserve moves an available credit to reserved and stores the caller's
// reservation token in the metadata bag. The conditional update re-checks
// status = available so a raced second reserve loses with a conflict.
func (s *Service) Reserve(ctx context.Context, caller Caller, creditID uuid.UUID, p ReserveParams) (*Credit, error) {
	if strings.TrimSpace(p.Token) == "" {
		return nil, ErrMissingToken
	}
	if !caller.Authenticated() && !caller.Privileged {
		return nil, ErrUnauthenticated
	}

	c, err := s.repo.GetByID(ctx, creditID)
	if err != nil {
		return nil, err
	}
	if !caller.Privileged && c.UserID != caller.ID {
		return nil, ErrNotOwner
	}
	if c.Status != StatusAvailable {
		return nil, ErrConflict
	}

	md := c.Metadata.Clone()
	md[MetaReservationToken] = p.Token
	md[MetaReservedBy] = caller.String()
	if p.Note != "" {
		md[MetaReservationNote] = p.Note
	}
	if p.ExpiresAt != nil {
		md[MetaReservationExpiresAt] = p.ExpiresAt.UTC().Format(time.RFC3339)
	}

	updated, err := s.repo.ConditionalUpdate(ctx, creditID, []Status{StatusAvailable}, UpdatePatch{
		Status:        StatusReserved,
		ReservedAt:    sql.NullTime{Time: time.Now(), Valid: true},
		UsedAt:        c.UsedAt,
		UsedBookingID: c.UsedBookingID,
		UsedPaymentID: c.UsedPaymentID,
		Metadata:      md,
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, updated.UserID)

	log.Info().
		Str("action", "reserve").
		Str("credit_id", creditID.String()).
		Str("caller", caller.String()).
		Msg("credit reserved")
	return updated, nil
}

// Release returns a reserved credit to available and strips the reservation
// bookkeeping. When a token is supplied by a non-privileged caller it must
// match the one stored at reservation time.
func (s *Service) Release(ctx context.Context, caller Caller, creditID uuid.UUID, token string) (*Credit, error) {
	if !caller.Authenticated() && !caller.Privileged {
		return nil, ErrUnauthenticated
	}

	c, err := s.repo.GetByID(ctx, creditID)
	if err != nil {
		return nil, err
	}
	if !caller.Privileged && c.UserID != caller.ID {
		return nil, ErrNotOwner
	}
	if c.Status != StatusReserved {
		return nil, ErrConflict
	}
	if token != "" && !caller.Privileged && token != c.ReservationToken() {
		return nil, ErrTokenMismatch
	}

	updated, err := s.repo.ConditionalUpdate(ctx, creditID, []Status{StatusReserved}, UpdatePatch{
		Status:        StatusAvailable,
		ReservedAt:    sql.NullTime{},
		UsedAt:        c.UsedAt,
		UsedBookingID: c.UsedBookingID,
		UsedPaymentID: c.UsedPaymentID,
		Metadata:      stripReservation(c.Metadata),
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, updated.UserID)

	log.Info().
		Str("action", "release").
		Str("credit_id", creditID.String()).
		Str("caller", caller.String()).
		Msg("reservation released")
	return updated, nil
}

// Consume marks a credit used, the terminal state. Owner mode requires a
// reserved credit, a matching token and a booking id; privileged mode may
// consume an available or reserved credit with neither.
func (s *Service) Consume(ctx context.Context, caller Caller, creditID uuid.UUID, p ConsumeParams) (*Credit, error) {
	c, err := s.repo.GetByID(ctx, creditID)
	if err != nil {
		return nil, err
	}

	expected := []Status{StatusAvailable, StatusReserved}
	if !caller.Privileged {
		if !caller.Authenticated() {
			return nil, ErrUnauthenticated
		}
		if c.UserID != caller.ID {
			return nil, ErrNotOwner
		}
		if c.Status != StatusReserved {
			return nil, ErrConflict
		}
		if strings.TrimSpace(p.Token) == "" {
			return nil, ErrMissingToken
		}
		if p.Token != c.ReservationToken() {
			return nil, ErrTokenMismatch
		}
		if strings.TrimSpace(p.UsedBookingID) == "" {
			return nil, ErrMissingBookingID
		}
		expected = []Status{StatusReserved}
	} else if c.Status == StatusUsed {
		return nil, ErrConflict
	}

	md := stripReservation(c.Metadata)
	if p.Note != "" {
		md[MetaConsumptionNote] = p.Note
	}

	patch := UpdatePatch{
		Status:     StatusUsed,
		ReservedAt: sql.NullTime{},
		UsedAt:     sql.NullTime{Time: time.Now(), Valid: true},
		Metadata:   md,
	}
	if p.UsedBookingID != "" {
		patch.UsedBookingID = nullString(p.UsedBookingID)
	} else {
		patch.UsedBookingID = c.UsedBookingID
	}
	if p.UsedPaymentID != "" {
		patch.UsedPaymentID = nullString(p.UsedPaymentID)
	} else {
		patch.UsedPaymentID = c.UsedPaymentID
	}

	updated, err := s.repo.ConditionalUpdate(ctx, creditID, expected, patch)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, updated.UserID)

	log.Info().
		Str("action", "consume").
		Str("credit_id", creditID.String()).
		Str("caller", caller.String()).
		Bool("privileged", caller.Privileged).
		Str("used_booking_id", p.UsedBookingID).
		Msg("credit consumed")
	return updated, nil
}

func stripReservation(md Metadata) Metadata {
	out := md.Clone()
	delete(out, MetaReservationToken)
	delete(out, MetaReservedBy)
	delete(out, MetaReservationNote)
	delete(out, MetaReservationExpiresAt)
	return out
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
