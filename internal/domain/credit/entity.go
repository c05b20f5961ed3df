package credit

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a credit.
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusUsed      Status = "used"
)

// Metadata keys used for in-flight reservation bookkeeping. They are added
// on reserve and must be stripped on release/consume so a later reservation
// can never be confused with a stale one.
const (
	MetaReservationToken     = "reservation_token"
	MetaReservedBy           = "reserved_by"
	MetaReservationNote      = "reservation_note"
	MetaReservationExpiresAt = "reservation_expires_at"
	MetaConsumptionNote      = "consumption_note"
)

// Metadata is the open key-value bag persisted as JSONB.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Clone returns a copy safe to mutate without touching the original.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Credit is a unit of monetary value owed back to a user. Amount is
// immutable after creation; a credit is consumed whole or not at all.
type Credit struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	UserID            uuid.UUID      `db:"user_id" json:"user_id"`
	Amount            float64        `db:"amount" json:"amount"`
	Currency          sql.NullString `db:"currency" json:"-"`
	Status            Status         `db:"status" json:"status"`
	SourceType        string         `db:"source_type" json:"source_type"`
	SourceReason      sql.NullString `db:"source_reason" json:"-"`
	OriginalBookingID sql.NullString `db:"original_booking_id" json:"-"`
	OriginalPaymentID sql.NullString `db:"original_payment_id" json:"-"`
	ExpiresAt         sql.NullTime   `db:"expires_at" json:"-"`
	ReservedAt        sql.NullTime   `db:"reserved_at" json:"-"`
	UsedAt            sql.NullTime   `db:"used_at" json:"-"`
	UsedBookingID     sql.NullString `db:"used_booking_id" json:"-"`
	UsedPaymentID     sql.NullString `db:"used_payment_id" json:"-"`
	Metadata          Metadata       `db:"metadata" json:"metadata"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// ReservationToken returns the token stored at reservation time, or "".
func (c *Credit) ReservationToken() string {
	if c.Metadata == nil {
		return ""
	}
	token, _ := c.Metadata[MetaReservationToken].(string)
	return token
}

// Reservation is the in-flight reservation attached to a reserved credit,
// derived from the metadata bag.
type Reservation struct {
	Token      string  `json:"token"`
	ReservedBy string  `json:"reserved_by"`
	Note       *string `json:"note,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
}

// Reservation returns the active reservation, or nil when the credit does
// not carry one.
func (c *Credit) Reservation() *Reservation {
	token := c.ReservationToken()
	if token == "" {
		return nil
	}
	res := &Reservation{Token: token}
	if by, ok := c.Metadata[MetaReservedBy].(string); ok {
		res.ReservedBy = by
	}
	if note, ok := c.Metadata[MetaReservationNote].(string); ok {
		res.Note = &note
	}
	if exp, ok := c.Metadata[MetaReservationExpiresAt].(string); ok {
		res.ExpiresAt = &exp
	}
	return res
}

// UserCreditBalance is the externally-maintained per-user aggregate. The
// credits core only ever reads it.
type UserCreditBalance struct {
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	AvailableAmount float64   `db:"available_amount" json:"available_amount"`
	ReservedAmount  float64   `db:"reserved_amount" json:"reserved_amount"`
	UsedAmount      float64   `db:"used_amount" json:"used_amount"`
	ExpiredAmount   float64   `db:"expired_amount" json:"expired_amount"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
