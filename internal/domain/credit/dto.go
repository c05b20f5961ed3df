package credit

import (
	"time"
)

// Action discriminates dispatch requests. The set is closed; the dispatcher
// switches exhaustively and rejects anything else.
type Action string

const (
	ActionList    Action = "list"
	ActionCreate  Action = "create"
	ActionReserve Action = "reserve"
	ActionRelease Action = "release"
	ActionConsume Action = "consume"
)

// ListRequest filters the caller's credits. UserID is honored only for
// privileged callers.
type ListRequest struct {
	UserID string `json:"user_id,omitempty" validate:"omitempty,uuid"`
	Status string `json:"status,omitempty" validate:"omitempty,credit_status"`
}

// CreateRequest mints a credit for a user. Privileged-only.
type CreateRequest struct {
	UserID            string                 `json:"user_id" validate:"required,uuid"`
	Amount            float64                `json:"amount" validate:"required,gt=0"`
	Currency          string                 `json:"currency,omitempty" validate:"omitempty,len=3"`
	SourceType        string                 `json:"source_type" validate:"required,source_type"`
	SourceReason      string                 `json:"source_reason,omitempty"`
	OriginalBookingID string                 `json:"original_booking_id,omitempty"`
	OriginalPaymentID string                 `json:"original_payment_id,omitempty"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// ReserveRequest places a reservation on an available credit.
type ReserveRequest struct {
	CreditID             string     `json:"credit_id" validate:"required,uuid"`
	ReservationToken     string     `json:"reservation_token" validate:"required"`
	ReservationNote      string     `json:"reservation_note,omitempty"`
	ReservationExpiresAt *time.Time `json:"reservation_expires_at,omitempty"`
}

// ReleaseRequest returns a reserved credit to available.
type ReleaseRequest struct {
	CreditID         string `json:"credit_id" validate:"required,uuid"`
	ReservationToken string `json:"reservation_token,omitempty"`
}

// ConsumeRequest marks a credit used.
type ConsumeRequest struct {
	CreditID         string `json:"credit_id" validate:"required,uuid"`
	ReservationToken string `json:"reservation_token,omitempty"`
	UsedBookingID    string `json:"used_booking_id,omitempty"`
	UsedPaymentID    string `json:"used_payment_id,omitempty"`
	ConsumptionNote  string `json:"consumption_note,omitempty"`
}

// CreditResponse is the wire shape of a credit.
type CreditResponse struct {
	ID                string                 `json:"id"`
	UserID            string                 `json:"user_id"`
	Amount            float64                `json:"amount"`
	Currency          *string                `json:"currency,omitempty"`
	Status            string                 `json:"status"`
	SourceType        string                 `json:"source_type"`
	SourceReason      *string                `json:"source_reason,omitempty"`
	OriginalBookingID *string                `json:"original_booking_id,omitempty"`
	OriginalPaymentID *string                `json:"original_payment_id,omitempty"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`
	ReservedAt        *time.Time             `json:"reserved_at,omitempty"`
	UsedAt            *time.Time             `json:"used_at,omitempty"`
	UsedBookingID     *string                `json:"used_booking_id,omitempty"`
	UsedPaymentID     *string                `json:"used_payment_id,omitempty"`
	Metadata          map[string]interface{} `json:"metadata"`
	Reservation       *Reservation           `json:"reservation,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// ListResponse pairs the credit rows with the user's aggregate balance.
type ListResponse struct {
	Credits []*CreditResponse  `json:"credits"`
	Balance *UserCreditBalance `json:"balance"`
}

// CreditResponseFromEntity converts a stored credit to its wire shape.
func CreditResponseFromEntity(c *Credit) *CreditResponse {
	resp := &CreditResponse{
		ID:          c.ID.String(),
		UserID:      c.UserID.String(),
		Amount:      c.Amount,
		Status:      string(c.Status),
		SourceType:  c.SourceType,
		Metadata:    c.Metadata,
		Reservation: c.Reservation(),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if resp.Metadata == nil {
		resp.Metadata = Metadata{}
	}
	if c.Currency.Valid {
		resp.Currency = &c.Currency.String
	}
	if c.SourceReason.Valid {
		resp.SourceReason = &c.SourceReason.String
	}
	if c.OriginalBookingID.Valid {
		resp.OriginalBookingID = &c.OriginalBookingID.String
	}
	if c.OriginalPaymentID.Valid {
		resp.OriginalPaymentID = &c.OriginalPaymentID.String
	}
	if c.ExpiresAt.Valid {
		resp.ExpiresAt = &c.ExpiresAt.Time
	}
	if c.ReservedAt.Valid {
		resp.ReservedAt = &c.ReservedAt.Time
	}
	if c.UsedAt.Valid {
		resp.UsedAt = &c.UsedAt.Time
	}
	if c.UsedBookingID.Valid {
		resp.UsedBookingID = &c.UsedBookingID.String
	}
	if c.UsedPaymentID.Valid {
		resp.UsedPaymentID = &c.UsedPaymentID.String
	}
	return resp
}

// ListResponseFromEntities converts credits plus balance to the wire shape.
func ListResponseFromEntities(credits []Credit, balance *UserCreditBalance) *ListResponse {
	items := make([]*CreditResponse, len(credits))
	for i := range credits {
		items[i] = CreditResponseFromEntity(&credits[i])
	}
	return &ListResponse{Credits: items, Balance: balance}
}
