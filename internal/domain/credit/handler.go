package credit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tripora/credits-api/internal/middleware"
	"github.com/tripora/credits-api/internal/pkg/response"
	"github.com/tripora/credits-api/internal/pkg/validator"
)

const maxBodyBytes = 1 << 20

// Handler exposes the credit state machine over HTTP. The primary surface
// is the action-dispatch endpoint; the REST routes are thin aliases over
// the same executors.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/actions", h.Dispatch)

	r.Get("/", h.List)
	r.Get("/balance", h.Balance)
	r.Post("/", h.Create)
	r.Post("/{id}/reserve", h.Reserve)
	r.Post("/{id}/release", h.Release)
	r.Post("/{id}/consume", h.Consume)

	return r
}

// Dispatch handles POST /credits/actions: one JSON object whose "action"
// field selects the operation.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		response.BadRequest(w, "Unable to read request body")
		return
	}

	var envelope struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	switch envelope.Action {
	case ActionList:
		var req ListRequest
		if !decodeAndValidate(w, body, &req) {
			return
		}
		h.doList(w, r, req)
	case ActionCreate:
		var req CreateRequest
		if !decodeAndValidate(w, body, &req) {
			return
		}
		h.doCreate(w, r, req)
	case ActionReserve:
		var req ReserveRequest
		if !decodeAndValidate(w, body, &req) {
			return
		}
		h.doReserve(w, r, req)
	case ActionRelease:
		var req ReleaseRequest
		if !decodeAndValidate(w, body, &req) {
			return
		}
		h.doRelease(w, r, req)
	case ActionConsume:
		var req ConsumeRequest
		if !decodeAndValidate(w, body, &req) {
			return
		}
		h.doConsume(w, r, req)
	default:
		response.BadRequest(w, "Unknown action")
	}
}

// List handles GET /credits with optional status and user_id query params.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	req := ListRequest{
		UserID: r.URL.Query().Get("user_id"),
		Status: r.URL.Query().Get("status"),
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	h.doList(w, r, req)
}

// Balance handles GET /credits/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r)
	if !caller.Authenticated() {
		response.Unauthorized(w, "Authentication required")
		return
	}
	balance, err := h.service.Balance(r.Context(), caller.ID)
	if err != nil {
		h.writeError(w, r, "balance", err)
		return
	}
	response.OK(w, balance)
}

// Create handles POST /credits.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decodeBodyAndValidate(w, r, &req) {
		return
	}
	h.doCreate(w, r, req)
}

// Reserve handles POST /credits/{id}/reserve.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !decodeBodyWithID(w, r, &req, func(id string) { req.CreditID = id }) {
		return
	}
	h.doReserve(w, r, req)
}

// Release handles POST /credits/{id}/release.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if !decodeBodyWithID(w, r, &req, func(id string) { req.CreditID = id }) {
		return
	}
	h.doRelease(w, r, req)
}

// Consume handles POST /credits/{id}/consume.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if !decodeBodyWithID(w, r, &req, func(id string) { req.CreditID = id }) {
		return
	}
	h.doConsume(w, r, req)
}

// Executors shared by the dispatcher and the REST aliases.

func (h *Handler) doList(w http.ResponseWriter, r *http.Request, req ListRequest) {
	caller := callerFromContext(r)

	target := uuid.Nil
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			response.BadRequest(w, "Invalid user_id")
			return
		}
		target = parsed
	}

	credits, balance, err := h.service.List(r.Context(), caller, target, Status(req.Status))
	if err != nil {
		h.writeError(w, r, "list", err)
		return
	}
	response.OK(w, ListResponseFromEntities(credits, balance))
}

func (h *Handler) doCreate(w http.ResponseWriter, r *http.Request, req CreateRequest) {
	caller := callerFromContext(r)

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(w, "Invalid user_id")
		return
	}

	c, err := h.service.Create(r.Context(), caller, CreateParams{
		UserID:            userID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		SourceType:        req.SourceType,
		SourceReason:      req.SourceReason,
		OriginalBookingID: req.OriginalBookingID,
		OriginalPaymentID: req.OriginalPaymentID,
		ExpiresAt:         req.ExpiresAt,
		Metadata:          req.Metadata,
	})
	if err != nil {
		h.writeError(w, r, "create", err)
		return
	}
	response.Created(w, CreditResponseFromEntity(c))
}

func (h *Handler) doReserve(w http.ResponseWriter, r *http.Request, req ReserveRequest) {
	caller := callerFromContext(r)

	creditID, err := uuid.Parse(req.CreditID)
	if err != nil {
		response.BadRequest(w, "Invalid credit_id")
		return
	}

	c, err := h.service.Reserve(r.Context(), caller, creditID, ReserveParams{
		Token:     req.ReservationToken,
		Note:      req.ReservationNote,
		ExpiresAt: req.ReservationExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, "reserve", err)
		return
	}
	response.OK(w, CreditResponseFromEntity(c))
}

func (h *Handler) doRelease(w http.ResponseWriter, r *http.Request, req ReleaseRequest) {
	caller := callerFromContext(r)

	creditID, err := uuid.Parse(req.CreditID)
	if err != nil {
		response.BadRequest(w, "Invalid credit_id")
		return
	}

	c, err := h.service.Release(r.Context(), caller, creditID, req.ReservationToken)
	if err != nil {
		h.writeError(w, r, "release", err)
		return
	}
	response.OK(w, CreditResponseFromEntity(c))
}

func (h *Handler) doConsume(w http.ResponseWriter, r *http.Request, req ConsumeRequest) {
	caller := callerFromContext(r)

	creditID, err := uuid.Parse(req.CreditID)
	if err != nil {
		response.BadRequest(w, "Invalid credit_id")
		return
	}

	c, err := h.service.Consume(r.Context(), caller, creditID, ConsumeParams{
		Token:         req.ReservationToken,
		UsedBookingID: req.UsedBookingID,
		UsedPaymentID: req.UsedPaymentID,
		Note:          req.ConsumptionNote,
	})
	if err != nil {
		h.writeError(w, r, "consume", err)
		return
	}
	response.OK(w, CreditResponseFromEntity(c))
}

// writeError maps domain outcomes to transport results. Storage internals
// stay in the log; the client only ever sees the error kind.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "Credit not found")
	case errors.Is(err, ErrUnauthenticated):
		response.Unauthorized(w, "Authentication required")
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotPrivileged):
		response.Forbidden(w, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrTokenMismatch):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrMissingToken), errors.Is(err, ErrMissingBookingID),
		errors.Is(err, ErrMissingSource):
		response.BadRequest(w, err.Error())
	default:
		log.Error().
			Err(err).
			Str("action", action).
			Str("caller", callerFromContext(r).String()).
			Str("path", r.URL.Path).
			Msg("credit action failed")
		response.InternalError(w)
	}
}

func callerFromContext(r *http.Request) Caller {
	authCtx := middleware.GetAuthContext(r.Context())
	caller := Caller{Privileged: authCtx.Privileged}
	if authCtx.Identity != nil {
		caller.ID = authCtx.Identity.UserID
	}
	return caller
}

func decodeAndValidate(w http.ResponseWriter, body []byte, req interface{}) bool {
	if err := json.Unmarshal(body, req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return false
	}
	return true
}

func decodeBodyAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return false
	}
	return true
}

func decodeBodyWithID(w http.ResponseWriter, r *http.Request, req interface{}, setID func(string)) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(req); err != nil && err != io.EOF {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	setID(chi.URLParam(r, "id"))
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return false
	}
	return true
}
