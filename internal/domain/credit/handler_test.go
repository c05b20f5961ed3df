package credit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tripora/credits-api/internal/domain/credit"
	"github.com/tripora/credits-api/internal/middleware"
	"github.com/tripora/credits-api/internal/pkg/jwt"
)

// fakeRepo is an in-memory Repository with the same conditional-update
// semantics as the SQL implementation, so the handler can be tested
// without a database.
type fakeRepo struct {
	mu      sync.Mutex
	credits map[uuid.UUID]credit.Credit
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{credits: make(map[uuid.UUID]credit.Credit)}
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*credit.Credit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.credits[id]
	if !ok {
		return nil, credit.ErrNotFound
	}
	return &c, nil
}

func (f *fakeRepo) Insert(_ context.Context, c *credit.Credit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.credits[c.ID]; ok {
		return credit.ErrConflict
	}
	f.credits[c.ID] = *c
	return nil
}

func (f *fakeRepo) ListByUser(_ context.Context, userID uuid.UUID, status credit.Status) ([]credit.Credit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]credit.Credit, 0)
	for _, c := range f.credits {
		if c.UserID != userID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRepo) ConditionalUpdate(_ context.Context, id uuid.UUID, expected []credit.Status, patch credit.UpdatePatch) (*credit.Credit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.credits[id]
	if !ok {
		return nil, credit.ErrConflict
	}
	matched := false
	for _, s := range expected {
		if c.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return nil, credit.ErrConflict
	}

	c.Status = patch.Status
	c.ReservedAt = patch.ReservedAt
	c.UsedAt = patch.UsedAt
	c.UsedBookingID = patch.UsedBookingID
	c.UsedPaymentID = patch.UsedPaymentID
	c.Metadata = patch.Metadata
	c.UpdatedAt = time.Now()
	f.credits[id] = c
	return &c, nil
}

func (f *fakeRepo) GetBalance(_ context.Context, userID uuid.UUID) (*credit.UserCreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := credit.UserCreditBalance{UserID: userID, UpdatedAt: time.Now()}
	for _, c := range f.credits {
		if c.UserID != userID {
			continue
		}
		switch c.Status {
		case credit.StatusAvailable:
			b.AvailableAmount += c.Amount
		case credit.StatusReserved:
			b.ReservedAmount += c.Amount
		case credit.StatusUsed:
			b.UsedAmount += c.Amount
		}
	}
	return &b, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const testServiceKey = "svc-key"

func newTestRouter(repo *fakeRepo, jwtSvc *jwt.Service) http.Handler {
	handler := credit.NewHandler(credit.NewService(repo, nil))

	r := chi.NewRouter()
	r.Use(middleware.Auth(jwtSvc, testServiceKey))
	r.Mount("/credits", handler.Routes())
	return r
}

func dispatch(t *testing.T, router http.Handler, body map[string]interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/credits/actions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func bearerToken(t *testing.T, jwtSvc *jwt.Service, userID uuid.UUID) string {
	t.Helper()
	token, err := jwtSvc.GenerateAccessToken(userID, "traveler")
	if err != nil {
		t.Fatalf("token gen failed: %v", err)
	}
	return "Bearer " + token
}

func TestDispatchUnknownAction(t *testing.T) {
	router := newTestRouter(newFakeRepo(), jwt.NewService("secret", time.Minute))

	w, env := dispatch(t, router, map[string]interface{}{"action": "destroy"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env.Success {
		t.Fatal("expected failure envelope")
	}
}

func TestDispatchCreateRequiresPrivilege(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	router := newTestRouter(newFakeRepo(), jwtSvc)
	owner := uuid.New()

	body := map[string]interface{}{
		"action":      "create",
		"user_id":     owner.String(),
		"amount":      125.50,
		"source_type": "refund",
	}

	w, _ := dispatch(t, router, body, map[string]string{
		"Authorization": bearerToken(t, jwtSvc, owner),
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unprivileged create, got %d", w.Code)
	}

	w, env := dispatch(t, router, body, map[string]string{
		"X-Service-Key": testServiceKey,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created credit.CreditResponse
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode created credit: %v", err)
	}
	if created.Status != "available" || created.Amount != 125.50 {
		t.Fatalf("unexpected created credit: %+v", created)
	}
}

func TestDispatchReserveConsumeFlow(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	repo := newFakeRepo()
	router := newTestRouter(repo, jwtSvc)
	owner := uuid.New()
	auth := map[string]string{"Authorization": bearerToken(t, jwtSvc, owner)}

	_, env := dispatch(t, router, map[string]interface{}{
		"action":      "create",
		"user_id":     owner.String(),
		"amount":      40,
		"source_type": "cancellation",
	}, map[string]string{"X-Service-Key": testServiceKey})

	var created credit.CreditResponse
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode created credit: %v", err)
	}

	w, env := dispatch(t, router, map[string]interface{}{
		"action":            "reserve",
		"credit_id":         created.ID,
		"reservation_token": "booking-draft-7",
	}, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("reserve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var reserved credit.CreditResponse
	if err := json.Unmarshal(env.Data, &reserved); err != nil {
		t.Fatalf("decode reserved credit: %v", err)
	}
	if reserved.Status != "reserved" || reserved.Reservation == nil || reserved.Reservation.Token != "booking-draft-7" {
		t.Fatalf("unexpected reserved credit: %+v", reserved)
	}

	// A second reserve on the same credit conflicts.
	w, _ = dispatch(t, router, map[string]interface{}{
		"action":            "reserve",
		"credit_id":         created.ID,
		"reservation_token": "other",
	}, auth)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double reserve, got %d", w.Code)
	}

	w, env = dispatch(t, router, map[string]interface{}{
		"action":            "consume",
		"credit_id":         created.ID,
		"reservation_token": "booking-draft-7",
		"used_booking_id":   "BK-1001",
	}, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("consume: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var used credit.CreditResponse
	if err := json.Unmarshal(env.Data, &used); err != nil {
		t.Fatalf("decode used credit: %v", err)
	}
	if used.Status != "used" || used.Reservation != nil {
		t.Fatalf("unexpected consumed credit: %+v", used)
	}
	if used.UsedBookingID == nil || *used.UsedBookingID != "BK-1001" {
		t.Fatalf("expected used_booking_id BK-1001, got %+v", used.UsedBookingID)
	}
}

func TestDispatchListRequiresIdentity(t *testing.T) {
	router := newTestRouter(newFakeRepo(), jwt.NewService("secret", time.Minute))

	w, _ := dispatch(t, router, map[string]interface{}{"action": "list"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous list, got %d", w.Code)
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	router := newTestRouter(newFakeRepo(), jwt.NewService("secret", time.Minute))

	// Missing amount and source_type.
	w, env := dispatch(t, router, map[string]interface{}{
		"action":  "create",
		"user_id": uuid.New().String(),
	}, map[string]string{"X-Service-Key": testServiceKey})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if env.Error == nil {
		t.Fatal("expected error payload with field details")
	}
}

func TestReleaseRESTAlias(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	repo := newFakeRepo()
	router := newTestRouter(repo, jwtSvc)
	owner := uuid.New()
	auth := map[string]string{"Authorization": bearerToken(t, jwtSvc, owner)}

	_, env := dispatch(t, router, map[string]interface{}{
		"action":      "create",
		"user_id":     owner.String(),
		"amount":      15,
		"source_type": "goodwill",
	}, map[string]string{"X-Service-Key": testServiceKey})
	var created credit.CreditResponse
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode created credit: %v", err)
	}

	_, _ = dispatch(t, router, map[string]interface{}{
		"action":            "reserve",
		"credit_id":         created.ID,
		"reservation_token": "abc",
	}, auth)

	raw, _ := json.Marshal(map[string]string{"reservation_token": "abc"})
	req := httptest.NewRequest(http.MethodPost, "/credits/"+created.ID+"/release", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth["Authorization"])
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("release alias: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body envelope
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var released credit.CreditResponse
	if err := json.Unmarshal(body.Data, &released); err != nil {
		t.Fatalf("decode released credit: %v", err)
	}
	if released.Status != "available" || released.Reservation != nil {
		t.Fatalf("unexpected released credit: %+v", released)
	}
}
