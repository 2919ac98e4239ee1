package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/service/cancellation"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
	"github.com/kirinyoku/tixflow/internal/service/confirmation"
	"github.com/kirinyoku/tixflow/internal/service/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type MockReservations struct {
	CreateHoldFunc func(ctx context.Context, caller domain.Caller, eventID int64, seatIDs []int64) (*reservation.Result, error)
}

func (m *MockReservations) CreateHold(ctx context.Context, caller domain.Caller, eventID int64, seatIDs []int64) (*reservation.Result, error) {
	return m.CreateHoldFunc(ctx, caller, eventID, seatIDs)
}

type MockCheckouts struct {
	CheckoutFunc func(ctx context.Context, caller domain.Caller, holdID uuid.UUID, paymentMethod string) (*domain.Booking, error)
}

func (m *MockCheckouts) Checkout(ctx context.Context, caller domain.Caller, holdID uuid.UUID, paymentMethod string) (*domain.Booking, error) {
	return m.CheckoutFunc(ctx, caller, holdID, paymentMethod)
}

type MockCancellations struct {
	CancelFunc func(ctx context.Context, caller domain.Caller, bookingID uuid.UUID) (*cancellation.Result, error)
}

func (m *MockCancellations) Cancel(ctx context.Context, caller domain.Caller, bookingID uuid.UUID) (*cancellation.Result, error) {
	return m.CancelFunc(ctx, caller, bookingID)
}

type MockQueries struct {
	AvailabilityFunc func(ctx context.Context, eventID int64) (*domain.EventCounts, error)
	GetBookingFunc   func(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Booking, error)
}

func (m *MockQueries) Availability(ctx context.Context, eventID int64) (*domain.EventCounts, error) {
	return m.AvailabilityFunc(ctx, eventID)
}

func (m *MockQueries) GetBooking(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Booking, error) {
	return m.GetBookingFunc(ctx, caller, id)
}

type memIdem struct {
	mu      sync.Mutex
	locks   map[string]bool
	results map[string][]byte
	status  map[string]int
}

func newMemIdem() *memIdem {
	return &memIdem{locks: map[string]bool{}, results: map[string][]byte{}, status: map[string]int{}}
}

func (m *memIdem) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memIdem) SaveResult(_ context.Context, key string, status int, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = body
	m.status[key] = status
	return nil
}

func (m *memIdem) GetResult(_ context.Context, key string) (int, []byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.results[key]
	return m.status[key], b, ok, nil
}

func (m *memIdem) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func token(t *testing.T, sub, role string) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return s
}

func newTestRouter(api API, idem IdempotencyStore) *gin.Engine {
	return NewRouter(api, idem, Config{JWTSecret: testSecret}, zap.NewNop())
}

func do(t *testing.T, r http.Handler, method, path, tok string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(API{}, nil)

	w := do(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuth_Rejects(t *testing.T) {
	r := newTestRouter(API{}, nil)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "7"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name string
		tok  string
	}{
		{"missing", ""},
		{"garbage", "not-a-token"},
		{"alg none", unsigned},
		{"non numeric subject", token(t, "alice", "")},
		{"unknown role", token(t, "7", "ROOT")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodGet, "/events/10/availability", tt.tok, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestCallerFromClaims(t *testing.T) {
	c, err := callerFromClaims(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "42"}})
	require.NoError(t, err)
	assert.Equal(t, domain.Caller{UserID: 42, Role: domain.RoleBuyer}, c)

	c, err = callerFromClaims(Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, c.Role)

	_, err = callerFromClaims(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "0"}})
	assert.Error(t, err)
}

func TestCreateHold(t *testing.T) {
	holdID := uuid.New()
	var got domain.Caller

	api := API{Reservations: &MockReservations{
		CreateHoldFunc: func(_ context.Context, caller domain.Caller, eventID int64, seatIDs []int64) (*reservation.Result, error) {
			got = caller
			assert.Equal(t, int64(10), eventID)
			assert.Equal(t, []int64{1, 2}, seatIDs)
			return &reservation.Result{HoldID: holdID, EventID: eventID, SeatUnitIDs: seatIDs}, nil
		},
	}}
	r := newTestRouter(api, nil)

	w := do(t, r, http.MethodPost, "/events/10/holds", token(t, "7", ""), CreateHoldRequest{SeatUnitIDs: []int64{1, 2}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, int64(7), got.UserID)

	var res reservation.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, holdID, res.HoldID)
}

func TestCreateHold_BadRequest(t *testing.T) {
	r := newTestRouter(API{}, nil)
	tok := token(t, "7", "")

	w := do(t, r, http.MethodPost, "/events/10/holds", tok, CreateHoldRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/events/abc/holds", tok, CreateHoldRequest{SeatUnitIDs: []int64{1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateHold_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"seat taken", reservation.SeatUnavailableError{SeatID: 1, SeatIDs: []int64{1}}, http.StatusConflict},
		{"seat missing", reservation.SeatNotFoundError{SeatIDs: []int64{9}}, http.StatusNotFound},
		{"event mismatch", fmt.Errorf("op: %w", reservation.ErrEventMismatch), http.StatusBadRequest},
		{"hold store down", fmt.Errorf("op: %w", reservation.ErrHoldNotStored), http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := API{Reservations: &MockReservations{
				CreateHoldFunc: func(context.Context, domain.Caller, int64, []int64) (*reservation.Result, error) {
					return nil, tt.err
				},
			}}
			w := do(t, newTestRouter(api, nil), http.MethodPost, "/events/10/holds", token(t, "7", ""), CreateHoldRequest{SeatUnitIDs: []int64{1}})
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestCreateHold_RateLimited(t *testing.T) {
	api := API{Reservations: &MockReservations{
		CreateHoldFunc: func(context.Context, domain.Caller, int64, []int64) (*reservation.Result, error) {
			return nil, fmt.Errorf("op: %w", reservation.RateLimitedError{RetryAfter: 1500 * time.Millisecond})
		},
	}}

	w := do(t, newTestRouter(api, nil), http.MethodPost, "/events/10/holds", token(t, "7", ""), CreateHoldRequest{SeatUnitIDs: []int64{1}})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	holdID := uuid.New()
	calls := 0

	api := API{Checkouts: &MockCheckouts{
		CheckoutFunc: func(_ context.Context, _ domain.Caller, id uuid.UUID, method string) (*domain.Booking, error) {
			calls++
			assert.Equal(t, "card", method)
			return &domain.Booking{ID: uuid.New(), HoldID: id, Status: domain.BookingPaymentComplete, TotalCents: 2000}, nil
		},
	}}
	r := newTestRouter(api, newMemIdem())
	tok := token(t, "7", "")
	path := "/holds/" + holdID.String() + "/checkout"

	first := do(t, r, http.MethodPost, path, tok, CheckoutRequest{PaymentMethod: "card"}, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := do(t, r, http.MethodPost, path, tok, CheckoutRequest{PaymentMethod: "card"}, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	// a different buyer with the same key does not see the first buyer's response
	third := do(t, r, http.MethodPost, path, token(t, "8", ""), CheckoutRequest{PaymentMethod: "card"}, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, 2, calls)
}

func TestCheckout_FailureReleasesKey(t *testing.T) {
	calls := 0
	api := API{Checkouts: &MockCheckouts{
		CheckoutFunc: func(context.Context, domain.Caller, uuid.UUID, string) (*domain.Booking, error) {
			calls++
			if calls == 1 {
				return nil, fmt.Errorf("op: %w", checkout.ErrPaymentDeclined)
			}
			return &domain.Booking{ID: uuid.New(), Status: domain.BookingPaymentComplete}, nil
		},
	}}
	r := newTestRouter(api, newMemIdem())
	tok := token(t, "7", "")
	path := "/holds/" + uuid.NewString() + "/checkout"

	w := do(t, r, http.MethodPost, path, tok, CheckoutRequest{PaymentMethod: "DECLINE"}, "Idempotency-Key", "k")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = do(t, r, http.MethodPost, path, tok, CheckoutRequest{PaymentMethod: "card"}, "Idempotency-Key", "k")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 2, calls)
}

func TestCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{checkout.ErrHoldNotFound, http.StatusNotFound},
		{checkout.ErrNotOwner, http.StatusForbidden},
		{checkout.ErrHoldStale, http.StatusConflict},
		{checkout.ErrAlreadyCheckedOut, http.StatusConflict},
		{checkout.ErrHandoffNotAcknowledged, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			api := API{Checkouts: &MockCheckouts{
				CheckoutFunc: func(context.Context, domain.Caller, uuid.UUID, string) (*domain.Booking, error) {
					return nil, fmt.Errorf("op: %w", tt.err)
				},
			}}
			w := do(t, newTestRouter(api, nil), http.MethodPost, "/holds/"+uuid.NewString()+"/checkout", token(t, "7", ""), CheckoutRequest{PaymentMethod: "card"})
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestGetBooking_ETag(t *testing.T) {
	b := &domain.Booking{ID: uuid.New(), BuyerID: 7, Status: domain.BookingConfirmed}
	api := API{Queries: &MockQueries{
		GetBookingFunc: func(context.Context, domain.Caller, uuid.UUID) (*domain.Booking, error) {
			return b, nil
		},
	}}
	r := newTestRouter(api, nil)
	tok := token(t, "7", "")
	path := "/bookings/" + b.ID.String()

	w := do(t, r, http.MethodGet, path, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)

	w = do(t, r, http.MethodGet, path, tok, nil, "If-None-Match", tag)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestGetAvailability(t *testing.T) {
	api := API{Queries: &MockQueries{
		AvailabilityFunc: func(_ context.Context, eventID int64) (*domain.EventCounts, error) {
			return &domain.EventCounts{Available: 2, Total: 2}, nil
		},
	}}

	w := do(t, newTestRouter(api, nil), http.MethodGet, "/events/10/availability", token(t, "7", ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"available":2,"reserved":0,"booked":0,"total":2}`, w.Body.String())
}

func TestCancel(t *testing.T) {
	id := uuid.New()
	api := API{Cancellations: &MockCancellations{
		CancelFunc: func(_ context.Context, caller domain.Caller, bookingID uuid.UUID) (*cancellation.Result, error) {
			if caller.UserID != 7 {
				return nil, fmt.Errorf("op: %w", cancellation.ErrForbidden)
			}
			return &cancellation.Result{
				Booking:             &domain.Booking{ID: bookingID, Status: domain.BookingCancelled},
				ReleasedSeatUnitIDs: []int64{1},
			}, nil
		},
	}}
	r := newTestRouter(api, nil)
	path := "/bookings/" + id.String() + "/cancel"

	w := do(t, r, http.MethodPost, path, token(t, "7", ""), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "CANCELLED", res.Status)
	assert.Equal(t, []int64{1}, res.ReleasedSeatUnitIDs)

	w = do(t, r, http.MethodPost, path, token(t, "8", ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRespondErr_HidesInternalDetails(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"consistency violation", fmt.Errorf("op: %w", confirmation.ErrSeatsMoved)},
		{"unexpected", fmt.Errorf("op: dial tcp 10.0.0.5:5432: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := API{Cancellations: &MockCancellations{
				CancelFunc: func(context.Context, domain.Caller, uuid.UUID) (*cancellation.Result, error) {
					return nil, tt.err
				},
			}}

			w := do(t, newTestRouter(api, nil), http.MethodPost, "/bookings/"+uuid.NewString()+"/cancel", token(t, "7", ""), nil)
			require.Equal(t, http.StatusInternalServerError, w.Code)
			assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
		})
	}
}
