package httpgin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/service/cancellation"
	"github.com/kirinyoku/tixflow/internal/service/reservation"
	"go.uber.org/zap"
)

type Reservations interface {
	CreateHold(ctx context.Context, caller domain.Caller, eventID int64, seatIDs []int64) (*reservation.Result, error)
}

type Checkouts interface {
	Checkout(ctx context.Context, caller domain.Caller, holdID uuid.UUID, paymentMethod string) (*domain.Booking, error)
}

type Cancellations interface {
	Cancel(ctx context.Context, caller domain.Caller, bookingID uuid.UUID) (*cancellation.Result, error)
}

type Queries interface {
	Availability(ctx context.Context, eventID int64) (*domain.EventCounts, error)
	GetBooking(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Booking, error)
}

// API groups the operations the router exposes.
type API struct {
	Reservations  Reservations
	Checkouts     Checkouts
	Cancellations Cancellations
	Queries       Queries
}

type Config struct {
	JWTSecret string
	JWTIssuer string
}

// NewRouter builds the HTTP API. idem may be nil, which disables Idempotency-Key replay.
func NewRouter(
	api API,
	idem IdempotencyStore,
	cfg Config,
	logger *zap.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{api: api, idem: idem, logger: logger}

	authed := r.Group("/", Auth(cfg.JWTSecret, cfg.JWTIssuer))
	{
		authed.GET("/events/:id/availability", h.getAvailability)
		authed.POST("/events/:id/holds", h.createHold)
		authed.POST("/holds/:id/checkout", h.checkout)
		authed.GET("/bookings/:id", h.getBooking)
		authed.POST("/bookings/:id/cancel", h.cancel)
	}

	return r
}

type handlers struct {
	api    API
	idem   IdempotencyStore
	logger *zap.Logger
}

func (h *handlers) getAvailability(c *gin.Context) {
	eventID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	counts, err := h.api.Queries.Availability(c.Request.Context(), eventID)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}

	writeJSONWithCache(c, http.StatusOK, counts, "private, max-age=5", true)
}

func (h *handlers) createHold(c *gin.Context) {
	eventID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	var req CreateHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	caller := callerFrom(c)
	scope := "hold:" + strconv.FormatInt(eventID, 10)

	h.withIdempotency(c, scope, http.StatusCreated, func() (any, error) {
		return h.api.Reservations.CreateHold(c.Request.Context(), caller, eventID, req.SeatUnitIDs)
	})
}

func (h *handlers) checkout(c *gin.Context) {
	holdID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	caller := callerFrom(c)

	h.withIdempotency(c, "checkout:"+holdID.String(), http.StatusCreated, func() (any, error) {
		b, err := h.api.Checkouts.Checkout(c.Request.Context(), caller, holdID, req.PaymentMethod)
		if err != nil {
			return nil, err
		}
		return toBookingResponse(b), nil
	})
}

func (h *handlers) getBooking(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	b, err := h.api.Queries.GetBooking(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}

	writeJSONWithCache(c, http.StatusOK, toBookingResponse(b), "private, no-cache", false)
}

func (h *handlers) cancel(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	res, err := h.api.Cancellations.Cancel(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		respondErr(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toCancelResponse(res))
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
