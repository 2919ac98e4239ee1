package httpgin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redisx "github.com/kirinyoku/tixflow/internal/redis"
	"go.uber.org/zap"
)

const idemLockTTL = 60 * time.Second

// IdempotencyStore remembers successful command responses by key.
type IdempotencyStore interface {
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, status int, body []byte) error
	GetResult(ctx context.Context, key string) (status int, body []byte, ok bool, err error)
	Release(ctx context.Context, key string) error
}

// withIdempotency runs fn once per (caller, scope, Idempotency-Key) and
// replays the stored response for repeated requests. Failed commands release
// the key so the client may retry.
func (h *handlers) withIdempotency(c *gin.Context, scope string, status int, fn func() (any, error)) {
	ctx := c.Request.Context()
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	if h.idem == nil || idemKey == "" {
		resp, err := fn()
		if err != nil {
			respondErr(c, h.logger, err)
			return
		}
		c.JSON(status, resp)
		return
	}

	caller := callerFrom(c)
	key := redisx.KeyIdem(scope, strconv.FormatInt(caller.UserID, 10), idemKey)
	c.Header("Idempotency-Key", idemKey)

	if h.replay(c, key) {
		return
	}

	locked, err := h.idem.AcquireLock(ctx, key, idemLockTTL)
	if err != nil {
		h.logger.Error("idempotency lock failed", zap.String("key", key), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "idempotency store unavailable"})
		return
	}
	if !locked {
		if h.replay(c, key) {
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
		return
	}

	resp, err := fn()
	if err != nil {
		if relErr := h.idem.Release(ctx, key); relErr != nil {
			h.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(relErr))
		}
		respondErr(c, h.logger, err)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		_ = h.idem.Release(ctx, key)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	if err := h.idem.SaveResult(ctx, key, status, body); err != nil {
		h.logger.Warn("idempotency save failed", zap.String("key", key), zap.Error(err))
	}

	c.Data(status, "application/json; charset=utf-8", body)
}

func (h *handlers) replay(c *gin.Context, key string) bool {
	status, body, ok, err := h.idem.GetResult(c.Request.Context(), key)
	if err != nil {
		h.logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	c.Header("Idempotent-Replayed", "true")
	c.Data(status, "application/json; charset=utf-8", body)
	return true
}
