package redisx

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const ns = "tixflow:v1"

// HoldKeyPrefix is shared with every service that reads holds, so it is not namespaced.
const HoldKeyPrefix = "Hold:"

func KeyHold(id uuid.UUID) string {
	return HoldKeyPrefix + id.String()
}

// ParseHoldKey extracts the hold id from a key. ok is false for keys that are not holds.
func ParseHoldKey(key string) (id uuid.UUID, ok bool, err error) {
	raw, found := strings.CutPrefix(key, HoldKeyPrefix)
	if !found {
		return uuid.Nil, false, nil
	}

	id, err = uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, true, fmt.Errorf("malformed hold key %q: %w", key, err)
	}

	return id, true, nil
}

// ChannelExpired is the keyevent channel for expirations in the given database.
func ChannelExpired(db int) string {
	return fmt.Sprintf("__keyevent@%d__:expired", db)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeyIdem(scope, owner, idemKey string) string {
	return fmt.Sprintf("%s:idem:%s:%s:%s", ns, scope, owner, idemKey)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelEventsChanged() string {
	return ns + ":events:changed"
}
