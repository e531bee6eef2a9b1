// Package handoff passes a payload from one request to exactly one later
// request. The auth flow uses it to hand a freshly issued token pair to a
// client after a redirect: the first request parks the pair under a random
// id and the client redeems the id once.
package handoff

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/evento/internal/utils"
)

// ErrNotFound is returned when an id is unknown, expired or already
// redeemed. Callers cannot tell the three cases apart.
var ErrNotFound = errors.New("handoff not found")

// Store parks payloads for single use.
type Store interface {
	Create(ctx context.Context, payload []byte, ttl time.Duration) (string, error)
	Redeem(ctx context.Context, id string) ([]byte, error)
}

// DefaultTTL is used when a caller passes a non-positive ttl.
const DefaultTTL = 2 * time.Minute

func newID() (string, error) { return utils.RandomHex(24) }

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
