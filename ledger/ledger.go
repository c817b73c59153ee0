// Package ledger records which event message ids have already been
// processed so redelivered events can be dropped.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a claim is remembered.
const DefaultTTL = time.Hour

// Key prefixes of the forum event processors.
const (
	PrefixGroupCreated = "event_processed"
	PrefixMembership   = "forum_membership_processed"
)

// Key builds the claim key <prefix>_<messageID>.
func Key(prefix string, messageID uuid.UUID) string {
	return prefix + "_" + messageID.String()
}

// Ledger is a set of processed keys with expiry. Claim is atomic: of
// several concurrent claims on the same unexpired key exactly one returns
// true. There is no unclaim.
type Ledger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsClaimed(ctx context.Context, key string) (bool, error)
}
